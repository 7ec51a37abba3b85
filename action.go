package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/seqsense/pcgol/mat"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter/crop"
	"github.com/seqsense/splatclean/cloud/filter/outlier"
	"github.com/seqsense/splatclean/cloud/filter/voxelgrid"
	"github.com/seqsense/splatclean/cloud/segmentation/dbscan"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
	"github.com/seqsense/splatclean/cloud/storage/pctree"
	"github.com/seqsense/splatclean/cloud/suggest"
	"github.com/seqsense/splatclean/export"
	"github.com/seqsense/splatclean/pipeline"
)

var (
	errNoStages      = errors.New("no stage enabled; use --dbscan, --radius-outlier, --stat-outlier, --crop, --voxel or --preset")
	errCropBounds    = errors.New("--crop requires --min-x, --min-y, --min-z, --max-x, --max-y and --max-z")
	errUnknownIndex  = errors.New("unknown spatial index")
	errMissingPreset = errors.New("preset name required")
)

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

func loggerFor(c *cli.Context) (*zap.SugaredLogger, error) {
	return newLogger(c.Bool(flagDebug))
}

func args(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("expected arguments: %v", names)
	}
	return c.Args().Slice(), nil
}

// indexBuilder returns the spatial index named by name. The default selects
// the preferred index of each stage.
func indexBuilder(name string) (storage.Builder, error) {
	switch name {
	case "", "default":
		return nil, nil
	case "kdtree":
		return kdtree.New, nil
	case "pctree":
		return pctree.New, nil
	case "bruteforce":
		return storage.NewBruteForce, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownIndex, name)
}

// buildPreset combines the preset named by --preset with the stage flags.
// Explicitly set flags override preset values.
func buildPreset(c *cli.Context, store *presetStore) (preset, error) {
	p := preset{GSMode: true}
	if name := c.String(flagPreset); name != "" {
		var err error
		if p, err = store.get(name); err != nil {
			return preset{}, err
		}
	}
	if c.IsSet(flagGSMode) {
		p.GSMode = c.Bool(flagGSMode)
	}

	if c.Bool(flagDBSCAN) || p.has(pipeline.ClusterIsolate) {
		s := p.stage(pipeline.ClusterIsolate)
		s.Enabled = true
		if s.Cluster == nil {
			s.Cluster = &dbscan.Params{}
		}
		if s.Cluster.Eps == 0 || c.IsSet(flagEps) {
			s.Cluster.Eps = float32(c.Float64(flagEps))
		}
		if s.Cluster.MinPoints == 0 || c.IsSet(flagMinPoints) {
			s.Cluster.MinPoints = c.Int(flagMinPoints)
		}
	}
	if c.Bool(flagRadiusOutlier) || p.has(pipeline.RadiusOutlier) {
		s := p.stage(pipeline.RadiusOutlier)
		s.Enabled = true
		if s.Radius == nil {
			s.Radius = &outlier.Radius{Radius: float32(c.Float64(flagRadius)), MinNeighbors: c.Int(flagRadiusNb)}
		}
		if c.IsSet(flagRadius) {
			s.Radius.Radius = float32(c.Float64(flagRadius))
		}
		if c.IsSet(flagRadiusNb) {
			s.Radius.MinNeighbors = c.Int(flagRadiusNb)
		}
	}
	if c.Bool(flagStatOutlier) || p.has(pipeline.StatisticalOutlier) {
		s := p.stage(pipeline.StatisticalOutlier)
		s.Enabled = true
		if s.Statistical == nil {
			s.Statistical = &outlier.Statistical{K: c.Int(flagStatNb), StdRatio: c.Float64(flagStatStd)}
		}
		if c.IsSet(flagStatNb) {
			s.Statistical.K = c.Int(flagStatNb)
		}
		if c.IsSet(flagStatStd) {
			s.Statistical.StdRatio = c.Float64(flagStatStd)
		}
	}
	if c.Bool(flagCrop) || p.has(pipeline.AABBCrop) {
		s := p.stage(pipeline.AABBCrop)
		s.Enabled = true
		bounds := []string{flagMinX, flagMinY, flagMinZ, flagMaxX, flagMaxY, flagMaxZ}
		if s.Crop == nil {
			for _, name := range bounds {
				if !c.IsSet(name) {
					return preset{}, errCropBounds
				}
			}
			s.Crop = &crop.Box{}
		}
		for i, name := range bounds {
			if !c.IsSet(name) {
				continue
			}
			v := float32(c.Float64(name))
			if i < 3 {
				s.Crop.Min[i] = v
			} else {
				s.Crop.Max[i-3] = v
			}
		}
	}
	if leaf := c.Float64(flagVoxel); leaf > 0 {
		s := p.stage(pipeline.VoxelDownsample)
		s.Enabled = true
		s.Voxel = &voxelgrid.Params{LeafSize: float32(leaf)}
	}

	p.Stages = pipeline.Recommended(p.Stages)
	return p, nil
}

func cleanAction(c *cli.Context) error {
	a, err := args(c, "input", "output")
	if err != nil {
		return err
	}
	log, err := loggerFor(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := loadPresets(c.Path(flagPresets))
	if err != nil {
		return err
	}
	p, err := buildPreset(c, store)
	if err != nil {
		return err
	}
	if len(p.Stages) == 0 {
		return errNoStages
	}
	if name := c.String(flagPreset); name != "" {
		log.Infow("preset loaded", "name", name, "stages", len(p.Stages))
	}

	opts := pipeline.Options{
		GSMode:        p.GSMode,
		RevertOnEmpty: c.Bool(flagRevertEmpty),
		Workers:       c.Int(flagWorkers),
	}
	if opts.Index, err = indexBuilder(c.String(flagIndex)); err != nil {
		return err
	}
	if err := pipeline.Validate(p.Stages, opts); err != nil {
		return err
	}

	src, err := readPLY(a[0])
	if err != nil {
		return err
	}
	base, err := src.PointSet()
	if err != nil {
		return err
	}
	log.Infow("loaded", "path", a[0], "points", base.Len(), "format", src.Format.String(),
		"sh_degree", src.Vertex.Schema().SHDegree())

	ctx, cancel := signalContext(c)
	defer cancel()
	res, err := pipeline.Run(ctx, base, p.Stages, opts)
	if err != nil {
		return err
	}
	for i := range res.Reports {
		logReport(log, &res.Reports[i])
	}
	out := res.Output
	if min, max, err := out.Bounds(); err == nil {
		log.Debugw("bounds", "min", min, "max", max)
	}

	removed := base.Len() - out.Len()
	log.Infow("summary",
		"initial", base.Len(),
		"final", out.Len(),
		"removed", removed,
		"removed_percent", fmt.Sprintf("%.2f", 100*float64(removed)/float64(max(base.Len(), 1))),
	)

	switch {
	case out.State().Preserving():
		if err := writeFile(a[1], func(w io.Writer) error {
			return export.WriteGSSafe(w, out, src)
		}); err != nil {
			return err
		}
		log.Infow("saved", "path", a[1], "mode", "gs-safe")
	case c.Path(flagPreview) == "":
		return &cloud.MappingBrokenError{Op: "gs-safe export", State: out.State()}
	default:
		log.Warnw("record mapping broken, only the preview is written", "state", out.State().String())
	}

	if path := c.Path(flagPreview); path != "" {
		if err := writeFile(path, func(w io.Writer) error {
			return export.WritePreview(w, out)
		}); err != nil {
			return err
		}
		log.Infow("saved", "path", path, "mode", "preview")
	}

	if name := c.String(flagSavePreset); name != "" {
		store.Presets[name] = p
		if err := store.save(); err != nil {
			return err
		}
		log.Infow("preset saved", "name", name, "path", store.path)
	}
	return nil
}

func suggestAction(c *cli.Context) error {
	a, err := args(c, "input")
	if err != nil {
		return err
	}
	src, err := readPLY(a[0])
	if err != nil {
		return err
	}
	s, err := src.PointSet()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()
	sg, err := suggest.Suggest(ctx, s, suggest.Options{
		SampleSize: c.Int(flagSampleSize),
		Seed:       c.Int64(flagSeed),
	})
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "samples:         %d\n", sg.Samples)
	fmt.Fprintf(w, "median distance: %g\n", sg.MedianDistance)
	fmt.Fprintf(w, "radius:          %g\n", sg.Radius)
	fmt.Fprintf(w, "eps:             %g\n", sg.Eps)
	fmt.Fprintf(w, "min points:      %d\n", sg.MinPoints)
	return nil
}

func infoAction(c *cli.Context) error {
	a, err := args(c, "input")
	if err != nil {
		return err
	}
	src, err := readPLY(a[0])
	if err != nil {
		return err
	}
	w := c.App.Writer
	schema := src.Vertex.Schema()
	fmt.Fprintf(w, "format:     %s %s\n", src.Format, src.Version)
	fmt.Fprintf(w, "vertices:   %d\n", src.Vertex.Len())
	fmt.Fprintf(w, "properties: %d (%d bytes per record)\n", len(schema.Properties), schema.Stride)
	fmt.Fprintf(w, "gaussian:   %v\n", schema.IsGaussian())
	if d := schema.SHDegree(); d >= 0 {
		fmt.Fprintf(w, "sh degree:  %d (%d coefficients)\n", d, schema.SHCoefficients())
	}
	for _, m := range src.Meta {
		fmt.Fprintf(w, "%s: %s\n", m.Keyword, m.Text)
	}
	s, err := src.PointSet()
	if err != nil {
		return err
	}
	if min, max, err := s.Bounds(); err == nil {
		fmt.Fprintf(w, "bounds:     %v - %v\n", fmtVec(min), fmtVec(max))
	}
	return nil
}

func fmtVec(v mat.Vec3) string {
	return fmt.Sprintf("(%g, %g, %g)", v[0], v[1], v[2])
}

func listPresetsAction(c *cli.Context) error {
	store, err := loadPresets(c.Path(flagPresets))
	if err != nil {
		return err
	}
	w := c.App.Writer
	names := store.names()
	if len(names) == 0 {
		fmt.Fprintln(w, "No presets saved.")
		return nil
	}
	for _, name := range names {
		b, err := yaml.Marshal(store.Presets[name])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:\n", name)
		for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}

func deletePresetAction(c *cli.Context) error {
	a, err := args(c, "name")
	if err != nil {
		return errMissingPreset
	}
	store, err := loadPresets(c.Path(flagPresets))
	if err != nil {
		return err
	}
	if _, ok := store.Presets[a[0]]; !ok {
		return fmt.Errorf("preset %q not found", a[0])
	}
	delete(store.Presets, a[0])
	return store.save()
}

func consoleAction(c *cli.Context) error {
	a, err := args(c, "input")
	if err != nil {
		return err
	}
	log, err := loggerFor(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	store, err := loadPresets(c.Path(flagPresets))
	if err != nil {
		return err
	}
	src, err := readPLY(a[0])
	if err != nil {
		return err
	}
	cmd, err := newCommandContext(src, store, log)
	if err != nil {
		return err
	}
	log.Infow("loaded", "path", a[0], "points", cmd.PointCloud().Len(), "gs_mode", cmd.GSMode())

	ctx, cancel := signalContext(c)
	defer cancel()
	if store.Profile.AutoCluster {
		if _, err := cmd.Cluster(ctx); err != nil {
			log.Warnw("auto cluster failed", "error", err)
		}
	}
	con := &console{cmd: cmd}
	return con.Serve(ctx, c.App.Reader, c.App.Writer)
}
