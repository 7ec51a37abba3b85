package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/seqsense/pcgol/mat"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter/crop"
	"github.com/seqsense/splatclean/cloud/filter/outlier"
	"github.com/seqsense/splatclean/cloud/filter/voxelgrid"
	"github.com/seqsense/splatclean/cloud/ply"
	"github.com/seqsense/splatclean/cloud/segmentation/dbscan"
	"github.com/seqsense/splatclean/cloud/suggest"
	"github.com/seqsense/splatclean/export"
	"github.com/seqsense/splatclean/pipeline"
)

const (
	defaultRadius       = 0.02
	defaultRadiusNb     = 16
	defaultStatK        = 20
	defaultStatStdRatio = 1.5
)

// commandContext holds the interactive cleaning state of one loaded file.
type commandContext struct {
	session *pipeline.Session
	src     *ply.File
	store   *presetStore
	log     *zap.SugaredLogger

	eps       float32
	minPoints int
}

func newCommandContext(src *ply.File, store *presetStore, log *zap.SugaredLogger) (*commandContext, error) {
	s, err := src.PointSet()
	if err != nil {
		return nil, err
	}
	if o := store.Profile.Orientation; store.Profile.AutoOrientation && !o.IsNone() {
		// ORIGINAL carries the orientation so that reset keeps it.
		if s, err = s.Orient(o); err != nil {
			return nil, err
		}
		log.Infow("orientation applied", "orientation", string(o))
	}
	c := &commandContext{
		session:   pipeline.NewSession(s, pipeline.Options{GSMode: store.Profile.GSMode}),
		src:       src,
		store:     store,
		log:       log,
		eps:       store.Profile.Eps,
		minPoints: store.Profile.MinPoints,
	}
	return c, nil
}

// PointCloud returns the CURRENT snapshot.
func (c *commandContext) PointCloud() *cloud.PointSet {
	return c.session.Snapshot(pipeline.Current)
}

func (c *commandContext) ClusterParam() (float32, int) {
	return c.eps, c.minPoints
}

func (c *commandContext) SetClusterParam(eps float32, minPoints int) error {
	p := dbscan.Params{Eps: eps, MinPoints: minPoints}
	if err := p.Validate(); err != nil {
		return err
	}
	c.eps, c.minPoints = eps, minPoints
	return nil
}

// SaveProfile stores the cluster parameters and GS mode as preferences.
func (c *commandContext) SaveProfile(autoCluster bool) error {
	c.store.Profile.Eps = c.eps
	c.store.Profile.MinPoints = c.minPoints
	c.store.Profile.AutoCluster = autoCluster
	c.store.Profile.GSMode = c.session.GSMode()
	return c.store.save()
}

func (c *commandContext) GSMode() bool {
	return c.session.GSMode()
}

func (c *commandContext) SetGSMode(on bool) error {
	c.session.SetGSMode(on)
	c.store.Profile.GSMode = on
	if err := c.store.save(); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// Orient changes the axes of CURRENT. With save set, o becomes the default
// orientation applied on load.
func (c *commandContext) Orient(o cloud.Orientation, save bool) (*cloud.PointSet, error) {
	out, err := c.session.Orient(o)
	if err != nil {
		return nil, err
	}
	if !save {
		return out, nil
	}
	c.store.Profile.Orientation = o
	c.store.Profile.AutoOrientation = true
	if err := c.store.save(); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}
	return out, nil
}

// SetAutoOrientation turns the default orientation on or off.
// Turning it off also clears the saved orientation.
func (c *commandContext) SetAutoOrientation(on bool) error {
	c.store.Profile.AutoOrientation = on
	if !on {
		c.store.Profile.Orientation = cloud.NoOrientation
	}
	if err := c.store.save(); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

func (c *commandContext) apply(ctx context.Context, cfg pipeline.StageConfig) (*pipeline.StageResult, error) {
	res, err := c.session.Apply(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logReport(c.log, &res.Report)
	return res, nil
}

// Cluster keeps the largest cluster of CURRENT.
func (c *commandContext) Cluster(ctx context.Context) (*pipeline.StageResult, error) {
	return c.apply(ctx, pipeline.StageConfig{
		Type:    pipeline.ClusterIsolate,
		Enabled: true,
		Cluster: &dbscan.Params{Eps: c.eps, MinPoints: c.minPoints},
	})
}

func (c *commandContext) RadiusOutlier(ctx context.Context, r float32, nb int) (*pipeline.StageResult, error) {
	return c.apply(ctx, pipeline.StageConfig{
		Type:    pipeline.RadiusOutlier,
		Enabled: true,
		Radius:  &outlier.Radius{Radius: r, MinNeighbors: nb},
	})
}

func (c *commandContext) StatisticalOutlier(ctx context.Context, k int, ratio float64) (*pipeline.StageResult, error) {
	return c.apply(ctx, pipeline.StageConfig{
		Type:        pipeline.StatisticalOutlier,
		Enabled:     true,
		Statistical: &outlier.Statistical{K: k, StdRatio: ratio},
	})
}

func (c *commandContext) Crop(ctx context.Context, min, max mat.Vec3) (*pipeline.StageResult, error) {
	return c.apply(ctx, pipeline.StageConfig{
		Type:    pipeline.AABBCrop,
		Enabled: true,
		Crop:    &crop.Box{Min: min, Max: max},
	})
}

// Voxel downsamples CURRENT. It is refused in GS mode.
func (c *commandContext) Voxel(ctx context.Context, leaf float32) (*pipeline.StageResult, error) {
	res, err := c.session.Voxelize(ctx, voxelgrid.Params{LeafSize: leaf})
	if err != nil {
		return nil, err
	}
	logReport(c.log, &res.Report)
	return res, nil
}

func (c *commandContext) Undo() bool {
	return c.session.Undo()
}

func (c *commandContext) Reset() {
	c.session.Reset()
}

func (c *commandContext) Bounds() (mat.Vec3, mat.Vec3, error) {
	return c.PointCloud().Bounds()
}

func (c *commandContext) Suggest(ctx context.Context) (*suggest.Suggestion, error) {
	return suggest.Suggest(ctx, c.PointCloud(), suggest.Options{})
}

// Save writes the original records of CURRENT.
func (c *commandContext) Save(path string) error {
	s := c.PointCloud()
	return writeFile(path, func(w io.Writer) error {
		return export.WriteGSSafe(w, s, c.src)
	})
}

// SavePreview writes positions and colors of CURRENT as PCD.
func (c *commandContext) SavePreview(path string) error {
	s := c.PointCloud()
	return writeFile(path, func(w io.Writer) error {
		return export.WritePreview(w, s)
	})
}

func readPLY(path string) (*ply.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pf, err := ply.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pf, nil
}

// writeFile writes to a temporary file and renames it over path on success.
func writeFile(path string, fn func(io.Writer) error) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()
	if err := fn(f); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func logReport(log *zap.SugaredLogger, r *pipeline.StageReport) {
	switch {
	case r.Skipped:
		log.Debugw("stage skipped", "stage", r.Stage.String(), "points", r.Before)
	case r.Reverted:
		log.Warnw("stage would remove all points, reverted", "stage", r.Stage.String(), "points", r.Before)
	default:
		log.Infow("stage done",
			"stage", r.Stage.String(),
			"before", r.Before,
			"after", r.After,
			"removed", r.Removed(),
			"elapsed", r.Elapsed,
		)
	}
	for _, w := range r.Warnings {
		var rw *pipeline.RevertedWarning
		if errors.As(w, &rw) {
			continue
		}
		log.Warn(w)
	}
}
