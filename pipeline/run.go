package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/segmentation/dbscan"
	"github.com/seqsense/splatclean/cloud/storage"
)

// Options controls how stages run.
type Options struct {
	// GSMode refuses every stage that breaks the mapping to original records.
	GSMode bool
	// RevertOnEmpty keeps the input of a stage that would remove every point.
	RevertOnEmpty bool
	// Index overrides the spatial index of neighborhood based stages.
	Index storage.Builder
	// Workers limits parallel neighbor queries. Zero means GOMAXPROCS.
	Workers int
}

// StageReport summarizes a stage run.
type StageReport struct {
	Stage    StageConfig
	Before   int
	After    int
	Skipped  bool
	Reverted bool
	Warnings []error
	Elapsed  time.Duration
}

// Removed returns the number of removed points.
func (r *StageReport) Removed() int {
	return r.Before - r.After
}

// StageResult is the outcome of a single stage.
type StageResult struct {
	Output *cloud.PointSet
	// Mask is the keep-mask over the input. It is nil for resampling stages.
	Mask   cloud.Mask
	Report StageReport
}

func (o Options) refuse(c StageConfig) error {
	if o.GSMode && !c.Subsetting() {
		return &filter.ConfigError{
			Stage:  string(c.Type),
			Reason: "breaks the mapping to original records and is not allowed in 3DGS mode",
		}
	}
	return nil
}

func (o Options) stageFilter(c StageConfig) filter.Filter {
	switch c.Type {
	case ClusterIsolate:
		p := *c.Cluster
		if o.Index != nil {
			p.Index = o.Index
		}
		return &p
	case RadiusOutlier:
		p := *c.Radius
		if o.Index != nil {
			p.Index = o.Index
		}
		if o.Workers != 0 {
			p.Workers = o.Workers
		}
		return &p
	case StatisticalOutlier:
		p := *c.Statistical
		if o.Index != nil {
			p.Index = o.Index
		}
		if o.Workers != 0 {
			p.Workers = o.Workers
		}
		return &p
	case AABBCrop:
		return c.Crop
	}
	return nil
}

// RunStage applies one stage to in. A disabled stage, or any stage on an
// empty set, passes in through. On error nothing is applied.
func RunStage(ctx context.Context, in *cloud.PointSet, c StageConfig, opts Options) (*StageResult, error) {
	res := &StageResult{
		Output: in,
		Report: StageReport{Stage: c, Before: in.Len(), After: in.Len()},
	}
	if !c.Enabled {
		res.Mask = cloud.NewMask(in.Len(), true)
		res.Report.Skipped = true
		return res, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := opts.refuse(c); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		res.Report.Elapsed = time.Since(start)
	}()

	if in.Len() == 0 {
		res.Mask = cloud.Mask{}
		res.Report.Skipped = true
		return res, nil
	}

	if !c.Subsetting() {
		out, err := c.Voxel.Resample(ctx, in)
		if err != nil {
			return nil, wrapCancel(err, c, in)
		}
		res.Output = out
		res.Report.After = out.Len()
		return res, nil
	}

	var mask cloud.Mask
	var err error
	if c.Type == ClusterIsolate {
		var warn *dbscan.NoClusterWarning
		mask, _, warn, err = dbscan.Isolate(ctx, in, *opts.stageFilter(c).(*dbscan.Params))
		if warn != nil {
			res.Report.Warnings = append(res.Report.Warnings, warn)
		}
	} else {
		mask, err = opts.stageFilter(c).Mask(ctx, in)
	}
	if err != nil {
		return nil, wrapCancel(err, c, in)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCancel(err, c, in)
	}

	if mask.Count() == 0 && opts.RevertOnEmpty {
		res.Mask = cloud.NewMask(in.Len(), true)
		res.Report.Reverted = true
		res.Report.Warnings = append(res.Report.Warnings, &RevertedWarning{Stage: c, Before: in.Len()})
		return res, nil
	}

	out, err := in.Subset(mask)
	if err != nil {
		return nil, err
	}
	if opts.GSMode && !out.State().Preserving() {
		return nil, &cloud.MappingBrokenError{Op: string(c.Type), State: out.State()}
	}
	if out.Len() == 0 {
		res.Report.Warnings = append(res.Report.Warnings, &EmptyResultWarning{Stage: c, Before: in.Len()})
	}
	res.Output = out
	res.Mask = mask
	res.Report.After = out.Len()
	return res, nil
}

func wrapCancel(err error, c StageConfig, in *cloud.PointSet) error {
	if isCancellation(err) {
		return &CancellationError{Stage: c, Points: in.Len(), Err: err}
	}
	return fmt.Errorf("%s: %w", c.Type, err)
}

// Result is the outcome of a pipeline run.
type Result struct {
	Output  *cloud.PointSet
	Reports []StageReport
}

// Warnings returns the warnings of all stages in order.
func (r *Result) Warnings() []error {
	var ws []error
	for _, rep := range r.Reports {
		ws = append(ws, rep.Warnings...)
	}
	return ws
}

// Validate checks every stage, disabled ones included, and refuses enabled
// stages not allowed by opts. All problems are returned combined.
func Validate(stages []StageConfig, opts Options) error {
	var errs error
	for _, c := range stages {
		if err := c.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if c.Enabled {
			errs = multierr.Append(errs, opts.refuse(c))
		}
	}
	return errs
}

// Run applies stages in order. Configurations are validated before any stage
// runs, so an invalid or refused stage never leaves a partial result.
func Run(ctx context.Context, base *cloud.PointSet, stages []StageConfig, opts Options) (*Result, error) {
	if err := Validate(stages, opts); err != nil {
		return nil, err
	}
	res := &Result{Output: base}
	for _, c := range stages {
		sr, err := RunStage(ctx, res.Output, c, opts)
		if err != nil {
			return nil, err
		}
		res.Output = sr.Output
		res.Reports = append(res.Reports, sr.Report)
	}
	return res, nil
}
