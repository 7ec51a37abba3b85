// Package voxelgrid downsamples a point set to one point per voxel.
//
// Output points are voxel centroids, so the result no longer corresponds to
// records of the original file. It is meant for previews only.
package voxelgrid

import (
	"context"
	"math"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc/filter/voxelgrid"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
)

const stage = "voxel_downsample"

// Params configures the downsampling.
type Params struct {
	LeafSize float32 `yaml:"leaf_size"`
}

func (p *Params) Validate() error {
	if !(p.LeafSize > 0) || math.IsInf(float64(p.LeafSize), 0) {
		return &filter.ConfigError{Stage: stage, Param: "leaf_size", Value: p.LeafSize, Reason: "must be a positive finite number"}
	}
	return nil
}

// Resample averages the points of every voxel. Each output point keeps the
// original index of the first point found in its voxel.
func (p *Params) Resample(ctx context.Context, s *cloud.PointSet) (*cloud.PointSet, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return cloud.Resampled(s.PointCloud())
	}
	vg := voxelgrid.New(mat.Vec3{p.LeafSize, p.LeafSize, p.LeafSize})
	pp, err := vg.Filter(s.PointCloud())
	if err != nil {
		return nil, err
	}
	return cloud.Resampled(pp)
}
