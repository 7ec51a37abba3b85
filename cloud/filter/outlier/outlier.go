// Package outlier removes isolated points by local density.
package outlier

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
	"github.com/seqsense/splatclean/cloud/storage/voxelgrid"
)

const (
	radiusStage      = "radius_outlier"
	statisticalStage = "statistical_outlier"
)

// Radius keeps points having at least MinNeighbors other points within Radius.
type Radius struct {
	Radius       float32 `yaml:"radius"`
	MinNeighbors int     `yaml:"min_neighbors"`

	// Index overrides the spatial index. Defaults to a voxel grid of Radius cells.
	Index storage.Builder `yaml:"-"`
	// Workers limits parallel queries. Zero means GOMAXPROCS.
	Workers int `yaml:"-"`
}

func (f *Radius) Validate() error {
	if !(f.Radius > 0) || math.IsInf(float64(f.Radius), 0) {
		return &filter.ConfigError{Stage: radiusStage, Param: "radius", Value: f.Radius, Reason: "must be a positive finite number"}
	}
	if f.MinNeighbors < 0 {
		return &filter.ConfigError{Stage: radiusStage, Param: "min_neighbors", Value: f.MinNeighbors, Reason: "must not be negative"}
	}
	return nil
}

func (f *Radius) Mask(ctx context.Context, s *cloud.PointSet) (cloud.Mask, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	n := s.Len()
	mask := make(cloud.Mask, n)
	if f.MinNeighbors == 0 {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}
	build := f.Index
	if build == nil {
		build = voxelgrid.New(f.Radius)
	}
	idx := build(s)

	err := filter.ParallelFor(ctx, n, f.Workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			// The query point itself is always in its own neighborhood.
			mask[i] = len(idx.Radius(s.Vec3At(i), f.Radius))-1 >= f.MinNeighbors
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mask, nil
}

// Statistical keeps points whose mean distance to their K nearest neighbors
// does not exceed mean + StdRatio * stddev over all points.
type Statistical struct {
	K        int     `yaml:"k"`
	StdRatio float64 `yaml:"std_ratio"`

	// Index overrides the spatial index. Defaults to a k-d tree.
	Index storage.Builder `yaml:"-"`
	// Workers limits parallel queries. Zero means GOMAXPROCS.
	Workers int `yaml:"-"`
}

func (f *Statistical) Validate() error {
	if f.K < 1 {
		return &filter.ConfigError{Stage: statisticalStage, Param: "k", Value: f.K, Reason: "must be at least 1"}
	}
	if !(f.StdRatio > 0) || math.IsInf(f.StdRatio, 0) {
		return &filter.ConfigError{Stage: statisticalStage, Param: "std_ratio", Value: f.StdRatio, Reason: "must be a positive finite number"}
	}
	return nil
}

func (f *Statistical) Mask(ctx context.Context, s *cloud.PointSet) (cloud.Mask, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return statisticalMask(ctx, s, f.K, f.StdRatio, f.Index, f.Workers)
}

// MeanDistances returns the mean distance of every point to its k nearest
// other points. Points with no other point get zero.
func MeanDistances(ctx context.Context, s *cloud.PointSet, k int, build storage.Builder, workers int) ([]float64, error) {
	if build == nil {
		build = kdtree.New
	}
	n := s.Len()
	idx := build(s)
	means := make([]float64, n)
	err := filter.ParallelFor(ctx, n, workers, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			var sum float64
			var cnt int
			for _, nb := range idx.KNN(s.Vec3At(i), k+1) {
				if nb.Index == i || cnt == k {
					continue
				}
				sum += math.Sqrt(nb.DistSq)
				cnt++
			}
			if cnt > 0 {
				means[i] = sum / float64(cnt)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return means, nil
}

func statisticalMask(ctx context.Context, s *cloud.PointSet, k int, ratio float64, build storage.Builder, workers int) (cloud.Mask, error) {
	n := s.Len()
	mask := make(cloud.Mask, n)
	if n == 0 {
		return mask, nil
	}
	means, err := MeanDistances(ctx, s, k, build, workers)
	if err != nil {
		return nil, err
	}
	mu, sigma := stat.MeanStdDev(means, nil)
	if n < 2 || math.IsNaN(sigma) {
		sigma = 0
	}
	threshold := mu + ratio*sigma
	for i, m := range means {
		mask[i] = m <= threshold
	}
	return mask, nil
}
