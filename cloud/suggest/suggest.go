// Package suggest estimates cleaning parameters from the point spacing.
package suggest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
)

const (
	DefaultSampleSize = 20000
	DefaultK          = 8

	radiusFactor = 2.5
	epsFactor    = 2.0
	minValue     = 1e-6
	minMinPoints = 8
)

// Options configures the estimation. Zero values select the defaults.
type Options struct {
	SampleSize int
	K          int
	Seed       int64
	Index      storage.Builder
	Workers    int
}

// Suggestion holds parameters derived from the median nearest neighbor distance.
type Suggestion struct {
	Samples        int
	MedianDistance float64

	Radius    float32
	Eps       float32
	MinPoints int
}

// ErrNoNeighbors is returned when no sampled point has another point.
var ErrNoNeighbors = errors.New("could not estimate nearest neighbor distance")

// Suggest samples points and returns radius and DBSCAN parameters scaled
// from the median distance to the nearest other point.
func Suggest(ctx context.Context, s *cloud.PointSet, opts Options) (*Suggestion, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.Index == nil {
		opts.Index = kdtree.New
	}
	if s.Len() < 2 {
		return nil, ErrNoNeighbors
	}

	idxs := SampleDistinct(s.Len(), opts.SampleSize, rand.New(rand.NewSource(opts.Seed)))
	idx := opts.Index(s)
	k := max(opts.K, 2)

	dists := make([]float64, len(idxs))
	err := filter.ParallelFor(ctx, len(idxs), opts.Workers, func(lo, hi int) error {
		for j := lo; j < hi; j++ {
			dists[j] = math.NaN()
			ns := idx.KNN(s.Vec3At(idxs[j]), k)
			if len(ns) < 2 {
				continue
			}
			dists[j] = math.Sqrt(ns[1].DistSq)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	found := dists[:0]
	for _, d := range dists {
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			found = append(found, d)
		}
	}
	if len(found) == 0 {
		return nil, ErrNoNeighbors
	}
	dists = found

	d := median(dists)
	return &Suggestion{
		Samples:        len(dists),
		MedianDistance: d,
		Radius:         float32(math.Max(d*radiusFactor, minValue)),
		Eps:            float32(math.Max(d*epsFactor, minValue)),
		MinPoints:      max(minMinPoints, opts.K),
	}, nil
}

func median(v []float64) float64 {
	sorted := append([]float64{}, v...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
