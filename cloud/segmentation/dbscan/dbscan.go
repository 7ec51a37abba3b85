// Package dbscan implements density based clustering of point sets.
package dbscan

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/voxelgrid"
)

const (
	// Noise is the label of points not reachable from any core point.
	Noise int32 = -1

	unvisited int32 = -2

	stage = "cluster_isolate"

	// Points processed between cancellation checks.
	checkInterval = 4096
)

// Params configures DBSCAN. The neighborhood of a point includes the point itself.
type Params struct {
	Eps       float32 `yaml:"eps"`
	MinPoints int     `yaml:"min_points"`

	// Index overrides the spatial index. Defaults to a voxel grid of Eps cells.
	Index storage.Builder `yaml:"-"`
}

func (p *Params) Validate() error {
	if !(p.Eps > 0) || math.IsInf(float64(p.Eps), 0) {
		return &filter.ConfigError{Stage: stage, Param: "eps", Value: p.Eps, Reason: "must be a positive finite number"}
	}
	if p.MinPoints < 1 {
		return &filter.ConfigError{Stage: stage, Param: "min_points", Value: p.MinPoints, Reason: "must be at least 1"}
	}
	return nil
}

// Labeling is the result of a clustering run. It is only meaningful for the
// point set it was computed on.
type Labeling struct {
	// Labels holds a cluster id per point, or Noise. Cluster ids are
	// assigned from 0 in the order their seed point is visited.
	Labels   []int32
	Clusters int

	set *cloud.PointSet
}

var errStaleLabeling = errors.New("labeling was computed for a different point set")

// Valid reports whether the labeling belongs to s.
func (l *Labeling) Valid(s *cloud.PointSet) bool {
	return l.set == s
}

// Sizes returns the member count of every cluster.
func (l *Labeling) Sizes() []int {
	sizes := make([]int, l.Clusters)
	for _, c := range l.Labels {
		if c >= 0 {
			sizes[c]++
		}
	}
	return sizes
}

// NoiseCount returns the number of noise points.
func (l *Labeling) NoiseCount() int {
	var n int
	for _, c := range l.Labels {
		if c == Noise {
			n++
		}
	}
	return n
}

// Largest returns the cluster with the most members, the lowest id on ties.
// ok is false if there is no cluster.
func (l *Labeling) Largest() (id int32, size int, ok bool) {
	for c, n := range l.Sizes() {
		if n > size {
			id, size, ok = int32(c), n, true
		}
	}
	return id, size, ok
}

// KeepOnly returns a mask keeping the members of cluster id.
func (l *Labeling) KeepOnly(s *cloud.PointSet, id int32) (cloud.Mask, error) {
	if !l.Valid(s) {
		return nil, errStaleLabeling
	}
	if id < 0 || int(id) >= l.Clusters {
		return nil, fmt.Errorf("cluster %d does not exist (%d clusters)", id, l.Clusters)
	}
	mask := make(cloud.Mask, len(l.Labels))
	for i, c := range l.Labels {
		mask[i] = c == id
	}
	return mask, nil
}

// Cluster runs DBSCAN over s.
func Cluster(ctx context.Context, s *cloud.PointSet, params Params) (*Labeling, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := s.Len()
	labels := make([]int32, n)
	for i := range labels {
		labels[i] = unvisited
	}
	l := &Labeling{Labels: labels, set: s}
	if n == 0 {
		return l, nil
	}

	build := params.Index
	if build == nil {
		build = voxelgrid.New(params.Eps)
	}
	c := &clusterer{
		s:        s,
		idx:      build(s),
		labels:   labels,
		enqueued: make([]bool, n),
		params:   params,
	}

	var clusterID int32
	for i := 0; i < n; i++ {
		if i%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if labels[i] != unvisited {
			continue
		}
		neighbors := c.regionQuery(i)
		if len(neighbors) < params.MinPoints {
			labels[i] = Noise
			continue
		}
		if err := c.expandCluster(ctx, i, neighbors, clusterID); err != nil {
			return nil, err
		}
		clusterID++
	}
	l.Clusters = int(clusterID)
	return l, nil
}

type clusterer struct {
	s        *cloud.PointSet
	idx      storage.Index
	labels   []int32
	enqueued []bool
	params   Params
}

func (c *clusterer) regionQuery(i int) []int {
	return c.idx.Radius(c.s.Vec3At(i), c.params.Eps)
}

// expandCluster grows a cluster breadth first from a core point.
func (c *clusterer) expandCluster(ctx context.Context, seed int, neighbors []int, clusterID int32) error {
	c.labels[seed] = clusterID
	c.enqueued[seed] = true

	queue := make([]int, 0, len(neighbors))
	push := func(ns []int) {
		for _, j := range ns {
			if !c.enqueued[j] {
				c.enqueued[j] = true
				queue = append(queue, j)
			}
		}
	}
	push(neighbors)

	for q := 0; q < len(queue); q++ {
		if q%checkInterval == checkInterval-1 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		j := queue[q]
		switch c.labels[j] {
		case Noise:
			// Noise becomes border point. It was not core when visited.
			c.labels[j] = clusterID
			continue
		case unvisited:
		default:
			continue
		}
		c.labels[j] = clusterID
		if ns := c.regionQuery(j); len(ns) >= c.params.MinPoints {
			push(ns)
		}
	}
	return nil
}

// NoClusterWarning is reported when clustering finds no cluster at all.
type NoClusterWarning struct {
	Points int
	Params Params
}

func (w *NoClusterWarning) Error() string {
	return fmt.Sprintf("no cluster found in %d points with eps %v and min_points %d", w.Points, w.Params.Eps, w.Params.MinPoints)
}

// Isolate keeps the largest cluster. If every point is noise, all points are
// kept and a NoClusterWarning is returned alongside the mask.
func Isolate(ctx context.Context, s *cloud.PointSet, params Params) (cloud.Mask, *Labeling, *NoClusterWarning, error) {
	l, err := Cluster(ctx, s, params)
	if err != nil {
		return nil, nil, nil, err
	}
	id, _, ok := l.Largest()
	if !ok {
		if s.Len() == 0 {
			return cloud.Mask{}, l, nil, nil
		}
		return cloud.NewMask(s.Len(), true), l, &NoClusterWarning{Points: s.Len(), Params: params}, nil
	}
	mask, err := l.KeepOnly(s, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return mask, l, nil, nil
}

// Mask implements filter.Filter by isolating the largest cluster.
func (p *Params) Mask(ctx context.Context, s *cloud.PointSet) (cloud.Mask, error) {
	mask, _, _, err := Isolate(ctx, s, *p)
	return mask, err
}
