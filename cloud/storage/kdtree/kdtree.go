// Package kdtree implements the spatial index on top of gonum's k-d tree.
package kdtree

import (
	"sort"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/seqsense/splatclean/cloud/storage"
)

type point struct {
	pos   mat.Vec3
	index int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return float64(p.pos[d]) - float64(q.pos[d])
}

func (p point) Dims() int { return 3 }

// Distance returns the squared euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	return storage.DistSq(p.pos, c.(point).pos)
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p points) Pivot(d kdtree.Dim) int {
	pl := plane{points: p, Dim: d}
	return kdtree.Partition(pl, kdtree.MedianOfMedians(pl))
}

type plane struct {
	points
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.points[i].pos[p.Dim] < p.points[j].pos[p.Dim]
}

func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], Dim: p.Dim}
}

// KDTree is a storage.Index backed by a k-d tree.
type KDTree struct {
	tree *kdtree.Tree
	n    int
}

// New builds the tree. It is a storage.Builder.
func New(ra pc.Vec3RandomAccessor) storage.Index {
	n := ra.Len()
	t := &KDTree{n: n}
	if n == 0 {
		return t
	}
	ps := make(points, n)
	for i := range ps {
		ps[i] = point{pos: ra.Vec3At(i), index: i}
	}
	t.tree = kdtree.New(ps, true)
	return t
}

func (t *KDTree) Len() int {
	return t.n
}

func (t *KDTree) Radius(p mat.Vec3, r float32) []int {
	if t.tree == nil || r < 0 {
		return nil
	}
	r2 := storage.RadiusSq(r)
	keeper := kdtree.NewDistKeeper(r2)
	t.tree.NearestSet(keeper, point{pos: p, index: -1})

	out := make([]int, 0, len(keeper.Heap))
	for _, c := range keeper.Heap {
		if c.Comparable == nil || c.Dist > r2 {
			continue
		}
		out = append(out, c.Comparable.(point).index)
	}
	sort.Ints(out)
	return out
}

func (t *KDTree) KNN(p mat.Vec3, k int) []storage.Neighbor {
	if t.tree == nil || k <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(k)
	t.tree.NearestSet(keeper, point{pos: p, index: -1})

	out := make([]storage.Neighbor, 0, len(keeper.Heap))
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		out = append(out, storage.Neighbor{
			Index:  c.Comparable.(point).index,
			DistSq: c.Dist,
		})
	}
	storage.SortNeighbors(out)
	return out
}
