// Package pctree adapts the pcgol k-d tree to storage.Index.
//
// pcgol answers fixed radius queries only. Nearest neighbors are found by
// growing the query radius until k points are in range.
package pctree

import (
	"math"
	"sort"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/storage/kdtree"

	"github.com/seqsense/splatclean/cloud/storage"
)

// pcgol compares squared distances in float32 with a strict bound. Queries
// are widened by this factor and filtered again in float64.
const pad = 1 + 1e-4

type Tree struct {
	ra   pc.Vec3RandomAccessor
	tree *kdtree.KDTree

	min, max mat.Vec3
	r0       float32
}

// New builds the tree. It is a storage.Builder.
func New(ra pc.Vec3RandomAccessor) storage.Index {
	t := &Tree{ra: ra}
	n := ra.Len()
	if n == 0 {
		return t
	}
	t.tree = kdtree.New(ra)

	first := true
	for i := 0; i < n; i++ {
		p := ra.Vec3At(i)
		if !finite(p) {
			continue
		}
		if first {
			t.min, t.max = p, p
			first = false
			continue
		}
		for d := 0; d < 3; d++ {
			t.min[d] = min(t.min[d], p[d])
			t.max[d] = max(t.max[d], p[d])
		}
	}
	diag := t.max.Sub(t.min).Norm()
	t.r0 = max(diag/float32(math.Cbrt(float64(n))), 1e-6)
	return t
}

func finite(p mat.Vec3) bool {
	for _, v := range p {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

func (t *Tree) Len() int {
	return t.ra.Len()
}

func (t *Tree) neighbors(p mat.Vec3, r float32) []storage.Neighbor {
	r2 := storage.RadiusSq(r)
	found := t.tree.Range(p, r*pad+1e-6)
	out := make([]storage.Neighbor, 0, len(found))
	for _, nb := range found {
		if d := storage.DistSq(p, t.ra.Vec3At(nb.ID)); d <= r2 {
			out = append(out, storage.Neighbor{Index: nb.ID, DistSq: d})
		}
	}
	return out
}

func (t *Tree) Radius(p mat.Vec3, r float32) []int {
	if t.tree == nil || r < 0 || !finite(p) {
		return nil
	}
	ns := t.neighbors(p, r)
	out := make([]int, len(ns))
	for i, nb := range ns {
		out[i] = nb.Index
	}
	sort.Ints(out)
	return out
}

// farthest returns the distance from p to the farthest corner of the bounds,
// slightly widened, so that it covers every finite point.
func (t *Tree) farthest(p mat.Vec3) float32 {
	var sq float64
	for d := 0; d < 3; d++ {
		a := math.Abs(float64(p[d] - t.min[d]))
		b := math.Abs(float64(p[d] - t.max[d]))
		sq += math.Max(a, b) * math.Max(a, b)
	}
	return float32(math.Sqrt(sq) * pad)
}

func (t *Tree) KNN(p mat.Vec3, k int) []storage.Neighbor {
	if t.tree == nil || k <= 0 || !finite(p) {
		return nil
	}
	limit := t.farthest(p)
	r := t.r0
	for {
		ns := t.neighbors(p, r)
		if len(ns) >= k || r >= limit {
			storage.SortNeighbors(ns)
			if len(ns) > k {
				ns = ns[:k]
			}
			return ns
		}
		r = min(2*r, limit)
	}
}
