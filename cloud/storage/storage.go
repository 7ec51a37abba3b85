// Package storage defines the spatial index contract shared by the
// neighbourhood based stages.
package storage

import (
	"math"
	"sort"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

// Neighbor is a point index and its squared distance to the query.
type Neighbor struct {
	Index  int
	DistSq float64
}

// Index answers neighbourhood queries over a fixed set of positions.
// Implementations are read-only after construction and safe for concurrent queries.
type Index interface {
	// Len returns the number of indexed points.
	Len() int
	// Radius returns all points within r of p, inclusive, in ascending index order.
	// A query at an indexed position includes that point itself.
	Radius(p mat.Vec3, r float32) []int
	// KNN returns up to k nearest points ordered by distance, ties by index.
	KNN(p mat.Vec3, k int) []Neighbor
}

// Builder builds an index over the positions.
type Builder func(ra pc.Vec3RandomAccessor) Index

// DistSq returns the squared distance computed in float64 so that all
// backends agree on the inclusive radius boundary.
func DistSq(a, b mat.Vec3) float64 {
	dx := float64(a[0]) - float64(b[0])
	dy := float64(a[1]) - float64(b[1])
	dz := float64(a[2]) - float64(b[2])
	return dx*dx + dy*dy + dz*dz
}

// RadiusSq returns r*r in the precision used by DistSq.
func RadiusSq(r float32) float64 {
	return float64(r) * float64(r)
}

// SortNeighbors orders by distance, then by index. NaN distances go last.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		di, dj := ns[i].DistSq, ns[j].DistSq
		if ni, nj := math.IsNaN(di), math.IsNaN(dj); ni != nj {
			return nj
		} else if !ni && di != dj {
			return di < dj
		}
		return ns[i].Index < ns[j].Index
	})
}

// BruteForce is an exhaustive index, used as a reference and for tiny sets.
type BruteForce struct {
	pc.Vec3RandomAccessor
}

// NewBruteForce is a Builder.
func NewBruteForce(ra pc.Vec3RandomAccessor) Index {
	return &BruteForce{Vec3RandomAccessor: ra}
}

func (b *BruteForce) Radius(p mat.Vec3, r float32) []int {
	r2 := RadiusSq(r)
	var out []int
	for i := 0; i < b.Len(); i++ {
		if DistSq(p, b.Vec3At(i)) <= r2 {
			out = append(out, i)
		}
	}
	return out
}

func (b *BruteForce) KNN(p mat.Vec3, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	ns := make([]Neighbor, b.Len())
	for i := range ns {
		ns[i] = Neighbor{Index: i, DistSq: DistSq(p, b.Vec3At(i))}
	}
	SortNeighbors(ns)
	if len(ns) > k {
		ns = ns[:k]
	}
	return ns
}
