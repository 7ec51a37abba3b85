// Package voxelgrid implements the spatial index as a sparse uniform grid.
package voxelgrid

import (
	"math"
	"sort"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/splatclean/cloud/storage"
)

// VoxelGrid buckets point indices by cell. Cells are only allocated when
// occupied, so the extent of the cloud is not limited.
type VoxelGrid struct {
	ra            pc.Vec3RandomAccessor
	voxel         map[[3]int][]int
	min, max      [3]int
	resolution    float32
	resolutionInv float32
}

// New returns a storage.Builder making grids of the given cell size.
func New(resolution float32) storage.Builder {
	return func(ra pc.Vec3RandomAccessor) storage.Index {
		return Build(ra, resolution)
	}
}

// Build indexes all positions of ra.
func Build(ra pc.Vec3RandomAccessor, resolution float32) *VoxelGrid {
	v := &VoxelGrid{
		ra:            ra,
		voxel:         make(map[[3]int][]int),
		resolution:    resolution,
		resolutionInv: 1 / resolution,
	}
	n := ra.Len()
	for i := 0; i < n; i++ {
		v.add(ra.Vec3At(i), i)
	}
	return v
}

func (v *VoxelGrid) add(p mat.Vec3, index int) {
	pos := v.PosInt(p)
	if len(v.voxel) == 0 {
		v.min, v.max = pos, pos
	}
	for k := range pos {
		if pos[k] < v.min[k] {
			v.min[k] = pos[k]
		}
		if pos[k] > v.max[k] {
			v.max[k] = pos[k]
		}
	}
	v.voxel[pos] = append(v.voxel[pos], index)
}

// PosInt returns the integer cell coordinate containing p.
func (v *VoxelGrid) PosInt(p mat.Vec3) [3]int {
	return [3]int{
		int(math.Floor(float64(p[0] * v.resolutionInv))),
		int(math.Floor(float64(p[1] * v.resolutionInv))),
		int(math.Floor(float64(p[2] * v.resolutionInv))),
	}
}

// Get returns the indices stored in the cell containing p.
func (v *VoxelGrid) Get(p mat.Vec3) []int {
	return v.voxel[v.PosInt(p)]
}

func (v *VoxelGrid) Len() int {
	return v.ra.Len()
}

// Cells returns the number of occupied cells.
func (v *VoxelGrid) Cells() int {
	return len(v.voxel)
}

func (v *VoxelGrid) Radius(p mat.Vec3, r float32) []int {
	if len(v.voxel) == 0 || r < 0 {
		return nil
	}
	lo := v.PosInt(p.Sub(mat.Vec3{r, r, r}))
	hi := v.PosInt(p.Add(mat.Vec3{r, r, r}))
	for k := range lo {
		// One cell margin absorbs rounding at cell boundaries.
		lo[k]--
		hi[k]++
		if lo[k] < v.min[k] {
			lo[k] = v.min[k]
		}
		if hi[k] > v.max[k] {
			hi[k] = v.max[k]
		}
	}
	r2 := storage.RadiusSq(r)
	var out []int
	if v.sparse(hi[0]-lo[0]+1, hi[1]-lo[1]+1, hi[2]-lo[2]+1) {
		for _, cell := range v.voxel {
			for _, i := range cell {
				if storage.DistSq(p, v.ra.Vec3At(i)) <= r2 {
					out = append(out, i)
				}
			}
		}
		sort.Ints(out)
		return out
	}
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				for _, i := range v.voxel[[3]int{x, y, z}] {
					if storage.DistSq(p, v.ra.Vec3At(i)) <= r2 {
						out = append(out, i)
					}
				}
			}
		}
	}
	sort.Ints(out)
	return out
}

// KNN searches cubic shells of cells around p until the k-th candidate is
// closer than any point outside the searched cube.
func (v *VoxelGrid) KNN(p mat.Vec3, k int) []storage.Neighbor {
	if len(v.voxel) == 0 || k <= 0 {
		return nil
	}
	c := v.PosInt(p)
	var reach int
	for i := range c {
		reach = max(reach, absInt(c[i]-v.min[i]), absInt(v.max[i]-c[i]))
	}

	var cand []storage.Neighbor
	add := func(i int) {
		cand = append(cand, storage.Neighbor{Index: i, DistSq: storage.DistSq(p, v.ra.Vec3At(i))})
	}
	for s := 0; s <= reach; s++ {
		if w := 2*s + 1; v.sparse(w, w, w) {
			cand = cand[:0]
			for _, cell := range v.voxel {
				for _, i := range cell {
					add(i)
				}
			}
			break
		}
		v.shell(c, s, add)
		if len(cand) >= k {
			storage.SortNeighbors(cand)
			// Any point outside the cube of half width s cells is farther than this.
			covered := float64(s) * float64(v.resolution)
			if cand[k-1].DistSq <= covered*covered {
				break
			}
		}
	}
	storage.SortNeighbors(cand)
	if len(cand) > k {
		cand = cand[:k]
	}
	return cand
}

// sparse reports whether scanning a box of cells costs more than scanning
// every occupied cell.
func (v *VoxelGrid) sparse(w, h, d int) bool {
	n := 8 * len(v.voxel)
	return w > n || h > n || d > n || w*h*d > n
}

// shell visits the indices of cells whose Chebyshev distance from c is exactly s.
func (v *VoxelGrid) shell(c [3]int, s int, fn func(int)) {
	visit := func(x, y, z int) {
		for _, i := range v.voxel[[3]int{x, y, z}] {
			fn(i)
		}
	}
	if s == 0 {
		visit(c[0], c[1], c[2])
		return
	}
	for x := c[0] - s; x <= c[0]+s; x++ {
		for y := c[1] - s; y <= c[1]+s; y++ {
			if x == c[0]-s || x == c[0]+s || y == c[1]-s || y == c[1]+s {
				for z := c[2] - s; z <= c[2]+s; z++ {
					visit(x, y, z)
				}
				continue
			}
			visit(x, y, c[2]-s)
			visit(x, y, c[2]+s)
		}
	}
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
