package storage_test

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
	"github.com/seqsense/splatclean/cloud/storage/pctree"
	"github.com/seqsense/splatclean/cloud/storage/voxelgrid"
)

var builders = map[string]storage.Builder{
	"KDTree":        kdtree.New,
	"PCTree":        pctree.New,
	"VoxelGrid":     voxelgrid.New(0.3),
	"VoxelGridFine": voxelgrid.New(0.05),
}

func randomCloud(n int, seed int64) pc.Vec3Slice {
	r := rand.New(rand.NewSource(seed))
	out := make(pc.Vec3Slice, n)
	for i := range out {
		out[i] = mat.Vec3{r.Float32()*4 - 2, r.Float32()*4 - 2, r.Float32() * 2}
	}
	// Duplicates and a far outlier.
	out = append(out, out[0], out[0], mat.Vec3{50, -50, 50})
	return out
}

func TestIndex_Radius(t *testing.T) {
	ps := randomCloud(500, 1)
	ref := storage.NewBruteForce(ps)
	queries := append(pc.Vec3Slice{{0, 0, 0}, {50, -50, 50}, {100, 100, 100}}, ps[:50]...)

	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			idx := build(ps)
			if idx.Len() != ps.Len() {
				t.Fatalf("Expected %d points, got %d", ps.Len(), idx.Len())
			}
			for _, r := range []float32{0, 0.1, 0.5, 3} {
				for _, q := range queries {
					expected := ref.Radius(q, r)
					got := idx.Radius(q, r)
					if len(expected) == 0 && len(got) == 0 {
						continue
					}
					if !reflect.DeepEqual(expected, got) {
						t.Fatalf("Radius(%v, %f): expected %v, got %v", q, r, expected, got)
					}
				}
			}
		})
	}
}

func TestIndex_RadiusIncludesSelf(t *testing.T) {
	ps := pc.Vec3Slice{{0, 0, 0}, {1, 0, 0}, {0, 2, 0}}
	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			idx := build(ps)
			if got := idx.Radius(ps[0], 1); !reflect.DeepEqual([]int{0, 1}, got) {
				t.Errorf("Boundary point must be included, got %v", got)
			}
			if got := idx.Radius(ps[2], 0); !reflect.DeepEqual([]int{2}, got) {
				t.Errorf("Zero radius must return the point itself, got %v", got)
			}
		})
	}
}

func TestIndex_KNN(t *testing.T) {
	ps := randomCloud(500, 2)
	ref := storage.NewBruteForce(ps)
	queries := append(pc.Vec3Slice{{0, 0, 0}, {50, -50, 50}, {-10, 3, 1}}, ps[100:150]...)

	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			idx := build(ps)
			for _, k := range []int{1, 2, 8, 20, 1000} {
				for _, q := range queries {
					expected := ref.KNN(q, k)
					got := idx.KNN(q, k)
					if len(expected) != len(got) {
						t.Fatalf("KNN(%v, %d): expected %d neighbors, got %d", q, k, len(expected), len(got))
					}
					for i := range expected {
						if expected[i].DistSq != got[i].DistSq {
							t.Fatalf("KNN(%v, %d)[%d]: expected %v, got %v", q, k, i, expected[i], got[i])
						}
					}
				}
			}
		})
	}
}

func TestIndex_Empty(t *testing.T) {
	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			idx := build(pc.Vec3Slice{})
			if idx.Len() != 0 {
				t.Errorf("Expected empty index, got %d", idx.Len())
			}
			if got := idx.Radius(mat.Vec3{}, 1); len(got) != 0 {
				t.Errorf("Expected no neighbors, got %v", got)
			}
			if got := idx.KNN(mat.Vec3{}, 3); len(got) != 0 {
				t.Errorf("Expected no neighbors, got %v", got)
			}
		})
	}
}

func TestIndex_Single(t *testing.T) {
	ps := pc.Vec3Slice{{1, 2, 3}}
	for name, build := range builders {
		build := build
		t.Run(name, func(t *testing.T) {
			idx := build(ps)
			got := idx.KNN(mat.Vec3{1, 2, 3}, 4)
			if expected := []storage.Neighbor{{Index: 0}}; !reflect.DeepEqual(expected, got) {
				t.Errorf("Expected %v, got %v", expected, got)
			}
		})
	}
}
