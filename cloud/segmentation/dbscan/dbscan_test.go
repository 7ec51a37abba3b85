package dbscan

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/seqsense/pcgol/mat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
)

// cubeWithNoise returns 900 points on a 9x10x10 lattice of 0.1 spacing
// followed by 100 isolated points at least 5 away from the cube and each other.
func cubeWithNoise() []mat.Vec3 {
	var ps []mat.Vec3
	for x := 0; x < 9; x++ {
		for y := 0; y < 10; y++ {
			for z := 0; z < 10; z++ {
				ps = append(ps, mat.Vec3{float32(x) * 0.1, float32(y) * 0.1, float32(z) * 0.1})
			}
		}
	}
	for i := 0; i < 100; i++ {
		ps = append(ps, mat.Vec3{10 + 6*float32(i), -10, 10})
	}
	return ps
}

func load(t *testing.T, ps []mat.Vec3) *cloud.PointSet {
	t.Helper()
	s, err := cloud.Load(ps, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCluster_CubeWithNoise(t *testing.T) {
	s := load(t, cubeWithNoise())
	for name, build := range map[string]storage.Builder{
		"Default":    nil,
		"KDTree":     kdtree.New,
		"BruteForce": storage.NewBruteForce,
	} {
		build := build
		t.Run(name, func(t *testing.T) {
			l, err := Cluster(context.Background(), s, Params{Eps: 0.5, MinPoints: 5, Index: build})
			if err != nil {
				t.Fatal(err)
			}
			if l.Clusters != 1 {
				t.Fatalf("Expected 1 cluster, got %d", l.Clusters)
			}
			if sizes := l.Sizes(); !reflect.DeepEqual([]int{900}, sizes) {
				t.Errorf("Expected sizes [900], got %v", sizes)
			}
			if n := l.NoiseCount(); n != 100 {
				t.Errorf("Expected 100 noise points, got %d", n)
			}
			for i := 900; i < 1000; i++ {
				if l.Labels[i] != Noise {
					t.Fatalf("Point %d must be noise, got %d", i, l.Labels[i])
				}
			}
			mask, err := l.KeepOnly(s, 0)
			if err != nil {
				t.Fatal(err)
			}
			if mask.Count() != 900 {
				t.Errorf("Expected 900 kept points, got %d", mask.Count())
			}
		})
	}
}

func TestCluster_BorderPoint(t *testing.T) {
	// 0..3 form a core group, 4 is only within reach of 3, 5 is isolated.
	ps := []mat.Vec3{
		{0, 0, 0}, {0.1, 0, 0}, {0.2, 0, 0}, {0.3, 0, 0},
		{0.75, 0, 0},
		{5, 5, 5},
	}
	l, err := Cluster(context.Background(), load(t, ps), Params{Eps: 0.5, MinPoints: 4})
	if err != nil {
		t.Fatal(err)
	}
	if expected := []int32{0, 0, 0, 0, 0, Noise}; !reflect.DeepEqual(expected, l.Labels) {
		t.Errorf("Expected %v, got %v", expected, l.Labels)
	}
}

func TestCluster_NoiseBecomesBorder(t *testing.T) {
	// Point 0 is visited first and is not core, but is reachable from core point 2.
	ps := []mat.Vec3{
		{-0.45, 0, 0},
		{0.4, 0, 0}, {0, 0, 0}, {0.1, 0, 0}, {0.2, 0, 0},
	}
	l, err := Cluster(context.Background(), load(t, ps), Params{Eps: 0.5, MinPoints: 4})
	if err != nil {
		t.Fatal(err)
	}
	if expected := []int32{0, 0, 0, 0, 0}; !reflect.DeepEqual(expected, l.Labels) {
		t.Errorf("Expected %v, got %v", expected, l.Labels)
	}
}

func TestCluster_IDOrder(t *testing.T) {
	// Second group appears first in index order and must get id 0.
	ps := []mat.Vec3{
		{10, 0, 0}, {10.1, 0, 0},
		{0, 0, 0}, {0.1, 0, 0}, {0.2, 0, 0},
		{10.2, 0, 0},
	}
	l, err := Cluster(context.Background(), load(t, ps), Params{Eps: 0.15, MinPoints: 2})
	if err != nil {
		t.Fatal(err)
	}
	if expected := []int32{0, 0, 1, 1, 1, 0}; !reflect.DeepEqual(expected, l.Labels) {
		t.Errorf("Expected %v, got %v", expected, l.Labels)
	}
	if id, size, ok := l.Largest(); !ok || id != 0 || size != 3 {
		t.Errorf("Expected largest cluster 0 of 3 points on tie, got %d of %d (%v)", id, size, ok)
	}
}

func TestCluster_EpsMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	ps := make([]mat.Vec3, 600)
	for i := range ps {
		c := float32(i%4) * 1.5
		ps[i] = mat.Vec3{c + r.Float32()*0.8, r.Float32() * 0.8, r.Float32() * 0.8}
	}
	s := load(t, ps)
	const minPoints = 6

	var prev *Labeling
	var prevCore []bool
	for _, eps := range []float32{0.05, 0.1, 0.2, 0.4, 0.8} {
		l, err := Cluster(context.Background(), s, Params{Eps: eps, MinPoints: minPoints})
		if err != nil {
			t.Fatal(err)
		}
		idx := storage.NewBruteForce(s)
		core := make([]bool, s.Len())
		for i := range core {
			core[i] = len(idx.Radius(s.Vec3At(i), eps)) >= minPoints
		}
		if prev != nil {
			for i := range core {
				if prevCore[i] && !core[i] {
					t.Fatalf("Point %d lost core status at eps %f", i, eps)
				}
			}
			// Core points sharing a cluster must still share one.
			for i := 0; i < s.Len(); i++ {
				for j := i + 1; j < s.Len(); j++ {
					if prevCore[i] && prevCore[j] && prev.Labels[i] == prev.Labels[j] && l.Labels[i] != l.Labels[j] {
						t.Fatalf("Points %d and %d were split at eps %f", i, j, eps)
					}
				}
			}
		}
		prev, prevCore = l, core
	}
}

func TestCluster_Deterministic(t *testing.T) {
	s := load(t, cubeWithNoise())
	var first *Labeling
	for i := 0; i < 3; i++ {
		l, err := Cluster(context.Background(), s, Params{Eps: 0.5, MinPoints: 5})
		if err != nil {
			t.Fatal(err)
		}
		if first == nil {
			first = l
			continue
		}
		if !reflect.DeepEqual(first.Labels, l.Labels) {
			t.Fatal("Labels must be deterministic")
		}
	}
}

func TestCluster_Empty(t *testing.T) {
	s := load(t, nil)
	l, err := Cluster(context.Background(), s, Params{Eps: 1, MinPoints: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Labels) != 0 || l.Clusters != 0 {
		t.Errorf("Expected empty labeling, got %v", l)
	}
	if _, _, ok := l.Largest(); ok {
		t.Error("Empty labeling must have no largest cluster")
	}
}

func TestParams_Validate(t *testing.T) {
	testCases := map[string]struct {
		params Params
		param  string
	}{
		"ZeroEps":       {params: Params{Eps: 0, MinPoints: 1}, param: "eps"},
		"NegativeEps":   {params: Params{Eps: -1, MinPoints: 1}, param: "eps"},
		"ZeroMinPoints": {params: Params{Eps: 1, MinPoints: 0}, param: "min_points"},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			_, err := Cluster(context.Background(), load(t, nil), tt.params)
			var ce *filter.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if ce.Param != tt.param {
				t.Errorf("Expected param %s, got %s", tt.param, ce.Param)
			}
		})
	}
}

func TestIsolate(t *testing.T) {
	t.Run("Largest", func(t *testing.T) {
		s := load(t, cubeWithNoise())
		mask, l, warn, err := Isolate(context.Background(), s, Params{Eps: 0.5, MinPoints: 5})
		if err != nil {
			t.Fatal(err)
		}
		if warn != nil {
			t.Errorf("Unexpected warning: %v", warn)
		}
		if !l.Valid(s) {
			t.Error("Labeling must be valid for its point set")
		}
		if mask.Count() != 900 {
			t.Errorf("Expected 900 kept points, got %d", mask.Count())
		}
	})
	t.Run("AllNoise", func(t *testing.T) {
		s := load(t, []mat.Vec3{{0, 0, 0}, {10, 0, 0}, {20, 0, 0}})
		mask, _, warn, err := Isolate(context.Background(), s, Params{Eps: 1, MinPoints: 2})
		if err != nil {
			t.Fatal(err)
		}
		if warn == nil {
			t.Error("Expected NoClusterWarning")
		}
		if !mask.All() {
			t.Errorf("Expected all points kept, got %v", mask)
		}
	})
}

func TestLabeling_KeepOnlyStale(t *testing.T) {
	s := load(t, cubeWithNoise())
	l, err := Cluster(context.Background(), s, Params{Eps: 0.5, MinPoints: 5})
	if err != nil {
		t.Fatal(err)
	}
	sub, err := s.Subset(cloud.NewMask(s.Len(), true))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.KeepOnly(sub, 0); !errors.Is(err, errStaleLabeling) {
		t.Errorf("Expected %v, got %v", errStaleLabeling, err)
	}
	if _, err := l.KeepOnly(s, 3); err == nil {
		t.Error("Expected error for unknown cluster")
	}
}

func TestCluster_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Cluster(ctx, load(t, cubeWithNoise()), Params{Eps: 0.5, MinPoints: 5}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected %v, got %v", context.Canceled, err)
	}
}
