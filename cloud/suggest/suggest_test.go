package suggest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/seqsense/pcgol/mat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/storage"
)

func lattice(n int, spacing float32) []mat.Vec3 {
	var ps []mat.Vec3
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				ps = append(ps, mat.Vec3{float32(x) * spacing, float32(y) * spacing, float32(z) * spacing})
			}
		}
	}
	return ps
}

func TestSuggest(t *testing.T) {
	s, err := cloud.Load(lattice(12, 0.02), nil)
	if err != nil {
		t.Fatal(err)
	}
	sg, err := Suggest(context.Background(), s, Options{SampleSize: 500, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if sg.Samples != 500 {
		t.Errorf("Expected 500 samples, got %d", sg.Samples)
	}
	if math.Abs(sg.MedianDistance-0.02) > 1e-6 {
		t.Errorf("Expected median distance 0.02, got %f", sg.MedianDistance)
	}
	if math.Abs(float64(sg.Radius)-0.05) > 1e-6 {
		t.Errorf("Expected radius 0.05, got %f", sg.Radius)
	}
	if math.Abs(float64(sg.Eps)-0.04) > 1e-6 {
		t.Errorf("Expected eps 0.04, got %f", sg.Eps)
	}
	if sg.MinPoints != 8 {
		t.Errorf("Expected min points 8, got %d", sg.MinPoints)
	}

	t.Run("LargeK", func(t *testing.T) {
		sg, err := Suggest(context.Background(), s, Options{SampleSize: 10, K: 12})
		if err != nil {
			t.Fatal(err)
		}
		if sg.MinPoints != 12 {
			t.Errorf("Expected min points 12, got %d", sg.MinPoints)
		}
	})
	t.Run("Duplicates", func(t *testing.T) {
		s, err := cloud.Load([]mat.Vec3{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		sg, err := Suggest(context.Background(), s, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if sg.Radius != 1e-6 || sg.Eps != 1e-6 {
			t.Errorf("Expected floor values, got radius %g eps %g", sg.Radius, sg.Eps)
		}
	})
	t.Run("NaN", func(t *testing.T) {
		nan := float32(math.NaN())
		s, err := cloud.Load([]mat.Vec3{{0, 0, 0}, {1, 0, 0}, {nan, 0, 0}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		sg, err := Suggest(context.Background(), s, Options{Index: storage.NewBruteForce})
		if err != nil {
			t.Fatal(err)
		}
		if sg.Samples != 2 || sg.MedianDistance != 1 {
			t.Errorf("Expected 2 samples at distance 1, got %d at %g", sg.Samples, sg.MedianDistance)
		}
		// The default index must not fail on unreachable samples either.
		if _, err := Suggest(context.Background(), s, Options{}); err != nil && !errors.Is(err, ErrNoNeighbors) {
			t.Errorf("Unexpected error: %v", err)
		}
	})
	t.Run("OnlyNaN", func(t *testing.T) {
		nan := float32(math.NaN())
		s, err := cloud.Load([]mat.Vec3{{nan, 0, 0}, {0, nan, 0}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Suggest(context.Background(), s, Options{}); !errors.Is(err, ErrNoNeighbors) {
			t.Errorf("Expected %v, got %v", ErrNoNeighbors, err)
		}
	})
	t.Run("TooFewPoints", func(t *testing.T) {
		s, err := cloud.Load([]mat.Vec3{{1, 1, 1}}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Suggest(context.Background(), s, Options{}); !errors.Is(err, ErrNoNeighbors) {
			t.Errorf("Expected %v, got %v", ErrNoNeighbors, err)
		}
	})
}

func TestSampleDistinct(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, tt := range []struct{ n, m int }{
		{10, 0}, {10, 3}, {10, 7}, {10, 10}, {10, 20}, {100000, 20000},
	} {
		out := SampleDistinct(tt.n, tt.m, rnd)
		expected := tt.m
		if expected > tt.n {
			expected = tt.n
		}
		if len(out) != expected {
			t.Errorf("n=%d m=%d: expected %d samples, got %d", tt.n, tt.m, expected, len(out))
			continue
		}
		if !sort.IntsAreSorted(out) {
			t.Errorf("n=%d m=%d: samples must be sorted", tt.n, tt.m)
		}
		for i := 1; i < len(out); i++ {
			if out[i] == out[i-1] {
				t.Fatalf("n=%d m=%d: duplicated sample %d", tt.n, tt.m, out[i])
			}
		}
		for _, v := range out {
			if v < 0 || v >= tt.n {
				t.Fatalf("n=%d m=%d: sample %d out of range", tt.n, tt.m, v)
			}
		}
	}
}

func TestRandomSampler(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 5, 0x8000000 + 1} {
		s := NewRandomSampler(n, rnd)
		for i := 0; i < 100; i++ {
			if v := s.Sample(); v < 0 || v >= n {
				t.Fatalf("Sample %d out of range [0, %d)", v, n)
			}
		}
	}
}
