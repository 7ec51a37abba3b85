package outlier

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/seqsense/pcgol/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
	"github.com/seqsense/splatclean/cloud/storage"
	"github.com/seqsense/splatclean/cloud/storage/kdtree"
)

func load(t *testing.T, ps []mat.Vec3) *cloud.PointSet {
	t.Helper()
	s, err := cloud.Load(ps, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func noisyCloud(n int, seed int64) []mat.Vec3 {
	r := rand.New(rand.NewSource(seed))
	ps := make([]mat.Vec3, n)
	for i := range ps {
		ps[i] = mat.Vec3{r.Float32(), r.Float32(), r.Float32()}
	}
	return ps
}

func TestRadius(t *testing.T) {
	// Points on a line with unit spacing plus one isolated point.
	ps := []mat.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {10, 10, 10}}

	testCases := map[string]struct {
		filter   Radius
		expected cloud.Mask
	}{
		"MinNeighbors0": {
			filter:   Radius{Radius: 0.1, MinNeighbors: 0},
			expected: cloud.Mask{true, true, true, true, true},
		},
		"MinNeighbors1": {
			filter:   Radius{Radius: 1, MinNeighbors: 1},
			expected: cloud.Mask{true, true, true, true, false},
		},
		"MinNeighbors2": {
			filter:   Radius{Radius: 1, MinNeighbors: 2},
			expected: cloud.Mask{false, true, true, false, false},
		},
		"KDTree": {
			filter:   Radius{Radius: 1, MinNeighbors: 2, Index: kdtree.New},
			expected: cloud.Mask{false, true, true, false, false},
		},
		"BruteForce": {
			filter:   Radius{Radius: 1, MinNeighbors: 2, Index: storage.NewBruteForce, Workers: 1},
			expected: cloud.Mask{false, true, true, false, false},
		},
		"LargeRadius": {
			filter:   Radius{Radius: 100, MinNeighbors: 4},
			expected: cloud.Mask{true, true, true, true, true},
		},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			mask, err := tt.filter.Mask(context.Background(), load(t, ps))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(tt.expected, mask) {
				t.Errorf("Expected %v, got %v", tt.expected, mask)
			}
		})
	}
}

func TestRadius_MinNeighbors0KeepsAll(t *testing.T) {
	s := load(t, noisyCloud(3000, 1))
	mask, err := (&Radius{Radius: 0.001}).Mask(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if mask.Count() != s.Len() {
		t.Errorf("Expected all %d points kept, got %d", s.Len(), mask.Count())
	}
}

func TestStatistical(t *testing.T) {
	ps := append(noisyCloud(500, 2), mat.Vec3{20, 20, 20}, mat.Vec3{-20, 5, 0})
	s := load(t, ps)
	ctx := context.Background()

	t.Run("FarPointsRemoved", func(t *testing.T) {
		mask, err := (&Statistical{K: 8, StdRatio: 1}).Mask(ctx, s)
		if err != nil {
			t.Fatal(err)
		}
		if mask[500] || mask[501] {
			t.Error("Far points must be removed")
		}
		if mask.Count() < 400 {
			t.Errorf("Too many points removed: %d kept", mask.Count())
		}
	})
	t.Run("HugeRatioKeepsAll", func(t *testing.T) {
		mask, err := (&Statistical{K: 8, StdRatio: 1e9}).Mask(ctx, s)
		if err != nil {
			t.Fatal(err)
		}
		if !mask.All() {
			t.Errorf("Expected all points kept, got %d/%d", mask.Count(), len(mask))
		}
	})
	t.Run("TinyRatioKeepsBelowMean", func(t *testing.T) {
		means, err := MeanDistances(ctx, s, 8, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		mu := stat.Mean(means, nil)
		mask, err := (&Statistical{K: 8, StdRatio: 1e-12}).Mask(ctx, s)
		if err != nil {
			t.Fatal(err)
		}
		for i, m := range means {
			if mask[i] != (m <= mu) {
				t.Fatalf("Point %d: mean distance %f, global mean %f, kept %v", i, m, mu, mask[i])
			}
		}
	})
	t.Run("SelfExcluded", func(t *testing.T) {
		means, err := MeanDistances(ctx, load(t, []mat.Vec3{{0, 0, 0}, {3, 0, 0}, {3, 4, 0}}), 1, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		if expected := []float64{3, 3, 4}; !reflect.DeepEqual(expected, means) {
			t.Errorf("Expected %v, got %v", expected, means)
		}
	})
	t.Run("KLargerThanSet", func(t *testing.T) {
		means, err := MeanDistances(ctx, load(t, []mat.Vec3{{0, 0, 0}, {2, 0, 0}}), 10, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		if expected := []float64{2, 2}; !reflect.DeepEqual(expected, means) {
			t.Errorf("Expected %v, got %v", expected, means)
		}
	})
}

func TestStatistical_Small(t *testing.T) {
	for _, ps := range [][]mat.Vec3{nil, {{1, 2, 3}}} {
		mask, err := (&Statistical{K: 4, StdRatio: 1}).Mask(context.Background(), load(t, ps))
		if err != nil {
			t.Fatal(err)
		}
		if len(mask) != len(ps) || !mask.All() {
			t.Errorf("Expected all of %d points kept, got %v", len(ps), mask)
		}
	}
}

func TestValidate(t *testing.T) {
	testCases := map[string]struct {
		filter interface{ Validate() error }
		param  string
	}{
		"NegativeRadius":      {filter: &Radius{Radius: -1}, param: "radius"},
		"ZeroRadius":          {filter: &Radius{Radius: 0}, param: "radius"},
		"NegativeNeighbors":   {filter: &Radius{Radius: 1, MinNeighbors: -1}, param: "min_neighbors"},
		"ZeroK":               {filter: &Statistical{K: 0, StdRatio: 1}, param: "k"},
		"ZeroRatio":           {filter: &Statistical{K: 1, StdRatio: 0}, param: "std_ratio"},
		"ValidRadius":         {filter: &Radius{Radius: 1}},
		"ValidStatistical":    {filter: &Statistical{K: 1, StdRatio: 0.5}},
	}
	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.param == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
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

func TestCanceled(t *testing.T) {
	s := load(t, noisyCloud(10000, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&Radius{Radius: 0.1, MinNeighbors: 3}).Mask(ctx, s); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected %v, got %v", context.Canceled, err)
	}
	if _, err := (&Statistical{K: 4, StdRatio: 1}).Mask(ctx, s); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected %v, got %v", context.Canceled, err)
	}
}
