package suggest

import (
	"math/rand"
)

// Sampler draws an index from a fixed range.
type Sampler interface {
	Sample() int
}

// NewRandomSampler returns a uniform sampler over [0, n).
func NewRandomSampler(n int, rnd *rand.Rand) Sampler {
	if n < 0x8000000 {
		return &randomSampler31{n: int32(n), rnd: rnd}
	}
	return &randomSampler63{n: int64(n), rnd: rnd}
}

type randomSampler31 struct {
	n   int32
	rnd *rand.Rand
}

func (s *randomSampler31) Sample() int {
	return int(s.rnd.Int31n(s.n))
}

type randomSampler63 struct {
	n   int64
	rnd *rand.Rand
}

func (s *randomSampler63) Sample() int {
	return int(s.rnd.Int63n(s.n))
}

// SampleDistinct returns m distinct indices of [0, n) in ascending order.
// All indices are returned if m >= n.
func SampleDistinct(n, m int, rnd *rand.Rand) []int {
	if m >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if m <= 0 {
		return nil
	}
	// Draw the smaller of the selected and the excluded sets.
	exclude := m > n/2
	want := m
	if exclude {
		want = n - m
	}
	s := NewRandomSampler(n, rnd)
	picked := make(map[int]struct{}, want)
	for len(picked) < want {
		picked[s.Sample()] = struct{}{}
	}
	out := make([]int, 0, m)
	for i := 0; i < n; i++ {
		if _, ok := picked[i]; ok != exclude {
			out = append(out, i)
		}
	}
	return out
}
