// Package crop keeps the points inside an axis aligned box.
package crop

import (
	"context"
	"fmt"
	"math"

	"github.com/seqsense/pcgol/mat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/filter"
)

const stage = "aabb_crop"

// Box is an inclusive axis aligned bounding box.
type Box struct {
	Min mat.Vec3 `yaml:"min,flow"`
	Max mat.Vec3 `yaml:"max,flow"`
}

var axes = [3]string{"x", "y", "z"}

func (b *Box) Validate() error {
	for k := range b.Min {
		if isNaNOrInf(b.Min[k]) || isNaNOrInf(b.Max[k]) {
			return &filter.ConfigError{
				Stage: stage, Param: "bounds", Value: fmt.Sprintf("[%v, %v]", b.Min, b.Max),
				Reason: "must be finite",
			}
		}
		if b.Min[k] > b.Max[k] {
			return &filter.ConfigError{
				Stage: stage, Param: "min_" + axes[k], Value: b.Min[k],
				Reason: fmt.Sprintf("greater than max_%s %v", axes[k], b.Max[k]),
			}
		}
	}
	return nil
}

// IsInside reports whether v lies in the box, boundary included.
// Points with a NaN coordinate are never inside.
func (b *Box) IsInside(v mat.Vec3) bool {
	return b.Min[0] <= v[0] && v[0] <= b.Max[0] &&
		b.Min[1] <= v[1] && v[1] <= b.Max[1] &&
		b.Min[2] <= v[2] && v[2] <= b.Max[2]
}

func (b *Box) Mask(ctx context.Context, s *cloud.PointSet) (cloud.Mask, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	n := s.Len()
	mask := make(cloud.Mask, n)
	for i := 0; i < n; i++ {
		if i%(1<<16) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		mask[i] = b.IsInside(s.Vec3At(i))
	}
	return mask, nil
}

// FromBounds returns the bounding box of the set.
func FromBounds(s *cloud.PointSet) (*Box, error) {
	min, max, err := s.Bounds()
	if err != nil {
		return nil, err
	}
	return &Box{Min: min, Max: max}, nil
}

func isNaNOrInf(f float32) bool {
	return math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)
}
