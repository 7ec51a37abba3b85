package cloud

import (
	"fmt"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

// Orientation is a fixed axis change applied to working positions.
type Orientation string

const (
	// NoOrientation leaves positions unchanged. The empty string is
	// equivalent.
	NoOrientation Orientation = "none"
	// FlipX180 rotates by 180 degrees about the x axis: (x, y, z) -> (x, -y, -z).
	FlipX180 Orientation = "flip_x_180"
	// SwapYZ exchanges the y and z axes: (x, y, z) -> (x, z, y).
	SwapYZ Orientation = "swap_yz"
)

// Validate returns an error if o is not a known orientation.
func (o Orientation) Validate() error {
	switch o {
	case "", NoOrientation, FlipX180, SwapYZ:
		return nil
	}
	return fmt.Errorf("unknown orientation %q", string(o))
}

// IsNone reports whether o leaves positions unchanged.
func (o Orientation) IsNone() bool {
	return o == "" || o == NoOrientation
}

// Apply returns v in the orientation o. Components are moved, not
// multiplied, so that non-finite coordinates stay on their own axis.
func (o Orientation) Apply(v mat.Vec3) mat.Vec3 {
	switch o {
	case FlipX180:
		return mat.Vec3{v[0], -v[1], -v[2]}
	case SwapYZ:
		return mat.Vec3{v[0], v[2], v[1]}
	}
	return v
}

// Orient returns a copy of s with every position passed through o.
// Mapping, attributes and mapping state are kept.
func (s *PointSet) Orient(o Orientation) (*PointSet, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	pp := &pc.PointCloud{
		PointCloudHeader: s.pp.PointCloudHeader.Clone(),
		Points:           s.pp.Points,
		Data:             append([]byte(nil), s.pp.Data...),
	}
	if pp.Points == 0 || o.IsNone() {
		return newPointSet(pp, s.attrs, s.state)
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	for ; it.IsValid(); it.Incr() {
		it.SetVec3(o.Apply(it.Vec3()))
	}
	return newPointSet(pp, s.attrs, s.state)
}
