// Package export writes cleaned point sets.
//
// GSSafe writes the untouched original records of the surviving points and
// is the only mode suitable for further use as Gaussian Splatting data.
// Preview writes positions and a display color only.
package export

import (
	"errors"
	"io"
	"math"

	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/cloud/ply"
)

var (
	// ErrEmptySelection is returned when exporting a set without points.
	ErrEmptySelection = errors.New("selection is empty, nothing to save")

	errNoAttributes   = errors.New("point set has no attributes")
	errSourceMismatch = errors.New("point set was not loaded from the given file")
)

// GSSafe returns a file with the original vertex records selected by the
// mapping of s, in the order of s. Header, format, comments and obj_info
// are taken from src.
func GSSafe(s *cloud.PointSet, src *ply.File) (*ply.File, error) {
	if !s.State().Preserving() {
		return nil, &cloud.MappingBrokenError{Op: "gs-safe export", State: s.State()}
	}
	if s.Len() == 0 {
		return nil, ErrEmptySelection
	}
	if s.Attributes() == nil {
		return nil, errNoAttributes
	}
	if src.Vertex != s.Attributes() {
		return nil, errSourceMismatch
	}
	return src.Subset(s.Mapping())
}

// WriteGSSafe encodes the GS-safe export of s to w.
func WriteGSSafe(w io.Writer, s *cloud.PointSet, src *ply.File) error {
	f, err := GSSafe(s, src)
	if err != nil {
		return err
	}
	return f.Write(w)
}

// shC0 is the degree 0 spherical harmonics basis constant.
const shC0 = 0.28209479177387814

const white = 0xFFFFFF

// Preview returns a point cloud with x, y, z and a packed rgb field.
// Colors come from red, green, blue properties, else from the SH DC terms.
// Points without addressable attributes are white.
func Preview(s *cloud.PointSet) (*pc.PointCloud, error) {
	n := s.Len()
	pp := &pc.PointCloud{
		PointCloudHeader: pc.PointCloudHeader{
			Version:   0.7,
			Fields:    []string{"x", "y", "z", "rgb"},
			Size:      []int{4, 4, 4, 4},
			Type:      []string{"F", "F", "F", "U"},
			Count:     []int{1, 1, 1, 1},
			Width:     n,
			Height:    1,
			Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
		},
		Points: n,
	}
	pp.Data = make([]byte, n*pp.Stride())
	if n == 0 {
		return pp, nil
	}

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	itC, err := pp.Uint32Iterator("rgb")
	if err != nil {
		return nil, err
	}
	color := colorFunc(s)
	for i := 0; i < n; i++ {
		it.SetVec3(s.Vec3At(i))
		itC.SetUint32(color(i))
		it.Incr()
		itC.Incr()
	}
	return pp, nil
}

// WritePreview encodes the preview of s to w as PCD.
func WritePreview(w io.Writer, s *cloud.PointSet) error {
	pp, err := Preview(s)
	if err != nil {
		return err
	}
	return pc.Marshal(pp, w)
}

func colorFunc(s *cloud.PointSet) func(int) uint32 {
	attrs := s.Attributes()
	if attrs == nil || !s.State().Preserving() {
		return func(int) uint32 { return white }
	}
	schema := attrs.Schema()
	mapping := s.Mapping()

	if r, g, b := schema.Index("red"), schema.Index("green"), schema.Index("blue"); r >= 0 && g >= 0 && b >= 0 {
		scale := 1.0
		if t := schema.Properties[r].Type; t == cloud.Float32 || t == cloud.Float64 {
			scale = 255
		}
		return func(i int) uint32 {
			j := mapping[i]
			return pack(
				attrs.Value(j, r)*scale,
				attrs.Value(j, g)*scale,
				attrs.Value(j, b)*scale,
			)
		}
	}
	if r, g, b := schema.Index("f_dc_0"), schema.Index("f_dc_1"), schema.Index("f_dc_2"); r >= 0 && g >= 0 && b >= 0 {
		sh := func(v float64) float64 {
			return (0.5 + shC0*v) * 255
		}
		return func(i int) uint32 {
			j := mapping[i]
			return pack(sh(attrs.Value(j, r)), sh(attrs.Value(j, g)), sh(attrs.Value(j, b)))
		}
	}
	return func(int) uint32 { return white }
}

func pack(r, g, b float64) uint32 {
	return uint32(clamp8(r))<<16 | uint32(clamp8(g))<<8 | uint32(clamp8(b))
}

func clamp8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}
