// Package cloud provides the immutable point set shared by all cleaning stages.
//
// A PointSet stores positions together with the index of each point in the
// originally loaded file. Subsetting copies position records together with
// their original index, so the mapping composes without being recomputed.
package cloud

import (
	"errors"
	"fmt"
	"math"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

// IndexField is the point cloud field holding the original record index.
const IndexField = "index"

var (
	// ErrEmpty is returned by operations which need at least one point.
	ErrEmpty = errors.New("point set is empty")

	errMaskLength       = errors.New("mask length differs from point count")
	errAttributesLength = errors.New("attribute count differs from point count")
	errTooManyPoints    = errors.New("too many points")
)

// PointSet is an immutable set of positions with a mapping to the records
// of the original file. Every stage returns a new PointSet.
type PointSet struct {
	pp      *pc.PointCloud
	ra      pc.Vec3RandomAccessor
	mapping []int
	attrs   *AttributeTable
	state   MappingState
}

var _ pc.Vec3RandomAccessor = (*PointSet)(nil)

func newHeader(n int) pc.PointCloudHeader {
	return pc.PointCloudHeader{
		Version:   0.7,
		Fields:    []string{"x", "y", "z", IndexField},
		Size:      []int{4, 4, 4, 4},
		Type:      []string{"F", "F", "F", "U"},
		Count:     []int{1, 1, 1, 1},
		Width:     n,
		Height:    1,
		Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
	}
}

// Load builds the original point set. attrs may be nil when the source has
// no per-point attributes; otherwise it must have one record per position.
func Load(positions []mat.Vec3, attrs *AttributeTable) (*PointSet, error) {
	n := len(positions)
	if attrs != nil && attrs.Len() != n {
		return nil, fmt.Errorf("%w: %d attributes, %d positions", errAttributesLength, attrs.Len(), n)
	}
	if uint64(n) > math.MaxUint32 {
		return nil, errTooManyPoints
	}
	pp := &pc.PointCloud{
		PointCloudHeader: newHeader(n),
		Points:           n,
	}
	pp.Data = make([]byte, n*pp.Stride())
	if n == 0 {
		return newPointSet(pp, attrs, Identity)
	}

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	itI, err := pp.Uint32Iterator(IndexField)
	if err != nil {
		return nil, err
	}
	for i := 0; it.IsValid(); i++ {
		it.SetVec3(positions[i])
		itI.SetUint32(uint32(i))
		it.Incr()
		itI.Incr()
	}
	return newPointSet(pp, attrs, Identity)
}

// Resampled wraps a point cloud produced by a resampling operation.
// The cloud must carry x, y, z and the index field holding one representative
// original index per point. The result is always Broken and has no attributes.
func Resampled(pp *pc.PointCloud) (*PointSet, error) {
	return newPointSet(pp, nil, Broken)
}

func newPointSet(pp *pc.PointCloud, attrs *AttributeTable, state MappingState) (*PointSet, error) {
	// pcgol iterators address the first record on creation.
	if pp.Points == 0 {
		return &PointSet{
			pp:      pp,
			ra:      pc.Vec3Slice{},
			mapping: []int{},
			attrs:   attrs,
			state:   state,
		}, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	itI, err := pp.Uint32Iterator(IndexField)
	if err != nil {
		return nil, err
	}
	mapping := make([]int, 0, pp.Points)
	for ; itI.IsValid(); itI.Incr() {
		mapping = append(mapping, int(itI.Uint32()))
	}
	return &PointSet{
		pp:      pp,
		ra:      it,
		mapping: mapping,
		attrs:   attrs,
		state:   state,
	}, nil
}

// Len returns the number of points.
func (s *PointSet) Len() int {
	return len(s.mapping)
}

// Vec3At returns the position of the i-th point.
func (s *PointSet) Vec3At(i int) mat.Vec3 {
	return s.ra.Vec3At(i)
}

// RawIndexAt returns the record index of the i-th point in the underlying cloud.
func (s *PointSet) RawIndexAt(i int) int {
	return s.ra.RawIndexAt(i)
}

// Positions returns a copy of all positions.
func (s *PointSet) Positions() pc.Vec3Slice {
	out := make(pc.Vec3Slice, s.Len())
	for i := range out {
		out[i] = s.ra.Vec3At(i)
	}
	return out
}

// Mapping returns the original record index of every point.
// The returned slice must not be modified.
func (s *PointSet) Mapping() []int {
	return s.mapping
}

func (s *PointSet) State() MappingState {
	return s.state
}

// Attributes returns the original attribute table, or nil if attributes are
// absent or the mapping is broken.
func (s *PointSet) Attributes() *AttributeTable {
	return s.attrs
}

// AttributeRow returns the original record bytes of the i-th point.
func (s *PointSet) AttributeRow(i int) ([]byte, error) {
	if !s.state.Preserving() {
		return nil, &MappingBrokenError{Op: "attribute row", State: s.state}
	}
	if s.attrs == nil {
		return nil, errors.New("point set has no attributes")
	}
	if i < 0 || i >= len(s.mapping) {
		return nil, fmt.Errorf("point %d out of range [0, %d)", i, len(s.mapping))
	}
	return s.attrs.Row(s.mapping[i]), nil
}

// PointCloud returns the underlying x, y, z, index cloud.
// The returned cloud is shared and must not be modified.
func (s *PointSet) PointCloud() *pc.PointCloud {
	return s.pp
}

// Bounds returns the axis aligned bounding box of the positions.
func (s *PointSet) Bounds() (mat.Vec3, mat.Vec3, error) {
	if s.Len() == 0 {
		return mat.Vec3{}, mat.Vec3{}, ErrEmpty
	}
	return pc.MinMaxVec3(s.ra)
}

// Subset returns the points whose mask entry is true, in their current order.
// Composing subsets keeps the original index of each surviving point.
func (s *PointSet) Subset(mask Mask) (*PointSet, error) {
	if len(mask) != s.Len() {
		return nil, fmt.Errorf("%w: mask %d, points %d", errMaskLength, len(mask), s.Len())
	}
	pp := passThroughByMask(s.pp, mask)
	state := Subsetted
	if s.state == Broken {
		state = Broken
	}
	return newPointSet(pp, s.attrs, state)
}

func passThroughByMask(pp *pc.PointCloud, mask Mask) *pc.PointCloud {
	return passThroughImpl(pp, func(dst, src *pc.PointCloud) int {
		i, j := 0, 0
		is, js, cnt := 0, 0, 0
		n := pp.Points
		for {
			for {
				if i >= n {
					if cnt > 0 {
						pc.Copy(dst, js, src, is, cnt)
					}
					return j
				}
				if mask[i] {
					break
				}
				i++
				if cnt > 0 {
					pc.Copy(dst, js, src, is, cnt)
					cnt = 0
				}
			}
			if cnt == 0 {
				is, js = i, j
			}
			i++
			j++
			cnt++
		}
	})
}

func passThroughImpl(pp *pc.PointCloud, core func(_, _ *pc.PointCloud) int) *pc.PointCloud {
	pcNew := &pc.PointCloud{
		PointCloudHeader: pp.PointCloudHeader.Clone(),
		Data:             make([]byte, len(pp.Data)),
		Points:           pp.Points,
	}

	i := core(pcNew, pp)

	pcNew.Points = i
	pcNew.Width = i
	pcNew.Height = 1
	pcNew.Data = pcNew.Data[: i*pcNew.Stride() : i*pcNew.Stride()]
	return pcNew
}
