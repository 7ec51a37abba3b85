package cloud

import (
	"fmt"
)

// MappingState tracks whether a point set still corresponds 1:1 to records
// of the original file.
type MappingState int

const (
	// Identity is the state right after load.
	Identity MappingState = iota
	// Subsetted means one or more pure subsetting stages were applied.
	Subsetted
	// Broken means points were resampled or merged. Broken is absorbing.
	Broken
)

func (s MappingState) String() string {
	switch s {
	case Identity:
		return "identity"
	case Subsetted:
		return "subsetted"
	case Broken:
		return "broken"
	}
	return fmt.Sprintf("MappingState(%d)", int(s))
}

// Preserving reports whether original attributes can be addressed through
// the mapping.
func (s MappingState) Preserving() bool {
	return s == Identity || s == Subsetted
}

// MappingBrokenError is returned when an operation needs the original
// attributes of a point set whose mapping was broken.
type MappingBrokenError struct {
	Op    string
	State MappingState
}

func (e *MappingBrokenError) Error() string {
	return fmt.Sprintf("%s: point set mapping is %s, original attributes are not addressable", e.Op, e.State)
}
