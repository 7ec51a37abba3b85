package cloud

// Mask selects the points to keep.
type Mask []bool

// NewMask returns a mask of n entries all set to v.
func NewMask(n int, v bool) Mask {
	m := make(Mask, n)
	if v {
		for i := range m {
			m[i] = true
		}
	}
	return m
}

// Count returns the number of kept points.
func (m Mask) Count() int {
	var n int
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// All reports whether every point is kept.
func (m Mask) All() bool {
	for _, v := range m {
		if !v {
			return false
		}
	}
	return true
}

// And returns the element-wise conjunction. Both masks must have the same length.
func (m Mask) And(o Mask) Mask {
	out := make(Mask, len(m))
	for i := range m {
		out[i] = m[i] && o[i]
	}
	return out
}
