package cloud

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ScalarType is a fixed width numeric type of a per-point property.
type ScalarType int

const (
	Int8 ScalarType = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

// Size returns the size of the type in bytes.
func (t ScalarType) Size() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Fits reports whether v is representable by the type without wrapping.
// Integer types accept only integral values within their range.
func (t ScalarType) Fits(v float64) bool {
	var lo, hi float64
	switch t {
	case Int8:
		lo, hi = math.MinInt8, math.MaxInt8
	case Uint8:
		lo, hi = 0, math.MaxUint8
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case Uint16:
		lo, hi = 0, math.MaxUint16
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case Uint32:
		lo, hi = 0, math.MaxUint32
	case Float32, Float64:
		return true
	default:
		return false
	}
	return v == math.Trunc(v) && lo <= v && v <= hi
}

func (t ScalarType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Int32:
		return "int32"
	case Uint32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "ScalarType(" + strconv.Itoa(int(t)) + ")"
}

// Property is a named scalar column of the per-point record.
type Property struct {
	Name   string
	Type   ScalarType
	Offset int
}

// Schema is the record layout of the per-point attributes, fixed at load time.
type Schema struct {
	Properties []Property
	Stride     int
}

var errInvalidScalarType = errors.New("invalid scalar type")

// NewSchema lays out the properties back to back in the given order.
func NewSchema(props ...Property) (Schema, error) {
	s := Schema{Properties: make([]Property, len(props))}
	for i, p := range props {
		if p.Type.Size() == 0 {
			return Schema{}, fmt.Errorf("property %q: %w", p.Name, errInvalidScalarType)
		}
		p.Offset = s.Stride
		s.Properties[i] = p
		s.Stride += p.Type.Size()
	}
	return s, nil
}

// Index returns the position of the named property or -1.
func (s Schema) Index(name string) int {
	for i, p := range s.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether all the named properties exist.
func (s Schema) Has(names ...string) bool {
	for _, n := range names {
		if s.Index(n) < 0 {
			return false
		}
	}
	return true
}

// SHCoefficients returns the number of spherical harmonics coefficients
// (f_dc_* and f_rest_*) stored per point.
func (s Schema) SHCoefficients() int {
	var n int
	for _, p := range s.Properties {
		if strings.HasPrefix(p.Name, "f_dc_") || strings.HasPrefix(p.Name, "f_rest_") {
			n++
		}
	}
	return n
}

// SHDegree returns the spherical harmonics degree of an RGB layout,
// or -1 if the coefficient count does not match any degree.
func (s Schema) SHDegree() int {
	n := s.SHCoefficients()
	for deg := 0; deg <= 4; deg++ {
		if (deg+1)*(deg+1)*3 == n {
			return deg
		}
	}
	return -1
}

var gaussianProperties = []string{
	"x", "y", "z",
	"opacity",
	"scale_0", "scale_1", "scale_2",
	"rot_0", "rot_1", "rot_2", "rot_3",
	"f_dc_0", "f_dc_1", "f_dc_2",
}

// IsGaussian reports whether the schema carries a 3D Gaussian Splatting record.
func (s Schema) IsGaussian() bool {
	return s.Has(gaussianProperties...)
}

// AttributeTable holds the raw per-point records of the loaded file.
// Rows are never modified after load.
type AttributeTable struct {
	schema Schema
	order  binary.ByteOrder
	data   []byte
	n      int
}

var errRecordSize = errors.New("record data is not a multiple of the stride")

// NewAttributeTable wraps the row-major record data.
func NewAttributeTable(schema Schema, order binary.ByteOrder, data []byte) (*AttributeTable, error) {
	if schema.Stride == 0 {
		return nil, errors.New("empty schema")
	}
	if len(data)%schema.Stride != 0 {
		return nil, errRecordSize
	}
	return &AttributeTable{
		schema: schema,
		order:  order,
		data:   data,
		n:      len(data) / schema.Stride,
	}, nil
}

func (t *AttributeTable) Schema() Schema {
	return t.schema
}

func (t *AttributeTable) ByteOrder() binary.ByteOrder {
	return t.order
}

func (t *AttributeTable) Len() int {
	return t.n
}

// Row returns the raw bytes of the i-th record. The returned slice aliases
// the table and must not be modified.
func (t *AttributeTable) Row(i int) []byte {
	s := t.schema.Stride
	return t.data[i*s : (i+1)*s : (i+1)*s]
}

// Value returns the p-th property of the i-th record converted to float64.
func (t *AttributeTable) Value(i, p int) float64 {
	return DecodeScalar(t.order, t.schema.Properties[p], t.Row(i))
}

// Float32 returns the named property of the i-th record.
func (t *AttributeTable) Float32(i int, name string) (float32, bool) {
	p := t.schema.Index(name)
	if p < 0 {
		return 0, false
	}
	return float32(t.Value(i, p)), true
}

// Gaussian is the decoded splat of a single point.
type Gaussian struct {
	Opacity  float32
	Scale    [3]float32
	Rotation [4]float32
	SH       []float32
}

var errNotGaussian = errors.New("attributes are not a gaussian splat record")

// Gaussian decodes the i-th record as a splat. SH holds the DC terms followed
// by the rest coefficients in file order.
func (t *AttributeTable) Gaussian(i int) (Gaussian, error) {
	if !t.schema.IsGaussian() {
		return Gaussian{}, errNotGaussian
	}
	var g Gaussian
	g.Opacity, _ = t.Float32(i, "opacity")
	for k := range g.Scale {
		g.Scale[k], _ = t.Float32(i, "scale_"+strconv.Itoa(k))
	}
	for k := range g.Rotation {
		g.Rotation[k], _ = t.Float32(i, "rot_"+strconv.Itoa(k))
	}
	g.SH = make([]float32, 0, t.schema.SHCoefficients())
	for _, prefix := range []string{"f_dc_", "f_rest_"} {
		for p, prop := range t.schema.Properties {
			if strings.HasPrefix(prop.Name, prefix) {
				g.SH = append(g.SH, float32(t.Value(i, p)))
			}
		}
	}
	return g, nil
}

// DecodeScalar reads the property from row as float64.
func DecodeScalar(order binary.ByteOrder, p Property, row []byte) float64 {
	b := row[p.Offset:]
	switch p.Type {
	case Int8:
		return float64(int8(b[0]))
	case Uint8:
		return float64(b[0])
	case Int16:
		return float64(int16(order.Uint16(b)))
	case Uint16:
		return float64(order.Uint16(b))
	case Int32:
		return float64(int32(order.Uint32(b)))
	case Uint32:
		return float64(order.Uint32(b))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// EncodeScalar writes v into row as the property type.
func EncodeScalar(order binary.ByteOrder, p Property, row []byte, v float64) {
	b := row[p.Offset:]
	switch p.Type {
	case Int8:
		b[0] = byte(int8(v))
	case Uint8:
		b[0] = byte(v)
	case Int16:
		order.PutUint16(b, uint16(int16(v)))
	case Uint16:
		order.PutUint16(b, uint16(v))
	case Int32:
		order.PutUint32(b, uint32(int32(v)))
	case Uint32:
		order.PutUint32(b, uint32(v))
	case Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		order.PutUint64(b, math.Float64bits(v))
	}
}
