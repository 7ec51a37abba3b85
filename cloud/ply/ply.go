// Package ply reads and writes the vertex element of PLY files as raw
// per-point records, so that records can be written back unchanged.
package ply

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/seqsense/pcgol/mat"

	"github.com/seqsense/splatclean/cloud"
)

// Format is the body encoding of a PLY file.
type Format int

const (
	ASCII Format = iota
	BinaryLittleEndian
	BinaryBigEndian
)

func (f Format) String() string {
	switch f {
	case ASCII:
		return "ascii"
	case BinaryLittleEndian:
		return "binary_little_endian"
	case BinaryBigEndian:
		return "binary_big_endian"
	}
	return "Format(" + strconv.Itoa(int(f)) + ")"
}

func (f Format) byteOrder() binary.ByteOrder {
	if f == BinaryBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Meta is a comment or obj_info header line.
type Meta struct {
	Keyword string
	Text    string
}

// File is a PLY file reduced to its vertex element.
type File struct {
	Format  Format
	Version string
	Meta    []Meta
	Vertex  *cloud.AttributeTable
}

type propertyDef struct {
	name      string
	typ       cloud.ScalarType
	list      bool
	countType cloud.ScalarType
}

type element struct {
	name  string
	count int
	props []propertyDef
}

var (
	ErrNotPLY       = errors.New("not a ply file")
	ErrNoVertex     = errors.New("no vertex element")
	errListProperty = errors.New("list properties are not supported in the vertex element")
	errValueRange   = errors.New("value out of range")
)

var typeNames = map[string]cloud.ScalarType{
	"char": cloud.Int8, "int8": cloud.Int8,
	"uchar": cloud.Uint8, "uint8": cloud.Uint8,
	"short": cloud.Int16, "int16": cloud.Int16,
	"ushort": cloud.Uint16, "uint16": cloud.Uint16,
	"int": cloud.Int32, "int32": cloud.Int32,
	"uint": cloud.Uint32, "uint32": cloud.Uint32,
	"float": cloud.Float32, "float32": cloud.Float32,
	"double": cloud.Float64, "float64": cloud.Float64,
}

var writeTypeNames = map[cloud.ScalarType]string{
	cloud.Int8:    "char",
	cloud.Uint8:   "uchar",
	cloud.Int16:   "short",
	cloud.Uint16:  "ushort",
	cloud.Int32:   "int",
	cloud.Uint32:  "uint",
	cloud.Float32: "float",
	cloud.Float64: "double",
}

func parseType(s string) (cloud.ScalarType, error) {
	t, ok := typeNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown property type %q", s)
	}
	return t, nil
}

// Read parses a PLY file. Elements after the vertex element are ignored.
func Read(r io.Reader) (*File, error) {
	rb := bufio.NewReader(r)
	f := &File{}
	elements, err := readHeader(rb, f)
	if err != nil {
		return nil, err
	}

	var ascii *asciiReader
	if f.Format == ASCII {
		ascii = &asciiReader{r: rb}
	}
	for _, e := range elements {
		if e.name != "vertex" {
			if err := skipElement(rb, ascii, f.Format, e); err != nil {
				return nil, fmt.Errorf("element %s: %w", e.name, err)
			}
			continue
		}
		props := make([]cloud.Property, len(e.props))
		for i, p := range e.props {
			if p.list {
				return nil, fmt.Errorf("property %s: %w", p.name, errListProperty)
			}
			props[i] = cloud.Property{Name: p.name, Type: p.typ}
		}
		schema, err := cloud.NewSchema(props...)
		if err != nil {
			return nil, err
		}
		var data []byte
		if ascii != nil {
			data, err = ascii.readRecords(schema, e.count)
		} else {
			data = make([]byte, e.count*schema.Stride)
			_, err = io.ReadFull(rb, data)
		}
		if err != nil {
			return nil, fmt.Errorf("vertex data: %w", err)
		}
		if f.Vertex, err = cloud.NewAttributeTable(schema, f.Format.byteOrder(), data); err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, ErrNoVertex
}

func readHeader(rb *bufio.Reader, f *File) ([]*element, error) {
	line, err := rb.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return nil, ErrNotPLY
	}
	var elements []*element
	var hasFormat bool
	for {
		line, err := rb.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		keyword, rest, _ := strings.Cut(line, " ")
		args := strings.Fields(rest)
		switch keyword {
		case "format":
			if len(args) != 2 {
				return nil, fmt.Errorf("invalid format line %q", line)
			}
			switch args[0] {
			case "ascii":
				f.Format = ASCII
			case "binary_little_endian":
				f.Format = BinaryLittleEndian
			case "binary_big_endian":
				f.Format = BinaryBigEndian
			default:
				return nil, fmt.Errorf("unknown format %q", args[0])
			}
			f.Version = args[1]
			hasFormat = true
		case "comment", "obj_info":
			f.Meta = append(f.Meta, Meta{Keyword: keyword, Text: rest})
		case "element":
			if len(args) != 2 {
				return nil, fmt.Errorf("invalid element line %q", line)
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid element count %q", args[1])
			}
			elements = append(elements, &element{name: args[0], count: n})
		case "property":
			if len(elements) == 0 {
				return nil, errors.New("property before element")
			}
			e := elements[len(elements)-1]
			var p propertyDef
			switch {
			case len(args) == 4 && args[0] == "list":
				if p.countType, err = parseType(args[1]); err != nil {
					return nil, err
				}
				if p.typ, err = parseType(args[2]); err != nil {
					return nil, err
				}
				p.list, p.name = true, args[3]
			case len(args) == 2:
				if p.typ, err = parseType(args[0]); err != nil {
					return nil, err
				}
				p.name = args[1]
			default:
				return nil, fmt.Errorf("invalid property line %q", line)
			}
			e.props = append(e.props, p)
		case "end_header":
			if !hasFormat {
				return nil, errors.New("missing format line")
			}
			return elements, nil
		case "":
		default:
			return nil, fmt.Errorf("unknown header keyword %q", keyword)
		}
	}
}

func skipElement(rb *bufio.Reader, ascii *asciiReader, format Format, e *element) error {
	if ascii != nil {
		for i := 0; i < e.count; i++ {
			if _, err := ascii.line(); err != nil {
				return err
			}
		}
		return nil
	}
	order := format.byteOrder()
	var buf [8]byte
	for i := 0; i < e.count; i++ {
		for _, p := range e.props {
			if !p.list {
				if _, err := rb.Discard(p.typ.Size()); err != nil {
					return err
				}
				continue
			}
			b := buf[:p.countType.Size()]
			if _, err := io.ReadFull(rb, b); err != nil {
				return err
			}
			n := int(cloud.DecodeScalar(order, cloud.Property{Type: p.countType}, b))
			if _, err := rb.Discard(n * p.typ.Size()); err != nil {
				return err
			}
		}
	}
	return nil
}

type asciiReader struct {
	r *bufio.Reader
}

func (a *asciiReader) line() ([]string, error) {
	for {
		line, err := a.r.ReadString('\n')
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields, nil
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func (a *asciiReader) readRecords(schema cloud.Schema, n int) ([]byte, error) {
	data := make([]byte, n*schema.Stride)
	for i := 0; i < n; i++ {
		fields, err := a.line()
		if err != nil {
			return nil, err
		}
		if len(fields) < len(schema.Properties) {
			return nil, fmt.Errorf("record %d: expected %d values, got %d", i, len(schema.Properties), len(fields))
		}
		row := data[i*schema.Stride : (i+1)*schema.Stride]
		for j, p := range schema.Properties {
			v, err := strconv.ParseFloat(fields[j], 64)
			if err != nil {
				return nil, fmt.Errorf("record %d property %s: %w", i, p.Name, err)
			}
			if !p.Type.Fits(v) {
				return nil, fmt.Errorf("record %d property %s: %w: %s for %s", i, p.Name, errValueRange, fields[j], p.Type)
			}
			cloud.EncodeScalar(binary.LittleEndian, p, row, v)
		}
	}
	return data, nil
}

// Positions returns the x, y, z properties of every vertex.
func (f *File) Positions() ([]mat.Vec3, error) {
	s := f.Vertex.Schema()
	ix, iy, iz := s.Index("x"), s.Index("y"), s.Index("z")
	if ix < 0 || iy < 0 || iz < 0 {
		return nil, errors.New("vertex element has no x, y, z properties")
	}
	out := make([]mat.Vec3, f.Vertex.Len())
	for i := range out {
		out[i] = mat.Vec3{
			float32(f.Vertex.Value(i, ix)),
			float32(f.Vertex.Value(i, iy)),
			float32(f.Vertex.Value(i, iz)),
		}
	}
	return out, nil
}

// PointSet builds the original point set carrying the vertex records.
func (f *File) PointSet() (*cloud.PointSet, error) {
	ps, err := f.Positions()
	if err != nil {
		return nil, err
	}
	return cloud.Load(ps, f.Vertex)
}

// Subset returns a copy of f holding the vertex records at the given indices.
func (f *File) Subset(indices []int) (*File, error) {
	stride := f.Vertex.Schema().Stride
	data := make([]byte, 0, len(indices)*stride)
	for _, i := range indices {
		if i < 0 || i >= f.Vertex.Len() {
			return nil, fmt.Errorf("record %d out of range", i)
		}
		data = append(data, f.Vertex.Row(i)...)
	}
	table, err := cloud.NewAttributeTable(f.Vertex.Schema(), f.Vertex.ByteOrder(), data)
	if err != nil {
		return nil, err
	}
	return &File{
		Format:  f.Format,
		Version: f.Version,
		Meta:    append([]Meta{}, f.Meta...),
		Vertex:  table,
	}, nil
}

// Write encodes the file. Only the vertex element is written.
func (f *File) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	version := f.Version
	if version == "" {
		version = "1.0"
	}
	fmt.Fprintf(bw, "ply\nformat %s %s\n", f.Format, version)
	for _, m := range f.Meta {
		fmt.Fprintf(bw, "%s %s\n", m.Keyword, m.Text)
	}
	schema := f.Vertex.Schema()
	fmt.Fprintf(bw, "element vertex %d\n", f.Vertex.Len())
	for _, p := range schema.Properties {
		fmt.Fprintf(bw, "property %s %s\n", writeTypeNames[p.Type], p.Name)
	}
	bw.WriteString("end_header\n")

	n := f.Vertex.Len()
	switch f.Format {
	case ASCII:
		vals := make([]string, len(schema.Properties))
		for i := 0; i < n; i++ {
			for j, p := range schema.Properties {
				vals[j] = formatASCII(p.Type, f.Vertex.Value(i, j))
			}
			bw.WriteString(strings.Join(vals, " "))
			bw.WriteByte('\n')
		}
	default:
		order := f.Format.byteOrder()
		if order == f.Vertex.ByteOrder() {
			for i := 0; i < n; i++ {
				bw.Write(f.Vertex.Row(i))
			}
			break
		}
		row := make([]byte, schema.Stride)
		for i := 0; i < n; i++ {
			for j, p := range schema.Properties {
				cloud.EncodeScalar(order, p, row, f.Vertex.Value(i, j))
			}
			bw.Write(row)
		}
	}
	return bw.Flush()
}

func formatASCII(t cloud.ScalarType, v float64) string {
	switch t {
	case cloud.Float32:
		return strconv.FormatFloat(v, 'g', -1, 32)
	case cloud.Float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(v), 10)
}
