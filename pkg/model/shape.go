package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSplittableAxes lists the spatial axis labels eligible for partitioning.
const DefaultSplittableAxes = "xyz"

// Axis is one labelled dimension of an array.
type Axis struct {
	Label  string `json:"label" yaml:"label"`
	Extent int    `json:"extent" yaml:"extent"`
}

// Shape is an ordered list of labelled axes.
type Shape []Axis

// NewShape zips labels and extents into a Shape.
func NewShape(labels []string, extents []int) (Shape, error) {
	if len(labels) != len(extents) {
		return nil, fmt.Errorf("shape: %d labels for %d extents", len(labels), len(extents))
	}
	s := make(Shape, len(labels))
	for i := range labels {
		if extents[i] <= 0 {
			return nil, fmt.Errorf("shape: axis %q has non-positive extent %d", labels[i], extents[i])
		}
		s[i] = Axis{Label: labels[i], Extent: extents[i]}
	}
	return s, nil
}

// Extents returns the per-axis extents.
func (s Shape) Extents() []int {
	out := make([]int, len(s))
	for i, a := range s {
		out[i] = a.Extent
	}
	return out
}

// Labels returns the per-axis labels.
func (s Shape) Labels() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = a.Label
	}
	return out
}

// IsSplittable reports whether axis i may be partitioned: its label is a
// single character listed in splittable and its extent is greater than one.
func (s Shape) IsSplittable(i int, splittable string) bool {
	a := s[i]
	return utf8.RuneCountInString(a.Label) == 1 && strings.Contains(splittable, a.Label) && a.Extent > 1
}

// String renders the shape as "{x:100, y:100, c:2}".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, a := range s {
		parts[i] = fmt.Sprintf("%s:%d", a.Label, a.Extent)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// DType names the element type of an array.
type DType string

const (
	Uint8   DType = "uint8"
	Int8    DType = "int8"
	Uint16  DType = "uint16"
	Int16   DType = "int16"
	Uint32  DType = "uint32"
	Int32   DType = "int32"
	Uint64  DType = "uint64"
	Int64   DType = "int64"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

var itemSizes = map[DType]int{
	Uint8: 1, Int8: 1,
	Uint16: 2, Int16: 2,
	Uint32: 4, Int32: 4, Float32: 4,
	Uint64: 8, Int64: 8, Float64: 8,
}

// ItemSize returns the element size in bytes, or 0 for unknown types.
func (d DType) ItemSize() int {
	return itemSizes[d]
}

// Valid reports whether d is a supported element type.
func (d DType) Valid() bool {
	return itemSizes[d] > 0
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsSigned reports whether d is a signed integer type.
func (d DType) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// String returns the type name.
func (d DType) String() string {
	return string(d)
}
