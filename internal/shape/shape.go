// Package shape provides the fixed-capacity shape used as a dispatch key by
// every kernel.
package shape

import (
	"fmt"
	"strings"
)

// MaxDims is the largest supported rank.
const MaxDims = 6

// Shape is an ordered list of at most MaxDims dimension sizes.
// It is a value type: copying a Shape copies its dimensions.
type Shape struct {
	dims [MaxDims]int
	size int
}

// New creates a shape from explicit dimensions.
func New(dims ...int) (Shape, error) {
	var s Shape
	if len(dims) > MaxDims {
		return s, fmt.Errorf("shape rank %d exceeds maximum %d", len(dims), MaxDims)
	}
	for i, d := range dims {
		if d < 0 {
			return s, fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, d)
		}
		s.dims[i] = d
	}
	s.size = len(dims)
	return s, nil
}

// Must is like New but panics on error. Intended for tests and constants.
func Must(dims ...int) Shape {
	s, err := New(dims...)
	if err != nil {
		panic(err)
	}
	return s
}

// FromDims creates a shape from a tensor descriptor's dimension list.
// A scalar (no dimensions) normalizes to the 1-element shape [1].
func FromDims(dims []int) (Shape, error) {
	if len(dims) == 0 {
		return New(1)
	}
	return New(dims...)
}

// Size returns the number of dimensions.
func (s Shape) Size() int {
	return s.size
}

// Dim returns dimension i. It panics when i is out of range, like a slice
// index would.
func (s Shape) Dim(i int) int {
	if i < 0 || i >= s.size {
		panic(fmt.Sprintf("shape: dimension %d out of range for rank %d", i, s.size))
	}
	return s.dims[i]
}

// SetDim sets dimension i.
func (s *Shape) SetDim(i, v int) {
	if i < 0 || i >= s.size {
		panic(fmt.Sprintf("shape: dimension %d out of range for rank %d", i, s.size))
	}
	s.dims[i] = v
}

// Resize changes the rank to n. Newly exposed dimensions are zero.
func (s *Shape) Resize(n int) {
	if n < 0 || n > MaxDims {
		panic(fmt.Sprintf("shape: cannot resize to rank %d", n))
	}
	for i := n; i < MaxDims; i++ {
		s.dims[i] = 0
	}
	s.size = n
}

// Extend returns a new shape of rank n, left-padded with pad.
// When n is not larger than the current rank the shape is returned as is.
func (s Shape) Extend(n int, pad int) Shape {
	if n <= s.size {
		return s
	}
	if n > MaxDims {
		panic(fmt.Sprintf("shape: cannot extend to rank %d", n))
	}
	var out Shape
	out.size = n
	offset := n - s.size
	for i := 0; i < offset; i++ {
		out.dims[i] = pad
	}
	for i := 0; i < s.size; i++ {
		out.dims[offset+i] = s.dims[i]
	}
	return out
}

// ElementCount returns the product of all dimensions, or 0 for an empty
// shape.
func (s Shape) ElementCount() int {
	if s.size == 0 {
		return 0
	}
	n := 1
	for i := 0; i < s.size; i++ {
		n *= s.dims[i]
	}
	return n
}

// FlatSizeSkipDim returns the element count with dimension skip left out.
func (s Shape) FlatSizeSkipDim(skip int) int {
	n := 1
	for i := 0; i < s.size; i++ {
		if i != skip {
			n *= s.dims[i]
		}
	}
	return n
}

// IsScalar reports whether the shape holds exactly one element.
func (s Shape) IsScalar() bool {
	return s.ElementCount() == 1
}

// Equal checks if two shapes have the same rank and dimensions.
func (s Shape) Equal(other Shape) bool {
	if s.size != other.size {
		return false
	}
	for i := 0; i < s.size; i++ {
		if s.dims[i] != other.dims[i] {
			return false
		}
	}
	return true
}

// Dims returns a copy of the dimensions as a slice.
func (s Shape) Dims() []int {
	out := make([]int, s.size)
	copy(out, s.dims[:s.size])
	return out
}

// Strides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) Strides() [MaxDims]int {
	var strides [MaxDims]int
	if s.size == 0 {
		return strides
	}
	strides[s.size-1] = 1
	for i := s.size - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s.dims[i+1]
	}
	return strides
}

// String formats the shape as [d0 d1 ...].
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < s.size; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", s.dims[i])
	}
	b.WriteByte(']')
	return b.String()
}

// Broadcast implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5)
//	(1, 5) + (3, 5) → (3, 5)
//	(3, 4) + (3, 5) → Error
func Broadcast(a, b Shape) (Shape, error) {
	n := max(a.size, b.size)
	var out Shape
	out.size = n

	for i := 0; i < n; i++ {
		aDim, bDim := 1, 1
		if ai := a.size - 1 - i; ai >= 0 {
			aDim = a.dims[ai]
		}
		if bi := b.size - 1 - i; bi >= 0 {
			bDim = b.dims[bi]
		}

		switch {
		case aDim == bDim:
			out.dims[n-1-i] = aDim
		case aDim == 1:
			out.dims[n-1-i] = bDim
		case bDim == 1:
			out.dims[n-1-i] = aDim
		default:
			return Shape{}, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, n-1-i, aDim, bDim)
		}
	}
	return out, nil
}
