package graph

import "fmt"

// DType is the element type of a graph tensor.
type DType int

// Supported element types.
const (
	Float32 DType = iota
	Int8
	Uint8
	Int16
	Int32
	Int64
	Bool
	Float16
)

// Valid reports whether dt is one of the supported element types.
func (dt DType) Valid() bool {
	return dt >= Float32 && dt <= Float16
}

// Size returns the byte size of one element. It panics on an invalid type;
// Graph.Validate rejects those first.
func (dt DType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	case Int16, Float16:
		return 2
	case Int8, Uint8, Bool:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int8:
		return "int8"
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// IsQuantized reports whether values of this type are usually affine
// quantized.
func (dt DType) IsQuantized() bool {
	return dt == Int8 || dt == Uint8 || dt == Int16
}

// MarshalText encodes the type by name.
func (dt DType) MarshalText() ([]byte, error) {
	s := dt.String()
	if s == "unknown" {
		return nil, fmt.Errorf("cannot encode unknown data type %d", int(dt))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a type name.
func (dt *DType) UnmarshalText(text []byte) error {
	for c := Float32; c <= Float16; c++ {
		if c.String() == string(text) {
			*dt = c
			return nil
		}
	}
	return fmt.Errorf("unknown data type %q", text)
}
