package kernel

import "unsafe"

// The views below reinterpret a tensor buffer in place. They never copy, so
// writes through the view land in the buffer. Buffers come from the arena
// or from decoded constants and are aligned for every element type.

// Float32s views buf as []float32.
func Float32s(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy views, length derived from len(buf)
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), len(buf)/4)
}

// Int32s views buf as []int32.
func Int32s(buf []byte) []int32 {
	if len(buf) < 4 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy views, length derived from len(buf)
	return unsafe.Slice((*int32)(unsafe.Pointer(&buf[0])), len(buf)/4)
}

// Int16s views buf as []int16.
func Int16s(buf []byte) []int16 {
	if len(buf) < 2 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy views, length derived from len(buf)
	return unsafe.Slice((*int16)(unsafe.Pointer(&buf[0])), len(buf)/2)
}

// Int8s views buf as []int8.
func Int8s(buf []byte) []int8 {
	if len(buf) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy views, length derived from len(buf)
	return unsafe.Slice((*int8)(unsafe.Pointer(&buf[0])), len(buf))
}

// Bools views buf as []bool. Every byte must be 0 or 1.
func Bools(buf []byte) []bool {
	if len(buf) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy views, length derived from len(buf)
	return unsafe.Slice((*bool)(unsafe.Pointer(&buf[0])), len(buf))
}
