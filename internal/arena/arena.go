// Package arena provides the scratch allocator tied to one graph or subgraph
// execution.
//
// An Arena is a bump allocator over a single pre-allocated buffer. There is
// no realloc and no general-purpose free: deallocating the newest block
// rewinds the bump pointer, older blocks are reclaimed once every block
// above them is dead, and Reset frees everything at once.
package arena

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/born-ml/micrort/internal/status"
)

// DefaultAlignment is used for every allocation.
const DefaultAlignment = 16

// ErrOutOfMemory is returned when the arena cannot satisfy a request.
var ErrOutOfMemory = errors.New("arena exhausted")

// Allocator hands out scratch buffers.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Deallocate(buf []byte) error
}

type block struct {
	offset int
	size   int
	dead   bool
}

// Arena is a stack-ordered bump allocator. Not safe for concurrent use;
// the engine is single-threaded.
type Arena struct {
	buffer []byte
	blocks []block
	top    int
	peak   int
	align  int
}

var _ Allocator = (*Arena)(nil)

// New creates an arena with the given capacity in bytes.
func New(capacity int) *Arena {
	return NewAligned(capacity, DefaultAlignment)
}

// NewAligned creates an arena whose allocations start at multiples of align.
// align must be a power of two.
func NewAligned(capacity, align int) *Arena {
	if align <= 0 || align&(align-1) != 0 {
		panic(fmt.Sprintf("arena: alignment %d is not a power of two", align))
	}
	return &Arena{
		buffer: alignedBytes(capacity, align),
		align:  align,
	}
}

// alignedBytes returns a slice of n bytes whose first element is aligned.
func alignedBytes(n, align int) []byte {
	raw := make([]byte, n+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+n : off+n]
}

// Allocate returns a zeroed buffer of size bytes. A zero-size request
// returns an empty buffer and records no block.
func (a *Arena) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, status.Unknownf("arena: negative allocation size %d", size)
	}
	if size == 0 {
		return a.buffer[:0:0], nil
	}
	offset := (a.top + a.align - 1) &^ (a.align - 1)
	if offset+size > len(a.buffer) {
		return nil, status.Wrapf(status.Unknown, ErrOutOfMemory, "requested %d bytes, %d of %d in use", size, a.top, len(a.buffer))
	}
	buf := a.buffer[offset : offset+size : offset+size]
	clear(buf)

	a.blocks = append(a.blocks, block{offset: offset, size: size})
	a.top = offset + size
	a.peak = max(a.peak, a.top)
	return buf, nil
}

// Deallocate releases buf, which must come from this arena and still be
// live. Empty buffers are a no-op.
func (a *Arena) Deallocate(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	i, err := a.find(buf)
	if err != nil {
		return err
	}
	a.blocks[i].dead = true

	// Pop every dead block from the top of the stack.
	for len(a.blocks) > 0 && a.blocks[len(a.blocks)-1].dead {
		a.blocks = a.blocks[:len(a.blocks)-1]
	}
	if len(a.blocks) == 0 {
		a.top = 0
	} else {
		last := a.blocks[len(a.blocks)-1]
		a.top = last.offset + last.size
	}
	return nil
}

func (a *Arena) find(buf []byte) (int, error) {
	if len(a.buffer) == 0 {
		return 0, status.Unknownf("arena: deallocate on empty arena")
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.buffer)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if p < base || p > base+uintptr(len(a.buffer)) {
		return 0, status.Unknownf("arena: buffer not owned by this arena")
	}
	offset := int(p - base)
	for i := len(a.blocks) - 1; i >= 0; i-- {
		b := a.blocks[i]
		if b.offset == offset && b.size == len(buf) && !b.dead {
			return i, nil
		}
	}
	return 0, status.Unknownf("arena: no live block of %d bytes at offset %d", len(buf), offset)
}

// Reset frees every allocation. Buffers handed out earlier must not be used
// afterwards.
func (a *Arena) Reset() {
	a.blocks = a.blocks[:0]
	a.top = 0
}

// Capacity returns the total size of the arena.
func (a *Arena) Capacity() int {
	return len(a.buffer)
}

// Used returns the number of bytes between the arena start and the newest
// live block, padding included.
func (a *Arena) Used() int {
	return a.top
}

// Peak returns the high-water mark of Used.
func (a *Arena) Peak() int {
	return a.peak
}

// Live returns the number of live allocations.
func (a *Arena) Live() int {
	n := 0
	for _, b := range a.blocks {
		if !b.dead {
			n++
		}
	}
	return n
}
