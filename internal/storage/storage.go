// Package storage maps tensor indices to the transient buffers of one graph
// execution.
//
// Constants are never stored here: they belong to the graph and are read
// through Resolve when no transient entry exists. Storage owns only the
// buffers it allocated itself, and that ownership follows Move.
package storage

import (
	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/status"
)

type entry struct {
	buf   []byte
	owned bool
}

// Storage is the tensor index to buffer map of one graph or subgraph
// execution.
type Storage struct {
	graph   *graph.Graph
	alloc   arena.Allocator
	entries map[int]entry
	inplace []bool
}

// New creates an empty storage for g backed by alloc. The in-place flags of
// g's operators are captured here.
func New(g *graph.Graph, alloc arena.Allocator) *Storage {
	s := &Storage{
		graph:   g,
		alloc:   alloc,
		entries: make(map[int]entry),
		inplace: make([]bool, g.NumOps()),
	}
	for pos := range s.inplace {
		s.inplace[pos] = g.Op(pos).Inplace
	}
	return s
}

// Graph returns the graph this storage serves.
func (s *Storage) Graph() *graph.Graph {
	return s.graph
}

// Get returns the transient buffer of idx.
func (s *Storage) Get(idx int) ([]byte, bool) {
	e, ok := s.entries[idx]
	return e.buf, ok
}

// Put stores a caller-owned buffer under idx, replacing any previous entry.
// A replaced owned buffer is deallocated.
func (s *Storage) Put(idx int, buf []byte) error {
	if err := s.drop(idx); err != nil {
		return err
	}
	s.entries[idx] = entry{buf: buf}
	return nil
}

// Remove drops the entry of idx without releasing its buffer.
func (s *Storage) Remove(idx int) {
	delete(s.entries, idx)
}

// Move transfers the entry of from, ownership included, to to. It is the
// in-place rewrite: after it, from has no entry and to holds from's buffer.
func (s *Storage) Move(from, to int) error {
	e, ok := s.entries[from]
	if !ok {
		return status.Unknownf("in-place move from tensor %d: no transient buffer", from)
	}
	if from == to {
		return nil
	}
	if err := s.drop(to); err != nil {
		return err
	}
	delete(s.entries, from)
	s.entries[to] = e
	return nil
}

// IsInplace reports whether the operator at execution position op may write
// its first output over its first input.
func (s *Storage) IsInplace(op int) bool {
	return op >= 0 && op < len(s.inplace) && s.inplace[op]
}

// Resolve returns the buffer backing idx: the transient entry if there is
// one, otherwise the constant payload. Anything else is an error.
func (s *Storage) Resolve(idx int) ([]byte, error) {
	if e, ok := s.entries[idx]; ok {
		return e.buf, nil
	}
	t := s.graph.Tensor(idx)
	if t == nil {
		return nil, status.Unknownf("tensor %d out of range", idx)
	}
	if t.IsConstant() {
		return t.Data, nil
	}
	return nil, status.Unknownf("tensor %d (%s) has neither a buffer nor constant data", idx, t.Name)
}

// Allocate obtains an arena buffer sized for tensor idx and stores it as
// an owned entry.
func (s *Storage) Allocate(idx int) ([]byte, error) {
	t := s.graph.Tensor(idx)
	if t == nil {
		return nil, status.Unknownf("allocate tensor %d: out of range", idx)
	}
	if t.IsConstant() {
		return nil, status.Unknownf("allocate tensor %d (%s): constant", idx, t.Name)
	}
	buf, err := s.alloc.Allocate(t.ByteSize())
	if err != nil {
		return nil, err
	}
	if err := s.drop(idx); err != nil {
		return nil, err
	}
	s.entries[idx] = entry{buf: buf, owned: true}
	return buf, nil
}

// Release drops the entry of idx and deallocates its buffer if owned.
func (s *Storage) Release(idx int) error {
	return s.drop(idx)
}

func (s *Storage) drop(idx int) error {
	e, ok := s.entries[idx]
	if !ok {
		return nil
	}
	delete(s.entries, idx)
	if e.owned {
		return s.alloc.Deallocate(e.buf)
	}
	return nil
}

// Reset releases every entry. The first deallocation error is returned but
// the storage is emptied regardless.
func (s *Storage) Reset() error {
	var first error
	for idx := range s.entries {
		if err := s.drop(idx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Len returns the number of transient entries.
func (s *Storage) Len() int {
	return len(s.entries)
}
