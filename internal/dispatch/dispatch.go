// Package dispatch maps operator codes to kernel functions.
//
// A Table is built once from (code, function) pairs and is read-only
// afterwards. Builtin and custom codes live in separate arrays; every lookup
// is bounds-checked and reports ErrNotFound instead of indexing past the end.
package dispatch

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
)

// ErrNotFound is returned for codes with no registered kernel.
var ErrNotFound = errors.New("no kernel registered")

type entry struct {
	code graph.OpCode
	fn   kernel.Func
}

// Builder collects registrations for a Table.
type Builder struct {
	builtin []entry
	custom  []entry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Builtin registers fn for a builtin code.
func (b *Builder) Builtin(code graph.OpCode, fn kernel.Func) *Builder {
	b.builtin = append(b.builtin, entry{code: code, fn: fn})
	return b
}

// Custom registers fn for a custom code (code >= graph.CustomBase).
func (b *Builder) Custom(code graph.OpCode, fn kernel.Func) *Builder {
	b.custom = append(b.custom, entry{code: code, fn: fn})
	return b
}

// Build validates the registrations and freezes them into a Table.
func (b *Builder) Build() (*Table, error) {
	t := &Table{}
	for _, e := range b.builtin {
		if !e.code.IsBuiltin() {
			return nil, fmt.Errorf("builtin registration: code %d outside [0, %d)", e.code, graph.NumBuiltin)
		}
		if e.fn == nil {
			return nil, fmt.Errorf("builtin registration %s: nil kernel", e.code)
		}
		if t.builtin[e.code] != nil {
			return nil, fmt.Errorf("builtin registration %s: registered twice", e.code)
		}
		t.builtin[e.code] = e.fn
	}

	size := 0
	for _, e := range b.custom {
		if !e.code.IsCustom() {
			return nil, fmt.Errorf("custom registration: code %d below %d", e.code, graph.CustomBase)
		}
		if e.fn == nil {
			return nil, fmt.Errorf("custom registration %s: nil kernel", e.code)
		}
		size = max(size, int(e.code-graph.CustomBase)+1)
	}
	t.custom = make([]kernel.Func, size)
	for _, e := range b.custom {
		off := e.code - graph.CustomBase
		if t.custom[off] != nil {
			return nil, fmt.Errorf("custom registration %s: registered twice", e.code)
		}
		t.custom[off] = e.fn
	}
	return t, nil
}

// Table is an immutable dispatch table.
type Table struct {
	builtin [graph.NumBuiltin]kernel.Func
	custom  []kernel.Func
}

// LookupBuiltin returns the kernel of a builtin code.
func (t *Table) LookupBuiltin(code graph.OpCode) (kernel.Func, error) {
	if int(code) >= len(t.builtin) || t.builtin[code] == nil {
		return nil, errors.Wrapf(ErrNotFound, "builtin %s", code)
	}
	return t.builtin[code], nil
}

// LookupCustom returns the kernel of a custom code. Custom codes are offset
// by the builtin range plus one.
func (t *Table) LookupCustom(code graph.OpCode) (kernel.Func, error) {
	if code < graph.CustomBase {
		return nil, errors.Wrapf(ErrNotFound, "custom code %d below %d", code, graph.CustomBase)
	}
	off := int(code - graph.CustomBase)
	if off >= len(t.custom) || t.custom[off] == nil {
		return nil, errors.Wrapf(ErrNotFound, "custom %s", code)
	}
	return t.custom[off], nil
}

// Lookup routes code to the builtin or custom space.
func (t *Table) Lookup(code graph.OpCode) (kernel.Func, error) {
	if code.IsBuiltin() {
		return t.LookupBuiltin(code)
	}
	return t.LookupCustom(code)
}

// Codes returns every populated code in ascending order.
func (t *Table) Codes() []graph.OpCode {
	var codes []graph.OpCode
	for c, fn := range t.builtin {
		if fn != nil {
			codes = append(codes, graph.OpCode(c))
		}
	}
	for off, fn := range t.custom {
		if fn != nil {
			codes = append(codes, graph.CustomBase+graph.OpCode(off))
		}
	}
	return codes
}

// Supports reports whether code has a kernel.
func (t *Table) Supports(code graph.OpCode) bool {
	_, err := t.Lookup(code)
	return err == nil
}
