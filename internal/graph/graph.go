// Package graph holds the read-only description of a loaded model: tensors,
// operators with their options, and nested subgraphs.
//
// The engine never mutates a Graph. Transient buffers live in
// storage.Storage; only constant payloads are owned here.
package graph

import (
	"fmt"
	"math"

	"github.com/born-ml/micrort/internal/shape"
)

// Absent marks an optional operator input that is not provided.
const Absent = -1

// Quantization holds affine quantization parameters.
// One scale means per-tensor quantization; more mean per-channel along Axis.
type Quantization struct {
	Scale     []float32 `json:"scale"`
	ZeroPoint []int32   `json:"zero_point"`
	Axis      int       `json:"axis,omitempty"`
}

// PerChannel reports whether the parameters are per-channel.
func (q *Quantization) PerChannel() bool {
	return q != nil && len(q.Scale) > 1
}

// Tensor describes one graph tensor.
type Tensor struct {
	Name  string        `json:"name,omitempty"`
	DType DType         `json:"dtype"`
	Shape []int         `json:"shape"`
	Quant *Quantization `json:"quant,omitempty"`
	// Data is the constant payload. It is nil for activations.
	Data []byte `json:"-"`
}

// IsConstant reports whether the tensor carries its own payload.
func (t *Tensor) IsConstant() bool {
	return t.Data != nil
}

// ElementCount returns the number of elements. Scalars hold one.
func (t *Tensor) ElementCount() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// ByteSize returns the payload size in bytes.
func (t *Tensor) ByteSize() int {
	return t.ElementCount() * t.DType.Size()
}

// checkedByteSize is ByteSize for an unvalidated tensor. It reports false
// when the size does not fit in an int.
func (t *Tensor) checkedByteSize() (int, bool) {
	n := t.DType.Size()
	for _, d := range t.Shape {
		if d == 0 {
			return 0, true
		}
	}
	for _, d := range t.Shape {
		if n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

// RuntimeShape returns the tensor shape as a dispatch key.
func (t *Tensor) RuntimeShape() (shape.Shape, error) {
	return shape.FromDims(t.Shape)
}

// Scale returns the per-tensor scale, or 0 when the tensor is not quantized.
func (t *Tensor) Scale() float32 {
	if t.Quant == nil || len(t.Quant.Scale) == 0 {
		return 0
	}
	return t.Quant.Scale[0]
}

// ZeroPoint returns the per-tensor zero point.
func (t *Tensor) ZeroPoint() int32 {
	if t.Quant == nil || len(t.Quant.ZeroPoint) == 0 {
		return 0
	}
	return t.Quant.ZeroPoint[0]
}

// Options is the type-specific options block of an operator. Fields not
// used by an operator type are left zero.
type Options struct {
	Activation Activation `json:"activation,omitempty"`
	NewShape   []int      `json:"new_shape,omitempty"`

	// Pooling.
	FilterHeight int     `json:"filter_height,omitempty"`
	FilterWidth  int     `json:"filter_width,omitempty"`
	StrideHeight int     `json:"stride_height,omitempty"`
	StrideWidth  int     `json:"stride_width,omitempty"`
	Padding      Padding `json:"padding,omitempty"`

	// Control flow. Indices into the owning graph's Subgraphs.
	CondSubgraph int `json:"cond_subgraph,omitempty"`
	BodySubgraph int `json:"body_subgraph,omitempty"`
	ThenSubgraph int `json:"then_subgraph,omitempty"`
	ElseSubgraph int `json:"else_subgraph,omitempty"`
}

// Operator is one node of the graph.
type Operator struct {
	Code    OpCode  `json:"code"`
	Inputs  []int   `json:"inputs"`
	Outputs []int   `json:"outputs"`
	Options Options `json:"options"`
	// Inplace permits the first output to reuse the first input's buffer.
	Inplace bool `json:"inplace,omitempty"`
}

// Graph is a loaded computation graph.
type Graph struct {
	Name      string     `json:"name,omitempty"`
	Tensors   []Tensor   `json:"tensors"`
	Operators []Operator `json:"operators"`
	// Backward lists the gradient operators run after the forward pass in
	// training mode.
	Backward []Operator `json:"backward,omitempty"`
	Inputs   []int      `json:"inputs"`
	Outputs  []int      `json:"outputs"`
	// Subgraphs are the nested graphs referenced by control-flow operators.
	Subgraphs []*Graph `json:"subgraphs,omitempty"`
}

// Tensor returns tensor idx or nil when idx is out of range.
func (g *Graph) Tensor(idx int) *Tensor {
	if idx < 0 || idx >= len(g.Tensors) {
		return nil
	}
	return &g.Tensors[idx]
}

// Subgraph returns nested graph idx or nil when idx is out of range.
func (g *Graph) Subgraph(idx int) *Graph {
	if idx < 0 || idx >= len(g.Subgraphs) {
		return nil
	}
	return g.Subgraphs[idx]
}

// NumOps returns the number of forward and backward operators. Operator
// positions are numbered forward first, then backward.
func (g *Graph) NumOps() int {
	return len(g.Operators) + len(g.Backward)
}

// Op returns the operator at execution position i (see NumOps).
func (g *Graph) Op(i int) *Operator {
	switch {
	case i < 0:
		return nil
	case i < len(g.Operators):
		return &g.Operators[i]
	case i < g.NumOps():
		return &g.Backward[i-len(g.Operators)]
	default:
		return nil
	}
}

// ScratchBytes returns the arena size needed to hold every non-constant
// tensor at once, with each buffer rounded up to align. It is an upper
// bound on what one execution of the graph can allocate.
func (g *Graph) ScratchBytes(align int) int {
	total := 0
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if t.IsConstant() {
			continue
		}
		n := t.ByteSize()
		if align > 1 {
			n = (n + align - 1) / align * align
		}
		total += n
	}
	return total
}

// Validate checks the graph for the invariants the engine relies on. The
// engine re-checks what it needs at bind time; Validate reports problems
// up front, with better messages.
//
//nolint:gocognit // Validate walks every table of the graph once.
func (g *Graph) Validate() error {
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if len(t.Shape) > shape.MaxDims {
			return fmt.Errorf("tensor %d (%s): rank %d exceeds %d", i, t.Name, len(t.Shape), shape.MaxDims)
		}
		if !t.DType.Valid() {
			return fmt.Errorf("tensor %d (%s): unknown data type %d", i, t.Name, int(t.DType))
		}
		for _, d := range t.Shape {
			if d < 0 {
				return fmt.Errorf("tensor %d (%s): negative dimension in %v", i, t.Name, t.Shape)
			}
		}
		size, ok := t.checkedByteSize()
		if !ok {
			return fmt.Errorf("tensor %d (%s): byte size of %s%v overflows", i, t.Name, t.DType, t.Shape)
		}
		if t.IsConstant() && len(t.Data) != size {
			return fmt.Errorf("tensor %d (%s): constant has %d bytes, want %d", i, t.Name, len(t.Data), size)
		}
		if q := t.Quant; q != nil && len(q.ZeroPoint) != 0 && len(q.ZeroPoint) != len(q.Scale) {
			return fmt.Errorf("tensor %d (%s): %d scales but %d zero points", i, t.Name, len(q.Scale), len(q.ZeroPoint))
		}
	}

	for _, idx := range g.Inputs {
		if g.Tensor(idx) == nil {
			return fmt.Errorf("graph input %d out of range", idx)
		}
	}
	for _, idx := range g.Outputs {
		if g.Tensor(idx) == nil {
			return fmt.Errorf("graph output %d out of range", idx)
		}
	}

	lastUse := make(map[int]int)
	for pos := 0; pos < g.NumOps(); pos++ {
		for _, idx := range g.Op(pos).Inputs {
			lastUse[idx] = pos
		}
	}

	for pos := 0; pos < g.NumOps(); pos++ {
		op := g.Op(pos)
		for _, idx := range op.Inputs {
			if idx != Absent && g.Tensor(idx) == nil {
				return fmt.Errorf("operator %d (%s): input tensor %d out of range", pos, op.Code, idx)
			}
		}
		for _, idx := range op.Outputs {
			if g.Tensor(idx) == nil {
				return fmt.Errorf("operator %d (%s): output tensor %d out of range", pos, op.Code, idx)
			}
		}
		if err := g.validateSubgraphRefs(pos, op); err != nil {
			return err
		}
		if op.Inplace {
			if err := g.validateInplace(pos, op, lastUse); err != nil {
				return err
			}
		}
	}

	for i, sg := range g.Subgraphs {
		if sg == nil {
			return fmt.Errorf("subgraph %d is nil", i)
		}
		if err := sg.Validate(); err != nil {
			return fmt.Errorf("subgraph %d (%s): %w", i, sg.Name, err)
		}
	}
	return nil
}

func (g *Graph) validateSubgraphRefs(pos int, op *Operator) error {
	var refs []int
	switch op.Code {
	case OpWhile:
		refs = []int{op.Options.CondSubgraph, op.Options.BodySubgraph}
	case OpIf:
		refs = []int{op.Options.ThenSubgraph, op.Options.ElseSubgraph}
	default:
		return nil
	}
	for _, r := range refs {
		if g.Subgraph(r) == nil {
			return fmt.Errorf("operator %d (%s): subgraph %d out of range", pos, op.Code, r)
		}
	}
	return nil
}

func (g *Graph) validateInplace(pos int, op *Operator, lastUse map[int]int) error {
	if len(op.Inputs) == 0 || len(op.Outputs) == 0 || op.Inputs[0] == Absent {
		return fmt.Errorf("operator %d (%s): in-place needs a first input and output", pos, op.Code)
	}
	in, out := g.Tensor(op.Inputs[0]), g.Tensor(op.Outputs[0])
	if in.IsConstant() {
		return fmt.Errorf("operator %d (%s): in-place input %d is a constant", pos, op.Code, op.Inputs[0])
	}
	if in.ByteSize() != out.ByteSize() {
		return fmt.Errorf("operator %d (%s): in-place input has %d bytes, output %d", pos, op.Code, in.ByteSize(), out.ByteSize())
	}
	if lastUse[op.Inputs[0]] != pos {
		return fmt.Errorf("operator %d (%s): in-place input %d is read again by operator %d", pos, op.Code, op.Inputs[0], lastUse[op.Inputs[0]])
	}
	for _, idx := range g.Outputs {
		if idx == op.Inputs[0] {
			return fmt.Errorf("operator %d (%s): in-place input %d is a graph output", pos, op.Code, idx)
		}
	}
	return nil
}
