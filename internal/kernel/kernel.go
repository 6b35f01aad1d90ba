// Package kernel binds one operator to its tensors and defines the contract
// every kernel function implements.
package kernel

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/status"
	"github.com/born-ml/micrort/internal/storage"
)

// Binding capacities. MaxInputs is sized for recurrent cells, which carry
// many weight, bias and state tensors.
const (
	MaxInputs  = 24
	MaxOutputs = 5
)

// RuntimeKernel is the resolved binding of one operator invocation. It is
// built fresh for every invocation and must not outlive it.
type RuntimeKernel struct {
	Inputs      [MaxInputs]*graph.Tensor
	InputData   [MaxInputs][]byte
	InputIndex  [MaxInputs]int
	Outputs     [MaxOutputs]*graph.Tensor
	OutputData  [MaxOutputs][]byte
	OutputIndex [MaxOutputs]int
	NumInputs   int
	NumOutputs  int
	// Inplace is set when OutputData[0] aliases InputData[0].
	Inplace bool
}

// Input returns input i, or nil data when it is absent or out of range.
func (k *RuntimeKernel) Input(i int) (*graph.Tensor, []byte) {
	if i < 0 || i >= k.NumInputs {
		return nil, nil
	}
	return k.Inputs[i], k.InputData[i]
}

// Output returns output i.
func (k *RuntimeKernel) Output(i int) (*graph.Tensor, []byte) {
	if i < 0 || i >= k.NumOutputs {
		return nil, nil
	}
	return k.Outputs[i], k.OutputData[i]
}

// Runner executes a nested graph with the engine that is running the
// current one. st must have been created for g; its allocator is the
// subgraph's arena. Control-flow kernels recurse through it.
type Runner interface {
	RunSubgraph(ctx context.Context, g *graph.Graph, st *storage.Storage) error
}

// Context is what a kernel function receives.
type Context struct {
	Ctx     context.Context
	Kernel  *RuntimeKernel
	Storage *storage.Storage
	Graph   *graph.Graph
	Op      *graph.Operator
	OpIndex int
	Runner  Runner
	Logger  klog.Logger
	// MaxLoopIterations bounds control-flow loops. Zero means unbounded.
	MaxLoopIterations int
}

// Func executes one operator.
type Func func(c *Context) error

// Binder resolves operators of one graph against one storage.
type Binder struct {
	Graph   *graph.Graph
	Storage *storage.Storage
}

// NewBinder returns a binder for g backed by st.
func NewBinder(g *graph.Graph, st *storage.Storage) *Binder {
	return &Binder{Graph: g, Storage: st}
}

// Bind resolves op, found at execution position opIndex. Tensor descriptors
// are resolved first, then buffers. For an in-place operator the first
// output is forced onto the first input's buffer and the storage entry is
// moved from the input index to the output index.
func (b *Binder) Bind(opIndex int, op *graph.Operator) (*RuntimeKernel, error) {
	if len(op.Inputs) > MaxInputs {
		return nil, status.Unknownf("operator %d (%s): %d inputs exceed capacity %d", opIndex, op.Code, len(op.Inputs), MaxInputs)
	}
	if len(op.Outputs) > MaxOutputs {
		return nil, status.Unknownf("operator %d (%s): %d outputs exceed capacity %d", opIndex, op.Code, len(op.Outputs), MaxOutputs)
	}

	k := &RuntimeKernel{
		NumInputs:  len(op.Inputs),
		NumOutputs: len(op.Outputs),
	}
	inplace := b.Storage.IsInplace(opIndex)

	for i, idx := range op.Inputs {
		k.InputIndex[i] = idx
		if idx == graph.Absent {
			continue
		}
		if k.Inputs[i] = b.Graph.Tensor(idx); k.Inputs[i] == nil {
			return nil, status.Unknownf("operator %d (%s): input %d references tensor %d out of range", opIndex, op.Code, i, idx)
		}
	}
	for i, idx := range op.Outputs {
		k.OutputIndex[i] = idx
		if k.Outputs[i] = b.Graph.Tensor(idx); k.Outputs[i] == nil {
			return nil, status.Unknownf("operator %d (%s): output %d references tensor %d out of range", opIndex, op.Code, i, idx)
		}
	}
	if inplace && (k.NumInputs == 0 || k.NumOutputs == 0 || k.Inputs[0] == nil) {
		return nil, status.Unknownf("operator %d (%s): in-place without a first input and output", opIndex, op.Code)
	}

	if err := b.fetch(opIndex, op, k, inplace); err != nil {
		return nil, err
	}

	if inplace {
		if len(k.InputData[0]) != k.Outputs[0].ByteSize() {
			return nil, status.Unknownf("operator %d (%s): in-place input holds %d bytes, output needs %d",
				opIndex, op.Code, len(k.InputData[0]), k.Outputs[0].ByteSize())
		}
		k.OutputData[0] = k.InputData[0]
		if err := b.Storage.Move(k.InputIndex[0], k.OutputIndex[0]); err != nil {
			return nil, err
		}
		k.Inplace = true
	}
	return k, nil
}

// fetch resolves the buffers of every bound tensor. The first output of an
// in-place operator is left for Bind to alias.
func (b *Binder) fetch(opIndex int, op *graph.Operator, k *RuntimeKernel, inplace bool) error {
	for i := 0; i < k.NumInputs; i++ {
		if k.Inputs[i] == nil {
			continue
		}
		buf, err := b.Storage.Resolve(k.InputIndex[i])
		if err != nil {
			return status.Wrapf(status.Unknown, err, "operator %d (%s): input %d", opIndex, op.Code, i)
		}
		k.InputData[i] = buf
	}
	for i := 0; i < k.NumOutputs; i++ {
		if inplace && i == 0 {
			continue
		}
		buf, err := b.Storage.Resolve(k.OutputIndex[i])
		if err != nil {
			return status.Wrapf(status.Unknown, err, "operator %d (%s): output %d", opIndex, op.Code, i)
		}
		k.OutputData[i] = buf
	}
	return nil
}
