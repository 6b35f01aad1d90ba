// Package interpreter is the public API of micrort: load a graph file, bind
// inputs by name and run it.
//
// Example:
//
//	it, err := interpreter.Load(ctx, "gs://models/kws/v3.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outputs, err := it.Invoke(ctx, map[string][]byte{"audio": samples})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	scores := outputs["scores"]
//
// Buffers are raw little-endian element bytes in the tensor's data type.
// An Interpreter owns one scratch arena; calls on it are serialized.
package interpreter

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/config"
	"github.com/born-ml/micrort/internal/dispatch"
	"github.com/born-ml/micrort/internal/engine"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/modelstore"
	"github.com/born-ml/micrort/internal/status"
	"github.com/born-ml/micrort/internal/storage"
)

// Graph is a loaded computation graph.
type Graph = graph.Graph

// OpCode identifies an operator type.
type OpCode = graph.OpCode

// CustomBase is the first operator code available to custom kernels.
const CustomBase = graph.CustomBase

// Kernel is an operator implementation.
type Kernel = kernel.Func

// KernelContext is what a Kernel receives: the bound operands and the
// execution state.
type KernelContext = kernel.Context

// Config configures an Interpreter.
type Config = config.Config

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return config.Default()
}

// ErrNotFound is returned for operators without a kernel.
var ErrNotFound = dispatch.ErrNotFound

type options struct {
	cfg    config.Config
	log    klog.Logger
	custom map[graph.OpCode]kernel.Func
}

// Option configures New and Load.
type Option func(*options)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. The default is klog.Background().
func WithLogger(log klog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithCustomKernel registers fn for the custom operator code.
func WithCustomKernel(code OpCode, fn Kernel) Option {
	return func(o *options) {
		if o.custom == nil {
			o.custom = make(map[graph.OpCode]kernel.Func)
		}
		o.custom[code] = fn
	}
}

// Interpreter runs one graph.
type Interpreter struct {
	g      *graph.Graph
	cfg    config.Config
	log    klog.Logger
	engine *engine.Engine

	mu    sync.Mutex
	arena *arena.Arena
	st    *storage.Storage
}

// Load fetches the graph file at uri (a local path, file:// or gs:// URI)
// and prepares it for execution.
func Load(ctx context.Context, uri string, opts ...Option) (*Interpreter, error) {
	buf, err := modelstore.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	it, err := LoadBytes(buf, opts...)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", uri, err)
	}
	return it, nil
}

// LoadBytes decodes a graph file held in memory.
func LoadBytes(buf []byte, opts ...Option) (*Interpreter, error) {
	g, err := graph.LoadBytes(buf)
	if err != nil {
		return nil, err
	}
	return New(g, opts...)
}

// New prepares g for execution. g must not be modified afterwards.
func New(g *graph.Graph, opts ...Option) (*Interpreter, error) {
	o := options{cfg: config.Default(), log: klog.Background()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}

	table, err := buildTable(o.custom)
	if err != nil {
		return nil, err
	}
	if o.cfg.Strict {
		if err := checkSupported(table, g); err != nil {
			return nil, err
		}
	}

	capacity := o.cfg.ArenaBytes
	if capacity == 0 {
		capacity = g.ScratchBytes(arena.DefaultAlignment)
	}
	a := arena.New(capacity)

	o.log.V(2).Info("Interpreter ready", "graph", g.Name, "tensors", len(g.Tensors),
		"operators", g.NumOps(), "subgraphs", len(g.Subgraphs), "arenaBytes", capacity)

	return &Interpreter{
		g:   g,
		cfg: o.cfg,
		log: o.log,
		engine: engine.New(table,
			engine.WithLogger(o.log),
			engine.WithMaxLoopIterations(o.cfg.MaxLoopIterations),
			engine.WithTraining(o.cfg.Training),
		),
		arena: a,
		st:    storage.New(g, a),
	}, nil
}

func buildTable(custom map[graph.OpCode]kernel.Func) (*dispatch.Table, error) {
	if len(custom) == 0 {
		return dispatch.Default()
	}
	b := dispatch.WithBuiltins()
	for code, fn := range custom {
		b.Custom(code, fn)
	}
	return b.Build()
}

// checkSupported fails on the first operator, in g or any nested graph,
// that table has no kernel for.
func checkSupported(table *dispatch.Table, g *graph.Graph) error {
	for pos := 0; pos < g.NumOps(); pos++ {
		op := g.Op(pos)
		if !table.Supports(op.Code) {
			return errors.Wrapf(dispatch.ErrNotFound, "graph %q operator %d (%s)", g.Name, pos, op.Code)
		}
	}
	for _, sg := range g.Subgraphs {
		if err := checkSupported(table, sg); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns the graph being run.
func (it *Interpreter) Graph() *Graph {
	return it.g
}

// Config returns the configuration in effect.
func (it *Interpreter) Config() Config {
	return it.cfg
}

// InputNames returns the graph input names in declaration order.
func (it *Interpreter) InputNames() []string {
	return names(it.g, it.g.Inputs)
}

// OutputNames returns the graph output names in declaration order.
func (it *Interpreter) OutputNames() []string {
	return names(it.g, it.g.Outputs)
}

// TensorName returns the name tensor idx is bound by: its own name, or
// t<idx> when it has none.
func TensorName(g *Graph, idx int) string {
	if t := g.Tensor(idx); t != nil && t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("t%d", idx)
}

func names(g *graph.Graph, idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = TensorName(g, idx)
	}
	return out
}

// Invoke runs the graph on inputs, keyed by input name, and returns copies
// of the outputs keyed by output name. The backward operators run too when
// the configuration enables training.
func (it *Interpreter) Invoke(ctx context.Context, inputs map[string][]byte) (map[string][]byte, error) {
	return it.execute(ctx, inputs, it.engine.Run)
}

// Train runs the forward and the backward operators whatever the
// configuration. Gradients are returned only for tensors that are graph
// outputs.
func (it *Interpreter) Train(ctx context.Context, inputs map[string][]byte) (map[string][]byte, error) {
	return it.execute(ctx, inputs, it.engine.Train)
}

// PeakBytes returns the most arena bytes any call has used so far.
func (it *Interpreter) PeakBytes() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.arena.Peak()
}

// ArenaBytes returns the arena capacity.
func (it *Interpreter) ArenaBytes() int {
	return it.arena.Capacity()
}

type runFunc func(ctx context.Context, g *graph.Graph, st *storage.Storage) error

func (it *Interpreter) execute(ctx context.Context, inputs map[string][]byte, run runFunc) (_ map[string][]byte, err error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	defer func() {
		if rerr := it.st.Reset(); err == nil && rerr != nil {
			err = rerr
		}
		it.arena.Reset()
	}()

	if err := it.bindInputs(inputs); err != nil {
		return nil, err
	}
	if err := run(ctx, it.g, it.st); err != nil {
		return nil, err
	}

	outputs := make(map[string][]byte, len(it.g.Outputs))
	for _, idx := range it.g.Outputs {
		buf, err := it.st.Resolve(idx)
		if err != nil {
			return nil, errors.WithMessagef(err, "graph output %s", TensorName(it.g, idx))
		}
		outputs[TensorName(it.g, idx)] = bytes.Clone(buf)
	}
	return outputs, nil
}

// bindInputs copies every graph input into the arena, so that in-place
// operators never write to caller memory.
func (it *Interpreter) bindInputs(inputs map[string][]byte) error {
	want := make(map[string]bool, len(it.g.Inputs))
	for _, idx := range it.g.Inputs {
		name := TensorName(it.g, idx)
		want[name] = true
		src, ok := inputs[name]
		if !ok {
			return status.Unknownf("missing input %q", name)
		}
		if size := it.g.Tensors[idx].ByteSize(); len(src) != size {
			return status.Unknownf("input %q holds %d bytes, want %d", name, len(src), size)
		}
		if _, ok := it.st.Get(idx); ok {
			// The same tensor listed twice.
			continue
		}
		dst, err := it.st.Allocate(idx)
		if err != nil {
			return errors.WithMessagef(err, "input %q", name)
		}
		copy(dst, src)
	}
	for name := range inputs {
		if !want[name] {
			return status.Unknownf("graph has no input %q", name)
		}
	}
	return nil
}
