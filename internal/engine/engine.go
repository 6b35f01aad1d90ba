// Package engine executes a graph operator by operator.
//
// For every operator the engine allocates the outputs the memory plan asks
// for, binds the operator, looks its kernel up in the dispatch table, calls
// it and releases the tensors whose last use it was. The first failure stops
// the run. Control-flow kernels re-enter the engine through RunSubgraph with
// their own storage and arena.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/internal/dispatch"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
	"github.com/born-ml/micrort/internal/storage"
)

// Engine runs graphs against a dispatch table. An Engine holds no
// per-execution state besides cached memory plans and may be reused.
type Engine struct {
	table    *dispatch.Table
	log      klog.Logger
	maxLoop  int
	training bool

	mu    sync.Mutex
	plans map[planKey]*Plan
}

type planKey struct {
	g *graph.Graph
	n int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is klog.Background().
func WithLogger(log klog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMaxLoopIterations bounds every control-flow loop. Zero, the default,
// leaves loops unbounded.
func WithMaxLoopIterations(n int) Option {
	return func(e *Engine) { e.maxLoop = n }
}

// WithTraining makes Run execute the backward operators after the forward
// pass.
func WithTraining(training bool) Option {
	return func(e *Engine) { e.training = training }
}

// New creates an engine dispatching through table.
func New(table *dispatch.Table, opts ...Option) *Engine {
	e := &Engine{
		table: table,
		log:   klog.Background(),
		plans: make(map[planKey]*Plan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Training reports whether Run includes the backward pass.
func (e *Engine) Training() bool {
	return e.training
}

// Run executes g against st, which must have been created for g. Graph
// inputs must already be in st; graph outputs are left in st for the
// caller. In training mode the backward operators run after the forward
// ones.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, st *storage.Storage) error {
	n := len(g.Operators)
	if e.training {
		n = g.NumOps()
	}
	return e.run(ctx, g, st, n)
}

// Train runs the forward pass and then the backward pass, whatever the
// engine's training option.
func (e *Engine) Train(ctx context.Context, g *graph.Graph, st *storage.Storage) error {
	return e.run(ctx, g, st, g.NumOps())
}

// RunSubgraph runs the forward operators of a nested graph. It implements
// kernel.Runner.
func (e *Engine) RunSubgraph(ctx context.Context, g *graph.Graph, st *storage.Storage) error {
	return e.run(ctx, g, st, len(g.Operators))
}

var _ kernel.Runner = (*Engine)(nil)

// Plan returns the memory plan for the first n operator positions of g.
// Only successful plans are cached.
func (e *Engine) Plan(g *graph.Graph, n int) (*Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := planKey{g: g, n: n}
	if p, ok := e.plans[key]; ok {
		return p, nil
	}
	p, err := NewPlan(g, n)
	if err != nil {
		return nil, err
	}
	e.plans[key] = p
	return p, nil
}

func (e *Engine) run(ctx context.Context, g *graph.Graph, st *storage.Storage, n int) error {
	if st.Graph() != g {
		return status.Unknownf("storage was created for graph %q, not %q", st.Graph().Name, g.Name)
	}
	for _, idx := range g.Inputs {
		if _, err := st.Resolve(idx); err != nil {
			return errors.WithMessagef(err, "graph input %d", idx)
		}
	}

	log := e.log.WithValues("graph", g.Name)
	plan, err := e.Plan(g, n)
	if err != nil {
		return errors.WithMessagef(err, "graph %q", g.Name)
	}
	binder := kernel.NewBinder(g, st)
	start := time.Now()

	for pos := 0; pos < n; pos++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "before operator %d", pos)
		}
		op := g.Op(pos)
		if err := e.step(ctx, log, g, st, binder, plan, pos, op); err != nil {
			return errors.WithMessagef(err, "operator %d (%s)", pos, op.Code)
		}
	}

	log.V(2).Info("Graph executed", "operators", n, "tensors", st.Len(), "elapsed", time.Since(start))
	return nil
}

func (e *Engine) step(ctx context.Context, log klog.Logger, g *graph.Graph, st *storage.Storage,
	binder *kernel.Binder, plan *Plan, pos int, op *graph.Operator,
) error {
	fn, err := e.table.Lookup(op.Code)
	if err != nil {
		return status.Wrapf(status.Unknown, err, "dispatch")
	}

	for _, idx := range plan.Allocate[pos] {
		if _, ok := st.Get(idx); ok {
			continue
		}
		if _, err := st.Allocate(idx); err != nil {
			return errors.WithMessagef(err, "allocating output tensor %d", idx)
		}
	}

	k, err := binder.Bind(pos, op)
	if err != nil {
		return err
	}

	log.V(4).Info("Running operator", "pos", pos, "op", op.Code, "inputs", k.NumInputs, "outputs", k.NumOutputs, "inplace", k.Inplace)
	err = fn(&kernel.Context{
		Ctx:               ctx,
		Kernel:            k,
		Storage:           st,
		Graph:             g,
		Op:                op,
		OpIndex:           pos,
		Runner:            e,
		Logger:            log,
		MaxLoopIterations: e.maxLoop,
	})
	if err != nil {
		return err
	}

	for _, idx := range plan.Release[pos] {
		if err := st.Release(idx); err != nil {
			return errors.WithMessagef(err, "releasing tensor %d", idx)
		}
	}
	return nil
}
