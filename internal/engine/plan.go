package engine

import (
	"slices"

	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/status"
)

// Plan is the buffer schedule of one graph: which tensors to allocate
// before each operator and which to release after it.
type Plan struct {
	// Allocate[pos] lists output tensors that need an arena buffer before
	// operator pos runs. The first output of an in-place operator is never
	// listed; it inherits its input's buffer.
	Allocate [][]int
	// Release[pos] lists tensors whose last use is operator pos.
	Release [][]int
	// Peak is the largest number of bytes live at once under this schedule,
	// alignment padding excluded.
	Peak int
}

// NewPlan schedules the first n operator positions of g. Constants, graph
// inputs and graph outputs are never released: constants belong to the
// graph, inputs and outputs to the caller. A tensor or operator reference
// out of range is an error.
func NewPlan(g *graph.Graph, n int) (*Plan, error) {
	if n < 0 || n > g.NumOps() {
		return nil, status.Unknownf("plan: %d operators requested, graph has %d", n, g.NumOps())
	}
	p := &Plan{
		Allocate: make([][]int, n),
		Release:  make([][]int, n),
	}

	inputs := make(map[int]bool, len(g.Inputs))
	for _, idx := range g.Inputs {
		if g.Tensor(idx) == nil {
			return nil, status.Unknownf("plan: graph input %d out of range", idx)
		}
		inputs[idx] = true
	}
	pinned := make(map[int]bool, len(g.Inputs)+len(g.Outputs))
	for _, idx := range g.Inputs {
		pinned[idx] = true
	}
	for _, idx := range g.Outputs {
		pinned[idx] = true
	}

	lastUse := make(map[int]int)
	moved := make(map[int]bool)
	for pos := 0; pos < n; pos++ {
		op := g.Op(pos)
		for _, idx := range op.Inputs {
			if idx == graph.Absent {
				continue
			}
			if g.Tensor(idx) == nil {
				return nil, status.Unknownf("plan: operator %d (%s): input tensor %d out of range", pos, op.Code, idx)
			}
			lastUse[idx] = pos
		}
		if op.Inplace && len(op.Inputs) > 0 {
			moved[op.Inputs[0]] = true
		}
		for i, idx := range op.Outputs {
			t := g.Tensor(idx)
			if t == nil {
				return nil, status.Unknownf("plan: operator %d (%s): output tensor %d out of range", pos, op.Code, idx)
			}
			lastUse[idx] = pos
			if i == 0 && op.Inplace {
				continue
			}
			if !t.IsConstant() && !inputs[idx] {
				p.Allocate[pos] = append(p.Allocate[pos], idx)
			}
		}
	}

	for idx, pos := range lastUse {
		if pinned[idx] || moved[idx] || g.Tensors[idx].IsConstant() {
			continue
		}
		p.Release[pos] = append(p.Release[pos], idx)
	}
	for _, r := range p.Release {
		slices.Sort(r)
	}

	p.Peak = p.simulate(g, n)
	return p, nil
}

// simulate replays the schedule and returns the peak live byte count. Every
// index it meets was range-checked by NewPlan.
func (p *Plan) simulate(g *graph.Graph, n int) int {
	counted := make(map[int]bool)
	live, peak := 0, 0
	for pos := 0; pos < n; pos++ {
		op := g.Op(pos)
		if op.Inplace && len(op.Inputs) > 0 && len(op.Outputs) > 0 {
			counted[op.Outputs[0]] = counted[op.Inputs[0]]
		}
		for _, idx := range p.Allocate[pos] {
			live += g.Tensors[idx].ByteSize()
			counted[idx] = true
		}
		peak = max(peak, live)
		for _, idx := range p.Release[pos] {
			if counted[idx] {
				live -= g.Tensors[idx].ByteSize()
			}
		}
	}
	return peak
}
