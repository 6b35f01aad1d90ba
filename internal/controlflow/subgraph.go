// Package controlflow implements the operators that execute nested graphs:
// While and If. Each nested graph runs through the same engine, re-entered
// via kernel.Runner, with its own storage and arena. Tensors cross the
// boundary by copy only.
package controlflow

import (
	"github.com/pkg/errors"

	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
	"github.com/born-ml/micrort/internal/storage"
)

// subgraph is one nested graph together with its private execution state.
type subgraph struct {
	name  string
	g     *graph.Graph
	arena *arena.Arena
	st    *storage.Storage
}

// newSubgraph prepares g for execution. Its arena is sized to hold every
// non-constant tensor of g at once.
func newSubgraph(name string, g *graph.Graph) *subgraph {
	a := arena.New(g.ScratchBytes(arena.DefaultAlignment))
	return &subgraph{
		name:  name,
		g:     g,
		arena: a,
		st:    storage.New(g, a),
	}
}

// checkBoundary verifies that the graph has nIn inputs and nOut outputs.
func (s *subgraph) checkBoundary(nIn, nOut int) error {
	if len(s.g.Inputs) != nIn {
		return status.Unknownf("%s subgraph %q has %d inputs, want %d", s.name, s.g.Name, len(s.g.Inputs), nIn)
	}
	if len(s.g.Outputs) != nOut {
		return status.Unknownf("%s subgraph %q has %d outputs, want %d", s.name, s.g.Name, len(s.g.Outputs), nOut)
	}
	return nil
}

// load allocates the subgraph inputs and copies src into them.
func (s *subgraph) load(src [][]byte) error {
	for i, idx := range s.g.Inputs {
		buf, err := s.st.Allocate(idx)
		if err != nil {
			return errors.WithMessagef(err, "%s subgraph input %d", s.name, i)
		}
		if len(buf) != len(src[i]) {
			return status.Unknownf("%s subgraph input %d holds %d bytes, value has %d", s.name, i, len(buf), len(src[i]))
		}
		copy(buf, src[i])
	}
	return nil
}

// run executes the subgraph through the engine that runs c.
func (s *subgraph) run(c *kernel.Context) error {
	if err := c.Runner.RunSubgraph(c.Ctx, s.g, s.st); err != nil {
		return errors.WithMessagef(err, "%s subgraph %q", s.name, s.g.Name)
	}
	return nil
}

// store copies the subgraph outputs into dst.
func (s *subgraph) store(dst [][]byte) error {
	for i, idx := range s.g.Outputs {
		buf, err := s.st.Resolve(idx)
		if err != nil {
			return errors.WithMessagef(err, "%s subgraph output %d", s.name, i)
		}
		if len(buf) != len(dst[i]) {
			return status.Unknownf("%s subgraph output %d holds %d bytes, destination has %d", s.name, i, len(buf), len(dst[i]))
		}
		copy(dst[i], buf)
	}
	return nil
}

// reset drops every transient buffer of the subgraph.
func (s *subgraph) reset() error {
	err := s.st.Reset()
	s.arena.Reset()
	return err
}

// inputData returns the input buffers of the binding starting at from.
func inputData(k *kernel.RuntimeKernel, from int) [][]byte {
	out := make([][]byte, 0, k.NumInputs-from)
	for i := from; i < k.NumInputs; i++ {
		out = append(out, k.InputData[i])
	}
	return out
}

func outputData(k *kernel.RuntimeKernel) [][]byte {
	out := make([][]byte, k.NumOutputs)
	for i := range out {
		out[i] = k.OutputData[i]
	}
	return out
}

func lookupSubgraph(c *kernel.Context, idx int, role string) (*graph.Graph, error) {
	g := c.Graph.Subgraph(idx)
	if g == nil {
		return nil, status.Unknownf("%s: %s subgraph %d out of range", c.Op.Code, role, idx)
	}
	return g, nil
}
