package controlflow

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/kernels"
	"github.com/born-ml/micrort/internal/status"
	"github.com/born-ml/micrort/internal/storage"
)

func f32(vs ...float32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func floats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func vec(n int) graph.Tensor {
	return graph.Tensor{DType: graph.Float32, Shape: []int{n}}
}

func constant(vs ...float32) graph.Tensor {
	return graph.Tensor{DType: graph.Float32, Shape: []int{len(vs)}, Data: f32(vs...)}
}

// runner executes subgraphs operator by operator with the builtin kernels
// and records how often each graph ran.
type runner struct {
	calls map[string]int
	fail  string
	// live records, per call, how many buffers the storage held on entry.
	live []int
}

func newRunner() *runner {
	return &runner{calls: make(map[string]int)}
}

func (r *runner) RunSubgraph(ctx context.Context, g *graph.Graph, st *storage.Storage) error {
	r.calls[g.Name]++
	r.live = append(r.live, st.Len())
	if g.Name == r.fail {
		return status.Errorf(status.Backend, "%s failed", g.Name)
	}
	builtins := kernels.Builtins()
	for i := range g.Operators {
		op := &g.Operators[i]
		for _, idx := range op.Outputs {
			if _, ok := st.Get(idx); ok {
				continue
			}
			if _, err := st.Allocate(idx); err != nil {
				return err
			}
		}
		k, err := kernel.NewBinder(g, st).Bind(i, op)
		if err != nil {
			return err
		}
		c := &kernel.Context{Ctx: ctx, Kernel: k, Storage: st, Graph: g, Op: op, OpIndex: i, Runner: r, Logger: klog.Background()}
		if err := builtins[op.Code](c); err != nil {
			return err
		}
	}
	return nil
}

// call binds operator 0 of g and runs fn on it.
func call(t *testing.T, fn kernel.Func, g *graph.Graph, r *runner, maxLoop int, inputs map[int][]byte) (*storage.Storage, error) {
	t.Helper()
	st := storage.New(g, arena.New(g.ScratchBytes(arena.DefaultAlignment)))
	for idx, buf := range inputs {
		require.NoError(t, st.Put(idx, buf))
	}
	op := &g.Operators[0]
	for _, idx := range op.Outputs {
		_, err := st.Allocate(idx)
		require.NoError(t, err)
	}
	k, err := kernel.NewBinder(g, st).Bind(0, op)
	require.NoError(t, err)
	return st, fn(&kernel.Context{
		Ctx:               context.Background(),
		Kernel:            k,
		Storage:           st,
		Graph:             g,
		Op:                op,
		Runner:            r,
		Logger:            klog.Background(),
		MaxLoopIterations: maxLoop,
	})
}

func result(t *testing.T, st *storage.Storage, idx int) []float32 {
	t.Helper()
	buf, ok := st.Get(idx)
	require.True(t, ok)
	return floats(buf)
}

// counter adds step to tensor 0 while it is below limit. Tensor 1 is carried
// through the loop unchanged.
func counter(limit, step float32) *graph.Graph {
	cond := &graph.Graph{
		Name:      "cond",
		Tensors:   []graph.Tensor{vec(1), vec(2), constant(limit), {DType: graph.Bool, Shape: []int{1}}},
		Operators: []graph.Operator{{Code: graph.OpLess, Inputs: []int{0, 2}, Outputs: []int{3}}},
		Inputs:    []int{0, 1},
		Outputs:   []int{3},
	}
	body := &graph.Graph{
		Name:      "body",
		Tensors:   []graph.Tensor{vec(1), vec(2), constant(step), vec(1)},
		Operators: []graph.Operator{{Code: graph.OpAdd, Inputs: []int{0, 2}, Outputs: []int{3}}},
		Inputs:    []int{0, 1},
		Outputs:   []int{3, 1},
	}
	return &graph.Graph{
		Tensors: []graph.Tensor{vec(1), vec(2), vec(1), vec(2)},
		Operators: []graph.Operator{{
			Code:    graph.OpWhile,
			Inputs:  []int{0, 1},
			Outputs: []int{2, 3},
			Options: graph.Options{CondSubgraph: 0, BodySubgraph: 1},
		}},
		Subgraphs: []*graph.Graph{cond, body},
	}
}

func TestWhile(t *testing.T) {
	r := newRunner()
	st, err := call(t, While, counter(3, 1), r, 0, map[int][]byte{0: f32(0), 1: f32(7, 8)})
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, result(t, st, 2))
	assert.Equal(t, []float32{7, 8}, result(t, st, 3))
	assert.Equal(t, 4, r.calls["cond"], "condition runs once more than the body")
	assert.Equal(t, 3, r.calls["body"])
	for i, n := range r.live {
		assert.Equal(t, 2, n, "call %d started with stale buffers", i)
	}
}

func TestWhileZeroIterations(t *testing.T) {
	r := newRunner()
	st, err := call(t, While, counter(3, 1), r, 0, map[int][]byte{0: f32(5), 1: f32(1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, result(t, st, 2))
	assert.Equal(t, 1, r.calls["cond"])
	assert.Zero(t, r.calls["body"])
}

func TestWhileCap(t *testing.T) {
	_, err := call(t, While, counter(10, 1), newRunner(), 4, map[int][]byte{0: f32(0), 1: f32(0, 0)})
	assert.ErrorIs(t, err, status.ErrFailedCheckCondition)

	st, err := call(t, While, counter(4, 1), newRunner(), 4, map[int][]byte{0: f32(0), 1: f32(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []float32{4}, result(t, st, 2))
}

func TestWhileSubgraphFailure(t *testing.T) {
	for _, name := range []string{"cond", "body"} {
		r := newRunner()
		r.fail = name
		_, err := call(t, While, counter(3, 1), r, 0, map[int][]byte{0: f32(0), 1: f32(0, 0)})
		assert.Equal(t, status.Backend, status.CodeOf(err), name)
		assert.Equal(t, 1, r.calls[name], "%s ran after failing", name)
	}
}

func TestWhileRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *graph.Graph)
	}{
		{"condition boundary", func(g *graph.Graph) { g.Subgraphs[0].Inputs = []int{0} }},
		{"body boundary", func(g *graph.Graph) { g.Subgraphs[1].Outputs = []int{3} }},
		{"condition not bool", func(g *graph.Graph) { g.Subgraphs[0].Outputs = []int{0} }},
		{"missing subgraph", func(g *graph.Graph) { g.Operators[0].Options.BodySubgraph = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := counter(3, 1)
			tt.mutate(g)
			r := newRunner()
			_, err := call(t, While, g, r, 0, map[int][]byte{0: f32(0), 1: f32(0, 0)})
			assert.ErrorIs(t, err, status.ErrUnknown)
			assert.Empty(t, r.calls)
		})
	}
}

// branches doubles its input in the then branch and negates it in the else
// branch.
func branches() *graph.Graph {
	then := &graph.Graph{
		Name:      "then",
		Tensors:   []graph.Tensor{vec(2), vec(2)},
		Operators: []graph.Operator{{Code: graph.OpAdd, Inputs: []int{0, 0}, Outputs: []int{1}}},
		Inputs:    []int{0},
		Outputs:   []int{1},
	}
	otherwise := &graph.Graph{
		Name:      "else",
		Tensors:   []graph.Tensor{vec(2), constant(0, 0), vec(2)},
		Operators: []graph.Operator{{Code: graph.OpSub, Inputs: []int{1, 0}, Outputs: []int{2}}},
		Inputs:    []int{0},
		Outputs:   []int{2},
	}
	return &graph.Graph{
		Tensors: []graph.Tensor{{DType: graph.Bool, Shape: []int{}}, vec(2), vec(2)},
		Operators: []graph.Operator{{
			Code:    graph.OpIf,
			Inputs:  []int{0, 1},
			Outputs: []int{2},
			Options: graph.Options{ThenSubgraph: 0, ElseSubgraph: 1},
		}},
		Subgraphs: []*graph.Graph{then, otherwise},
	}
}

func TestIf(t *testing.T) {
	r := newRunner()
	st, err := call(t, If, branches(), r, 0, map[int][]byte{0: {1}, 1: f32(1, -2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, -4}, result(t, st, 2))

	st, err = call(t, If, branches(), r, 0, map[int][]byte{0: {0}, 1: f32(1, -2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 2}, result(t, st, 2))
	assert.Equal(t, map[string]int{"then": 1, "else": 1}, r.calls)
}

func TestIfRejects(t *testing.T) {
	g := branches()
	g.Tensors[0] = vec(1)
	_, err := call(t, If, g, newRunner(), 0, map[int][]byte{0: f32(1), 1: f32(1, 2)})
	assert.ErrorIs(t, err, status.ErrUnsupportedType)

	g = branches()
	g.Subgraphs[0].Inputs = nil
	_, err = call(t, If, g, newRunner(), 0, map[int][]byte{0: {1}, 1: f32(1, 2)})
	assert.ErrorIs(t, err, status.ErrUnknown)

	r := newRunner()
	r.fail = "else"
	_, err = call(t, If, branches(), r, 0, map[int][]byte{0: {0}, 1: f32(1, 2)})
	assert.Equal(t, status.Backend, status.CodeOf(err))
}
