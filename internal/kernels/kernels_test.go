package kernels

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/micrort/internal/arena"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
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

func i8(vs ...int8) []byte {
	b := make([]byte, len(vs))
	for i, v := range vs {
		b[i] = byte(v)
	}
	return b
}

func int8s(b []byte) []int8 {
	out := make([]int8, len(b))
	for i, v := range b {
		out[i] = int8(v)
	}
	return out
}

func i32(vs ...int32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

func int32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func ft(dims ...int) graph.Tensor {
	return graph.Tensor{DType: graph.Float32, Shape: dims}
}

func qt(dt graph.DType, scale float32, zp int32, dims ...int) graph.Tensor {
	return graph.Tensor{
		DType: dt,
		Shape: dims,
		Quant: &graph.Quantization{Scale: []float32{scale}, ZeroPoint: []int32{zp}},
	}
}

// invoke binds op over tensors and calls fn. Inputs are put into storage
// and outputs are allocated, as the engine would.
func invoke(t *testing.T, fn kernel.Func, tensors []graph.Tensor, op graph.Operator, inputs map[int][]byte) (*storage.Storage, error) {
	t.Helper()
	g := &graph.Graph{Tensors: tensors, Operators: []graph.Operator{op}}
	st := storage.New(g, arena.New(g.ScratchBytes(arena.DefaultAlignment)))
	for idx, buf := range inputs {
		require.NoError(t, st.Put(idx, buf))
	}
	for i, idx := range op.Outputs {
		if i == 0 && op.Inplace {
			continue
		}
		_, err := st.Allocate(idx)
		require.NoError(t, err)
	}
	k, err := kernel.NewBinder(g, st).Bind(0, &g.Operators[0])
	require.NoError(t, err)
	return st, fn(&kernel.Context{
		Ctx:     context.Background(),
		Kernel:  k,
		Storage: st,
		Graph:   g,
		Op:      &g.Operators[0],
	})
}

func get(t *testing.T, st *storage.Storage, idx int) []byte {
	t.Helper()
	buf, ok := st.Get(idx)
	require.True(t, ok, "no buffer for tensor %d", idx)
	return buf
}

// broadcastRef evaluates fn with NumPy broadcasting by explicit index
// arithmetic.
func broadcastRef(sa, sb []int, a, b []float32, fn func(x, y float32) float32) []float32 {
	rank := max(len(sa), len(sb))
	pad := func(s []int) []int {
		out := make([]int, rank)
		for i := range out {
			out[i] = 1
		}
		copy(out[rank-len(s):], s)
		return out
	}
	ea, eb := pad(sa), pad(sb)
	out := make([]int, rank)
	total := 1
	for i := range out {
		out[i] = max(ea[i], eb[i])
		if ea[i] == 0 || eb[i] == 0 {
			out[i] = 0
		}
		total *= out[i]
	}
	res := make([]float32, total)
	idx := make([]int, rank)
	for n := 0; n < total; n++ {
		rem := n
		for d := rank - 1; d >= 0; d-- {
			idx[d] = rem % out[d]
			rem /= out[d]
		}
		ia, ib, stA, stB := 0, 0, 1, 1
		for d := rank - 1; d >= 0; d-- {
			if ea[d] != 1 {
				ia += idx[d] * stA
			}
			if eb[d] != 1 {
				ib += idx[d] * stB
			}
			stA *= ea[d]
			stB *= eb[d]
		}
		res[n] = fn(a[ia], b[ib])
	}
	return res
}

func count(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func TestArithmeticBroadcastCategories(t *testing.T) {
	shapes := []struct {
		name string
		a, b []int
	}{
		{"none", []int{2, 3}, []int{2, 3}},
		{"first scalar", []int{1}, []int{2, 3}},
		{"second scalar", []int{2, 3}, []int{}},
		{"first fast", []int{2, 1, 3}, []int{2, 4, 3}},
		{"second fast", []int{2, 4, 3}, []int{2, 1, 3}},
		{"fivefold", []int{2, 3, 4, 1, 5}, []int{2, 1, 4, 6, 5}},
		{"outer product", []int{3, 1}, []int{1, 4}},
		{"generic", []int{2, 1, 3, 1}, []int{1, 4, 1, 5}},
		{"rank mismatch", []int{4}, []int{3, 1}},
		{"zero sized", []int{0, 3}, []int{1, 3}},
	}
	ops := []struct {
		name string
		fn   kernel.Func
		ref  func(x, y float32) float32
	}{
		{"add", Add, func(x, y float32) float32 { return x + y }},
		{"sub", Sub, func(x, y float32) float32 { return x - y }},
		{"mul", Mul, func(x, y float32) float32 { return x * y }},
	}
	rng := rand.New(rand.NewSource(1))
	random := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = float32(rng.Intn(21) - 10)
		}
		return v
	}

	for _, s := range shapes {
		for _, op := range ops {
			t.Run(fmt.Sprintf("%s/%s", op.name, s.name), func(t *testing.T) {
				a, b := random(count(s.a)), random(count(s.b))
				want := broadcastRef(s.a, s.b, a, b, op.ref)
				outDims := broadcastDims(s.a, s.b)

				st, err := invoke(t, op.fn,
					[]graph.Tensor{ft(s.a...), ft(s.b...), ft(outDims...)},
					graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
					map[int][]byte{0: f32(a...), 1: f32(b...)})
				require.NoError(t, err)
				assert.Equal(t, want, floats(get(t, st, 2)))
			})
		}
	}
}

func broadcastDims(a, b []int) []int {
	rank := max(len(a), len(b))
	out := make([]int, rank)
	for i := range out {
		da, db := 1, 1
		if j := i - (rank - len(a)); j >= 0 {
			da = a[j]
		}
		if j := i - (rank - len(b)); j >= 0 {
			db = b[j]
		}
		out[i] = max(da, db)
		if da == 0 || db == 0 {
			out[i] = 0
		}
	}
	return out
}

func TestArithmeticActivation(t *testing.T) {
	op := graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}, Options: graph.Options{Activation: graph.ActRelu6}}
	st, err := invoke(t, Sub, []graph.Tensor{ft(4), ft(4), ft(4)}, op,
		map[int][]byte{0: f32(1, 10, -3, 5), 1: f32(2, 1, 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 6, 0, 5}, floats(get(t, st, 2)))

	op.Options.Activation = graph.ActTanh
	_, err = invoke(t, Add, []graph.Tensor{ft(1), ft(1), ft(1)}, op, map[int][]byte{0: f32(1), 1: f32(1)})
	assert.ErrorIs(t, err, status.ErrUnsupportedActivation)
}

func TestArithmeticInt32(t *testing.T) {
	tensors := []graph.Tensor{
		{DType: graph.Int32, Shape: []int{3}},
		{DType: graph.Int32, Shape: []int{1}},
		{DType: graph.Int32, Shape: []int{3}},
	}
	op := graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}}
	st, err := invoke(t, Mul, tensors, op, map[int][]byte{0: i32(1, -2, 3), 1: i32(4)})
	require.NoError(t, err)
	assert.Equal(t, []int32{4, -8, 12}, int32s(get(t, st, 2)))

	op.Options.Activation = graph.ActRelu
	_, err = invoke(t, Add, tensors, op, map[int][]byte{0: i32(1, 2, 3), 1: i32(4)})
	assert.ErrorIs(t, err, status.ErrUnsupportedActivation)
}

func TestArithmeticQuantized(t *testing.T) {
	st, err := invoke(t, Add,
		[]graph.Tensor{qt(graph.Int8, 0.1, 0, 2), qt(graph.Int8, 0.1, 0, 2), qt(graph.Int8, 0.1, 0, 2)},
		graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: i8(10, 20), 1: i8(5, -5)})
	require.NoError(t, err)
	assert.Equal(t, []int8{15, 15}, int8s(get(t, st, 2)))

	st, err = invoke(t, Sub,
		[]graph.Tensor{qt(graph.Int8, 0.1, 0, 2), qt(graph.Int8, 0.2, 0, 1), qt(graph.Int8, 0.1, 0, 2)},
		graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: i8(30, -30), 1: i8(10)})
	require.NoError(t, err)
	assert.Equal(t, []int8{10, -50}, int8s(get(t, st, 2)))

	st, err = invoke(t, Mul,
		[]graph.Tensor{qt(graph.Int8, 0.5, 0, 2), qt(graph.Int8, 0.5, 0, 2), qt(graph.Int8, 0.25, 0, 2)},
		graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: i8(2, 4), 1: i8(6, -2)})
	require.NoError(t, err)
	assert.Equal(t, []int8{12, -8}, int8s(get(t, st, 2)))
}

func TestArithmeticQuantizedSaturates(t *testing.T) {
	st, err := invoke(t, Add,
		[]graph.Tensor{qt(graph.Int8, 1, 0, 2), qt(graph.Int8, 1, 0, 2), qt(graph.Int8, 1, 0, 2)},
		graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}, Options: graph.Options{Activation: graph.ActRelu}},
		map[int][]byte{0: i8(100, -100), 1: i8(100, 50)})
	require.NoError(t, err)
	assert.Equal(t, []int8{127, 0}, int8s(get(t, st, 2)))
}

func TestArithmeticRejects(t *testing.T) {
	op := graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}}

	i16 := graph.Tensor{DType: graph.Int16, Shape: []int{2}}
	_, err := invoke(t, Add, []graph.Tensor{i16, i16, i16}, op, map[int][]byte{0: make([]byte, 4), 1: make([]byte, 4)})
	assert.ErrorIs(t, err, status.ErrUnsupportedType)

	_, err = invoke(t, Add, []graph.Tensor{ft(2), {DType: graph.Int32, Shape: []int{2}}, ft(2)}, op,
		map[int][]byte{0: f32(1, 2), 1: i32(1, 2)})
	assert.ErrorIs(t, err, status.ErrUnsupportedType)

	_, err = invoke(t, Add, []graph.Tensor{ft(2), ft(3), ft(3)}, op, map[int][]byte{0: f32(1, 2), 1: f32(1, 2, 3)})
	assert.ErrorIs(t, err, status.ErrUnknown, "incompatible shapes")

	_, err = invoke(t, Add, []graph.Tensor{ft(2), ft(2), ft(3)}, op, map[int][]byte{0: f32(1, 2), 1: f32(1, 2)})
	assert.ErrorIs(t, err, status.ErrUnknown, "output size mismatch")
}

func TestComparison(t *testing.T) {
	tensors := []graph.Tensor{ft(3), ft(), {DType: graph.Bool, Shape: []int{3}}}
	op := graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}}
	inputs := map[int][]byte{0: f32(1, 2, 3), 1: f32(2)}

	st, err := invoke(t, Less, tensors, op, inputs)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0}, get(t, st, 2))

	st, err = invoke(t, Greater, tensors, op, inputs)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1}, get(t, st, 2))
}

func TestComparisonQuantized(t *testing.T) {
	// 0.5*[2, 4, 6] = [1, 2, 3] against 0.25*(9-1) = 2.
	tensors := []graph.Tensor{
		qt(graph.Int8, 0.5, 0, 3),
		qt(graph.Int8, 0.25, 1, 1),
		{DType: graph.Bool, Shape: []int{3}},
	}
	st, err := invoke(t, Greater, tensors, graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: i8(2, 4, 6), 1: i8(9)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 1}, get(t, st, 2))

	_, err = invoke(t, Less, []graph.Tensor{ft(1), ft(1), ft(1)}, graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: f32(1), 1: f32(2)})
	assert.ErrorIs(t, err, status.ErrUnsupportedType, "output must be bool")
}

func TestReluFamily(t *testing.T) {
	op := graph.Operator{Inputs: []int{0}, Outputs: []int{1}}
	st, err := invoke(t, Relu, []graph.Tensor{ft(4), ft(4)}, op, map[int][]byte{0: f32(-1, 0, 3, 9)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 3, 9}, floats(get(t, st, 1)))

	st, err = invoke(t, Relu6, []graph.Tensor{ft(4), ft(4)}, op, map[int][]byte{0: f32(-1, 0, 3, 9)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 3, 6}, floats(get(t, st, 1)))

	st, err = invoke(t, Relu,
		[]graph.Tensor{qt(graph.Int8, 0.5, -10, 3), qt(graph.Int8, 0.5, -10, 3)}, op,
		map[int][]byte{0: i8(-20, -10, 5)})
	require.NoError(t, err)
	assert.Equal(t, []int8{-10, -10, 5}, int8s(get(t, st, 1)))
}

func TestReluInplace(t *testing.T) {
	op := graph.Operator{Inputs: []int{0}, Outputs: []int{1}, Inplace: true}
	in := f32(-2, 2)
	st, err := invoke(t, Relu, []graph.Tensor{ft(2), ft(2)}, op, map[int][]byte{0: in})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2}, floats(in), "output overwrites the input buffer")
	_, ok := st.Get(0)
	assert.False(t, ok)
}

func TestLogistic(t *testing.T) {
	st, err := invoke(t, Logistic, []graph.Tensor{ft(3), ft(3)}, graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: f32(0, 100, -100)})
	require.NoError(t, err)
	got := floats(get(t, st, 1))
	assert.InDelta(t, 0.5, got[0], 1e-7)
	assert.InDelta(t, 1.0, got[1], 1e-7)
	assert.InDelta(t, 0.0, got[2], 1e-7)

	// 1/256 steps with zero point -128 cover [0, 1).
	st, err = invoke(t, Logistic,
		[]graph.Tensor{qt(graph.Int8, 0.1, 0, 1), qt(graph.Int8, 1.0/256, -128, 1)},
		graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: i8(0)})
	require.NoError(t, err)
	assert.Equal(t, []int8{0}, int8s(get(t, st, 1)))
}

func TestReshape(t *testing.T) {
	op := graph.Operator{Inputs: []int{0}, Outputs: []int{1}, Options: graph.Options{NewShape: []int{3, 2}}}
	st, err := invoke(t, Reshape, []graph.Tensor{ft(2, 3), ft(3, 2)}, op, map[int][]byte{0: f32(1, 2, 3, 4, 5, 6)})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, floats(get(t, st, 1)))

	op.Options.NewShape = []int{7}
	_, err = invoke(t, Reshape, []graph.Tensor{ft(2, 3), ft(3, 2)}, op, map[int][]byte{0: f32(1, 2, 3, 4, 5, 6)})
	assert.ErrorIs(t, err, status.ErrUnknown)

	_, err = invoke(t, Reshape, []graph.Tensor{ft(2, 3), ft(4)}, graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: f32(1, 2, 3, 4, 5, 6)})
	assert.ErrorIs(t, err, status.ErrUnknown)
}

func TestQuantizeDequantize(t *testing.T) {
	st, err := invoke(t, Quantize,
		[]graph.Tensor{ft(3), qt(graph.Int8, 0.5, 1, 3)},
		graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: f32(0.5, -1, 100)})
	require.NoError(t, err)
	q := get(t, st, 1)
	assert.Equal(t, []int8{2, -1, 127}, int8s(q))

	st, err = invoke(t, Dequantize,
		[]graph.Tensor{qt(graph.Int8, 0.5, 1, 3), ft(3)},
		graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: q})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 63}, floats(get(t, st, 1)))

	st, err = invoke(t, Quantize,
		[]graph.Tensor{ft(2), qt(graph.Uint8, 1, 128, 2)},
		graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: f32(-3, 3)})
	require.NoError(t, err)
	assert.Equal(t, []byte{125, 131}, get(t, st, 1))

	_, err = invoke(t, Quantize,
		[]graph.Tensor{ft(1), {DType: graph.Int64, Shape: []int{1}}},
		graph.Operator{Inputs: []int{0}, Outputs: []int{1}},
		map[int][]byte{0: f32(1)})
	assert.ErrorIs(t, err, status.ErrUnsupportedType)
}

func TestFullyConnectedFloat(t *testing.T) {
	tensors := []graph.Tensor{
		ft(1, 3),
		{DType: graph.Float32, Shape: []int{2, 3}, Data: f32(1, 0, 0, 0, 1, 1)},
		{DType: graph.Float32, Shape: []int{2}, Data: f32(0.5, -10)},
		ft(1, 2),
	}
	op := graph.Operator{Inputs: []int{0, 1, 2}, Outputs: []int{3}, Options: graph.Options{Activation: graph.ActRelu}}
	st, err := invoke(t, FullyConnected, tensors, op, map[int][]byte{0: f32(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 0}, floats(get(t, st, 3)))

	op = graph.Operator{Inputs: []int{0, 1, graph.Absent}, Outputs: []int{3}}
	st, err = invoke(t, FullyConnected, tensors, op, map[int][]byte{0: f32(1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 5}, floats(get(t, st, 3)))
}

func TestFullyConnectedBatch(t *testing.T) {
	tensors := []graph.Tensor{
		ft(2, 2),
		{DType: graph.Float32, Shape: []int{1, 2}, Data: f32(1, -1)},
		ft(2, 1),
	}
	st, err := invoke(t, FullyConnected, tensors, graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: f32(5, 2, 1, 4)})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, -3}, floats(get(t, st, 2)))
}

func TestFullyConnectedInt8(t *testing.T) {
	w := qt(graph.Int8, 0.25, 0, 1, 2)
	w.Data = i8(4, 8)
	bias := qt(graph.Int32, 0.125, 0, 1)
	bias.Data = i32(8)
	tensors := []graph.Tensor{qt(graph.Int8, 0.5, 0, 1, 2), w, bias, qt(graph.Int8, 0.5, 0, 1, 1)}

	st, err := invoke(t, FullyConnected, tensors, graph.Operator{Inputs: []int{0, 1, 2}, Outputs: []int{3}},
		map[int][]byte{0: i8(2, 4)})
	require.NoError(t, err)
	assert.Equal(t, []int8{12}, int8s(get(t, st, 3)), "1*1 + 2*2 + 1 = 6 at scale 0.5")
}

func TestFullyConnectedPerChannel(t *testing.T) {
	w := graph.Tensor{
		DType: graph.Int8,
		Shape: []int{2, 1},
		Quant: &graph.Quantization{Scale: []float32{1, 0.5}, ZeroPoint: []int32{0, 0}},
		Data:  i8(3, 3),
	}
	tensors := []graph.Tensor{qt(graph.Int8, 1, 0, 1, 1), w, qt(graph.Int8, 1, 0, 1, 2)}
	st, err := invoke(t, FullyConnected, tensors, graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: i8(4)})
	require.NoError(t, err)
	assert.Equal(t, []int8{12, 6}, int8s(get(t, st, 2)))
}

func TestFullyConnectedRejectsBadShapes(t *testing.T) {
	tensors := []graph.Tensor{
		ft(1, 3),
		{DType: graph.Float32, Shape: []int{2, 2}, Data: f32(1, 0, 0, 1)},
		ft(1, 2),
	}
	_, err := invoke(t, FullyConnected, tensors, graph.Operator{Inputs: []int{0, 1}, Outputs: []int{2}},
		map[int][]byte{0: f32(1, 2, 3)})
	assert.ErrorIs(t, err, status.ErrUnknown)
}

func poolOp(filter, stride int, padding graph.Padding) graph.Operator {
	return graph.Operator{
		Inputs:  []int{0},
		Outputs: []int{1},
		Options: graph.Options{
			FilterHeight: filter, FilterWidth: filter,
			StrideHeight: stride, StrideWidth: stride,
			Padding: padding,
		},
	}
}

func TestAveragePool2D(t *testing.T) {
	in := map[int][]byte{0: f32(1, 2, 3, 4)}

	st, err := invoke(t, AveragePool2D, []graph.Tensor{ft(1, 2, 2, 1), ft(1, 1, 1, 1)}, poolOp(2, 2, graph.PaddingValid), in)
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5}, floats(get(t, st, 1)))

	st, err = invoke(t, AveragePool2D, []graph.Tensor{ft(1, 2, 2, 1), ft(1, 2, 2, 1)}, poolOp(2, 1, graph.PaddingSame), in)
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 3, 3.5, 4}, floats(get(t, st, 1)), "padding does not count toward the divisor")
}

func TestAveragePool2DInt8Rounding(t *testing.T) {
	tensors := []graph.Tensor{qt(graph.Int8, 1, 0, 1, 1, 2, 2), qt(graph.Int8, 1, 0, 1, 1, 1, 2)}
	op := graph.Operator{
		Inputs: []int{0}, Outputs: []int{1},
		Options: graph.Options{FilterHeight: 1, FilterWidth: 2, StrideHeight: 1, StrideWidth: 2},
	}
	// Channels interleave: channel 0 is (1, 2), channel 1 is (-1, -2).
	st, err := invoke(t, AveragePool2D, tensors, op, map[int][]byte{0: i8(1, -1, 2, -2)})
	require.NoError(t, err)
	assert.Equal(t, []int8{2, -2}, int8s(get(t, st, 1)))
}

func TestAveragePool2DEmptyWindow(t *testing.T) {
	_, err := invoke(t, AveragePool2D, []graph.Tensor{ft(1, 2, 2, 1), ft(1, 2, 2, 1)}, poolOp(1, 2, graph.PaddingValid),
		map[int][]byte{0: f32(1, 2, 3, 4)})
	assert.ErrorIs(t, err, status.ErrFailedCheckCondition)
}

func TestBuiltinsRegistered(t *testing.T) {
	m := Builtins()
	for _, code := range []graph.OpCode{
		graph.OpAdd, graph.OpSub, graph.OpMul, graph.OpFullyConnected, graph.OpRelu, graph.OpRelu6,
		graph.OpLogistic, graph.OpReshape, graph.OpQuantize, graph.OpDequantize, graph.OpLess,
		graph.OpGreater, graph.OpAveragePool2D, graph.OpReluGrad, graph.OpMulGrad, graph.OpFullyConnectedGrad,
	} {
		assert.NotNil(t, m[code], "%s", code)
	}
	assert.NotContains(t, m, graph.OpWhile)
}
