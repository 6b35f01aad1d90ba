package kernels

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
)

// Builtins returns the reference kernel of every builtin numeric operator.
// Control flow is registered separately.
func Builtins() map[graph.OpCode]kernel.Func {
	m := make(map[graph.OpCode]kernel.Func)
	registerMathOps(m)
	registerActivations(m)
	registerShapeOps(m)
	registerQuantizationOps(m)
	registerGradients(m)
	return m
}

func registerMathOps(m map[graph.OpCode]kernel.Func) {
	m[graph.OpAdd] = Add
	m[graph.OpSub] = Sub
	m[graph.OpMul] = Mul
	m[graph.OpFullyConnected] = FullyConnected
	m[graph.OpLess] = Less
	m[graph.OpGreater] = Greater
	m[graph.OpAveragePool2D] = AveragePool2D
}

func registerActivations(m map[graph.OpCode]kernel.Func) {
	m[graph.OpRelu] = Relu
	m[graph.OpRelu6] = Relu6
	m[graph.OpLogistic] = Logistic
}

func registerShapeOps(m map[graph.OpCode]kernel.Func) {
	m[graph.OpReshape] = Reshape
}

func registerQuantizationOps(m map[graph.OpCode]kernel.Func) {
	m[graph.OpQuantize] = Quantize
	m[graph.OpDequantize] = Dequantize
}

func registerGradients(m map[graph.OpCode]kernel.Func) {
	m[graph.OpReluGrad] = ReluGrad
	m[graph.OpMulGrad] = MulGrad
	m[graph.OpFullyConnectedGrad] = FullyConnectedGrad
}
