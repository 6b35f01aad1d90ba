package kernels

import (
	"math"

	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
	"github.com/born-ml/micrort/internal/status"
)

// Relu computes max(x, 0).
func Relu(c *kernel.Context) error { return clampActivation(c, graph.ActRelu) }

// Relu6 computes min(max(x, 0), 6).
func Relu6(c *kernel.Context) error { return clampActivation(c, graph.ActRelu6) }

// clampActivation implements the activations that are a clamp in the real
// domain. Both kernels may run in place.
func clampActivation(c *kernel.Context, act graph.Activation) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if err := sameType(c, ti, to); err != nil {
		return err
	}
	if err := checkLen(c, "output", out, ti.ElementCount(), to.DType); err != nil {
		return err
	}

	switch to.DType {
	case graph.Float32:
		lo, hi, err := quant.CalculateActivationRange(act)
		if err != nil {
			return err
		}
		x, y := kernel.Float32s(in), kernel.Float32s(out)
		for i := range y {
			y[i] = clampf(x[i], lo, hi)
		}
		return nil

	case graph.Int8:
		if to.Scale() == 0 {
			return status.Unknownf("%s: output scale is zero", c.Op.Code)
		}
		lo, hi, err := quant.CalculateActivationRangeQuantized(act, to.ZeroPoint(), to.Scale(), to.DType)
		if err != nil {
			return err
		}
		m := quant.NewMultiplier(float64(ti.Scale()) / float64(to.Scale()))
		zi, zo := ti.ZeroPoint(), to.ZeroPoint()
		x, y := kernel.Int8s(in), kernel.Int8s(out)
		for i := range y {
			y[i] = int8(quant.Clamp(zo+m.Apply(int32(x[i])-zi), lo, hi))
		}
		return nil

	default:
		return unsupportedType(c, to.DType)
	}
}

// Logistic computes 1 / (1 + exp(-x)). Int8 tensors are evaluated in the
// real domain and requantized.
func Logistic(c *kernel.Context) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if err := sameType(c, ti, to); err != nil {
		return err
	}
	if err := checkLen(c, "output", out, ti.ElementCount(), to.DType); err != nil {
		return err
	}

	sigmoid := func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	}

	switch to.DType {
	case graph.Float32:
		x, y := kernel.Float32s(in), kernel.Float32s(out)
		for i := range y {
			y[i] = sigmoid(x[i])
		}
		return nil

	case graph.Int8:
		x, y := kernel.Int8s(in), kernel.Int8s(out)
		for i := range y {
			v := quant.Dequantize(int32(x[i]), ti.Scale(), ti.ZeroPoint())
			q, err := quant.Quantize(sigmoid(v), to.Scale(), to.ZeroPoint(), to.DType)
			if err != nil {
				return err
			}
			y[i] = int8(q)
		}
		return nil

	default:
		return unsupportedType(c, to.DType)
	}
}
