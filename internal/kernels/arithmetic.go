package kernels

import (
	"github.com/born-ml/micrort/internal/broadcast"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
	"github.com/born-ml/micrort/internal/status"
)

type arith int

const (
	arithAdd arith = iota
	arithSub
	arithMul
)

// Add computes out = a + b with broadcasting and a fused activation.
func Add(c *kernel.Context) error { return arithmetic(c, arithAdd) }

// Sub computes out = a - b.
func Sub(c *kernel.Context) error { return arithmetic(c, arithSub) }

// Mul computes out = a * b.
func Mul(c *kernel.Context) error { return arithmetic(c, arithMul) }

func arithmetic(c *kernel.Context, kind arith) error {
	if err := operands(c, 2, 1); err != nil {
		return err
	}
	k := c.Kernel
	ta, a := k.Input(0)
	tb, b := k.Input(1)
	to, out := k.Output(0)
	if err := sameType(c, ta, tb, to); err != nil {
		return err
	}

	sa, err := shapeOf(ta)
	if err != nil {
		return err
	}
	sb, err := shapeOf(tb)
	if err != nil {
		return err
	}
	n, err := broadcastOutput(sa, sb)
	if err != nil {
		return err
	}
	if err := checkLen(c, "output", out, n, to.DType); err != nil {
		return err
	}
	act := c.Op.Options.Activation

	switch to.DType {
	case graph.Float32:
		lo, hi, err := quant.CalculateActivationRange(act)
		if err != nil {
			return err
		}
		var fn func(x, y float32) float32
		switch kind {
		case arithAdd:
			fn = func(x, y float32) float32 { return clampf(x+y, lo, hi) }
		case arithSub:
			fn = func(x, y float32) float32 { return clampf(x-y, lo, hi) }
		default:
			fn = func(x, y float32) float32 { return clampf(x*y, lo, hi) }
		}
		return apply(sa, sb, kernel.Float32s(a), kernel.Float32s(b), kernel.Float32s(out), broadcast.FloatRank, fn)

	case graph.Int32:
		if act != graph.ActNone {
			return status.Errorf(status.UnsupportedActivation, "%s: activation %s on %s", c.Op.Code, act, to.DType)
		}
		var fn func(x, y int32) int32
		switch kind {
		case arithAdd:
			fn = func(x, y int32) int32 { return x + y }
		case arithSub:
			fn = func(x, y int32) int32 { return x - y }
		default:
			fn = func(x, y int32) int32 { return x * y }
		}
		return apply(sa, sb, kernel.Int32s(a), kernel.Int32s(b), kernel.Int32s(out), broadcast.FloatRank, fn)

	case graph.Int8:
		var fn func(x, y int8) int8
		if kind == arithMul {
			fn, err = quantizedMul(ta, tb, to, act)
		} else {
			fn, err = quantizedAddSub(ta, tb, to, act, kind == arithSub)
		}
		if err != nil {
			return err
		}
		return apply(sa, sb, kernel.Int8s(a), kernel.Int8s(b), kernel.Int8s(out), broadcast.QuantizedRank, fn)

	default:
		return unsupportedType(c, to.DType)
	}
}

// addLeftShift is the headroom given to both operands before they are
// rescaled onto a common scale.
const addLeftShift = 20

// quantizedAddSub returns the int8 element function of Add or Sub. Both
// operands are shifted left, rescaled to twice the larger input scale,
// summed, then rescaled to the output.
func quantizedAddSub(ta, tb, to *graph.Tensor, act graph.Activation, sub bool) (func(x, y int8) int8, error) {
	sa, sb, so := float64(ta.Scale()), float64(tb.Scale()), float64(to.Scale())
	if sa == 0 || sb == 0 || so == 0 {
		return nil, status.Unknownf("quantized add with zero scale (%g, %g, %g)", sa, sb, so)
	}
	lo, hi, err := quant.CalculateActivationRangeQuantized(act, to.ZeroPoint(), to.Scale(), to.DType)
	if err != nil {
		return nil, err
	}

	twiceMax := 2 * max(sa, sb)
	ma := quant.NewMultiplier(sa / twiceMax)
	mb := quant.NewMultiplier(sb / twiceMax)
	mo := quant.NewMultiplier(twiceMax / (float64(int(1)<<addLeftShift) * so))
	za, zb, zo := ta.ZeroPoint(), tb.ZeroPoint(), to.ZeroPoint()

	return func(x, y int8) int8 {
		xa := ma.Apply((int32(x) - za) << addLeftShift)
		yb := mb.Apply((int32(y) - zb) << addLeftShift)
		raw := xa + yb
		if sub {
			raw = xa - yb
		}
		return int8(quant.Clamp(mo.Apply(raw)+zo, lo, hi))
	}, nil
}

// quantizedMul returns the int8 element function of Mul.
func quantizedMul(ta, tb, to *graph.Tensor, act graph.Activation) (func(x, y int8) int8, error) {
	if to.Scale() == 0 {
		return nil, status.Unknownf("quantized mul with zero output scale")
	}
	lo, hi, err := quant.CalculateActivationRangeQuantized(act, to.ZeroPoint(), to.Scale(), to.DType)
	if err != nil {
		return nil, err
	}
	m := quant.NewMultiplier(float64(ta.Scale()) * float64(tb.Scale()) / float64(to.Scale()))
	za, zb, zo := ta.ZeroPoint(), tb.ZeroPoint(), to.ZeroPoint()

	return func(x, y int8) int8 {
		prod := (int32(x) - za) * (int32(y) - zb)
		return int8(quant.Clamp(m.Apply(prod)+zo, lo, hi))
	}, nil
}
