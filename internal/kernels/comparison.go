package kernels

import (
	"github.com/born-ml/micrort/internal/broadcast"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
	"github.com/born-ml/micrort/internal/status"
)

// Less computes a < b with broadcasting into a bool tensor.
func Less(c *kernel.Context) error { return compare(c, true) }

// Greater computes a > b.
func Greater(c *kernel.Context) error { return compare(c, false) }

func compare(c *kernel.Context, less bool) error {
	if err := operands(c, 2, 1); err != nil {
		return err
	}
	k := c.Kernel
	ta, a := k.Input(0)
	tb, b := k.Input(1)
	to, out := k.Output(0)
	if err := sameType(c, ta, tb); err != nil {
		return err
	}
	if to.DType != graph.Bool {
		return status.Errorf(status.UnsupportedType, "%s: output type %s, want bool", c.Op.Code, to.DType)
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
	res := kernel.Bools(out)

	switch ta.DType {
	case graph.Float32:
		return apply(sa, sb, kernel.Float32s(a), kernel.Float32s(b), res, broadcast.FloatRank, ordered[float32](less))
	case graph.Int32:
		return apply(sa, sb, kernel.Int32s(a), kernel.Int32s(b), res, broadcast.FloatRank, ordered[int32](less))
	case graph.Int8:
		if ta.Scale() == tb.Scale() && ta.ZeroPoint() == tb.ZeroPoint() {
			return apply(sa, sb, kernel.Int8s(a), kernel.Int8s(b), res, broadcast.QuantizedRank, ordered[int8](less))
		}
		// Different quantization: compare real values.
		cmp := ordered[float32](less)
		return apply(sa, sb, kernel.Int8s(a), kernel.Int8s(b), res, broadcast.QuantizedRank, func(x, y int8) bool {
			return cmp(quant.Dequantize(int32(x), ta.Scale(), ta.ZeroPoint()), quant.Dequantize(int32(y), tb.Scale(), tb.ZeroPoint()))
		})
	default:
		return unsupportedType(c, ta.DType)
	}
}

func ordered[T float32 | int32 | int8](less bool) func(x, y T) bool {
	if less {
		return func(x, y T) bool { return x < y }
	}
	return func(x, y T) bool { return x > y }
}
