package kernels

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
	"github.com/born-ml/micrort/internal/status"
)

// fcDims are the matrix sizes of a fully connected layer: the input is
// viewed as [batch, depth], the weights are [units, depth] and the output
// is [batch, units].
type fcDims struct {
	batch, depth, units int
}

func fullyConnectedDims(c *kernel.Context, input, weights, bias, output *graph.Tensor) (fcDims, error) {
	if len(weights.Shape) != 2 {
		return fcDims{}, status.Unknownf("%s: weights must be 2-D, got %v", c.Op.Code, weights.Shape)
	}
	d := fcDims{units: weights.Shape[0], depth: weights.Shape[1]}
	if d.depth == 0 || input.ElementCount()%d.depth != 0 {
		return fcDims{}, status.Unknownf("%s: input %v is not a multiple of depth %d", c.Op.Code, input.Shape, d.depth)
	}
	d.batch = input.ElementCount() / d.depth
	if output.ElementCount() != d.batch*d.units {
		return fcDims{}, status.Unknownf("%s: output %v, want %d x %d", c.Op.Code, output.Shape, d.batch, d.units)
	}
	if bias != nil && bias.ElementCount() != d.units {
		return fcDims{}, status.Unknownf("%s: bias %v, want %d elements", c.Op.Code, bias.Shape, d.units)
	}
	return d, nil
}

// FullyConnected computes out = input x weights^T + bias with a fused
// activation. The bias input is optional.
func FullyConnected(c *kernel.Context) error {
	if err := operands(c, 2, 1); err != nil {
		return err
	}
	k := c.Kernel
	ti, in := k.Input(0)
	tw, w := k.Input(1)
	tb, bias := k.Input(2)
	to, out := k.Output(0)

	d, err := fullyConnectedDims(c, ti, tw, tb, to)
	if err != nil {
		return err
	}
	if err := checkLen(c, "output", out, d.batch*d.units, to.DType); err != nil {
		return err
	}

	switch ti.DType {
	case graph.Float32:
		if err := sameType(c, ti, tw, to); err != nil {
			return err
		}
		if tb != nil && tb.DType != graph.Float32 {
			return unsupportedType(c, tb.DType)
		}
		return fullyConnectedFloat(c, d, kernel.Float32s(in), kernel.Float32s(w), kernel.Float32s(bias), kernel.Float32s(out))
	case graph.Int8:
		if err := sameType(c, ti, tw, to); err != nil {
			return err
		}
		if tb != nil && tb.DType != graph.Int32 {
			return unsupportedType(c, tb.DType)
		}
		return fullyConnectedInt8(c, d, ti, tw, to, kernel.Int8s(in), kernel.Int8s(w), kernel.Int32s(bias), kernel.Int8s(out))
	default:
		return unsupportedType(c, ti.DType)
	}
}

func fullyConnectedFloat(c *kernel.Context, d fcDims, x, w, bias, y []float32) error {
	lo, hi, err := quant.CalculateActivationRange(c.Op.Options.Activation)
	if err != nil {
		return err
	}
	for b := 0; b < d.batch; b++ {
		row := x[b*d.depth : (b+1)*d.depth]
		for u := 0; u < d.units; u++ {
			var acc float32
			if bias != nil {
				acc = bias[u]
			}
			wr := w[u*d.depth : (u+1)*d.depth]
			for i, v := range row {
				acc += v * wr[i]
			}
			y[b*d.units+u] = clampf(acc, lo, hi)
		}
	}
	return nil
}

// fullyConnectedInt8 accumulates in int32 and rescales per output unit.
// Weights may be quantized per channel along the unit axis.
func fullyConnectedInt8(c *kernel.Context, d fcDims, ti, tw, to *graph.Tensor, x, w []int8, bias []int32, y []int8) error {
	if to.Scale() == 0 {
		return status.Unknownf("%s: output scale is zero", c.Op.Code)
	}
	lo, hi, err := quant.CalculateActivationRangeQuantized(c.Op.Options.Activation, to.ZeroPoint(), to.Scale(), to.DType)
	if err != nil {
		return err
	}

	scales := []float32{tw.Scale()}
	if tw.Quant.PerChannel() {
		if len(tw.Quant.Scale) != d.units {
			return status.Unknownf("%s: %d weight scales for %d units", c.Op.Code, len(tw.Quant.Scale), d.units)
		}
		scales = tw.Quant.Scale
	}
	mults, err := quant.ChannelMultipliers(ti.Scale(), scales, to.Scale())
	if err != nil {
		return err
	}

	inOff := -ti.ZeroPoint()
	outOff := to.ZeroPoint()
	for b := 0; b < d.batch; b++ {
		row := x[b*d.depth : (b+1)*d.depth]
		for u := 0; u < d.units; u++ {
			wr := w[u*d.depth : (u+1)*d.depth]
			wOff := -weightZeroPoint(tw, u)
			var acc int32
			for i, v := range row {
				acc += (int32(wr[i]) + wOff) * (int32(v) + inOff)
			}
			if bias != nil {
				acc += bias[u]
			}
			m := mults[0]
			if len(mults) > 1 {
				m = mults[u]
			}
			y[b*d.units+u] = int8(quant.Clamp(m.Apply(acc)+outOff, lo, hi))
		}
	}
	return nil
}

func weightZeroPoint(tw *graph.Tensor, unit int) int32 {
	if tw.Quant == nil || len(tw.Quant.ZeroPoint) == 0 {
		return 0
	}
	if len(tw.Quant.ZeroPoint) > 1 {
		return tw.Quant.ZeroPoint[unit]
	}
	return tw.Quant.ZeroPoint[0]
}
