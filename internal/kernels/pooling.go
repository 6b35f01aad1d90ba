package kernels

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
	"github.com/born-ml/micrort/internal/status"
)

type poolGeom struct {
	batch, inH, inW, depth int
	outH, outW             int
	filterH, filterW       int
	strideH, strideW       int
	padH, padW             int
}

// computePadding returns the leading padding of one spatial axis.
func computePadding(padding graph.Padding, in, filter, stride, out int) int {
	if padding != graph.PaddingSame {
		return 0
	}
	return max(0, ((out-1)*stride+filter-in)/2)
}

func poolGeometry(c *kernel.Context, ti, to *graph.Tensor) (poolGeom, error) {
	opt := c.Op.Options
	if len(ti.Shape) != 4 || len(to.Shape) != 4 {
		return poolGeom{}, status.Unknownf("%s: want NHWC tensors, got %v -> %v", c.Op.Code, ti.Shape, to.Shape)
	}
	if opt.StrideHeight <= 0 || opt.StrideWidth <= 0 || opt.FilterHeight <= 0 || opt.FilterWidth <= 0 {
		return poolGeom{}, status.Unknownf("%s: filter %dx%d stride %dx%d", c.Op.Code, opt.FilterHeight, opt.FilterWidth, opt.StrideHeight, opt.StrideWidth)
	}
	g := poolGeom{
		batch: ti.Shape[0], inH: ti.Shape[1], inW: ti.Shape[2], depth: ti.Shape[3],
		outH: to.Shape[1], outW: to.Shape[2],
		filterH: opt.FilterHeight, filterW: opt.FilterWidth,
		strideH: opt.StrideHeight, strideW: opt.StrideWidth,
	}
	if to.Shape[0] != g.batch || to.Shape[3] != g.depth {
		return poolGeom{}, status.Unknownf("%s: output %v does not match input %v", c.Op.Code, to.Shape, ti.Shape)
	}
	g.padH = computePadding(opt.Padding, g.inH, g.filterH, g.strideH, g.outH)
	g.padW = computePadding(opt.Padding, g.inW, g.filterW, g.strideW, g.outW)
	return g, nil
}

// window calls fn for every output position with the clipped filter window.
// A window that covers no input element fails the run.
func (g *poolGeom) window(c *kernel.Context, fn func(b, oy, ox, y0, y1, x0, x1 int)) error {
	for b := 0; b < g.batch; b++ {
		for oy := 0; oy < g.outH; oy++ {
			for ox := 0; ox < g.outW; ox++ {
				originY := oy*g.strideH - g.padH
				originX := ox*g.strideW - g.padW
				y0, y1 := max(0, originY), min(g.inH, originY+g.filterH)
				x0, x1 := max(0, originX), min(g.inW, originX+g.filterW)
				if y1 <= y0 || x1 <= x0 {
					return status.Errorf(status.FailedCheckCondition, "%s: empty pooling window at (%d, %d)", c.Op.Code, oy, ox)
				}
				fn(b, oy, ox, y0, y1, x0, x1)
			}
		}
	}
	return nil
}

// AveragePool2D averages NHWC windows. Padded positions do not count
// toward the divisor.
func AveragePool2D(c *kernel.Context) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if err := sameType(c, ti, to); err != nil {
		return err
	}
	g, err := poolGeometry(c, ti, to)
	if err != nil {
		return err
	}
	if err := checkLen(c, "output", out, to.ElementCount(), to.DType); err != nil {
		return err
	}
	if to.ElementCount() == 0 {
		return nil
	}
	act := c.Op.Options.Activation
	at := func(b, y, x int) int { return ((b*g.inH+y)*g.inW + x) * g.depth }
	outAt := func(b, y, x int) int { return ((b*g.outH+y)*g.outW + x) * g.depth }

	switch to.DType {
	case graph.Float32:
		lo, hi, err := quant.CalculateActivationRange(act)
		if err != nil {
			return err
		}
		x, y := kernel.Float32s(in), kernel.Float32s(out)
		return g.window(c, func(b, oy, ox, y0, y1, x0, x1 int) {
			count := float32((y1 - y0) * (x1 - x0))
			base := outAt(b, oy, ox)
			for ch := 0; ch < g.depth; ch++ {
				var sum float32
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						sum += x[at(b, iy, ix)+ch]
					}
				}
				y[base+ch] = clampf(sum/count, lo, hi)
			}
		})

	case graph.Int8:
		lo, hi, err := quant.CalculateActivationRangeQuantized(act, to.ZeroPoint(), to.Scale(), to.DType)
		if err != nil {
			return err
		}
		x, y := kernel.Int8s(in), kernel.Int8s(out)
		return g.window(c, func(b, oy, ox, y0, y1, x0, x1 int) {
			count := int32((y1 - y0) * (x1 - x0))
			base := outAt(b, oy, ox)
			for ch := 0; ch < g.depth; ch++ {
				var acc int32
				for iy := y0; iy < y1; iy++ {
					for ix := x0; ix < x1; ix++ {
						acc += int32(x[at(b, iy, ix)+ch])
					}
				}
				// Round half away from zero.
				if acc > 0 {
					acc = (acc + count/2) / count
				} else {
					acc = (acc - count/2) / count
				}
				y[base+ch] = int8(quant.Clamp(acc, lo, hi))
			}
		})

	default:
		return unsupportedType(c, to.DType)
	}
}
