package kernels

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/quant"
)

// Quantize maps a float32 tensor onto the output's quantized domain.
func Quantize(c *kernel.Context) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if ti.DType != graph.Float32 {
		return unsupportedType(c, ti.DType)
	}
	n := ti.ElementCount()
	if err := checkLen(c, "output", out, n, to.DType); err != nil {
		return err
	}
	x := kernel.Float32s(in)
	scale, zp := to.Scale(), to.ZeroPoint()

	var store func(i int, q int32)
	switch to.DType {
	case graph.Int8:
		y := kernel.Int8s(out)
		store = func(i int, q int32) { y[i] = int8(q) }
	case graph.Uint8:
		store = func(i int, q int32) { out[i] = uint8(q) }
	case graph.Int16:
		y := kernel.Int16s(out)
		store = func(i int, q int32) { y[i] = int16(q) }
	default:
		return unsupportedType(c, to.DType)
	}

	for i := 0; i < n; i++ {
		q, err := quant.Quantize(x[i], scale, zp, to.DType)
		if err != nil {
			return err
		}
		store(i, q)
	}
	return nil
}

// Dequantize maps a quantized tensor back to float32.
func Dequantize(c *kernel.Context) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if to.DType != graph.Float32 {
		return unsupportedType(c, to.DType)
	}
	n := ti.ElementCount()
	if err := checkLen(c, "output", out, n, to.DType); err != nil {
		return err
	}
	y := kernel.Float32s(out)
	scale, zp := ti.Scale(), ti.ZeroPoint()

	var load func(i int) int32
	switch ti.DType {
	case graph.Int8:
		x := kernel.Int8s(in)
		load = func(i int) int32 { return int32(x[i]) }
	case graph.Uint8:
		load = func(i int) int32 { return int32(in[i]) }
	case graph.Int16:
		x := kernel.Int16s(in)
		load = func(i int) int32 { return int32(x[i]) }
	default:
		return unsupportedType(c, ti.DType)
	}

	for i := 0; i < n; i++ {
		y[i] = quant.Dequantize(load(i), scale, zp)
	}
	return nil
}
