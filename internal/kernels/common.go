// Package kernels holds the reference forward and backward kernels. Every
// kernel implements kernel.Func and reads its operands from the binding it
// is handed; none of them allocate tensor buffers.
package kernels

import (
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/shape"
	"github.com/born-ml/micrort/internal/status"
)

// operands checks that the first nIn inputs are present and that there are
// at least nOut outputs.
func operands(c *kernel.Context, nIn, nOut int) error {
	k := c.Kernel
	if k.NumInputs < nIn {
		return status.Unknownf("%s: %d inputs, want %d", c.Op.Code, k.NumInputs, nIn)
	}
	for i := 0; i < nIn; i++ {
		if k.Inputs[i] == nil {
			return status.Unknownf("%s: required input %d is absent", c.Op.Code, i)
		}
	}
	if k.NumOutputs < nOut {
		return status.Unknownf("%s: %d outputs, want %d", c.Op.Code, k.NumOutputs, nOut)
	}
	return nil
}

func shapeOf(t *graph.Tensor) (shape.Shape, error) {
	s, err := t.RuntimeShape()
	if err != nil {
		return shape.Shape{}, status.Wrapf(status.Unknown, err, "tensor %s", t.Name)
	}
	return s, nil
}

func sameType(c *kernel.Context, ts ...*graph.Tensor) error {
	for _, t := range ts[1:] {
		if t.DType != ts[0].DType {
			return status.Errorf(status.UnsupportedType, "%s: mixed element types %s and %s", c.Op.Code, ts[0].DType, t.DType)
		}
	}
	return nil
}

func unsupportedType(c *kernel.Context, dt graph.DType) error {
	return status.Errorf(status.UnsupportedType, "%s: element type %s", c.Op.Code, dt)
}

func clampf(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

// checkLen verifies that a buffer holds exactly n elements of dt.
func checkLen(c *kernel.Context, what string, buf []byte, n int, dt graph.DType) error {
	if len(buf) != n*dt.Size() {
		return status.Unknownf("%s: %s buffer holds %d bytes, want %d", c.Op.Code, what, len(buf), n*dt.Size())
	}
	return nil
}
