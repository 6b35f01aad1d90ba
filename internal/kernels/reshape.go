package kernels

import (
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
)

// Reshape reinterprets its input under the output's shape. Bound in place
// it does nothing; otherwise it copies the bytes. The optional second input
// (a shape tensor) and the NewShape option are informational: the output
// descriptor is authoritative.
func Reshape(c *kernel.Context) error {
	if err := operands(c, 1, 1); err != nil {
		return err
	}
	ti, in := c.Kernel.Input(0)
	to, out := c.Kernel.Output(0)
	if ti.DType != to.DType {
		return status.Errorf(status.UnsupportedType, "%s: cannot change element type %s to %s", c.Op.Code, ti.DType, to.DType)
	}
	if ti.ElementCount() != to.ElementCount() {
		return status.Unknownf("%s: %v holds %d elements, %v holds %d", c.Op.Code, ti.Shape, ti.ElementCount(), to.Shape, to.ElementCount())
	}
	if ns := c.Op.Options.NewShape; len(ns) > 0 {
		n := 1
		for _, d := range ns {
			n *= d
		}
		if n != to.ElementCount() {
			return status.Unknownf("%s: new shape %v does not match output %v", c.Op.Code, ns, to.Shape)
		}
	}
	if c.Kernel.Inplace {
		return nil
	}
	if len(out) != len(in) {
		return status.Unknownf("%s: input holds %d bytes, output %d", c.Op.Code, len(in), len(out))
	}
	copy(out, in)
	return nil
}
