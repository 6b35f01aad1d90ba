package kernels

import (
	"github.com/born-ml/micrort/internal/broadcast"
	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/kernel"
	"github.com/born-ml/micrort/internal/status"
)

// Backward kernels run in training mode after the forward pass. They are
// float32 only.

func requireFloat(c *kernel.Context) error {
	k := c.Kernel
	for i := 0; i < k.NumInputs; i++ {
		if t := k.Inputs[i]; t != nil && t.DType != graph.Float32 {
			return unsupportedType(c, t.DType)
		}
	}
	for i := 0; i < k.NumOutputs; i++ {
		if t := k.Outputs[i]; t.DType != graph.Float32 {
			return unsupportedType(c, t.DType)
		}
	}
	return nil
}

// ReluGrad computes dx = dy where x > 0, else 0.
// Inputs: upstream gradient dy, forward input x. Output: dx. May run in
// place over dy.
func ReluGrad(c *kernel.Context) error {
	if err := operands(c, 2, 1); err != nil {
		return err
	}
	if err := requireFloat(c); err != nil {
		return err
	}
	_, dyBuf := c.Kernel.Input(0)
	tx, xBuf := c.Kernel.Input(1)
	_, dxBuf := c.Kernel.Output(0)
	n := tx.ElementCount()
	for _, b := range [][]byte{dyBuf, dxBuf} {
		if err := checkLen(c, "gradient", b, n, graph.Float32); err != nil {
			return err
		}
	}

	dy, x, dx := kernel.Float32s(dyBuf), kernel.Float32s(xBuf), kernel.Float32s(dxBuf)
	for i := 0; i < n; i++ {
		if x[i] > 0 {
			dx[i] = dy[i]
		} else {
			dx[i] = 0
		}
	}
	return nil
}

// MulGrad computes the gradients of out = a * b.
// Inputs: dy, a, b. Outputs: da, db, each reduced over the dimensions its
// operand was broadcast along.
func MulGrad(c *kernel.Context) error {
	if err := operands(c, 3, 2); err != nil {
		return err
	}
	if err := requireFloat(c); err != nil {
		return err
	}
	k := c.Kernel
	tdy, dyBuf := k.Input(0)
	ta, aBuf := k.Input(1)
	tb, bBuf := k.Input(2)
	_, daBuf := k.Output(0)
	_, dbBuf := k.Output(1)

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
	if err := checkLen(c, "upstream gradient", dyBuf, n, tdy.DType); err != nil {
		return err
	}
	if err := checkLen(c, "first gradient", daBuf, ta.ElementCount(), graph.Float32); err != nil {
		return err
	}
	if err := checkLen(c, "second gradient", dbBuf, tb.ElementCount(), graph.Float32); err != nil {
		return err
	}

	rank := max(broadcast.FloatRank, sa.Size(), sb.Size())
	if rank > broadcast.MaxRank {
		return status.Unknownf("%s: rank %d exceeds %d", c.Op.Code, rank, broadcast.MaxRank)
	}
	desA, desB, os, err := broadcast.Resolve(sa, sb, rank)
	if err != nil {
		return status.Wrapf(status.Unknown, err, "%s", c.Op.Code)
	}

	dy, a, b := kernel.Float32s(dyBuf), kernel.Float32s(aBuf), kernel.Float32s(bBuf)
	da, db := kernel.Float32s(daBuf), kernel.Float32s(dbBuf)
	clear(da)
	clear(db)
	// Broadcast dimensions have stride 0, so repeated offsets accumulate the
	// reduction.
	broadcast.ForEach(&desA, &desB, os, func(o, ia, ib int) {
		da[ia] += dy[o] * b[ib]
		db[ib] += dy[o] * a[ia]
	})
	return nil
}

// FullyConnectedGrad computes the gradients of out = x W^T + bias.
// Inputs: dy [batch, units], x [batch, depth], W [units, depth].
// Outputs: dx, dW and, when declared, dbias.
func FullyConnectedGrad(c *kernel.Context) error {
	if err := operands(c, 3, 2); err != nil {
		return err
	}
	if err := requireFloat(c); err != nil {
		return err
	}
	k := c.Kernel
	tdy, dyBuf := k.Input(0)
	tx, xBuf := k.Input(1)
	tw, wBuf := k.Input(2)
	_, dxBuf := k.Output(0)
	_, dwBuf := k.Output(1)
	tdb, dbBuf := k.Output(2)

	d, err := fullyConnectedDims(c, tx, tw, tdb, tdy)
	if err != nil {
		return err
	}
	if err := checkLen(c, "input gradient", dxBuf, d.batch*d.depth, graph.Float32); err != nil {
		return err
	}
	if err := checkLen(c, "weight gradient", dwBuf, d.units*d.depth, graph.Float32); err != nil {
		return err
	}

	dy, x, w := kernel.Float32s(dyBuf), kernel.Float32s(xBuf), kernel.Float32s(wBuf)
	dx, dw, db := kernel.Float32s(dxBuf), kernel.Float32s(dwBuf), kernel.Float32s(dbBuf)
	clear(dx)
	clear(dw)
	clear(db)

	for b := 0; b < d.batch; b++ {
		xr := x[b*d.depth : (b+1)*d.depth]
		dxr := dx[b*d.depth : (b+1)*d.depth]
		for u := 0; u < d.units; u++ {
			g := dy[b*d.units+u]
			if db != nil {
				db[u] += g
			}
			wr := w[u*d.depth : (u+1)*d.depth]
			dwr := dw[u*d.depth : (u+1)*d.depth]
			for i := range xr {
				dxr[i] += g * wr[i]
				dwr[i] += g * xr[i]
			}
		}
	}
	return nil
}
