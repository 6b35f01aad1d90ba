package kernels

import (
	"github.com/born-ml/micrort/internal/broadcast"
	"github.com/born-ml/micrort/internal/shape"
	"github.com/born-ml/micrort/internal/status"
)

// broadcastOutput returns the number of output elements of a binary
// elementwise op over sa and sb.
func broadcastOutput(sa, sb shape.Shape) (int, error) {
	rank := max(sa.Size(), sb.Size())
	out, err := shape.Broadcast(sa.Extend(rank, 1), sb.Extend(rank, 1))
	if err != nil {
		return 0, status.Wrapf(status.Unknown, err, "broadcast %s with %s", sa, sb)
	}
	return out.ElementCount(), nil
}

// apply evaluates fn over every output element of a binary elementwise op,
// using the cheapest loop the broadcast category allows. rank is the
// canonical depth of the generic path.
func apply[T, U any](sa, sb shape.Shape, a, b []T, out []U, rank int, fn func(x, y T) U) error {
	if len(out) == 0 {
		return nil
	}
	p := broadcast.Classify(sa, sb)
	switch p.Category {
	case broadcast.None:
		for i := range out {
			out[i] = fn(a[i], b[i])
		}
	case broadcast.FirstScalar:
		x := a[0]
		for i := range out {
			out[i] = fn(x, b[i])
		}
	case broadcast.SecondScalar:
		y := b[0]
		for i := range out {
			out[i] = fn(a[i], y)
		}
	case broadcast.FirstFast, broadcast.SecondFast:
		broadcast.Fivefold(p, func(aOff, bOff, outOff, n int) {
			for j := 0; j < n; j++ {
				out[outOff+j] = fn(a[aOff+j], b[bOff+j])
			}
		})
	default:
		rank = max(rank, sa.Size(), sb.Size())
		if rank > broadcast.MaxRank {
			return status.Unknownf("broadcast of rank %d exceeds %d", rank, broadcast.MaxRank)
		}
		da, db, os, err := broadcast.Resolve(sa, sb, rank)
		if err != nil {
			return status.Wrapf(status.Unknown, err, "broadcast %s with %s", sa, sb)
		}
		broadcast.ForEach(&da, &db, os, func(o, ia, ib int) {
			out[o] = fn(a[ia], b[ib])
		})
	}
	return nil
}
