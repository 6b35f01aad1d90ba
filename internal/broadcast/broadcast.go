// Package broadcast resolves two operand shapes into per-dimension stride
// descriptors for elementwise kernels and classifies the operation into the
// cheapest applicable loop shape.
package broadcast

import (
	"fmt"

	"github.com/born-ml/micrort/internal/shape"
)

// MaxRank is the widest canonical interpretation depth (quantized ops).
const MaxRank = 5

// Canonical ranks.
const (
	FloatRank     = 4
	QuantizedRank = 5
)

// Desc describes how one operand is indexed while iterating the output.
// A broadcast dimension has Stride 0 and the output's extent.
type Desc struct {
	Rank    int
	Extents [MaxRank]int
	Strides [MaxRank]int
}

// Offset returns the flat element offset of the operand for output
// subscript idx.
func (d *Desc) Offset(idx *[MaxRank]int) int {
	off := 0
	for i := 0; i < d.Rank; i++ {
		off += idx[i] * d.Strides[i]
	}
	return off
}

// newDesc builds the natural row-major descriptor of s, already extended to
// rank.
func newDesc(s shape.Shape, rank int) Desc {
	d := Desc{Rank: rank}
	stride := 1
	for i := rank - 1; i >= 0; i-- {
		d.Extents[i] = s.Dim(i)
		d.Strides[i] = stride
		stride *= s.Dim(i)
	}
	return d
}

// Resolve extends a and b to rank dimensions and returns one descriptor per
// operand together with the broadcast output shape (also of the given rank).
//
// For every dimension where one operand has extent 1 and the other more,
// the unit operand gets stride 0 and takes the other operand's extent.
// A zero-sized output is valid; callers must check out.ElementCount() and
// skip the loop.
func Resolve(a, b shape.Shape, rank int) (Desc, Desc, shape.Shape, error) {
	if rank < 1 || rank > MaxRank {
		return Desc{}, Desc{}, shape.Shape{}, fmt.Errorf("broadcast rank %d out of range [1, %d]", rank, MaxRank)
	}
	if a.Size() > rank || b.Size() > rank {
		return Desc{}, Desc{}, shape.Shape{}, fmt.Errorf("operand ranks %d and %d exceed broadcast rank %d", a.Size(), b.Size(), rank)
	}
	ea := a.Extend(rank, 1)
	eb := b.Extend(rank, 1)

	out, err := shape.Broadcast(ea, eb)
	if err != nil {
		return Desc{}, Desc{}, shape.Shape{}, err
	}

	da := newDesc(ea, rank)
	db := newDesc(eb, rank)
	for i := 0; i < rank; i++ {
		ext0, ext1 := da.Extents[i], db.Extents[i]
		if ext0 == ext1 {
			continue
		}
		if ext0 == 1 {
			da.Strides[i] = 0
			da.Extents[i] = ext1
		} else {
			db.Strides[i] = 0
			db.Extents[i] = ext0
		}
	}
	return da, db, out, nil
}

// ForEach walks every output element in row-major order and calls fn with
// the flat offsets of the output and of both operands. It does nothing for a
// zero-sized output.
func ForEach(da, db *Desc, out shape.Shape, fn func(outOff, aOff, bOff int)) {
	rank := da.Rank
	if out.Size() != rank || out.ElementCount() == 0 {
		return
	}
	var idx [MaxRank]int
	total := out.ElementCount()
	for n := 0; n < total; n++ {
		fn(n, da.Offset(&idx), db.Offset(&idx))
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < out.Dim(i) {
				break
			}
			idx[i] = 0
		}
	}
}
