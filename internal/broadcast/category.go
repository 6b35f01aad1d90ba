package broadcast

import "github.com/born-ml/micrort/internal/shape"

// Category picks the loop shape an elementwise kernel should use.
type Category int

// Broadcast categories, cheapest first.
const (
	// None: identical shapes, one flat loop.
	None Category = iota
	// FirstScalar: the first operand holds a single element.
	FirstScalar
	// SecondScalar: the second operand holds a single element.
	SecondScalar
	// FirstFast: the first operand broadcasts in a way the five-nested loop
	// handles.
	FirstFast
	// SecondFast: same as FirstFast with the roles swapped.
	SecondFast
	// Generic: per-element descriptor indexing.
	Generic
)

func (c Category) String() string {
	switch c {
	case None:
		return "none"
	case FirstScalar:
		return "first-scalar"
	case SecondScalar:
		return "second-scalar"
	case FirstFast:
		return "first-fast"
	case SecondFast:
		return "second-fast"
	case Generic:
		return "generic"
	default:
		return "unknown"
	}
}

// Params is the result of classifying two operand shapes.
//
// For the fast categories Shape holds the collapsed five-level loop
// extents [y0, y1, y2, y3, y4]: the fast-broadcasting operand repeats over
// y3, the other one over y1, and y4 is the contiguous inner run.
type Params struct {
	Category Category
	Shape    [5]int
}

// Classify inspects the operand shapes. It does not check compatibility;
// run Resolve or shape.Broadcast first.
func Classify(a, b shape.Shape) Params {
	p := Params{Category: Generic, Shape: [5]int{1, 1, 1, 1, 1}}

	rank := max(a.Size(), b.Size())
	ea := a.Extend(rank, 1)
	eb := b.Extend(rank, 1)
	if ea.Equal(eb) {
		p.Category = None
		return p
	}
	if a.ElementCount() == 1 {
		p.Category = FirstScalar
		return p
	}
	if b.ElementCount() == 1 {
		p.Category = SecondScalar
		return p
	}

	for i := rank - 1; i >= 0; i-- {
		if ea.Dim(i) == eb.Dim(i) {
			continue
		}
		switch {
		case ea.Dim(i) == 1:
			p.Category = FirstFast
		case eb.Dim(i) == 1:
			p.Category = SecondFast
		default:
			return p
		}
		break
	}
	if p.Category != FirstFast && p.Category != SecondFast {
		return p
	}

	sa, sb := ea, eb
	if p.Category == SecondFast {
		sa, sb = eb, ea
	}

	i := rank - 1
	// The innermost block is greedy: equal extents, including shared ones.
	for i >= 0 && sa.Dim(i) == sb.Dim(i) {
		p.Shape[4] *= sb.Dim(i)
		i--
	}
	for i >= 0 && sa.Dim(i) == 1 {
		p.Shape[3] *= sb.Dim(i)
		i--
	}
	for i >= 0 && sa.Dim(i) == sb.Dim(i) {
		p.Shape[2] *= sa.Dim(i)
		i--
	}
	for i >= 0 && sb.Dim(i) == 1 {
		p.Shape[1] *= sa.Dim(i)
		i--
	}
	for i >= 0 && sa.Dim(i) == sb.Dim(i) {
		p.Shape[0] *= sb.Dim(i)
		i--
	}
	if i >= 0 {
		p.Category = Generic
	}
	return p
}

// Fivefold walks the collapsed loop of a fast category and calls fn once per
// contiguous run of n elements. aOff and bOff are offsets into the first and
// second operand as passed to Classify, whichever one broadcasts.
func Fivefold(p Params, fn func(aOff, bOff, outOff, n int)) {
	y0, y1, y2, y3, y4 := p.Shape[0], p.Shape[1], p.Shape[2], p.Shape[3], p.Shape[4]
	swap := p.Category == SecondFast

	fastOff, otherOff, otherReset, outOff := 0, 0, 0, 0
	for i0 := 0; i0 < y0; i0++ {
		for i1 := 0; i1 < y1; i1++ {
			otherOff = otherReset
			for i2 := 0; i2 < y2; i2++ {
				for i3 := 0; i3 < y3; i3++ {
					if swap {
						fn(otherOff, fastOff, outOff, y4)
					} else {
						fn(fastOff, otherOff, outOff, y4)
					}
					otherOff += y4
					outOff += y4
				}
				fastOff += y4
			}
		}
		otherReset = otherOff
	}
}
