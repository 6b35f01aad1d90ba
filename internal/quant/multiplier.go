// Package quant implements the fixed-point arithmetic shared by quantized
// kernels: decomposition of real scale factors into (significand, shift)
// multipliers, the matching integer rescaling, and activation clamp ranges.
package quant

import (
	"math"

	"github.com/born-ml/micrort/internal/status"
)

// QuantizeMultiplier decomposes m into a Q31 significand and a power-of-two
// exponent so that m ≈ significand * 2^(shift-31), with the significand in
// [2^30, 2^31) for m > 0.
func QuantizeMultiplier(m float64) (significand int32, shift int) {
	if m == 0 {
		return 0, 0
	}
	q, e := math.Frexp(m)
	// math.Round rounds half away from zero.
	qFixed := int64(math.Round(q * (1 << 31)))
	if qFixed == 1<<31 {
		qFixed /= 2
		e++
	}
	// Values this small flush to zero.
	if e < -31 {
		return 0, 0
	}
	if e > 30 {
		return math.MaxInt32, 30
	}
	return int32(qFixed), e
}

// QuantizeMultiplierSmallerThanOneExp is QuantizeMultiplier for m in [0, 1).
// It returns the exponent negated, as a non-negative right shift.
func QuantizeMultiplierSmallerThanOneExp(m float64) (significand int32, rightShift int, err error) {
	if m < 0 || m >= 1 || math.IsNaN(m) {
		return 0, 0, status.Unknownf("multiplier %g not in [0, 1)", m)
	}
	sig, shift := QuantizeMultiplier(m)
	if shift > 0 {
		return 0, 0, status.Unknownf("multiplier %g produced left shift %d", m, shift)
	}
	return sig, -shift, nil
}

// QuantizeMultiplierGreaterThanOne is QuantizeMultiplier for m > 1. The
// returned shift is a non-negative left shift.
func QuantizeMultiplierGreaterThanOne(m float64) (significand int32, leftShift int, err error) {
	if !(m > 1) {
		return 0, 0, status.Unknownf("multiplier %g not greater than one", m)
	}
	sig, shift := QuantizeMultiplier(m)
	if shift < 0 {
		return 0, 0, status.Unknownf("multiplier %g produced right shift %d", m, -shift)
	}
	return sig, shift, nil
}

// SaturatingRoundingDoublingHighMul returns the high 32 bits of 2*a*b,
// rounded to nearest. The only overflow case, MinInt32*MinInt32, saturates.
func SaturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	return int32((ab + nudge) / (1 << 31))
}

// RoundingDivideByPOT divides x by 2^exponent rounding to nearest, ties away
// from zero.
func RoundingDivideByPOT(x int32, exponent int) int32 {
	if exponent <= 0 {
		return x
	}
	mask := int32(1)<<exponent - 1
	remainder := x & mask
	threshold := mask >> 1
	if x < 0 {
		threshold++
	}
	result := x >> exponent
	if remainder > threshold {
		result++
	}
	return result
}

// MultiplyByQuantizedMultiplier rescales x by the real multiplier encoded as
// (significand, shift) by QuantizeMultiplier.
//
// A positive shift is applied to x first with two's-complement wrap, as in
// the reference kernels. Callers keep |x| below 1<<(31-shift).
func MultiplyByQuantizedMultiplier(x, significand int32, shift int) int32 {
	leftShift, rightShift := 0, 0
	if shift > 0 {
		leftShift = shift
	} else {
		rightShift = -shift
	}
	return RoundingDivideByPOT(SaturatingRoundingDoublingHighMul(x*(int32(1)<<leftShift), significand), rightShift)
}

// Multiplier is a quantized real factor.
type Multiplier struct {
	Significand int32
	Shift       int
}

// NewMultiplier quantizes m.
func NewMultiplier(m float64) Multiplier {
	sig, shift := QuantizeMultiplier(m)
	return Multiplier{Significand: sig, Shift: shift}
}

// Apply rescales x.
func (m Multiplier) Apply(x int32) int32 {
	return MultiplyByQuantizedMultiplier(x, m.Significand, m.Shift)
}

// Real returns the factor m encodes.
func (m Multiplier) Real() float64 {
	return float64(m.Significand) * math.Ldexp(1, m.Shift-31)
}

// ChannelMultipliers computes one multiplier per output channel for a
// per-channel quantized weight tensor: inputScale*filterScale[c]/outputScale.
func ChannelMultipliers(inputScale float32, filterScales []float32, outputScale float32) ([]Multiplier, error) {
	if outputScale == 0 {
		return nil, status.Unknownf("output scale is zero")
	}
	out := make([]Multiplier, len(filterScales))
	for c, fs := range filterScales {
		out[c] = NewMultiplier(float64(inputScale) * float64(fs) / float64(outputScale))
	}
	return out, nil
}
