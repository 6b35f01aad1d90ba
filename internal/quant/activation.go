package quant

import (
	"math"

	"github.com/born-ml/micrort/internal/graph"
	"github.com/born-ml/micrort/internal/status"
)

// TypeRange returns the representable range of a quantized element type.
func TypeRange(dt graph.DType) (lo, hi int32, err error) {
	switch dt {
	case graph.Int8:
		return math.MinInt8, math.MaxInt8, nil
	case graph.Uint8:
		return 0, math.MaxUint8, nil
	case graph.Int16:
		return math.MinInt16, math.MaxInt16, nil
	case graph.Int32:
		return math.MinInt32, math.MaxInt32, nil
	default:
		return 0, 0, status.Errorf(status.UnsupportedType, "no quantized range for %s", dt)
	}
}

// CalculateActivationRangeQuantized maps a fused activation onto the
// quantized domain of the output tensor, clamped to the type range. ActNone
// yields the full range of dt.
func CalculateActivationRangeQuantized(act graph.Activation, zeroPoint int32, scale float32, dt graph.DType) (lo, hi int32, err error) {
	qmin, qmax, err := TypeRange(dt)
	if err != nil {
		return 0, 0, err
	}
	if act == graph.ActNone {
		return qmin, qmax, nil
	}
	if scale == 0 || math.IsNaN(float64(scale)) || math.IsInf(float64(scale), 0) {
		return 0, 0, status.Unknownf("activation range for scale %g", scale)
	}

	// The bound is clamped in float64 before narrowing so that tiny scales
	// saturate instead of wrapping.
	q := func(f float64) int32 {
		r := float64(zeroPoint) + math.Round(f/float64(scale))
		return int32(min(max(r, float64(qmin)), float64(qmax)))
	}

	switch act {
	case graph.ActRelu:
		return q(0), qmax, nil
	case graph.ActRelu6:
		return q(0), q(6), nil
	case graph.ActReluN1To1:
		return q(-1), q(1), nil
	default:
		return 0, 0, status.Errorf(status.UnsupportedActivation, "quantized activation %s", act)
	}
}

// CalculateActivationRange returns the float clamp bounds of a fused
// activation.
func CalculateActivationRange(act graph.Activation) (lo, hi float32, err error) {
	switch act {
	case graph.ActNone:
		return -math.MaxFloat32, math.MaxFloat32, nil
	case graph.ActRelu:
		return 0, math.MaxFloat32, nil
	case graph.ActRelu6:
		return 0, 6, nil
	case graph.ActReluN1To1:
		return -1, 1, nil
	default:
		return 0, 0, status.Errorf(status.UnsupportedActivation, "float activation %s", act)
	}
}

// Quantize maps v to the quantized domain, rounding half away from zero and
// clamping to the range of dt.
func Quantize(v, scale float32, zeroPoint int32, dt graph.DType) (int32, error) {
	if scale == 0 {
		return 0, status.Unknownf("quantize with zero scale")
	}
	lo, hi, err := TypeRange(dt)
	if err != nil {
		return 0, err
	}
	r := math.Round(float64(v)/float64(scale)) + float64(zeroPoint)
	if r < float64(lo) {
		return lo, nil
	}
	if r > float64(hi) {
		return hi, nil
	}
	return int32(r), nil
}

// Dequantize maps a quantized value back to the real domain.
func Dequantize(q int32, scale float32, zeroPoint int32) float32 {
	return scale * float32(q-zeroPoint)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int32) int32 {
	return min(max(v, lo), hi)
}
