package codec

import (
	"fmt"
	"math"
)

// quantMargin widens the quantized range on both sides so values slightly
// outside the nominal range still fit.
const quantMargin = 0.05

// Quantizer maps float32 values in a range onto the full uint16 range.
type Quantizer struct {
	Min, Max float32
	scale    float32
	offset   float32
}

// NewQuantizer returns a quantizer for values in [lo, hi], widened by 5%
// of the range on each side.
func NewQuantizer(lo, hi float32) (Quantizer, error) {
	if !(hi > lo) || math.IsInf(float64(hi-lo), 0) {
		return Quantizer{}, fmt.Errorf("codec: invalid quantizer range [%v, %v]", lo, hi)
	}
	safety := (hi - lo) * quantMargin
	return RangeQuantizer(lo-safety, hi+safety), nil
}

// RangeQuantizer returns a quantizer spanning exactly [lo, hi], as sent
// to stream clients. hi must be greater than lo.
func RangeQuantizer(lo, hi float32) Quantizer {
	q := Quantizer{Min: lo, Max: hi}
	q.scale = math.MaxUint16 / (hi - lo)
	q.offset = 0.5 - lo*q.scale
	return q
}

// Quantize converts src into dst, clamping out-of-range values.
func (q Quantizer) Quantize(dst []uint16, src []float32) {
	for i, v := range src {
		f := v*q.scale + q.offset
		switch {
		case f <= 0 || math.IsNaN(float64(f)):
			dst[i] = 0
		case f >= math.MaxUint16:
			dst[i] = math.MaxUint16
		default:
			dst[i] = uint16(f)
		}
	}
}

// Dequantize converts src back to values in [Min, Max].
func (q Quantizer) Dequantize(dst []float32, src []uint16) {
	for i, v := range src {
		dst[i] = float32(v)/q.scale + q.Min
	}
}

// Step returns the value difference between adjacent quantized levels.
func (q Quantizer) Step() float32 { return 1 / q.scale }
