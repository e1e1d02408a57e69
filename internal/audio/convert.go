package audio

import "math"

// Deinterleave splits interleaved stereo frames into left and right planes.
// All three slices must hold at least frames elements (src holds 2*frames).
func Deinterleave(src []float32, left, right []float32, frames int) {
	for i := 0; i < frames; i++ {
		left[i] = src[2*i]
		right[i] = src[2*i+1]
	}
}

// Interleave merges left and right planes into interleaved stereo frames.
func Interleave(left, right []float32, dst []float32, frames int) {
	for i := 0; i < frames; i++ {
		dst[2*i] = left[i]
		dst[2*i+1] = right[i]
	}
}

// Downmix sums stereo planes into a mono buffer at half gain.
func Downmix(left, right []float32, dst []float32, frames int) {
	for i := 0; i < frames; i++ {
		dst[i] = (left[i] + right[i]) * 0.5
	}
}

// FloatToS16 converts a float32 sample in [-1,1] to a clamped 16-bit value.
func FloatToS16(s float32) int {
	v := float64(s) * 32767.0
	if v > math.MaxInt16 {
		v = math.MaxInt16
	} else if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int(int16(v))
}

// FloatToInt24 converts a float32 sample in [-1,1] to a clamped 24-bit value.
func FloatToInt24(s float32) int {
	const max24 = 1<<23 - 1
	const min24 = -(1 << 23)
	v := float64(s) * max24
	if v > max24 {
		v = max24
	} else if v < min24 {
		v = min24
	}
	return int(int32(v))
}
