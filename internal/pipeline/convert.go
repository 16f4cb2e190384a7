package pipeline

import "math"

// FullScale is the largest positive 24-bit sample.
const FullScale = 1<<23 - 1

const invFullScale = 1.0 / FullScale

// ToFloat converts a sign-extended 24-bit sample to [-1, 1].
func ToFloat(v int32) float32 {
	return float32(float64(v) * invFullScale)
}

// ToInt converts a float sample to 24 bits, clamping to [-1, 1] and rounding
// half away from zero. ToInt(ToFloat(v)) == v for every v above -2^23.
func ToInt(f float32) int32 {
	switch {
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	case math.IsNaN(float64(f)):
		return 0
	}
	x := float64(f) * FullScale
	if x < 0 {
		return int32(x - 0.5)
	}
	return int32(x + 0.5)
}

// The converters below move one channel between an interleaved hardware
// buffer (stride words per frame, channel at off) and a mono float buffer.

func decodeScalar(dst []float32, src []int32, stride, off int) {
	for i := range dst {
		dst[i] = ToFloat(src[i*stride+off])
	}
}

// decodeVector gathers four frames into a lane array and scales them as one
// batch.
func decodeVector(dst []float32, src []int32, stride, off int) {
	n := len(dst) &^ 3
	j := off
	var lane [4]float64
	for i := 0; i < n; i += 4 {
		lane[0] = float64(src[j])
		lane[1] = float64(src[j+stride])
		lane[2] = float64(src[j+2*stride])
		lane[3] = float64(src[j+3*stride])
		d := (*[4]float32)(dst[i : i+4])
		for k := range lane {
			d[k] = float32(lane[k] * invFullScale)
		}
		j += 4 * stride
	}
	decodeScalar(dst[n:], src[n*stride:], stride, off)
}

func encodeScalar(dst []int32, src []float32, stride, off int) {
	for i, f := range src {
		dst[i*stride+off] = ToInt(f)
	}
}

// encodeVector clamps and rounds four lanes per batch with min, max and
// copysign, so the only branch is one NaN test per batch. A batch holding a
// NaN goes through ToInt.
func encodeVector(dst []int32, src []float32, stride, off int) {
	n := len(src) &^ 3
	j := off
	var lane [4]float64
	for i := 0; i < n; i += 4 {
		s := (*[4]float32)(src[i : i+4])
		if s[0] != s[0] || s[1] != s[1] || s[2] != s[2] || s[3] != s[3] {
			for k, f := range s {
				dst[j+k*stride] = ToInt(f)
			}
			j += 4 * stride
			continue
		}
		for k, f := range s {
			x := float64(min(max(f, -1), 1)) * FullScale
			lane[k] = x + math.Copysign(0.5, x)
		}
		dst[j] = int32(lane[0])
		dst[j+stride] = int32(lane[1])
		dst[j+2*stride] = int32(lane[2])
		dst[j+3*stride] = int32(lane[3])
		j += 4 * stride
	}
	encodeScalar(dst[n*stride:], src[n:], stride, off)
}

func zeroChannel(dst []int32, frames, stride, off int) {
	for i := 0; i < frames; i++ {
		dst[i*stride+off] = 0
	}
}
