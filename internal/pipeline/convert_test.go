package pipeline

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestToIntRoundTripsEvery24BitValue(t *testing.T) {
	for v := int32(-1 << 23); v < 1<<23; v++ {
		got := ToInt(ToFloat(v))
		if v == -1<<23 {
			if got != -FullScale {
				t.Fatalf("ToInt(ToFloat(%d)) = %d, want %d", v, got, -FullScale)
			}
			continue
		}
		if got != v {
			t.Fatalf("ToInt(ToFloat(%d)) = %d", v, got)
		}
	}
}

func TestToIntIdempotentAfterFirstPass(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 200000 {
		f := r.Float32()*2 - 1
		once := ToFloat(ToInt(f))
		twice := ToFloat(ToInt(once))
		if once != twice {
			t.Fatalf("f=%v: first pass %v, second pass %v", f, once, twice)
		}
	}
}

func TestToIntClamps(t *testing.T) {
	tests := []struct {
		in   float32
		want int32
	}{
		{1, FullScale},
		{1.5, FullScale},
		{float32(math.Inf(1)), FullScale},
		{-1, -FullScale},
		{-7, -FullScale},
		{float32(math.Inf(-1)), -FullScale},
		{float32(math.NaN()), 0},
		{0, 0},
		{0.5, 4194304},
		{-0.5, -4194304},
		{-0.25, -2097152},
	}
	for _, tt := range tests {
		if got := ToInt(tt.in); got != tt.want {
			t.Errorf("ToInt(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestVectorMatchesScalar(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for _, frames := range []int{1, 3, 4, 7, 64, 129} {
		for _, stride := range []int{1, 2, 3} {
			src := make([]int32, frames*stride)
			for i := range src {
				src[i] = r.Int32N(1<<24) - 1<<23
			}
			for off := 0; off < stride; off++ {
				a := make([]float32, frames)
				b := make([]float32, frames)
				decodeScalar(a, src, stride, off)
				decodeVector(b, src, stride, off)
				for i := range a {
					if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
						t.Fatalf("decode frames=%d stride=%d off=%d: [%d] %v != %v", frames, stride, off, i, a[i], b[i])
					}
				}

				floats := make([]float32, frames)
				for i := range floats {
					floats[i] = r.Float32()*2.2 - 1.1
				}
				x := make([]int32, frames*stride)
				y := make([]int32, frames*stride)
				encodeScalar(x, floats, stride, off)
				encodeVector(y, floats, stride, off)
				for i := range x {
					if x[i] != y[i] {
						t.Fatalf("encode frames=%d stride=%d off=%d: [%d] %d != %d", frames, stride, off, i, x[i], y[i])
					}
				}
			}
		}
	}
}

func TestEncodeVectorSpecialValues(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	negZero := float32(math.Copysign(0, -1))
	tests := []struct {
		name string
		src  []float32
	}{
		{"nan in batch", []float32{0.5, nan, -0.5, 1}},
		{"infinities", []float32{inf, -inf, 2, -2}},
		{"negative zero", []float32{negZero, 0, negZero, 1e-9}},
		{"rounding edges", []float32{0.5 / FullScale, -0.5 / FullScale, 1.5 / FullScale, -1.5 / FullScale}},
		{"nan in tail", []float32{0.1, 0.2, 0.3, 0.4, nan, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := make([]int32, len(tt.src))
			got := make([]int32, len(tt.src))
			encodeScalar(want, tt.src, 1, 0)
			encodeVector(got, tt.src, 1, 0)
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("[%d] %v: vector %d, scalar %d", i, tt.src[i], got[i], want[i])
				}
			}
		})
	}
}

func benchmarkConverters(b *testing.B, vector bool) {
	const frames, stride = 256, 2
	r := rand.New(rand.NewPCG(5, 6))
	hw := make([]int32, frames*stride)
	for i := range hw {
		hw[i] = r.Int32N(1<<24) - 1<<23
	}
	mono := make([]float32, frames)
	b.SetBytes(frames * 4)
	b.ResetTimer()
	for range b.N {
		if vector {
			decodeVector(mono, hw, stride, 0)
			encodeVector(hw, mono, stride, 1)
		} else {
			decodeScalar(mono, hw, stride, 0)
			encodeScalar(hw, mono, stride, 1)
		}
	}
}

func BenchmarkConvertScalar(b *testing.B) { benchmarkConverters(b, false) }
func BenchmarkConvertVector(b *testing.B) { benchmarkConverters(b, true) }
