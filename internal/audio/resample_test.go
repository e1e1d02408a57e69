package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceFetcher returns a FetchFunc draining the given samples.
func sliceFetcher(samples []float32) FetchFunc {
	pos := 0
	return func(dst []float32) int {
		n := copy(dst, samples[pos:])
		pos += n
		return n
	}
}

func TestResamplerUnityRatioPassesThrough(t *testing.T) {
	t.Parallel()

	src := []float32{0, 0.1, 0.2, 0.3, 0.4, 0.5}
	r := NewResampler(1.0, sliceFetcher(src))

	dst := make([]float32, 10)
	n := r.Read(dst)
	// one sample is consumed priming the interpolator
	require.Equal(t, len(src)-1, n)
	for i := 0; i < n; i++ {
		assert.InDelta(t, src[i], dst[i], 1e-6)
	}
}

func TestResamplerUpsampleDoublesCount(t *testing.T) {
	t.Parallel()

	src := make([]float32, 101)
	for i := range src {
		src[i] = float32(i)
	}
	r := NewResampler(2.0, sliceFetcher(src))

	dst := make([]float32, 400)
	n := r.Read(dst)
	assert.InDelta(t, 200, n, 2)

	// linear ramp must stay a ramp after interpolation
	for i := 1; i < n; i++ {
		assert.InDelta(t, 0.5, dst[i]-dst[i-1], 1e-4)
	}
}

func TestResamplerDownsampleHalvesCount(t *testing.T) {
	t.Parallel()

	src := make([]float32, 200)
	for i := range src {
		src[i] = float32(i)
	}
	r := NewResampler(0.5, sliceFetcher(src))

	dst := make([]float32, 400)
	n := r.Read(dst)
	assert.InDelta(t, 100, n, 2)
}

func TestResamplerDrySourceReturnsZero(t *testing.T) {
	t.Parallel()

	r := NewResampler(2.0, func(dst []float32) int { return 0 })
	dst := make([]float32, 8)
	assert.Equal(t, 0, r.Read(dst))
}

func TestDeinterleaveInterleaveRoundTrip(t *testing.T) {
	t.Parallel()

	frames := 64
	inter := make([]float32, frames*2)
	for i := range inter {
		inter[i] = float32(i)
	}
	l := make([]float32, frames)
	rch := make([]float32, frames)
	Deinterleave(inter, l, rch, frames)
	assert.Equal(t, float32(0), l[0])
	assert.Equal(t, float32(1), rch[0])

	back := make([]float32, frames*2)
	Interleave(l, rch, back, frames)
	assert.Equal(t, inter, back)
}

func TestDownmixAverages(t *testing.T) {
	t.Parallel()

	l := []float32{1, 0, -1}
	r := []float32{0, 0, -1}
	dst := make([]float32, 3)
	Downmix(l, r, dst, 3)
	assert.Equal(t, []float32{0.5, 0, -1}, dst)
}
