package audio

// FetchFunc supplies native-rate samples to a Resampler. It fills dst with up
// to len(dst) samples and returns the number provided; zero means the source
// has no data right now.
type FetchFunc func(dst []float32) int

// fetchChunk is the number of native samples requested per callback.
const fetchChunk = 512

// Resampler adapts a native-rate sample source to a target rate using the
// pull model: output is requested from the resampler, which calls back into
// the source exactly when it needs more input. The conversion itself is a
// linear interpolation between adjacent native samples, which is adequate for
// the integer-ratio broadcast rates this backend converts between.
type Resampler struct {
	ratio  float64 // target rate / native rate
	fetch  FetchFunc
	buf    []float32
	bufPos int
	bufLen int
	last   float32
	frac   float64
	primed bool
}

// NewResampler creates a resampler producing ratio output samples per input
// sample, pulling native samples through fetch.
func NewResampler(ratio float64, fetch FetchFunc) *Resampler {
	return &Resampler{
		ratio: ratio,
		fetch: fetch,
		buf:   make([]float32, fetchChunk),
	}
}

// SetRatio changes the conversion ratio for subsequent reads.
func (r *Resampler) SetRatio(ratio float64) {
	r.ratio = ratio
}

// Read produces up to len(dst) target-rate samples, pulling from the source
// as required, and returns the number produced. A short count means the
// source ran dry; the interpolation state is kept so the stream resumes
// seamlessly on the next call.
func (r *Resampler) Read(dst []float32) int {
	if r.ratio <= 0 {
		return 0
	}
	step := 1.0 / r.ratio
	produced := 0
	for produced < len(dst) {
		if r.bufPos >= r.bufLen {
			r.bufLen = r.fetch(r.buf)
			r.bufPos = 0
			if r.bufLen == 0 {
				break
			}
		}
		next := r.buf[r.bufPos]
		if !r.primed {
			r.last = next
			r.primed = true
			r.bufPos++
			continue
		}
		for r.frac < 1.0 && produced < len(dst) {
			dst[produced] = r.last + float32(r.frac)*(next-r.last)
			produced++
			r.frac += step
		}
		if r.frac >= 1.0 {
			r.frac -= 1.0
			r.last = next
			r.bufPos++
		}
	}
	return produced
}

// Reset clears the interpolation state for a fresh stream segment.
func (r *Resampler) Reset() {
	r.bufPos = 0
	r.bufLen = 0
	r.frac = 0
	r.primed = false
}
