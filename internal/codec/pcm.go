package codec

import (
	"encoding/binary"

	"github.com/aircast/aircast/internal/errors"
)

// pcmFrameSamples is the per-channel frame size of the PCM engine.
const pcmFrameSamples = 1024

// pcmEngine is a deterministic engine producing signed 16-bit little-endian
// interleaved frames behind a tiny self-describing header. It exists so the
// whole pipeline can run and be tested on machines without any codec
// libraries installed; its output is not a broadcast format.
type pcmEngine struct {
	params Params
	frame  []byte
	closed bool
}

// NewPCMEngine opens the deterministic PCM engine.
func NewPCMEngine(p Params) (Engine, error) {
	if p.Channels != 1 && p.Channels != 2 {
		return nil, errors.Newf("pcm engine supports 1 or 2 channels, got %d", p.Channels).
			Component(errors.ComponentCodec).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if p.SampleRate <= 0 {
		return nil, errors.Newf("pcm engine needs a positive sample rate, got %d", p.SampleRate).
			Component(errors.ComponentCodec).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &pcmEngine{
		params: p,
		frame:  make([]byte, pcmFrameSamples*p.Channels*2),
	}, nil
}

func (e *pcmEngine) FrameSamples() int { return pcmFrameSamples }

func (e *pcmEngine) Header() ([]byte, error) {
	h := make([]byte, 12)
	copy(h, "aPCM")
	binary.LittleEndian.PutUint32(h[4:], uint32(e.params.SampleRate))
	binary.LittleEndian.PutUint16(h[8:], uint16(e.params.Channels))
	binary.LittleEndian.PutUint16(h[10:], 16)
	return h, nil
}

func (e *pcmEngine) Encode(left, right []float32) ([]byte, error) {
	if e.closed {
		return nil, errors.NewStd("pcm engine closed")
	}
	n := len(left)
	if n > pcmFrameSamples {
		n = pcmFrameSamples
	}
	if e.params.Channels == 1 {
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(e.frame[i*2:], uint16(clampS16(left[i])))
		}
		return e.frame[:n*2], nil
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(e.frame[i*4:], uint16(clampS16(left[i])))
		binary.LittleEndian.PutUint16(e.frame[i*4+2:], uint16(clampS16(right[i])))
	}
	return e.frame[:n*4], nil
}

func (e *pcmEngine) Flush() ([]byte, error) { return nil, nil }

func (e *pcmEngine) Close() error {
	e.closed = true
	return nil
}

func clampS16(s float32) int16 {
	v := int32(s * 32767)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// RegisterFallbacks registers the PCM engine for every container/codec pair
// that has no real engine, so development builds can exercise the pipeline
// end to end.
func RegisterFallbacks() {
	for fam, kinds := range familyKinds {
		for _, k := range kinds {
			if !Available(fam, k) {
				Register(fam, k, "pcm-fallback", NewPCMEngine)
			}
		}
	}
}
