// Package audio provides the PCM plumbing shared by the encoder and recorder
// pipelines: single-producer single-consumer float32 ring channels, sample
// format helpers and the pull-model resampler adapter.
package audio

import (
	"encoding/binary"
	"math"

	"github.com/smallnest/ringbuffer"
)

const bytesPerSample = 4 // float32 little-endian

// RingChannel is a byte ring buffer carrying float32 PCM samples between one
// producer and one consumer. Writes and reads never block: both transfer as
// many whole samples as currently fit and report the count. The producer and
// consumer sides keep separate scratch buffers so a write on the real-time
// thread never races a concurrent read.
type RingChannel struct {
	rb       *ringbuffer.RingBuffer
	wscratch []byte
	rscratch []byte
}

// NewRingChannel creates a channel able to hold capacity samples.
func NewRingChannel(capacity int) *RingChannel {
	return &RingChannel{
		rb:       ringbuffer.New(capacity * bytesPerSample),
		wscratch: make([]byte, 4096*bytesPerSample),
		rscratch: make([]byte, 4096*bytesPerSample),
	}
}

// WriteFloats copies as many samples from src as fit and returns the number
// of samples written. It never blocks; callers on the real-time path treat a
// short write as dropped data.
func (c *RingChannel) WriteFloats(src []float32) int {
	free := c.rb.Free() / bytesPerSample
	if free < len(src) {
		src = src[:free]
	}
	written := 0
	for written < len(src) {
		n := len(src) - written
		if n > len(c.wscratch)/bytesPerSample {
			n = len(c.wscratch) / bytesPerSample
		}
		buf := c.wscratch[:n*bytesPerSample]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(src[written+i]))
		}
		if _, err := c.rb.Write(buf); err != nil {
			break
		}
		written += n
	}
	return written
}

// ReadFloats fills dst with available samples and returns the number read.
func (c *RingChannel) ReadFloats(dst []float32) int {
	avail := c.rb.Length() / bytesPerSample
	if avail < len(dst) {
		dst = dst[:avail]
	}
	read := 0
	for read < len(dst) {
		n := len(dst) - read
		if n > len(c.rscratch)/bytesPerSample {
			n = len(c.rscratch) / bytesPerSample
		}
		buf := c.rscratch[:n*bytesPerSample]
		got, err := c.rb.Read(buf)
		if err != nil || got == 0 {
			break
		}
		got /= bytesPerSample
		for i := 0; i < got; i++ {
			dst[read+i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:]))
		}
		read += got
	}
	return read
}

// Available returns the number of samples ready to read.
func (c *RingChannel) Available() int {
	return c.rb.Length() / bytesPerSample
}

// Free returns the number of samples that can be written without loss.
func (c *RingChannel) Free() int {
	return c.rb.Free() / bytesPerSample
}

// Capacity returns the channel capacity in samples.
func (c *RingChannel) Capacity() int {
	return c.rb.Capacity() / bytesPerSample
}

// Reset discards all buffered samples.
func (c *RingChannel) Reset() {
	c.rb.Reset()
}
