package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewRingChannel(256)
	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i) * 0.01
	}

	require.Equal(t, 100, c.WriteFloats(src))
	assert.Equal(t, 100, c.Available())

	dst := make([]float32, 100)
	require.Equal(t, 100, c.ReadFloats(dst))
	assert.Equal(t, src, dst)
	assert.Equal(t, 0, c.Available())
}

func TestRingChannelShortWriteOnFull(t *testing.T) {
	t.Parallel()

	c := NewRingChannel(64)
	src := make([]float32, 100)

	n := c.WriteFloats(src)
	assert.Equal(t, 64, n, "write must stop at capacity instead of blocking")
	assert.Equal(t, 0, c.Free())

	// after a partial drain, more fits
	dst := make([]float32, 32)
	require.Equal(t, 32, c.ReadFloats(dst))
	assert.Equal(t, 32, c.WriteFloats(src[:40]))
}

func TestRingChannelReadEmpty(t *testing.T) {
	t.Parallel()

	c := NewRingChannel(16)
	dst := make([]float32, 8)
	assert.Equal(t, 0, c.ReadFloats(dst))
}

func TestRingChannelReset(t *testing.T) {
	t.Parallel()

	c := NewRingChannel(16)
	c.WriteFloats(make([]float32, 10))
	c.Reset()
	assert.Equal(t, 0, c.Available())
	assert.Equal(t, 16, c.Free())
}

func TestRingChannelConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 50000
	c := NewRingChannel(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		src := make([]float32, 128)
		sent := 0
		seq := 0
		for sent < total {
			n := len(src)
			if total-sent < n {
				n = total - sent
			}
			for i := 0; i < n; i++ {
				src[i] = float32(seq + i)
			}
			w := c.WriteFloats(src[:n])
			sent += w
			seq += w
		}
	}()

	received := make([]float32, 0, total)
	go func() {
		defer wg.Done()
		dst := make([]float32, 128)
		for len(received) < total {
			n := c.ReadFloats(dst)
			received = append(received, dst[:n]...)
		}
	}()

	wg.Wait()
	require.Len(t, received, total)
	for i, v := range received {
		if float32(i) != v {
			t.Fatalf("sample %d out of order: got %v", i, v)
		}
	}
}
