// Package feed distributes capture PCM to the encoder and recorder slots.
// Delivery never blocks: a consumer whose input ring is full loses samples
// and the loss is counted against it.
package feed

import (
	"log/slog"
	"sync"

	"github.com/aircast/aircast/internal/audio"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability/metrics"
)

// Consumer receives deinterleaved stereo PCM. FeedAudio returns how many
// samples per channel it had to drop.
type Consumer interface {
	FeedAudio(left, right []float32) int
}

// Feed fans capture buffers out to the registered consumers.
type Feed struct {
	log     *slog.Logger
	metrics *metrics.FeedMetrics

	mu        sync.RWMutex
	consumers map[string]Consumer

	scratchMu sync.Mutex
	left      []float32
	right     []float32
}

func New(m *metrics.FeedMetrics) *Feed {
	return &Feed{
		log:       logging.ForService("feed"),
		metrics:   m,
		consumers: make(map[string]Consumer),
	}
}

// Attach registers a consumer under a stable name. Re-attaching the same
// name replaces the previous consumer.
func (f *Feed) Attach(name string, c Consumer) {
	f.mu.Lock()
	f.consumers[name] = c
	f.mu.Unlock()
}

// Detach removes a consumer.
func (f *Feed) Detach(name string) {
	f.mu.Lock()
	delete(f.consumers, name)
	f.mu.Unlock()
}

// ConsumerCount returns the number of attached consumers.
func (f *Feed) ConsumerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.consumers)
}

// Deliver splits one interleaved stereo buffer and hands it to every
// consumer. Called from the capture callback, so it must not block.
func (f *Feed) Deliver(interleaved []float32) {
	frames := len(interleaved) / 2

	f.scratchMu.Lock()
	defer f.scratchMu.Unlock()
	if cap(f.left) < frames {
		f.left = make([]float32, frames)
		f.right = make([]float32, frames)
	}
	l := f.left[:frames]
	r := f.right[:frames]
	audio.Deinterleave(interleaved, l, r, frames)
	f.deliverSplit(l, r)
}

// DeliverSplit hands already deinterleaved channels to every consumer.
func (f *Feed) DeliverSplit(left, right []float32) {
	f.scratchMu.Lock()
	defer f.scratchMu.Unlock()
	f.deliverSplit(left, right)
}

func (f *Feed) deliverSplit(left, right []float32) {
	f.metrics.RecordBuffer()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for name, c := range f.consumers {
		if dropped := c.FeedAudio(left, right); dropped > 0 {
			f.metrics.RecordSamplesDropped(name, dropped)
		}
	}
}
