package feed

import (
	"sync/atomic"
	"time"

	"github.com/aircast/aircast/internal/errors"
)

// SilenceSource delivers zeroed buffers at the capture cadence. It stands
// in for a soundcard when the backend runs without audio hardware.
type SilenceSource struct {
	rate   int
	period int
	feed   *Feed

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSilenceSource(sampleRate, periodFrames int, f *Feed) *SilenceSource {
	if sampleRate == 0 {
		sampleRate = 48000
	}
	if periodFrames == 0 {
		periodFrames = 1024
	}
	return &SilenceSource{rate: sampleRate, period: periodFrames, feed: f}
}

func (s *SilenceSource) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.Newf("silence source already running").
			Component(errors.ComponentFeed).
			Category(errors.CategoryState).
			Build()
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	interval := time.Duration(s.period) * time.Second / time.Duration(s.rate)
	go func() {
		defer close(s.done)
		left := make([]float32, s.period)
		right := make([]float32, s.period)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.feed.DeliverSplit(left, right)
			}
		}
	}()
	return nil
}

func (s *SilenceSource) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.Newf("silence source not running").
			Component(errors.ComponentFeed).
			Category(errors.CategoryState).
			Build()
	}
	close(s.stop)
	<-s.done
	return nil
}

func (s *SilenceSource) IsActive() bool {
	return s.running.Load()
}
