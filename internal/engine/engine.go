// Package engine owns the worker pool: the capture feed plus the encoder,
// streamer and recorder slots, constructed once at startup and torn down
// together.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/conf"
	"github.com/aircast/aircast/internal/encoder"
	"github.com/aircast/aircast/internal/errors"
	"github.com/aircast/aircast/internal/feed"
	"github.com/aircast/aircast/internal/logging"
	"github.com/aircast/aircast/internal/observability"
	"github.com/aircast/aircast/internal/observability/metrics"
	"github.com/aircast/aircast/internal/recorder"
	"github.com/aircast/aircast/internal/streamer"
)

// Source is the capture side of the feed.
type Source interface {
	Start() error
	Stop() error
	IsActive() bool
}

// Engine is the assembled worker pool.
type Engine struct {
	log      *slog.Logger
	settings *conf.Settings

	Feed   *feed.Feed
	source Source

	encoders  []*encoder.Encoder
	streamers []*streamer.Streamer
	recorders []*recorder.Recorder

	shutdownTimeout time.Duration
}

// New builds the pool from the settings. Slot goroutines are not started
// until Start.
func New(settings *conf.Settings, m *observability.Metrics) *Engine {
	codec.RegisterFallbacks()

	var (
		encoderMetrics  *metrics.EncoderMetrics
		recorderMetrics *metrics.RecorderMetrics
		streamerMetrics *metrics.StreamerMetrics
		feedMetrics     *metrics.FeedMetrics
	)
	if m != nil {
		encoderMetrics = m.Encoder
		recorderMetrics = m.Recorder
		streamerMetrics = m.Streamer
		feedMetrics = m.Feed
	}

	e := &Engine{
		log:             logging.ForService("engine"),
		settings:        settings,
		Feed:            feed.New(feedMetrics),
		shutdownTimeout: 10 * time.Second,
	}

	for i := 0; i < settings.Pool.Encoders; i++ {
		enc := encoder.New(i, settings.Audio.SampleRate, encoderMetrics)
		e.encoders = append(e.encoders, enc)
		e.Feed.Attach(fmt.Sprintf("encoder%d", i), enc)
	}
	for i := 0; i < settings.Pool.Streamers; i++ {
		e.streamers = append(e.streamers, streamer.New(i, streamerMetrics))
	}
	for i := 0; i < settings.Pool.Recorders; i++ {
		rec := recorder.New(i, recorderMetrics)
		e.recorders = append(e.recorders, rec)
		e.Feed.Attach(fmt.Sprintf("recorder%d", i), rec)
	}

	if settings.Audio.Device == "none" {
		e.source = feed.NewSilenceSource(settings.Audio.SampleRate, settings.Audio.PeriodFrames, e.Feed)
	} else {
		e.source = feed.NewCaptureSource(feed.CaptureConfig{
			Device:       settings.Audio.Device,
			SampleRate:   settings.Audio.SampleRate,
			PeriodFrames: settings.Audio.PeriodFrames,
		}, e.Feed)
	}

	return e
}

// Start launches every slot goroutine and opens the capture source. When
// the soundcard cannot be opened the engine falls back to a silent feed so
// the backend stays controllable.
func (e *Engine) Start() error {
	for _, enc := range e.encoders {
		go enc.Run()
	}
	for _, s := range e.streamers {
		go s.Run()
	}
	for _, r := range e.recorders {
		go r.Run()
	}

	if err := e.source.Start(); err != nil {
		e.log.Error("capture source failed, falling back to silence", "error", err)
		e.source = feed.NewSilenceSource(e.settings.Audio.SampleRate, e.settings.Audio.PeriodFrames, e.Feed)
		if err := e.source.Start(); err != nil {
			return err
		}
	}
	e.log.Info("engine started",
		"encoders", len(e.encoders),
		"streamers", len(e.streamers),
		"recorders", len(e.recorders),
		"samplerate", e.settings.Audio.SampleRate)
	return nil
}

// Shutdown stops the capture source and joins every slot goroutine.
func (e *Engine) Shutdown() {
	if e.source.IsActive() {
		_ = e.source.Stop()
	}

	for _, s := range e.streamers {
		s.Shutdown()
	}
	for _, r := range e.recorders {
		r.Shutdown()
	}
	for _, enc := range e.encoders {
		enc.Shutdown()
	}

	deadline := time.After(e.shutdownTimeout)
	for _, s := range e.streamers {
		e.join(s.Done(), deadline, "streamer")
	}
	for _, r := range e.recorders {
		e.join(r.Done(), deadline, "recorder")
	}
	for _, enc := range e.encoders {
		e.join(enc.Done(), deadline, "encoder")
	}
	e.log.Info("engine stopped")
}

func (e *Engine) join(done <-chan struct{}, deadline <-chan time.Time, kind string) {
	select {
	case <-done:
	case <-deadline:
		e.log.Error("slot did not stop in time", "kind", kind)
	}
}

// Encoder returns slot n or an error when the index is out of range.
func (e *Engine) Encoder(n int) (*encoder.Encoder, error) {
	if n < 0 || n >= len(e.encoders) {
		return nil, badSlot("encoder", n, len(e.encoders))
	}
	return e.encoders[n], nil
}

// Streamer returns slot n or an error when the index is out of range.
func (e *Engine) Streamer(n int) (*streamer.Streamer, error) {
	if n < 0 || n >= len(e.streamers) {
		return nil, badSlot("streamer", n, len(e.streamers))
	}
	return e.streamers[n], nil
}

// Recorder returns slot n or an error when the index is out of range.
func (e *Engine) Recorder(n int) (*recorder.Recorder, error) {
	if n < 0 || n >= len(e.recorders) {
		return nil, badSlot("recorder", n, len(e.recorders))
	}
	return e.recorders[n], nil
}

// SampleRate returns the feed sample rate in Hz.
func (e *Engine) SampleRate() int { return e.settings.Audio.SampleRate }

// EncoderCount returns the number of encoder slots.
func (e *Engine) EncoderCount() int { return len(e.encoders) }

// StreamerCount returns the number of streamer slots.
func (e *Engine) StreamerCount() int { return len(e.streamers) }

// RecorderCount returns the number of recorder slots.
func (e *Engine) RecorderCount() int { return len(e.recorders) }

func badSlot(kind string, n, max int) error {
	return errors.Newf("no %s slot %d, pool has %d", kind, n, max).
		Component(errors.ComponentControl).
		Category(errors.CategoryValidation).
		Build()
}
