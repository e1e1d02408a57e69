// Package observability provides metrics collection for the streaming backend.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aircast/aircast/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the backend.
type Metrics struct {
	registry *prometheus.Registry
	Encoder  *metrics.EncoderMetrics
	Recorder *metrics.RecorderMetrics
	Streamer *metrics.StreamerMetrics
	Feed     *metrics.FeedMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	encoderMetrics, err := metrics.NewEncoderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder metrics: %w", err)
	}

	recorderMetrics, err := metrics.NewRecorderMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder metrics: %w", err)
	}

	streamerMetrics, err := metrics.NewStreamerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamer metrics: %w", err)
	}

	feedMetrics, err := metrics.NewFeedMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Encoder:  encoderMetrics,
		Recorder: recorderMetrics,
		Streamer: streamerMetrics,
		Feed:     feedMetrics,
	}, nil
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}

// Serve starts a metrics HTTP server on addr in a background goroutine and
// returns it so the caller can shut it down.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	return srv
}
