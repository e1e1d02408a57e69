package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FeedMetrics contains Prometheus metrics for the capture feed.
type FeedMetrics struct {
	registry *prometheus.Registry

	buffersTotal        prometheus.Counter
	samplesDroppedTotal *prometheus.CounterVec
	sourceErrorsTotal   prometheus.Counter
}

// NewFeedMetrics creates and registers new feed metrics.
func NewFeedMetrics(registry *prometheus.Registry) (*FeedMetrics, error) {
	m := &FeedMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FeedMetrics) initMetrics() error {
	m.buffersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_buffers_total",
			Help: "Total hardware buffers delivered by the capture source",
		},
	)

	m.samplesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_samples_dropped_total",
			Help: "Total samples dropped per consumer because its input ring was full",
		},
		[]string{"consumer"},
	)

	m.sourceErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_source_errors_total",
			Help: "Total capture source errors",
		},
	)

	return nil
}

// RecordBuffer counts one delivered hardware buffer.
func (m *FeedMetrics) RecordBuffer() {
	if m == nil {
		return
	}
	m.buffersTotal.Inc()
}

// RecordSamplesDropped accumulates dropped samples for one consumer.
func (m *FeedMetrics) RecordSamplesDropped(consumer string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.samplesDroppedTotal.WithLabelValues(consumer).Add(float64(n))
}

// RecordSourceError counts one capture source error.
func (m *FeedMetrics) RecordSourceError() {
	if m == nil {
		return
	}
	m.sourceErrorsTotal.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *FeedMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersTotal.Describe(ch)
	m.samplesDroppedTotal.Describe(ch)
	m.sourceErrorsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *FeedMetrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersTotal.Collect(ch)
	m.samplesDroppedTotal.Collect(ch)
	m.sourceErrorsTotal.Collect(ch)
}
