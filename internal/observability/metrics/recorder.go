package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// RecorderMetrics contains Prometheus metrics for recorder slot operations.
type RecorderMetrics struct {
	registry *prometheus.Registry

	bytesWrittenTotal       *prometheus.CounterVec
	sessionsTotal           *prometheus.CounterVec
	recordingSecondsGauge   *prometheus.GaugeVec
	metadataBoundariesTotal *prometheus.CounterVec
	tagRewritesTotal        *prometheus.CounterVec
}

// NewRecorderMetrics creates and registers new recorder metrics.
func NewRecorderMetrics(registry *prometheus.Registry) (*RecorderMetrics, error) {
	m := &RecorderMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RecorderMetrics) initMetrics() error {
	m.bytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_bytes_written_total",
			Help: "Total bytes written to recording files",
		},
		[]string{"recorder"},
	)

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_sessions_total",
			Help: "Total recording sessions by outcome",
		},
		[]string{"recorder", "result"}, // result: started, completed, error
	)

	m.recordingSecondsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recorder_recording_seconds",
			Help: "Length of the current recording session in seconds",
		},
		[]string{"recorder"},
	)

	m.metadataBoundariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_metadata_boundaries_total",
			Help: "Total chapter metadata boundaries logged while recording",
		},
		[]string{"recorder"},
	)

	m.tagRewritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recorder_tag_rewrites_total",
			Help: "Total post-recording tag rewrite passes by outcome",
		},
		[]string{"recorder", "result"}, // result: success, error
	)

	return nil
}

// AddBytesWritten accumulates bytes written for a recorder slot.
func (m *RecorderMetrics) AddBytesWritten(recorderID int, n int) {
	if m == nil {
		return
	}
	m.bytesWrittenTotal.WithLabelValues(strconv.Itoa(recorderID)).Add(float64(n))
}

// RecordSession counts a session outcome.
func (m *RecorderMetrics) RecordSession(recorderID int, result string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(strconv.Itoa(recorderID), result).Inc()
}

// SetRecordingSeconds updates the running session length gauge.
func (m *RecorderMetrics) SetRecordingSeconds(recorderID int, seconds float64) {
	if m == nil {
		return
	}
	m.recordingSecondsGauge.WithLabelValues(strconv.Itoa(recorderID)).Set(seconds)
}

// RecordMetadataBoundary counts one chapter boundary.
func (m *RecorderMetrics) RecordMetadataBoundary(recorderID int) {
	if m == nil {
		return
	}
	m.metadataBoundariesTotal.WithLabelValues(strconv.Itoa(recorderID)).Inc()
}

// RecordTagRewrite counts a tag rewrite pass.
func (m *RecorderMetrics) RecordTagRewrite(recorderID int, result string) {
	if m == nil {
		return
	}
	m.tagRewritesTotal.WithLabelValues(strconv.Itoa(recorderID), result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *RecorderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.bytesWrittenTotal.Describe(ch)
	m.sessionsTotal.Describe(ch)
	m.recordingSecondsGauge.Describe(ch)
	m.metadataBoundariesTotal.Describe(ch)
	m.tagRewritesTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *RecorderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.bytesWrittenTotal.Collect(ch)
	m.sessionsTotal.Collect(ch)
	m.recordingSecondsGauge.Collect(ch)
	m.metadataBoundariesTotal.Collect(ch)
	m.tagRewritesTotal.Collect(ch)
}
