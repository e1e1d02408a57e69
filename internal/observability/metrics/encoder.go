// Package metrics provides Prometheus collectors for the audio pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// EncoderMetrics contains Prometheus metrics for encoder slot operations.
type EncoderMetrics struct {
	registry *prometheus.Registry

	packetsWrittenTotal *prometheus.CounterVec
	packetsDroppedTotal *prometheus.CounterVec
	inputOverflowsTotal *prometheus.CounterVec
	clientCountGauge    *prometheus.GaugeVec
	stateGauge          *prometheus.GaugeVec
	sessionsTotal       *prometheus.CounterVec
}

// NewEncoderMetrics creates and registers new encoder metrics.
func NewEncoderMetrics(registry *prometheus.Registry) (*EncoderMetrics, error) {
	m := &EncoderMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EncoderMetrics) initMetrics() error {
	m.packetsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encoder_packets_written_total",
			Help: "Total number of packets fanned out to attached clients",
		},
		[]string{"encoder"},
	)

	m.packetsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encoder_packets_dropped_total",
			Help: "Total number of packets dropped because a client ring was full",
		},
		[]string{"encoder"},
	)

	m.inputOverflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encoder_input_overflows_total",
			Help: "Total number of feed buffers dropped because the input ring was full",
		},
		[]string{"encoder"},
	)

	m.clientCountGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "encoder_attached_clients",
			Help: "Number of clients currently attached to the output chain",
		},
		[]string{"encoder"},
	)

	m.stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "encoder_state",
			Help: "Encoder state machine position (0=stopped 1=starting 2=running 3=stopping 4=paused)",
		},
		[]string{"encoder"},
	)

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encoder_sessions_total",
			Help: "Total number of encode sessions by outcome",
		},
		[]string{"encoder", "result"}, // result: started, setup_error, stopped
	)

	return nil
}

// RecordPacketWritten increments the fan-out counter for one delivered packet.
func (m *EncoderMetrics) RecordPacketWritten(encoderID int) {
	if m == nil {
		return
	}
	m.packetsWrittenTotal.WithLabelValues(strconv.Itoa(encoderID)).Inc()
}

// RecordPacketDropped increments the per-client drop counter.
func (m *EncoderMetrics) RecordPacketDropped(encoderID int) {
	if m == nil {
		return
	}
	m.packetsDroppedTotal.WithLabelValues(strconv.Itoa(encoderID)).Inc()
}

// RecordInputOverflow counts one feed buffer lost to a full input ring.
func (m *EncoderMetrics) RecordInputOverflow(encoderID int) {
	if m == nil {
		return
	}
	m.inputOverflowsTotal.WithLabelValues(strconv.Itoa(encoderID)).Inc()
}

// SetClientCount updates the attached-client gauge.
func (m *EncoderMetrics) SetClientCount(encoderID, count int) {
	if m == nil {
		return
	}
	m.clientCountGauge.WithLabelValues(strconv.Itoa(encoderID)).Set(float64(count))
}

// SetState updates the state gauge.
func (m *EncoderMetrics) SetState(encoderID, state int) {
	if m == nil {
		return
	}
	m.stateGauge.WithLabelValues(strconv.Itoa(encoderID)).Set(float64(state))
}

// RecordSession counts a session outcome.
func (m *EncoderMetrics) RecordSession(encoderID int, result string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(strconv.Itoa(encoderID), result).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *EncoderMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.packetsWrittenTotal.Describe(ch)
	m.packetsDroppedTotal.Describe(ch)
	m.inputOverflowsTotal.Describe(ch)
	m.clientCountGauge.Describe(ch)
	m.stateGauge.Describe(ch)
	m.sessionsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EncoderMetrics) Collect(ch chan<- prometheus.Metric) {
	m.packetsWrittenTotal.Collect(ch)
	m.packetsDroppedTotal.Collect(ch)
	m.inputOverflowsTotal.Collect(ch)
	m.clientCountGauge.Collect(ch)
	m.stateGauge.Collect(ch)
	m.sessionsTotal.Collect(ch)
}
