package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamerMetrics contains Prometheus metrics for the streamer slots.
type StreamerMetrics struct {
	registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	bytesSentTotal     *prometheus.CounterVec
	packetsDumpedTotal *prometheus.CounterVec
	sendQueueFillGauge *prometheus.GaugeVec
	modeGauge          *prometheus.GaugeVec
}

// NewStreamerMetrics creates and registers new streamer metrics.
func NewStreamerMetrics(registry *prometheus.Registry) (*StreamerMetrics, error) {
	m := &StreamerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamerMetrics) initMetrics() error {
	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamer_connections_total",
			Help: "Total connection attempts by outcome",
		},
		[]string{"streamer", "result"}, // result: connected, failed
	)

	m.bytesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamer_bytes_sent_total",
			Help: "Total stream bytes handed to the network send queue",
		},
		[]string{"streamer"},
	)

	m.packetsDumpedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamer_packets_dumped_total",
			Help: "Total packets dumped because the send queue was full",
		},
		[]string{"streamer"},
	)

	m.sendQueueFillGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamer_send_queue_fill_percent",
			Help: "Send queue fill level as a percentage of the buffering limit",
		},
		[]string{"streamer"},
	)

	m.modeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamer_mode",
			Help: "Streamer state machine position",
		},
		[]string{"streamer"},
	)

	return nil
}

// RecordConnection counts one connection attempt outcome.
func (m *StreamerMetrics) RecordConnection(streamerID int, result string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(strconv.Itoa(streamerID), result).Inc()
}

// AddBytesSent accumulates stream bytes queued for sending.
func (m *StreamerMetrics) AddBytesSent(streamerID, n int) {
	if m == nil {
		return
	}
	m.bytesSentTotal.WithLabelValues(strconv.Itoa(streamerID)).Add(float64(n))
}

// RecordPacketDumped counts one packet discarded under backpressure.
func (m *StreamerMetrics) RecordPacketDumped(streamerID int) {
	if m == nil {
		return
	}
	m.packetsDumpedTotal.WithLabelValues(strconv.Itoa(streamerID)).Inc()
}

// SetQueueFill updates the send queue fill gauge.
func (m *StreamerMetrics) SetQueueFill(streamerID int, percent float64) {
	if m == nil {
		return
	}
	m.sendQueueFillGauge.WithLabelValues(strconv.Itoa(streamerID)).Set(percent)
}

// SetMode updates the state machine gauge.
func (m *StreamerMetrics) SetMode(streamerID, mode int) {
	if m == nil {
		return
	}
	m.modeGauge.WithLabelValues(strconv.Itoa(streamerID)).Set(float64(mode))
}

// Describe implements the prometheus.Collector interface.
func (m *StreamerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionsTotal.Describe(ch)
	m.bytesSentTotal.Describe(ch)
	m.packetsDumpedTotal.Describe(ch)
	m.sendQueueFillGauge.Describe(ch)
	m.modeGauge.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *StreamerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionsTotal.Collect(ch)
	m.bytesSentTotal.Collect(ch)
	m.packetsDumpedTotal.Collect(ch)
	m.sendQueueFillGauge.Collect(ch)
	m.modeGauge.Collect(ch)
}
