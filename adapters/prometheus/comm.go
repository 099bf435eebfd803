package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/peeractor/core/comm"
	"github.com/codewandler/peeractor/core/metrics"
)

// commMetrics implements comm.Metrics using Prometheus.
type commMetrics struct {
	requestDuration  *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	inboundAccepted  *prometheus.CounterVec
	inboundRejected  *prometheus.CounterVec
	responsesDropped prometheus.Counter
	peersConnected   prometheus.Gauge
	handshakeFailed  prometheus.Counter
}

// NewCommMetrics creates a new Prometheus implementation of comm.Metrics.
func NewCommMetrics(reg prometheus.Registerer) comm.Metrics {
	m := &commMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "comm_request_duration_seconds",
			Help:      "Outbound request round trip time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"name"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comm_requests_total",
			Help:      "Total number of outbound requests",
		}, []string{"name", "success"}),

		inboundAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comm_inbound_accepted_total",
			Help:      "Inbound requests handed to the actor",
		}, []string{"name"}),

		inboundRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comm_inbound_rejected_total",
			Help:      "Inbound requests rejected before reaching the actor",
		}, []string{"reason"}),

		responsesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comm_responses_dropped_total",
			Help:      "Rejections that could not be delivered",
		}),

		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "comm_peers_connected",
			Help:      "Number of connected peers",
		}),

		handshakeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comm_handshake_failures_total",
			Help:      "Connections dropped during the handshake",
		}),
	}

	reg.MustRegister(
		m.requestDuration,
		m.requestsTotal,
		m.inboundAccepted,
		m.inboundRejected,
		m.responsesDropped,
		m.peersConnected,
		m.handshakeFailed,
	)

	return m
}

func (m *commMetrics) RequestDuration(name string) metrics.Timer {
	return newTimer(m.requestDuration.WithLabelValues(name))
}

func (m *commMetrics) RequestCompleted(name string, success bool) {
	m.requestsTotal.WithLabelValues(name, boolToStr(success)).Inc()
}

func (m *commMetrics) InboundAccepted(name string) {
	m.inboundAccepted.WithLabelValues(name).Inc()
}

func (m *commMetrics) InboundRejected(reason comm.FailureCode) {
	m.inboundRejected.WithLabelValues(string(reason)).Inc()
}

func (m *commMetrics) ResponseDropped()         { m.responsesDropped.Inc() }
func (m *commMetrics) PeersConnected(count int) { m.peersConnected.Set(float64(count)) }
func (m *commMetrics) HandshakeFailed()         { m.handshakeFailed.Inc() }

var _ comm.Metrics = (*commMetrics)(nil)
