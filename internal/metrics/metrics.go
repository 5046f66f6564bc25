// Package metrics provides Prometheus metrics for the connection layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "dungeonnet"
)

// Metrics contains all Prometheus metrics for the connection layer. Only
// the server binary creates and records them; the client binary does not
// use this package.
type Metrics struct {
	// Connection lifecycle
	PeersConnected  prometheus.Gauge
	PeersTotal      prometheus.Counter
	PeerDisconnects *prometheus.CounterVec

	// Handshake
	HandshakeLatency     prometheus.Histogram
	HandshakeRejections  *prometheus.CounterVec
	ConnectAttemptsTotal prometheus.Counter

	// Steady-state traffic
	KeepalivesSent     prometheus.Counter
	KeepalivesReceived prometheus.Counter
	GameDataSent       prometheus.Counter
	GameDataReceived   prometheus.Counter
	BytesSent          prometheus.Counter
	BytesReceived      prometheus.Counter

	// Packet decode/auth failures, by kind of failure.
	PacketsDropped *prometheus.CounterVec

	// Admission control
	RateLimitRejections prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom
// registry, so tests can avoid colliding with the global one.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PeersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of currently connected peers",
		}),
		PeersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Total number of peer connections established",
		}),
		PeerDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Total peer disconnections by reason",
		}, []string{"reason"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of time from ConnectInit to Connected",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_rejections_total",
			Help:      "Total rejected handshake attempts by reason",
		}, []string{"reason"}),
		ConnectAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total ConnectInit packets accepted for processing",
		}),

		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total keepalive packets sent",
		}),
		KeepalivesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total keepalive packets received",
		}),
		GameDataSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_data_sent_total",
			Help:      "Total game data packets sent",
		}),
		GameDataReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_data_received_total",
			Help:      "Total game data packets received",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total game data payload bytes sent (plaintext, excluding framing)",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total game data payload bytes received (plaintext, excluding framing)",
		}),

		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total packets dropped by reason",
		}, []string{"reason"}),

		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Total ConnectInit packets rejected by the admission rate limiter",
		}),
	}
}

// RecordConnect records a peer reaching the Connected state.
func (m *Metrics) RecordConnect(latencySeconds float64) {
	m.PeersConnected.Inc()
	m.PeersTotal.Inc()
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordDisconnect records a peer leaving the Connected or Pending state.
func (m *Metrics) RecordDisconnect(reason string) {
	m.PeersConnected.Dec()
	m.PeerDisconnects.WithLabelValues(reason).Inc()
}

// RecordHandshakeRejection records a rejected ConnectInit or ConnectResponse.
func (m *Metrics) RecordHandshakeRejection(reason string) {
	m.HandshakeRejections.WithLabelValues(reason).Inc()
}

// RecordKeepaliveSent records an outgoing keepalive.
func (m *Metrics) RecordKeepaliveSent() {
	m.KeepalivesSent.Inc()
}

// RecordKeepaliveReceived records an incoming keepalive.
func (m *Metrics) RecordKeepaliveReceived() {
	m.KeepalivesReceived.Inc()
}

// RecordGameDataSent records an outgoing game data packet of n bytes of
// plaintext payload.
func (m *Metrics) RecordGameDataSent(n int) {
	m.GameDataSent.Inc()
	m.BytesSent.Add(float64(n))
}

// RecordGameDataReceived records an incoming game data packet of n bytes
// of plaintext payload.
func (m *Metrics) RecordGameDataReceived(n int) {
	m.GameDataReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// RecordPacketDropped records a packet dropped during decode or AEAD
// verification, by reason (e.g. "decode_error", "auth_failed", "unknown_peer").
func (m *Metrics) RecordPacketDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordRateLimitRejection records a ConnectInit dropped by the admission
// rate limiter.
func (m *Metrics) RecordRateLimitRejection() {
	m.RateLimitRejections.Inc()
}
