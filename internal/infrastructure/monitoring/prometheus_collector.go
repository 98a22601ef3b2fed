package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports hub activity. It satisfies the hub's Metrics
// interface.
type PrometheusCollector struct {
	connectionsLive  prometheus.Gauge
	peersOnline      prometheus.Gauge
	connectionsTotal prometheus.Counter

	envelopesTotal      *prometheus.CounterVec
	handshakesRejected  prometheus.Counter
	signalsStoredTotal  *prometheus.CounterVec
	signalsPushedTotal  prometheus.Counter
	signalsDrainedTotal prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_connections_live",
			Help: "Number of live hub connections",
		}),

		peersOnline: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_peers_online",
			Help: "Number of peer identities with at least one live connection",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_connections_total",
			Help: "Total number of hub connections accepted",
		}),

		envelopesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_envelopes_dispatched_total",
			Help: "Total number of inbound envelopes dispatched, by kind",
		}, []string{"kind"}),

		handshakesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_handshakes_rejected_total",
			Help: "Total number of handshake attempts rejected",
		}),

		signalsStoredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_signals_stored_total",
			Help: "Total number of negotiation signals stored in the mailbox, by type",
		}, []string{"type"}),

		signalsPushedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_signals_pushed_total",
			Help: "Total number of signals pushed live to a connected recipient",
		}),

		signalsDrainedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_signals_drained_total",
			Help: "Total number of signals delivered via mailbox drain",
		}),
	}
}

func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsLive.Inc()
	c.connectionsTotal.Inc()
}

func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsLive.Dec()
}

func (c *PrometheusCollector) PeersOnline(count int) {
	c.peersOnline.Set(float64(count))
}

func (c *PrometheusCollector) EnvelopeDispatched(kind string) {
	c.envelopesTotal.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) HandshakeRejected() {
	c.handshakesRejected.Inc()
}

func (c *PrometheusCollector) SignalStored(signalType string) {
	c.signalsStoredTotal.WithLabelValues(signalType).Inc()
}

func (c *PrometheusCollector) SignalPushed() {
	c.signalsPushedTotal.Inc()
}

func (c *PrometheusCollector) SignalsDrained(count int) {
	c.signalsDrainedTotal.Add(float64(count))
}
