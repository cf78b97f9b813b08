package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector tracks the relay's connection and routing activity. It
// satisfies the signal server's Metrics hook.
type PrometheusCollector struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	messagesRelayed   *prometheus.CounterVec
	messagesRejected  *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigia_connections_active",
			Help: "Currently open signaling connections",
		}, []string{"role"}),

		connectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_connections_total",
			Help: "Signaling connections accepted since start",
		}, []string{"role"}),

		messagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_messages_relayed_total",
			Help: "Signaling messages accepted for routing",
		}, []string{"event"}),

		messagesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vigia_messages_rejected_total",
			Help: "Signaling messages dropped before routing",
		}, []string{"reason"}),
	}
}

func (c *PrometheusCollector) ConnectionOpened(role string) {
	c.connectionsActive.WithLabelValues(role).Inc()
	c.connectionsTotal.WithLabelValues(role).Inc()
}

func (c *PrometheusCollector) ConnectionClosed(role string) {
	c.connectionsActive.WithLabelValues(role).Dec()
}

func (c *PrometheusCollector) MessageRelayed(event string) {
	c.messagesRelayed.WithLabelValues(event).Inc()
}

func (c *PrometheusCollector) MessageRejected(reason string) {
	c.messagesRejected.WithLabelValues(reason).Inc()
}
