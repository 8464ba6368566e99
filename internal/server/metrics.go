package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Connection outcomes recorded by Metrics.
const (
	outcomeAccepted      = "accepted"
	outcomeAccessDenied  = "access_denied"
	outcomeRoomNotFound  = "room_not_found"
	outcomeInternalError = "internal_error"
)

// Metrics is the Prometheus instrumentation of one Server. Each Server owns
// its registry so several can run in one process.
type Metrics struct {
	registry       *prometheus.Registry
	connections    *prometheus.CounterVec
	notices        *prometheus.CounterVec
	registryErrors *prometheus.CounterVec
	live           prometheus.Gauge
}

// NewMetrics registers the relay's collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "connections_total",
			Help:      "WebSocket connection attempts by outcome.",
		}, []string{"outcome"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "notices_published_total",
			Help:      "Notices published to room topics by kind.",
		}, []string{"kind"}),
		registryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "registry_errors_total",
			Help:      "Failed broadcast medium operations by operation.",
		}, []string{"op"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "live_connections",
			Help:      "WebSocket connections currently served by this process.",
		}),
	}
	m.registry.MustRegister(
		m.connections,
		m.notices,
		m.registryErrors,
		m.live,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) connection(outcome string) {
	m.connections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) published(kind string) {
	m.notices.WithLabelValues(kind).Inc()
}

func (m *Metrics) registryError(op string) {
	m.registryErrors.WithLabelValues(op).Inc()
}
