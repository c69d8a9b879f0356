package server

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks session and handshake counters. The plain atomic mirrors
// back the admin API's JSON stats endpoint without scraping the Prometheus
// registry.
type Metrics struct {
	registry *prometheus.Registry

	acceptedTotal     prometheus.Counter
	handshakeFailures *prometheus.CounterVec
	authFailures      prometheus.Counter
	activeSessions    prometheus.Gauge

	accepted     atomic.Int64
	authFailed   atomic.Int64
	active       atomic.Int64
	sessionTotal atomic.Int64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zfsadm_connections_accepted_total",
			Help: "Connections accepted by the agent listener.",
		}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zfsadm_handshake_failures_total",
			Help: "Handshakes that failed before a session was established.",
		}, []string{"stage"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zfsadm_auth_failures_total",
			Help: "Authentication attempts rejected.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zfsadm_active_sessions",
			Help: "Sessions currently in the Ready state.",
		}),
	}
	m.registry.MustRegister(m.acceptedTotal, m.handshakeFailures, m.authFailures, m.activeSessions)
	return m
}

func (m *Metrics) Accepted() {
	m.acceptedTotal.Inc()
	m.accepted.Add(1)
}

func (m *Metrics) HandshakeFailed(stage string) {
	m.handshakeFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) AuthFailed() {
	m.handshakeFailures.WithLabelValues("authentication").Inc()
	m.authFailures.Inc()
	m.authFailed.Add(1)
}

func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
	m.active.Add(1)
	m.sessionTotal.Add(1)
}

func (m *Metrics) SessionEnded() {
	m.activeSessions.Dec()
	m.active.Add(-1)
}

// Stats is the JSON shape served by the admin API.
type Stats struct {
	Accepted     int64 `json:"accepted_total"`
	AuthFailures int64 `json:"auth_failures_total"`
	Active       int64 `json:"active_sessions"`
	Sessions     int64 `json:"sessions_total"`
}

func (m *Metrics) Snapshot() Stats {
	return Stats{
		Accepted:     m.accepted.Load(),
		AuthFailures: m.authFailed.Load(),
		Active:       m.active.Load(),
		Sessions:     m.sessionTotal.Load(),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
