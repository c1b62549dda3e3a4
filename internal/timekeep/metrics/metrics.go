// Package metrics owns the Prometheus collectors exported on /metrics.
// All record methods are safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

const namespace = "timekeep"

type Metrics struct {
	registry *prometheus.Registry

	admissions         *prometheus.CounterVec
	tokensIssued       *prometheus.CounterVec
	tokenRejections    *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	realtimeConns      prometheus.Gauge
	realtimeSent       *prometheus.CounterVec
	realtimeDropped    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Rate limiter decisions by limiter and outcome.",
		}, []string{"limiter", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Token pairs issued, by grant.",
		}, []string{"grant"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_rejections_total",
			Help:      "Rejected tokens, by use and reason.",
		}, []string{"use", "reason"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Work session events accepted, by event type.",
		}, []string{"event"}),
		realtimeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Open realtime connections.",
		}),
		realtimeSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_messages_queued_total",
			Help:      "Realtime envelopes queued for delivery, by event.",
		}, []string{"event"}),
		realtimeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_messages_dropped_total",
			Help:      "Realtime envelopes dropped under backpressure, by event.",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admissions,
		m.tokensIssued,
		m.tokenRejections,
		m.sessionTransitions,
		m.realtimeConns,
		m.realtimeSent,
		m.realtimeDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAdmission matches httpx.FixedWindow.OnDecision.
func (m *Metrics) ObserveAdmission(limiter string, d httpx.Decision) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	m.admissions.WithLabelValues(limiter, outcome).Inc()
}

func (m *Metrics) TokenIssued(grant string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grant).Inc()
}

func (m *Metrics) TokenRejected(use, reason string) {
	if m == nil {
		return
	}
	m.tokenRejections.WithLabelValues(use, reason).Inc()
}

func (m *Metrics) SessionTransition(event string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(event).Inc()
}

func (m *Metrics) RealtimeConnected() {
	if m == nil {
		return
	}
	m.realtimeConns.Inc()
}

func (m *Metrics) RealtimeDisconnected() {
	if m == nil {
		return
	}
	m.realtimeConns.Dec()
}

func (m *Metrics) RealtimeQueued(event string) {
	if m == nil {
		return
	}
	m.realtimeSent.WithLabelValues(event).Inc()
}

func (m *Metrics) RealtimeDropped(event string) {
	if m == nil {
		return
	}
	m.realtimeDropped.WithLabelValues(event).Inc()
}
