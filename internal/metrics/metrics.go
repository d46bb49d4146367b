// Package metrics exposes the agent's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the agent. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionStarts   *prometheus.CounterVec
	SessionFailures *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	ConnectDuration prometheus.Histogram
	TeardownErrors  prometheus.Counter

	RelayRequests *prometheus.CounterVec
	RateLimitHits prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "concierge"
	}

	registry := prometheus.NewRegistry()

	sessionStarts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Session start attempts by outcome",
		},
		[]string{"outcome"},
	)

	sessionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_failures_total",
			Help:      "Failed session starts by error kind",
		},
		[]string{"kind"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected sessions",
		},
	)

	connectDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from start request to connected or failed",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	teardownErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_errors_total",
			Help:      "Errors swallowed during session teardown",
		},
	)

	relayRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Ephemeral credential relay requests by response status",
		},
		[]string{"status"},
	)

	rateLimitHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Session starts refused by the start limiter",
		},
	)

	registry.MustRegister(
		sessionStarts,
		sessionFailures,
		sessionsActive,
		connectDuration,
		teardownErrors,
		relayRequests,
		rateLimitHits,
	)

	return &Metrics{
		registry:        registry,
		SessionStarts:   sessionStarts,
		SessionFailures: sessionFailures,
		SessionsActive:  sessionsActive,
		ConnectDuration: connectDuration,
		TeardownErrors:  teardownErrors,
		RelayRequests:   relayRequests,
		RateLimitHits:   rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStart records the outcome of one start attempt. kind is empty on success.
func (m *Metrics) RecordStart(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.Observe(duration.Seconds())
	if kind == "" {
		m.SessionStarts.WithLabelValues("connected").Inc()
		m.SessionsActive.Inc()
		return
	}
	m.SessionStarts.WithLabelValues("failed").Inc()
	m.SessionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEnd() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) RecordTeardownError() {
	if m == nil {
		return
	}
	m.TeardownErrors.Inc()
}

func (m *Metrics) RecordRelay(status int) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}
