// Package metrics provides Prometheus metrics for the storefront client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	RateLimitRetries   prometheus.Counter
	RefreshTotal       *prometheus.CounterVec
	RefreshQueued      prometheus.Gauge
	MutationsTotal     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_api_requests_total",
				Help: "Total API requests by method and status class.",
			},
			[]string{"method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefront_api_request_duration_seconds",
				Help:    "API request duration by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RateLimitRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "storefront_api_rate_limit_retries_total",
				Help: "Requests re-issued after a 429 backoff.",
			},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_token_refresh_total",
				Help: "Token refresh attempts by result.",
			},
			[]string{"result"},
		),
		RefreshQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storefront_token_refresh_queued",
				Help: "Requests waiting on an in-flight token refresh.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_optimistic_mutations_total",
				Help: "Optimistic mutations by container and outcome.",
			},
			[]string{"container", "outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_notifications_total",
				Help: "User-facing notifications by level and kind.",
			},
			[]string{"level", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.RateLimitRetries)
	reg.MustRegister(m.RefreshTotal)
	reg.MustRegister(m.RefreshQueued)
	reg.MustRegister(m.MutationsTotal)
	reg.MustRegister(m.NotificationsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for gathering in tests and the CLI).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format,
// replacing the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// RecordRequest counts a finished request. status is a class such as "2xx"
// or "network".
func (m *Metrics) RecordRequest(method, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// RecordRateLimitRetry counts a 429 re-issue.
func (m *Metrics) RecordRateLimitRetry() {
	if m == nil {
		return
	}
	m.RateLimitRetries.Inc()
}

// RecordRefresh counts a refresh outcome: "success", "failure" or "skipped".
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

// SetRefreshQueued sets the number of callers blocked on a refresh.
func (m *Metrics) SetRefreshQueued(n int) {
	if m == nil {
		return
	}
	m.RefreshQueued.Set(float64(n))
}

// RecordMutation counts an optimistic mutation outcome: "confirmed" or "rolled_back".
func (m *Metrics) RecordMutation(container, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(container, outcome).Inc()
}

// RecordNotification counts a user-facing notification.
func (m *Metrics) RecordNotification(level, kind string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(level, kind).Inc()
}
