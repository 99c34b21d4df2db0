package devbackend

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type backendMetrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	throttled prometheus.Counter
	tokens    *prometheus.CounterVec
	registry  *prometheus.Registry
}

func newBackendMetrics() *backendMetrics {
	m := &backendMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbackend_requests_total",
				Help: "Requests served by method and status code.",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devbackend_request_duration_seconds",
				Help:    "Request handling time by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		throttled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "devbackend_throttled_total",
				Help: "Requests answered with 429 by the rate limiter.",
			},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devbackend_tokens_issued_total",
				Help: "JWTs issued by grant.",
			},
			[]string{"grant"},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.requests, m.duration, m.throttled, m.tokens)
	return m
}

func (m *backendMetrics) observe(method string, code int, took time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(method).Observe(took.Seconds())
}
