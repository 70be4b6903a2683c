// Package metrics exposes Prometheus instrumentation for the gateway's
// authentication boundary.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	inFlight           prometheus.Gauge
	verifications      *prometheus.CounterVec
	rateLimited        prometheus.Counter
	circuitTransitions *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	tokenVerifications *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests processed, by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_http_in_flight_requests",
			Help: "Requests currently being served.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_api_key_verifications_total",
			Help: "API key verification outcomes.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the per-key rate limiter.",
		}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Circuit breaker state transitions per provider.",
		}, []string{"provider", "from", "to"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_fallback_cache_lookups_total",
			Help: "Fallback cache lookups by result.",
		}, []string{"result"}),
		tokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_identity_verifications_total",
			Help: "Identity token verification outcomes per provider.",
		}, []string{"provider", "result"}),
	}

	registry.MustRegister(
		m.httpRequests, m.httpDuration, m.inFlight, m.verifications,
		m.rateLimited, m.circuitTransitions, m.cacheLookups, m.tokenVerifications,
	)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight bumps the in-flight gauge.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight lowers the in-flight gauge.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordVerification records an API key verification outcome
// ("success", "invalid", "rate_limited", "timeout", "error").
func (m *Metrics) RecordVerification(result string) {
	m.verifications.WithLabelValues(result).Inc()
	if result == "rate_limited" {
		m.rateLimited.Inc()
	}
}

// RecordCircuitTransition records a breaker transition.
func (m *Metrics) RecordCircuitTransition(provider, from, to string) {
	m.circuitTransitions.WithLabelValues(provider, from, to).Inc()
}

// RecordCacheLookup records a fallback cache lookup ("hit" or "miss").
func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordTokenVerification records an identity-token verification outcome
// ("verified", "rejected", "degraded", "failed").
func (m *Metrics) RecordTokenVerification(provider, result string) {
	m.tokenVerifications.WithLabelValues(provider, result).Inc()
}
