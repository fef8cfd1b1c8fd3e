// Package metrics exposes Prometheus collectors for the vault service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal        *prometheus.CounterVec
	fetchRateLimitWaitSeconds prometheus.Histogram
	importsTotal              *prometheus.CounterVec
	resolveTierTotal          *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_fetch_attempts_total",
				Help: "Total fetch strategy attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchRateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vault_rate_limit_wait_seconds",
				Help:    "Histogram of waits imposed by the archive rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 1.5, 3, 10, 30, 45},
			},
		)

		importsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_imports_total",
				Help: "Total import attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		resolveTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_resolve_tier_total",
				Help: "Content resolutions, labeled by the tier that served them.",
			},
			[]string{"tier"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one strategy invocation.
func ObserveFetchAttempt(strategy, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveRateLimitWait records a wait imposed by the limiter.
func ObserveRateLimitWait(d time.Duration) {
	Init()
	fetchRateLimitWaitSeconds.Observe(d.Seconds())
}

// ObserveImport counts one import attempt by outcome.
func ObserveImport(outcome string) {
	Init()
	importsTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolveTier counts a content resolution served by the given tier.
func ObserveResolveTier(tier string) {
	Init()
	resolveTierTotal.WithLabelValues(tier).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
