// Package middleware provides HTTP middleware for the replica's control
// plane: the small debug/metrics surface internal/transport/control exposes
// alongside the dispatch loop, not a public API surface.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	controlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_control_requests_total",
			Help: "Total requests served by this replica's control-plane HTTP surface.",
		},
		[]string{"method", "path", "status"},
	)

	controlRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prime_control_request_duration_seconds",
			Help:    "Control-plane HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	controlErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prime_control_errors_total",
			Help: "Control-plane HTTP responses by error class.",
		},
		[]string{"type"},
	)
)

// Metrics returns a middleware that records Prometheus metrics for the
// control-plane router: request counts, latency, and error class, keyed by
// chi's route pattern rather than the raw path (this surface has no
// resource-id segments to normalize away, unlike a REST API).
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)

			controlRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			controlRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				controlErrorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// routePattern prefers chi's matched route pattern (so /debug/state stays
// one label value regardless of future path params) and falls back to the
// raw path for requests chi never routed (e.g. before a handler matched).
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
