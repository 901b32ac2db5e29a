// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// qaRequestsTotal counts completed /api/qa requests, partitioned by
	// outcome: "ok", "not_found", "truncated", "unavailable", or "error".
	qaRequestsTotal *prometheus.CounterVec

	// qaDurationSeconds records the wall-clock duration of each /api/qa
	// request from receipt to response, retrieval and generation included.
	qaDurationSeconds *prometheus.HistogramVec

	// uploadsTotal counts /api/ingest uploads, partitioned by outcome:
	// "accepted", "rejected" (queue full), or "error".
	uploadsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		qaRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyrag",
			Subsystem: "qa",
			Name:      "requests_total",
			Help:      "Total number of /api/qa requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		qaDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyrag",
			Subsystem: "qa",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/qa requests including retrieval and generation.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyrag",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Total number of /api/ingest uploads, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, path, and status code.",
		}, []string{"method", "path", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studyrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// instrument is the outermost-but-one middleware: it records request counts
// and latency for every route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)

		path := metricPath(r.URL.Path)
		s.metrics.httpRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(rw.status),
		).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(
			r.Method, path,
		).Observe(time.Since(start).Seconds())
	})
}

// metricPath collapses path parameters so label cardinality stays bounded.
// The only parameterised route is the delete endpoint, whose trailing
// segment is a client-supplied filename.
func metricPath(p string) string {
	if strings.HasPrefix(p, "/api/ingest/delete/") {
		return "/api/ingest/delete/{filename}"
	}
	return p
}
