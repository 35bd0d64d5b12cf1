// Package telemetry defines the Prometheus collectors and HTTP middleware.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_scan_jobs_total",
			Help: "Total scan jobs finished, labeled by terminal status.",
		},
		[]string{"status"},
	)

	scanItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_scan_items_total",
			Help: "Total items analyzed, labeled by risk level.",
		},
		[]string{"level"},
	)

	activeScanJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_active_scan_jobs",
			Help: "Number of scan jobs currently running.",
		},
	)

	classifierCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_classifier_calls_total",
			Help: "Classifier call outcomes, labeled by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	classifierLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_classifier_latency_seconds",
			Help:    "Classifier call latency, labeled by stage.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	fetchPacingDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_fetch_pacing_delay_seconds",
			Help:    "Delay introduced by the fetch rate limiter, labeled by source.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// IncJobFinished counts a job reaching a terminal status.
func IncJobFinished(status string) {
	scanJobsTotal.WithLabelValues(status).Inc()
}

// IncItemAnalyzed counts one analyzed item by risk level.
func IncItemAnalyzed(level string) {
	scanItemsTotal.WithLabelValues(level).Inc()
}

// JobStarted increments the running-job gauge.
func JobStarted() { activeScanJobs.Inc() }

// JobStopped decrements the running-job gauge.
func JobStopped() { activeScanJobs.Dec() }

// ObserveClassifierCall records one classifier call outcome and latency.
func ObserveClassifierCall(stage, outcome string, d time.Duration) {
	classifierCallsTotal.WithLabelValues(stage, outcome).Inc()
	classifierLatencySeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveFetchPacingDelay records time spent waiting on the fetch limiter.
func ObserveFetchPacingDelay(source string, d time.Duration) {
	fetchPacingDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware instruments requests with the route template when chi has
// one, falling back to the raw path.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
