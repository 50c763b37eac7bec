package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the tracker.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	reconcileRuns     *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	rehabsCreated     prometheus.Counter
	rehabsArchived    prometheus.Counter
	unitFailures      prometheus.Counter
}

// NewMetrics initialises the registry with HTTP and reconciliation collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turnover_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "turnover_http_request_duration_seconds",
		Help:    "HTTP request latency per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "turnover_reconcile_runs_total",
		Help: "Reconciliation passes by outcome.",
	}, []string{"outcome"})
	reconcileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "turnover_reconcile_duration_seconds",
		Help:    "Wall time of a reconciliation pass.",
		Buckets: prometheus.DefBuckets,
	})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turnover_rehab_records_created_total",
		Help: "Rehab records created by reconciliation.",
	})
	archived := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turnover_rehab_records_archived_total",
		Help: "Rehab records archived because a newer vacancy cycle started.",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "turnover_reconcile_unit_failures_total",
		Help: "Units skipped during reconciliation after a write failure.",
	})
	registry.MustRegister(requests, duration, runs, reconcileDuration, created, archived, failures)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		reconcileRuns:     runs,
		reconcileDuration: reconcileDuration,
		rehabsCreated:     created,
		rehabsArchived:    archived,
		unitFailures:      failures,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordReconcile tracks the outcome of one reconciliation pass.
// Outcome is "applied" when writes were attempted and "skipped" when another
// pass held the write lock.
func (m *Metrics) RecordReconcile(outcome string, created, archived, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
	m.reconcileDuration.Observe(elapsed.Seconds())
	if created > 0 {
		m.rehabsCreated.Add(float64(created))
	}
	if archived > 0 {
		m.rehabsArchived.Add(float64(archived))
	}
	if failed > 0 {
		m.unitFailures.Add(float64(failed))
	}
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
