// Package metrics provides Prometheus instrumentation for the copy-trading
// engine.
package metrics

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
	// TradesTotal counts trades executed, partitioned by side and outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copyengine_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side", "outcome"})

	// TickDuration tracks how long one task's per-tick handling takes.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copyengine_tick_duration_seconds",
		Help:    "Per-task tick handling duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	// ActiveTasks tracks the number of running tasks.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "copyengine_active_tasks",
		Help: "Number of currently running copy-trading tasks",
	})

	// WebSocketClients tracks connected admin WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "copyengine_websocket_clients",
		Help: "Number of connected admin WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copyengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copyengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ActivitiesIngestedTotal counts activities persisted by the ingestor,
	// partitioned by side.
	ActivitiesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copyengine_activities_ingested_total",
		Help: "Total number of target activities ingested and persisted",
	}, []string{"side"})

	// LockContendedTotal counts ticks skipped because a task's lock was
	// already held.
	LockContendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "copyengine_lock_contended_total",
		Help: "Ticks skipped because the task lock was already held",
	})

	// ReconcileRunsTotal counts reconciler sweeps, partitioned by result
	// ("ok" or "error").
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "copyengine_reconcile_runs_total",
		Help: "Total reconciler sweeps run",
	}, []string{"result"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics. It
// must sit inside chi's router (after route matching) to read the matched
// route pattern; mounted outside a chi mux, routePattern falls back to the
// raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern reads the chi route pattern matched for this request, e.g.
// "/api/v1/tasks/{taskID}", so per-task admin routes don't blow up the
// path label's cardinality with one series per task ID. Falls back to the
// literal URL path when no chi route context is present (404s, or a
// handler mounted outside chi).
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
