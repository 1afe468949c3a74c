package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Ultralight.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Function execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	AISpendCentsTotal *prometheus.CounterVec

	// App data store metrics.
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Scheduler metrics.
	ScheduledRunsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "runtime",
			Name:      "executions_total",
			Help:      "Total function executions.",
		}, []string{"status", "error_type"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ultralight",
			Subsystem: "runtime",
			Name:      "execution_duration_seconds",
			Help:      "Function execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"status"}),

		AISpendCentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "runtime",
			Name:      "ai_spend_cents_total",
			Help:      "Total AI spend in cents, by app.",
		}, []string{"app_id"}),

		StoreOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total app data store operations.",
		}, []string{"op", "status"}),

		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ultralight",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "App data store operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		ScheduledRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total scheduled function runs.",
		}, []string{"status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ultralight",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ultralight",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.AISpendCentsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.ScheduledRunsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
