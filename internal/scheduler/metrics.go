package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the schedule runner.
type Metrics struct {
	RunsFired     prometheus.Counter
	RunsSucceeded prometheus.Counter
	RunsFailed    prometheus.Counter
	RunsMissed    prometheus.Counter
	TickDuration  prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "runs_fired_total",
			Help:      "Total scheduled runs fired (invocation submitted).",
		}),
		RunsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "runs_succeeded_total",
			Help:      "Total scheduled invocations that were submitted successfully.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "runs_failed_total",
			Help:      "Total scheduled invocations that failed to submit.",
		}),
		RunsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "runs_missed_total",
			Help:      "Total scheduled runs skipped because they were outside the missed run window.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ultralight",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each scheduler tick (poll + fire cycle).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.RunsFired,
		m.RunsSucceeded,
		m.RunsFailed,
		m.RunsMissed,
		m.TickDuration,
	)

	return m
}
