package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the maintenance scheduler.
type Metrics struct {
	SweepsTotal      prometheus.Counter
	ApprovalsExpired prometheus.Counter
	SessionsExpired  prometheus.Counter
	SweepDuration    prometheus.Histogram
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "scheduler",
			Name:      "sweeps_total",
			Help:      "Total maintenance sweeps run.",
		}),
		ApprovalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "scheduler",
			Name:      "approvals_expired_total",
			Help:      "Total pending approvals expired by the sweeper.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "scheduler",
			Name:      "sessions_expired_total",
			Help:      "Total idle sessions removed by the sweeper.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "axon",
			Subsystem: "scheduler",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each maintenance sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.ApprovalsExpired,
		m.SessionsExpired,
		m.SweepDuration,
	)

	return m
}
