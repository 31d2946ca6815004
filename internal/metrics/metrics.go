package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	stepName  = "step_name"
	sweepName = "sweep_name"
)

var (
	// StepErrors is the number of classified step failures.
	StepErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sor_step_error_count",
		Help: "Number of errors while executing workflow steps",
	}, []string{stepName})

	// StepLatency is how long one workflow step takes.
	StepLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sor_step_latency_seconds",
		Help:    "Workflow step latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	}, []string{stepName})

	// StepSkips is the number of steps skipped by the idempotency guard.
	StepSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sor_step_skipped_count",
		Help: "Number of steps skipped because the request was not in the expected status",
	}, []string{stepName})

	// SweepSize is the number of requests picked up by the last sweep.
	SweepSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sor_sweep_size",
		Help: "Number of requests picked up by the last batch sweep",
	}, []string{sweepName})

	// AuditWriteErrors tracks audit entries that failed to persist. The
	// underlying transition is kept, so these must be watched.
	AuditWriteErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sor_audit_write_error_count",
		Help: "Number of audit log writes that failed",
	})
)

func init() {
	prometheus.MustRegister(
		StepErrors,
		StepLatency,
		StepSkips,
		SweepSize,
		AuditWriteErrors,
	)
}
