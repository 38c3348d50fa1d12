package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики планировщика и оркестратора.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_runs_total",
		Help: "Completed runs by terminal status",
	}, []string{"status"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trellis_run_duration_seconds",
		Help:    "Run duration from start to finish",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_steps_total",
		Help: "Completed steps by kind and terminal status",
	}, []string{"kind", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trellis_step_duration_seconds",
		Help:    "Step execution duration by kind",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"kind"})

	jobSubmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_job_submits_total",
		Help: "Job submissions to the remote platform",
	})
)

// RunFinished регистрирует завершение run'а.
func RunFinished(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
}

// StepFinished регистрирует финальный статус шага.
func StepFinished(kind, status string, duration time.Duration) {
	stepsTotal.WithLabelValues(kind, status).Inc()
	if duration > 0 {
		stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// JobSubmitted регистрирует submit job'а.
func JobSubmitted() {
	jobSubmitsTotal.Inc()
}
