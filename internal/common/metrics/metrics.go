// internal/common/metrics/metrics.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bi-workers/internal/common/observability"
)

// Submission outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
	OutcomeRejected  = "rejected_in_flight"
)

var (
	ChartSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chart_submissions_total",
			Help: "Chart analysis submissions by outcome",
		},
		[]string{"outcome"},
	)

	ChartSubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chart_submission_duration_seconds",
			Help:    "Time from submit to idle, including the BI backend call",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"outcome"},
	)

	ChartSubmissionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chart_submissions_in_flight",
			Help: "Form controllers currently in the submitting state",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)

// SubmissionRecorder feeds both the Prometheus collectors above and the
// OpenTelemetry meter.
type SubmissionRecorder struct {
	obs *observability.Observability
}

func NewSubmissionRecorder(obs *observability.Observability) *SubmissionRecorder {
	return &SubmissionRecorder{obs: obs}
}

func (r *SubmissionRecorder) SubmissionStarted() {
	ChartSubmissionsInFlight.Inc()
}

func (r *SubmissionRecorder) SubmissionFinished(ctx context.Context, outcome string, elapsed time.Duration) {
	ChartSubmissionsInFlight.Dec()
	ChartSubmissions.WithLabelValues(outcome).Inc()
	ChartSubmissionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if r.obs != nil {
		r.obs.RecordAnalysis(ctx, observability.SourceForm, outcome, elapsed)
	}
}

func (r *SubmissionRecorder) SubmissionRejected() {
	ChartSubmissions.WithLabelValues(OutcomeRejected).Inc()
}
