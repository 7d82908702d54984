package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "contribapp"

var (
	once sync.Once

	// SubmissionsTotal counts contribution submissions by outcome.
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "submissions_total",
		Help:      "Total number of contribution submissions, labeled by result (created, malformed, ledger_failed, error).",
	}, []string{"result"})

	// SubmissionDurationSeconds is the end-to-end time of one submission.
	SubmissionDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "submission_duration_seconds",
		Help:      "End-to-end time to handle a contribution submission.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"result"})

	// MediaFilesProcessedTotal counts uploaded files by processing outcome.
	MediaFilesProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "media",
		Name:      "files_processed_total",
		Help:      "Total number of uploaded files processed, labeled by result (ok, failed).",
	}, []string{"result"})

	// CaptionAttemptsTotal counts caption inference calls by outcome.
	CaptionAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "caption",
		Name:      "attempts_total",
		Help:      "Total number of caption inference attempts, labeled by outcome (success, loading, terminal).",
	}, []string{"outcome"})

	// LedgerSubmissionsTotal counts ledger calls by outcome.
	LedgerSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "submissions_total",
		Help:      "Total number of ledger contribute calls, labeled by result (ok, failed).",
	}, []string{"result"})

	// RabbitMQConnected is 1 when the event publisher holds an open channel.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "rabbitmq_connected",
		Help:      "Whether the event publisher is currently connected to RabbitMQ (best-effort).",
	})

	PublishErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_error_total",
		Help:      "Total number of event publish errors.",
	})
)

// Register registers the service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionDurationSeconds,
			MediaFilesProcessedTotal,
			CaptionAttemptsTotal,
			LedgerSubmissionsTotal,
			RabbitMQConnected,
			PublishErrorTotal,
		)
	})
}
