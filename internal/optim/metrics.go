package optim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/cwbudde/mppfit/internal/kernel"
)

var tracer = otel.Tracer("mppfit/optim")

var (
	// iterationsTotal counts iterations by kernel variant and outcome.
	//
	// Labels:
	//   - kernel: birth, birth_partition, death, refine or unknown
	//   - outcome: accepted, rejected, skipped or fault
	iterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mppfit",
			Subsystem: "optim",
			Name:      "iterations_total",
			Help:      "Total optimizer iterations by kernel and outcome",
		},
		[]string{"kernel", "outcome"},
	)

	// acceptanceProbability tracks the distribution of acceptance probabilities
	acceptanceProbability = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mppfit",
			Subsystem: "optim",
			Name:      "acceptance_probability",
			Help:      "Acceptance probability of proposals by kernel",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"kernel"},
	)

	// runsTotal counts finished runs by status: completed, aborted or init_error
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mppfit",
			Subsystem: "optim",
			Name:      "runs_total",
			Help:      "Total optimizer runs by final status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mppfit",
			Subsystem: "optim",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of optimizer runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	bestScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mppfit",
			Subsystem: "optim",
			Name:      "best_score",
			Help:      "Best score of the most recently finished run",
		},
	)
)

// kernelLabel maps a kernel to a bounded label value
func kernelLabel(k kernel.Kernel) string {
	switch k.(type) {
	case kernel.Birth:
		return "birth"
	case kernel.BirthFromPartition:
		return "birth_partition"
	case kernel.Death:
		return "death"
	case kernel.Refine:
		return "refine"
	default:
		return "unknown"
	}
}
