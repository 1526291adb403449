package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/fitstate/internal/domain"
)

var (
	appliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "mutations_applied_total",
		Help:      "Number of mutations committed to the state document by op.",
	}, []string{"op"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "mutations_rejected_total",
		Help:      "Number of mutations rejected by op and reason.",
	}, []string{"op", "reason"})

	duplicateCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "mutations_duplicate_total",
		Help:      "Number of replayed mutation ids acknowledged without effect.",
	}, []string{"op"})

	changedFields = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "changed_fields",
		Help:      "Fields changed per committed mutation.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16},
	})

	snapshotDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "snapshot_write_seconds",
		Help:      "Latency of snapshot writes.",
		Buckets:   prometheus.DefBuckets,
	})

	snapshotErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "store",
		Name:      "snapshot_errors_total",
		Help:      "Number of failed snapshot writes.",
	})
)

func init() {
	prometheus.MustRegister(appliedCounter, rejectedCounter, duplicateCounter, changedFields, snapshotDuration, snapshotErrors)
}

func recordApplied(op domain.Op, changes int) {
	appliedCounter.WithLabelValues(string(op)).Inc()
	changedFields.Observe(float64(changes))
}

func recordRejected(op domain.Op, reason string) {
	rejectedCounter.WithLabelValues(string(op), reason).Inc()
}

func recordDuplicate(op domain.Op) {
	duplicateCounter.WithLabelValues(string(op)).Inc()
}
