package syncq

import "github.com/prometheus/client_golang/prometheus"

var (
	depthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Number of undelivered entries in the sync queue.",
	})

	abandonedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "abandoned_entries",
		Help:      "Number of entries abandoned after permanent rejection or retry exhaustion.",
	})

	enqueuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "enqueued_total",
		Help:      "Number of field changes added to the sync queue.",
	})

	coalescedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "coalesced_total",
		Help:      "Number of waiting entries superseded by a newer value for the same field.",
	})

	deliveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "deliveries_total",
		Help:      "Delivery attempts grouped by outcome.",
	}, []string{"outcome"})

	attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "attempt_duration_seconds",
		Help:      "Latency of remote delivery attempts.",
		Buckets:   prometheus.DefBuckets,
	})

	onlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "sync",
		Name:      "online",
		Help:      "1 when the reconciler considers the remote reachable.",
	})
)

func init() {
	prometheus.MustRegister(depthGauge, abandonedGauge, enqueuedCounter, coalescedCounter, deliveryCounter, attemptDuration, onlineGauge)
}

const (
	outcomeAcknowledged = "acknowledged"
	outcomeTransient    = "transient"
	outcomePermanent    = "permanent"
	outcomeExhausted    = "exhausted"
)

func recordOutcome(outcome string) {
	deliveryCounter.WithLabelValues(outcome).Inc()
}
