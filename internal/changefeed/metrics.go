package changefeed

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "published_total",
		Help:      "Number of acknowledged field writes published.",
	}, []string{"topic"})

	publishErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "publish_errors_total",
		Help:      "Number of failed publishes per topic.",
	}, []string{"topic"})

	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "messages_processed_total",
		Help:      "Number of change feed messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "skipped_total",
		Help:      "Messages ignored because they came from this device or another owner.",
	}, []string{"reason"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fitstate",
		Subsystem: "changefeed",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishErrorCounter, processedCounter, handlerErrorCounter,
		decodeErrorCounter, skippedCounter, lastMessageGauge)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
