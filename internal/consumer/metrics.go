package consumer

import "github.com/prometheus/client_golang/prometheus"

// Results recorded per consumed record.
const (
	resultHandled      = "handled"
	resultHandlerError = "handler_error"
	resultUndecodable  = "undecodable"
	resultUnrouted     = "unrouted"
)

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "consumer",
		Name:      "records_total",
		Help:      "Kafka records seen by the consumer, by topic, event type and result.",
	}, []string{"topic", "event_type", "result"})

	lastHandledGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fuelsync",
		Subsystem: "consumer",
		Name:      "last_handled_timestamp_seconds",
		Help:      "Produce time of the newest record handled per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(recordsCounter, lastHandledGauge)
}

func countRecord(topic, eventType, result string) {
	recordsCounter.WithLabelValues(topic, eventType, result).Inc()
}

func markHandled(msg Message) {
	countRecord(msg.Topic, msg.EventType, resultHandled)
	if !msg.Timestamp.IsZero() {
		lastHandledGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}
