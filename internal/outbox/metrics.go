package outbox

import "github.com/prometheus/client_golang/prometheus"

// DLQ outcomes recorded by the manager.
const (
	outcomeRequeued    = "requeued"
	outcomeRetry       = "retry_scheduled"
	outcomeQuarantined = "quarantined"
)

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "outbox",
		Name:      "events_published_total",
		Help:      "Outbox events written to Kafka, by topic.",
	}, []string{"topic"})

	deadLetteredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "outbox",
		Name:      "events_dead_lettered_total",
		Help:      "Outbox events moved to outbox_dlq after a failed publish, by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fuelsync",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelsync",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fuelsync",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "DLQ entries that are neither replayed nor quarantined.",
	})
)

func init() {
	prometheus.MustRegister(publishedCounter, deadLetteredCounter, batchDuration, dlqOutcomes, dlqBacklog)
}

func countPublished(messages []Message) {
	for _, msg := range messages {
		publishedCounter.WithLabelValues(msg.Topic).Inc()
	}
}

func countDeadLettered(messages []Message) {
	for _, msg := range messages {
		deadLetteredCounter.WithLabelValues(msg.Topic).Inc()
	}
}

func countDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomes.WithLabelValues(entry.Topic, entry.EventType, outcome).Inc()
}
