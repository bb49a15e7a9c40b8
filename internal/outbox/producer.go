package outbox

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// NewKafkaWriter returns a writer with no default topic; every message names its own. The hash
// balancer keeps all events of one user on one partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
}
