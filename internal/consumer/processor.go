// Package consumer reads outbox events back off Kafka and hands them to domain handlers.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fuelsync/internal/outbox"
)

// Reader is the subset of *kafka.Reader the processor depends on.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Message is a Kafka record with the schema registry frame stripped.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	Key           string
	EventType     string
	AggregateID   string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the processor logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(p *Processor) {
		p.fetchBackoff = d
	}
}

// Processor pulls records, decodes them and dispatches to a Handler. A record is committed only
// after the handler succeeds or when it can never be decoded.
type Processor struct {
	reader       Reader
	handler      Handler
	logger       *log.Logger
	fetchBackoff time.Duration
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		logger:       log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		fetchBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until ctx is cancelled or the reader reports cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			p.pause(ctx)
			continue
		}

		msg, decodeErr := decodeMessage(record)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", record.Topic, record.Partition, record.Offset, decodeErr)
			countRecord(record.Topic, "", resultUndecodable)
			// Poison records are committed so the partition keeps moving.
			if commitErr := p.reader.CommitMessages(ctx, record); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, msg); handleErr != nil {
			p.logger.Printf("handler error (event_type=%s, aggregate=%s): %v", msg.EventType, msg.AggregateID, handleErr)
			countRecord(msg.Topic, msg.EventType, resultHandlerError)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, record); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
			continue
		}
		markHandled(msg)
	}
}

func (p *Processor) pause(ctx context.Context) {
	if p.fetchBackoff <= 0 {
		return
	}
	timer := time.NewTimer(p.fetchBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func decodeMessage(record kafka.Message) (Message, error) {
	if len(record.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(record.Value))
	}
	if record.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", record.Value[0])
	}

	eventType, ok := headerValue(record, outbox.HeaderEventType)
	if !ok || len(eventType) == 0 {
		return Message{}, errors.New("missing event_type header")
	}
	subject, _ := headerValue(record, outbox.HeaderSchemaSubject)
	aggregateID, _ := headerValue(record, outbox.HeaderAggregateID)

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		Key:           string(record.Key),
		EventType:     string(eventType),
		AggregateID:   string(aggregateID),
		SchemaSubject: string(subject),
		SchemaID:      int(binary.BigEndian.Uint32(record.Value[1:5])),
		Payload:       json.RawMessage(append([]byte(nil), record.Value[5:]...)),
	}, nil
}

func headerValue(record kafka.Message, key string) ([]byte, bool) {
	for _, header := range record.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
