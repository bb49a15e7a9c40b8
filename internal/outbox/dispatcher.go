// Package outbox publishes rows of the outbox table to Kafka and manages the dead-letter table.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/fuelsync/internal/events"
)

// Header keys set on every published record.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaSubject = "schema_subject"
	HeaderAggregateID   = "aggregate_id"
)

// DefaultClaimLease is how long a claimed row stays invisible to other dispatchers.
const DefaultClaimLease = time.Minute

// Writer is satisfied by *kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Registry resolves the schema id for a subject.
type Registry interface {
	EnsureSchema(ctx context.Context, subject, schema string) (int, error)
}

// Message is one claimed outbox row. Field order matches claimQuery.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher polls the outbox and publishes claimed rows. Rows that fail to publish are moved
// to outbox_dlq in the same transaction that settles them.
type Dispatcher struct {
	pool         *pgxpool.Pool
	writer       Writer
	registry     Registry
	pollInterval time.Duration
	batchSize    int
	claimLease   time.Duration
	logger       *log.Logger

	schemaIDs sync.Map // subject -> int
	done      chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, writer Writer, registry Registry, pollInterval time.Duration, batchSize int) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		pool:         pool,
		writer:       writer,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		claimLease:   DefaultClaimLease,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		done:         make(chan struct{}),
	}
}

// Start polls until ctx is cancelled. Run it in its own goroutine and call Wait after cancelling.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil || len(messages) == 0 {
		return err
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if pubErr := d.publish(ctx, messages); pubErr != nil {
		d.logger.Printf("publish of %d events failed: %v", len(messages), pubErr)
		if err := d.settle(ctx, messages, pubErr.Error()); err != nil {
			return errors.Join(pubErr, err)
		}
		countDeadLettered(messages)
		return nil
	}

	if err := d.settle(ctx, messages, ""); err != nil {
		return err
	}
	countPublished(messages)
	return nil
}

const claimQuery = `UPDATE outbox SET claimed_at = NOW()
    WHERE event_id IN (
        SELECT event_id FROM outbox
        WHERE published_at IS NULL
          AND (claimed_at IS NULL OR claimed_at < NOW() - $2::interval)
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED)
    RETURNING event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload`

// claim leases up to batchSize unpublished rows in one statement, oldest first.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	rows, err := d.pool.Query(ctx, claimQuery, d.batchSize, d.claimLease)
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].EventID < messages[j].EventID })
	return messages, nil
}

// publish frames every message and writes the batch in one call.
func (d *Dispatcher) publish(ctx context.Context, messages []Message) error {
	records := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			return err
		}
		records = append(records, kafka.Message{
			Topic: msg.Topic,
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Headers: []kafka.Header{
				{Key: HeaderEventType, Value: []byte(msg.EventType)},
				{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
				{Key: HeaderAggregateID, Value: []byte(msg.AggregateID)},
			},
		})
	}
	return d.writer.WriteMessages(ctx, records...)
}

func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	schema, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	if id, ok := d.schemaIDs.Load(msg.SchemaSubject); ok {
		return id.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, schema)
	if err != nil {
		return 0, fmt.Errorf("resolve schema %s: %w", msg.SchemaSubject, err)
	}
	d.schemaIDs.Store(msg.SchemaSubject, id)
	return id, nil
}

// settle marks the batch published. A non-empty reason also copies each row into outbox_dlq in
// the same transaction.
func (d *Dispatcher) settle(ctx context.Context, messages []Message, reason string) error {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		if reason != "" {
			batch := &pgx.Batch{}
			for _, msg := range messages {
				batch.Queue(
					`INSERT INTO outbox_dlq (event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, reason, next_retry_at)
                     VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, NOW())`,
					msg.EventID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.SchemaSubject, msg.PartitionKey, msg.Payload, reason,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("dead-letter events: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
		return err
	})
}

// encodeWireFormat prefixes payload with the schema registry magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

var schemaCatalog = map[string]string{
	events.TypeActivitySynced:    activitySyncedSchema,
	events.TypeConnectionChanged: connectionChangedSchema,
}
