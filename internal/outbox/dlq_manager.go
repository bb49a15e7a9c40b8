package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxDLQDelay = time.Hour

// DLQManager replays dead-lettered events into the outbox and quarantines entries that keep
// failing.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *log.Logger
}

// NewDLQManager constructs a DLQManager. Non-positive values fall back to 5 retries and a one
// minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{
		pool:       pool,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     log.New(log.Writer(), "[dlq] ", log.LstdFlags),
	}
}

// dlqEntry is one due outbox_dlq row. Field order matches the RunOnce select list.
type dlqEntry struct {
	ID            int64
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       []byte
	RetryCount    int
}

// RunOnce handles up to batchSize due entries and returns how many went back to the outbox.
// Per-entry failures are joined into the returned error without stopping the batch.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	rows, err := m.pool.Query(ctx,
		`SELECT dlq_id, event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, retry_count
           FROM outbox_dlq
          WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
          ORDER BY created_at
          LIMIT $1`, batchSize)
	if err != nil {
		return 0, err
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
	if err != nil {
		return 0, err
	}

	requeued := 0
	var errs error
	for _, entry := range entries {
		outcome, err := m.handle(ctx, entry)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		countDLQOutcome(entry, outcome)
		if outcome == outcomeRequeued {
			requeued++
		}
	}

	m.refreshBacklog(ctx)
	return requeued, errs
}

func (m *DLQManager) handle(ctx context.Context, entry dlqEntry) (string, error) {
	if entry.RetryCount >= m.maxRetries {
		_, err := m.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
			fmt.Sprintf("retry limit %d reached", m.maxRetries), entry.ID)
		if err != nil {
			return "", err
		}
		m.logger.Printf("quarantined entry %d (event_type=%s, aggregate=%s)", entry.ID, entry.EventType, entry.AggregateID)
		return outcomeQuarantined, nil
	}

	if reason := replayable(entry); reason != nil {
		return outcomeRetry, m.scheduleRetry(ctx, entry, reason)
	}

	err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
             VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID)
		return err
	})
	if err != nil {
		return outcomeRetry, m.scheduleRetry(ctx, entry, err)
	}
	return outcomeRequeued, nil
}

// replayable reports why an entry can never publish as stored, or nil.
func replayable(entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return errors.New("missing schema_subject")
	}
	if _, ok := schemaCatalog[entry.EventType]; !ok {
		return fmt.Errorf("unknown event_type %q", entry.EventType)
	}
	return nil
}

func (m *DLQManager) scheduleRetry(ctx context.Context, entry dlqEntry, cause error) error {
	delay := m.backoffDelay(entry.RetryCount + 1)
	_, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $1::interval,
                reason = $2
          WHERE dlq_id = $3`,
		delay, cause.Error(), entry.ID,
	)
	return err
}

// backoffDelay doubles baseDelay per attempt, capped at maxDLQDelay.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDLQDelay {
			return maxDLQDelay
		}
	}
	return delay
}

func (m *DLQManager) refreshBacklog(ctx context.Context) {
	var count int
	if err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&count); err != nil {
		m.logger.Printf("backlog query failed: %v", err)
		return
	}
	dlqBacklog.Set(float64(count))
}
