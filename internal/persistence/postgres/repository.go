// Package postgres implements the credential, activity and energy stores on PostgreSQL and
// records outbox events in the same transaction as the rows they describe.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/events"
	"example.com/fuelsync/internal/observability"
)

// Repository provides Postgres-backed persistence for credentials, activities, energy and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

const credentialColumns = `user_id, provider, athlete_id, access_token, refresh_token, expires_at, scope, version, created_at, updated_at`

func scanCredential(row pgx.Row) (domain.Credential, error) {
	var cred domain.Credential
	err := row.Scan(&cred.UserID, &cred.Provider, &cred.AthleteID, &cred.AccessToken, &cred.RefreshToken, &cred.ExpiresAt, &cred.Scope, &cred.Version, &cred.CreatedAt, &cred.UpdatedAt)
	return cred, err
}

// GetCredential implements domain.CredentialStore.
func (r *Repository) GetCredential(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM provider_credentials WHERE user_id=$1 AND provider=$2`

	cred, err := scanCredential(r.pool.QueryRow(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cred, nil
}

// UpsertCredential stores the credential and records a connection event in one transaction.
func (r *Repository) UpsertCredential(ctx context.Context, cred domain.Credential) (stored domain.Credential, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Credential{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	stmt := `INSERT INTO provider_credentials (user_id, provider, athlete_id, access_token, refresh_token, expires_at, scope, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,1,NOW(),NOW())
        ON CONFLICT (user_id, provider) DO UPDATE SET
            athlete_id = EXCLUDED.athlete_id,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            scope = EXCLUDED.scope,
            version = provider_credentials.version + 1,
            updated_at = NOW()
        RETURNING ` + credentialColumns

	stored, err = scanCredential(tx.QueryRow(ctx, stmt,
		cred.UserID, cred.Provider, cred.AthleteID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.Scope,
	))
	if err != nil {
		return domain.Credential{}, err
	}

	if err = r.insertOutbox(ctx, tx, outboxRecord{
		aggregateType: "credential",
		aggregateID:   stored.UserID,
		eventType:     events.TypeConnectionChanged,
		partitionKey:  stored.UserID,
		payload: events.ConnectionChanged{
			UserID:     stored.UserID,
			Provider:   stored.Provider,
			AthleteID:  stored.AthleteID,
			Change:     events.ChangeConnected,
			OccurredAt: stored.UpdatedAt,
		},
	}); err != nil {
		return domain.Credential{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Credential{}, err
	}
	return stored, nil
}

// ReplaceCredential implements domain.CredentialStore with a version guard.
func (r *Repository) ReplaceCredential(ctx context.Context, cred domain.Credential, expectedVersion int64) (domain.Credential, error) {
	stmt := `UPDATE provider_credentials SET
            athlete_id = $3,
            access_token = $4,
            refresh_token = $5,
            expires_at = $6,
            scope = $7,
            version = version + 1,
            updated_at = NOW()
        WHERE user_id=$1 AND provider=$2 AND version=$8
        RETURNING ` + credentialColumns

	stored, err := scanCredential(r.pool.QueryRow(ctx, stmt,
		cred.UserID, cred.Provider, cred.AthleteID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt, cred.Scope, expectedVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Credential{}, domain.ErrCredentialStale
		}
		return domain.Credential{}, err
	}
	return stored, nil
}

// DeleteCredential removes the credential and records a disconnection event when a row existed.
func (r *Repository) DeleteCredential(ctx context.Context, userID, provider string) error {
	_, err := r.deleteCredential(ctx,
		`DELETE FROM provider_credentials WHERE user_id=$1 AND provider=$2 RETURNING athlete_id`,
		userID, provider)
	return err
}

// RevokeCredential removes the credential only while it is still at expectedVersion.
func (r *Repository) RevokeCredential(ctx context.Context, userID, provider string, expectedVersion int64) error {
	deleted, err := r.deleteCredential(ctx,
		`DELETE FROM provider_credentials WHERE user_id=$1 AND provider=$2 AND version=$3 RETURNING athlete_id`,
		userID, provider, expectedVersion)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrCredentialStale
	}
	return nil
}

func (r *Repository) deleteCredential(ctx context.Context, stmt, userID, provider string, args ...any) (deleted bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !deleted {
			tx.Rollback(ctx)
		}
	}()

	var athleteID string
	err = tx.QueryRow(ctx, stmt, append([]any{userID, provider}, args...)...).Scan(&athleteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err = r.insertOutbox(ctx, tx, outboxRecord{
		aggregateType: "credential",
		aggregateID:   userID,
		eventType:     events.TypeConnectionChanged,
		partitionKey:  userID,
		payload: events.ConnectionChanged{
			UserID:     userID,
			Provider:   provider,
			AthleteID:  athleteID,
			Change:     events.ChangeDisconnected,
			OccurredAt: r.now().UTC(),
		},
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// UpsertActivities writes the batch in one transaction keyed on (user_id, provider_activity_id)
// and records one activity.synced event per row.
func (r *Repository) UpsertActivities(ctx context.Context, activities []domain.Activity) (written int, err error) {
	if len(activities) == 0 {
		return 0, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO activities (activity_id, user_id, provider_activity_id, source, category, name, started_at, duration_seconds,
            distance_meters, calories, elevation_meters, avg_heart_rate, pace_seconds_per_km, speed_kmh, synced_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        ON CONFLICT (user_id, provider_activity_id) DO UPDATE SET
            source = EXCLUDED.source,
            category = EXCLUDED.category,
            name = EXCLUDED.name,
            started_at = EXCLUDED.started_at,
            duration_seconds = EXCLUDED.duration_seconds,
            distance_meters = EXCLUDED.distance_meters,
            calories = EXCLUDED.calories,
            elevation_meters = EXCLUDED.elevation_meters,
            avg_heart_rate = EXCLUDED.avg_heart_rate,
            pace_seconds_per_km = EXCLUDED.pace_seconds_per_km,
            speed_kmh = EXCLUDED.speed_kmh,
            synced_at = EXCLUDED.synced_at
        RETURNING activity_id`

	var latest time.Time
	for _, activity := range activities {
		candidateID := activity.ID
		if candidateID == "" {
			candidateID = uuid.NewString()
		}

		var storedID string
		if err = tx.QueryRow(ctx, stmt,
			candidateID,
			activity.UserID,
			activity.ProviderActivityID,
			activity.Source,
			string(activity.Category),
			activity.Name,
			activity.StartedAt,
			activity.DurationSeconds,
			activity.DistanceMeters,
			activity.Calories,
			activity.ElevationMeters,
			activity.AvgHeartRate,
			activity.PaceSecondsPerKm,
			activity.SpeedKmh,
			activity.SyncedAt,
		).Scan(&storedID); err != nil {
			return 0, err
		}

		if err = r.insertOutbox(ctx, tx, outboxRecord{
			aggregateType: "activity",
			aggregateID:   storedID,
			eventType:     events.TypeActivitySynced,
			partitionKey:  activity.UserID,
			dedupeKey:     fmt.Sprintf("%s:%s:%d", storedID, events.TypeActivitySynced, activity.SyncedAt.UnixNano()),
			payload: events.ActivitySynced{
				ActivityID:         storedID,
				UserID:             activity.UserID,
				ProviderActivityID: activity.ProviderActivityID,
				Source:             activity.Source,
				Category:           string(activity.Category),
				StartedAt:          activity.StartedAt,
				DurationSeconds:    activity.DurationSeconds,
				Calories:           activity.Calories,
				SyncedAt:           activity.SyncedAt,
			},
		}); err != nil {
			return 0, err
		}

		if activity.SyncedAt.After(latest) {
			latest = activity.SyncedAt
		}
		written++
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	observability.RecordActivityPersisted(latest)
	return written, nil
}

const activityColumns = `activity_id, user_id, provider_activity_id, source, category, name, started_at, duration_seconds,
        distance_meters, calories, elevation_meters, avg_heart_rate, pace_seconds_per_km, speed_kmh, synced_at`

// ListByUser returns activities for a user, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (started_at, activity_id) < ($3, $4)`
		args = append(args, cursor.StartedAt, cursor.ID)
	}
	query += ` ORDER BY started_at DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a        domain.Activity
			category string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProviderActivityID, &a.Source, &category, &a.Name, &a.StartedAt, &a.DurationSeconds,
			&a.DistanceMeters, &a.Calories, &a.ElevationMeters, &a.AvgHeartRate, &a.PaceSecondsPerKm, &a.SpeedKmh, &a.SyncedAt); err != nil {
			return nil, nil, err
		}
		a.Category = domain.Category(category)
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// RecordActivityEnergy implements domain.EnergyStore. Replays overwrite the previous value.
func (r *Repository) RecordActivityEnergy(ctx context.Context, userID, providerActivityID string, day time.Time, calories int) error {
	const stmt = `INSERT INTO activity_energy (user_id, provider_activity_id, day, calories, recorded_at)
        VALUES ($1,$2,$3,$4,NOW())
        ON CONFLICT (user_id, provider_activity_id) DO UPDATE SET
            day = EXCLUDED.day,
            calories = EXCLUDED.calories,
            recorded_at = NOW()`

	_, err := r.pool.Exec(ctx, stmt, userID, providerActivityID, day, calories)
	return err
}

// DailyEnergy implements domain.EnergyStore.
func (r *Repository) DailyEnergy(ctx context.Context, userID string, from, to time.Time) ([]domain.DailyEnergy, error) {
	const query = `SELECT day, SUM(calories), COUNT(*)
        FROM activity_energy
        WHERE user_id=$1 AND day >= $2::date AND day < $3::date
        GROUP BY day
        ORDER BY day`

	rows, err := r.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.DailyEnergy, 0)
	for rows.Next() {
		var (
			day      time.Time
			calories int64
			count    int64
		)
		if err := rows.Scan(&day, &calories, &count); err != nil {
			return nil, err
		}
		results = append(results, domain.DailyEnergy{Day: day.UTC(), Calories: int(calories), ActivityCount: int(count)})
	}
	return results, rows.Err()
}

type outboxRecord struct {
	aggregateType string
	aggregateID   string
	eventType     string
	partitionKey  string
	dedupeKey     string
	payload       interface{}
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, rec outboxRecord) error {
	body, err := json.Marshal(rec.payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[rec.eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.aggregateType,
		rec.aggregateID,
		rec.eventType,
		meta.Topic,
		meta.SchemaSubject,
		rec.partitionKey,
		body,
		nullIfEmpty(rec.dedupeKey),
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeActivitySynced: {
		Topic:         events.TopicActivitySynced,
		SchemaSubject: events.TopicActivitySynced + "-value",
	},
	events.TypeConnectionChanged: {
		Topic:         events.TopicConnectionChanged,
		SchemaSubject: events.TopicConnectionChanged + "-value",
	},
}
