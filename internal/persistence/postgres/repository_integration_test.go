//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/events"
	"example.com/fuelsync/internal/testsupport"
)

func TestCredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testsupport.StartPostgres(ctx, t))
	userID := uuid.NewString()

	missing, err := repo.GetCredential(ctx, userID, domain.ProviderStrava)
	require.NoError(t, err)
	require.Nil(t, missing)

	stored, err := repo.UpsertCredential(ctx, domain.Credential{
		UserID:       userID,
		Provider:     domain.ProviderStrava,
		AthleteID:    "987",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second),
		Scope:        "read,activity:read_all",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.Version)

	rotated := stored
	rotated.AccessToken = "at-2"
	rotated.RefreshToken = "rt-2"
	replaced, err := repo.ReplaceCredential(ctx, rotated, stored.Version)
	require.NoError(t, err)
	require.Equal(t, int64(2), replaced.Version)
	require.Equal(t, "at-2", replaced.AccessToken)

	_, err = repo.ReplaceCredential(ctx, rotated, stored.Version)
	require.ErrorIs(t, err, domain.ErrCredentialStale)

	require.ErrorIs(t, repo.RevokeCredential(ctx, userID, domain.ProviderStrava, stored.Version), domain.ErrCredentialStale)
	kept, err := repo.GetCredential(ctx, userID, domain.ProviderStrava)
	require.NoError(t, err)
	require.Equal(t, "at-2", kept.AccessToken)

	require.NoError(t, repo.RevokeCredential(ctx, userID, domain.ProviderStrava, replaced.Version))
	require.NoError(t, repo.DeleteCredential(ctx, userID, domain.ProviderStrava))

	gone, err := repo.GetCredential(ctx, userID, domain.ProviderStrava)
	require.NoError(t, err)
	require.Nil(t, gone)

	var changes []string
	rows, err := repo.pool.Query(ctx, `SELECT payload FROM outbox WHERE event_type=$1 AND aggregate_id=$2 ORDER BY event_id`, events.TypeConnectionChanged, userID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var body []byte
		require.NoError(t, rows.Scan(&body))
		var evt events.ConnectionChanged
		require.NoError(t, json.Unmarshal(body, &evt))
		changes = append(changes, evt.Change)
	}
	require.Equal(t, []string{events.ChangeConnected, events.ChangeDisconnected}, changes)
}

func TestUpsertActivitiesIsIdempotentPerProviderActivity(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testsupport.StartPostgres(ctx, t))
	userID := uuid.NewString()

	pace := 400
	elevation := 42.0
	syncedAt := time.Now().UTC().Truncate(time.Microsecond)
	batch := []domain.Activity{
		{
			UserID:             userID,
			ProviderActivityID: "11",
			Source:             domain.ProviderStrava,
			Category:           domain.CategoryRun,
			Name:               "Lunch Run",
			StartedAt:          syncedAt.Add(-2 * time.Hour),
			DurationSeconds:    1800,
			DistanceMeters:     5000,
			Calories:           240,
			ElevationMeters:    &elevation,
			PaceSecondsPerKm:   &pace,
			SyncedAt:           syncedAt,
		},
		{
			UserID:             userID,
			ProviderActivityID: "12",
			Source:             domain.ProviderStrava,
			Category:           domain.CategoryOther,
			Name:               "Strength: Gym",
			StartedAt:          syncedAt.Add(-26 * time.Hour),
			DurationSeconds:    2400,
			Calories:           320,
			SyncedAt:           syncedAt,
		},
	}

	written, err := repo.UpsertActivities(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, written)

	batch[0].Name = "Renamed Run"
	batch[0].SyncedAt = syncedAt.Add(time.Minute)
	written, err = repo.UpsertActivities(ctx, batch[:1])
	require.NoError(t, err)
	require.Equal(t, 1, written)

	page, next, err := repo.ListByUser(ctx, userID, nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, page, 2)
	require.Equal(t, "Renamed Run", page[0].Name)
	require.NotNil(t, page[0].PaceSecondsPerKm)
	require.Equal(t, 400, *page[0].PaceSecondsPerKm)
	require.Nil(t, page[0].SpeedKmh)
	require.Nil(t, page[1].ElevationMeters)
	require.Equal(t, domain.CategoryOther, page[1].Category)

	first, cursor, err := repo.ListByUser(ctx, userID, nil, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotNil(t, cursor)
	second, _, err := repo.ListByUser(ctx, userID, cursor, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, "12", second[0].ProviderActivityID)

	var outboxRows int
	require.NoError(t, repo.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type=$1 AND partition_key=$2`, events.TypeActivitySynced, userID).Scan(&outboxRows))
	require.Equal(t, 3, outboxRows)
}

func TestDailyEnergyAggregatesPerDay(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testsupport.StartPostgres(ctx, t))
	userID := uuid.NewString()
	day := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.RecordActivityEnergy(ctx, userID, "1", day, 300))
	require.NoError(t, repo.RecordActivityEnergy(ctx, userID, "2", day, 200))
	require.NoError(t, repo.RecordActivityEnergy(ctx, userID, "2", day, 250))
	require.NoError(t, repo.RecordActivityEnergy(ctx, userID, "3", day.AddDate(0, 0, 1), 100))

	days, err := repo.DailyEnergy(ctx, userID, day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Equal(t, day, days[0].Day)
	require.Equal(t, 550, days[0].Calories)
	require.Equal(t, 2, days[0].ActivityCount)
	require.Equal(t, 100, days[1].Calories)
}
