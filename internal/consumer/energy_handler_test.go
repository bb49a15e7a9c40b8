package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fuelsync/internal/domain"
	"example.com/fuelsync/internal/events"
	"example.com/fuelsync/internal/persistence/memory"
)

func TestEnergyHandlerRecordsSyncedActivities(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	energy := domain.NewEnergyService(store)
	handler := NewEnergyHandler(energy)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, kcal := range []int{450, 300} {
		payload, err := json.Marshal(events.ActivitySynced{
			ActivityID:         "row",
			UserID:             "user-1",
			ProviderActivityID: []string{"100", "101"}[i],
			StartedAt:          day.Add(time.Duration(6+i) * time.Hour),
			Calories:           kcal,
		})
		require.NoError(t, err)
		require.NoError(t, handler.Handle(ctx, Message{EventType: events.TypeActivitySynced, Payload: payload}))
	}

	// Replaying an event overwrites rather than double counts.
	replay, err := json.Marshal(events.ActivitySynced{UserID: "user-1", ProviderActivityID: "100", StartedAt: day.Add(6 * time.Hour), Calories: 450})
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, Message{EventType: events.TypeActivitySynced, Payload: replay}))

	days, err := energy.Daily(ctx, "user-1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, 750, days[0].Calories)
	require.Equal(t, 2, days[0].ActivityCount)
}

func TestEnergyHandlerIgnoresOtherEvents(t *testing.T) {
	store := memory.NewStore()
	handler := NewEnergyHandler(domain.NewEnergyService(store))

	err := handler.Handle(context.Background(), Message{EventType: events.TypeConnectionChanged, Payload: json.RawMessage(`{"user_id":"user-1"}`)})
	require.NoError(t, err)
}

func TestEnergyHandlerRejectsMalformedPayload(t *testing.T) {
	handler := NewEnergyHandler(domain.NewEnergyService(memory.NewStore()))

	err := handler.Handle(context.Background(), Message{EventType: events.TypeActivitySynced, Payload: json.RawMessage(`{`)})
	require.Error(t, err)
}
