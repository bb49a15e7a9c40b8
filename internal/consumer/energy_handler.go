package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/fuelsync/internal/events"
)

// EnergyRecorder stores the calorie burn of one activity.
type EnergyRecorder interface {
	Record(ctx context.Context, userID, providerActivityID string, startedAt time.Time, calories int) error
}

// EnergyHandler folds activity.synced events into the daily energy ledger. Other event types are
// acknowledged without side effects.
type EnergyHandler struct {
	recorder EnergyRecorder
}

// NewEnergyHandler constructs an EnergyHandler.
func NewEnergyHandler(recorder EnergyRecorder) *EnergyHandler {
	return &EnergyHandler{recorder: recorder}
}

// Handle implements Handler.
func (h *EnergyHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeActivitySynced {
		return nil
	}

	var event events.ActivitySynced
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	return h.recorder.Record(ctx, event.UserID, event.ProviderActivityID, event.StartedAt, event.Calories)
}
