package domain

import (
	"context"
	"errors"
	"time"
)

// MaxEnergyWindow bounds a daily energy query.
const MaxEnergyWindow = 92 * 24 * time.Hour

// EnergyService exposes the per-day calorie burn derived from synced activities.
type EnergyService struct {
	store EnergyStore
}

// NewEnergyService constructs an EnergyService.
func NewEnergyService(store EnergyStore) *EnergyService {
	return &EnergyService{store: store}
}

// Record stores the calorie burn of one synced activity, keyed on the activity so replays
// overwrite.
func (s *EnergyService) Record(ctx context.Context, userID, providerActivityID string, startedAt time.Time, calories int) error {
	if userID == "" || providerActivityID == "" {
		return errors.New("user id and provider activity id are required")
	}
	day := startedAt.UTC().Truncate(24 * time.Hour)
	return storageError("record activity energy", s.store.RecordActivityEnergy(ctx, userID, providerActivityID, day, calories))
}

// Daily returns per-day totals in [from, to), oldest first.
func (s *EnergyService) Daily(ctx context.Context, userID string, from, to time.Time) ([]DailyEnergy, error) {
	if !to.After(from) {
		return nil, errors.New("window end must be after start")
	}
	if to.Sub(from) > MaxEnergyWindow {
		from = to.Add(-MaxEnergyWindow)
	}
	days, err := s.store.DailyEnergy(ctx, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, storageError("daily energy", err)
	}
	return days, nil
}
