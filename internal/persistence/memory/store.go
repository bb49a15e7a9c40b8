// Package memory provides in-process stores for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/fuelsync/internal/domain"
)

// Store keeps credentials, activities and energy records in memory. It implements
// domain.CredentialStore, domain.ActivityStore and domain.EnergyStore.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	credentials map[credentialKey]domain.Credential
	activities  map[activityKey]domain.Activity
	energy      map[activityKey]energyEntry
}

type credentialKey struct {
	userID   string
	provider string
}

type activityKey struct {
	userID             string
	providerActivityID string
}

type energyEntry struct {
	day      time.Time
	calories int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		now:         time.Now,
		credentials: make(map[credentialKey]domain.Credential),
		activities:  make(map[activityKey]domain.Activity),
		energy:      make(map[activityKey]energyEntry),
	}
}

// GetCredential implements domain.CredentialStore.
func (s *Store) GetCredential(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialKey{userID, provider}]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// UpsertCredential implements domain.CredentialStore.
func (s *Store) UpsertCredential(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey{cred.UserID, cred.Provider}
	now := s.now().UTC()
	if existing, ok := s.credentials[key]; ok {
		cred.Version = existing.Version + 1
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.Version = 1
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	s.credentials[key] = cred
	return cred, nil
}

// ReplaceCredential implements domain.CredentialStore.
func (s *Store) ReplaceCredential(ctx context.Context, cred domain.Credential, expectedVersion int64) (domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey{cred.UserID, cred.Provider}
	existing, ok := s.credentials[key]
	if !ok || existing.Version != expectedVersion {
		return domain.Credential{}, domain.ErrCredentialStale
	}
	cred.Version = existing.Version + 1
	cred.CreatedAt = existing.CreatedAt
	cred.UpdatedAt = s.now().UTC()
	s.credentials[key] = cred
	return cred, nil
}

// DeleteCredential implements domain.CredentialStore.
func (s *Store) DeleteCredential(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, credentialKey{userID, provider})
	return nil
}

// RevokeCredential implements domain.CredentialStore.
func (s *Store) RevokeCredential(ctx context.Context, userID, provider string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey{userID, provider}
	existing, ok := s.credentials[key]
	if !ok || existing.Version != expectedVersion {
		return domain.ErrCredentialStale
	}
	delete(s.credentials, key)
	return nil
}

// UpsertActivities implements domain.ActivityStore. Existing rows keep their ID.
func (s *Store) UpsertActivities(ctx context.Context, activities []domain.Activity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, activity := range activities {
		key := activityKey{activity.UserID, activity.ProviderActivityID}
		if existing, ok := s.activities[key]; ok {
			activity.ID = existing.ID
		} else if activity.ID == "" {
			activity.ID = uuid.NewString()
		}
		s.activities[key] = activity
	}
	return len(activities), nil
}

// ListByUser implements domain.ActivityStore.
func (s *Store) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.Activity, 0)
	for key, activity := range s.activities {
		if key.userID != userID {
			continue
		}
		if cursor != nil && !before(activity, *cursor) {
			continue
		}
		all = append(all, activity)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	if limit <= 0 || limit >= len(all) {
		return all, nil, nil
	}
	page := all[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{StartedAt: last.StartedAt, ID: last.ID}, nil
}

func before(a domain.Activity, c domain.Cursor) bool {
	if a.StartedAt.Equal(c.StartedAt) {
		return a.ID < c.ID
	}
	return a.StartedAt.Before(c.StartedAt)
}

// Count returns the number of stored activities for a user.
func (s *Store) Count(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key := range s.activities {
		if key.userID == userID {
			n++
		}
	}
	return n
}

// RecordActivityEnergy implements domain.EnergyStore.
func (s *Store) RecordActivityEnergy(ctx context.Context, userID, providerActivityID string, day time.Time, calories int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energy[activityKey{userID, providerActivityID}] = energyEntry{day: day.UTC(), calories: calories}
	return nil
}

// DailyEnergy implements domain.EnergyStore.
func (s *Store) DailyEnergy(ctx context.Context, userID string, from, to time.Time) ([]domain.DailyEnergy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[time.Time]*domain.DailyEnergy)
	for key, entry := range s.energy {
		if key.userID != userID || entry.day.Before(from) || !entry.day.Before(to) {
			continue
		}
		agg, ok := byDay[entry.day]
		if !ok {
			agg = &domain.DailyEnergy{Day: entry.day}
			byDay[entry.day] = agg
		}
		agg.Calories += entry.calories
		agg.ActivityCount++
	}

	out := make([]domain.DailyEnergy, 0, len(byDay))
	for _, agg := range byDay {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
