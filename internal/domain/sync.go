// Package domain holds the Strava connection lifecycle and activity sync logic.
package domain

import (
	"context"
	"log"
	"strings"
	"time"

	"example.com/fuelsync/internal/observability"
)

// DefaultPageSize is how many recent activities one sync pulls.
const DefaultPageSize = 30

// ActivityFetcher lists the most recent provider activities for a bearer token.
type ActivityFetcher interface {
	FetchRecentActivities(ctx context.Context, accessToken string, pageSize int) ([]RawActivity, error)
}

// SyncResult reports the outcome of a successful sync.
type SyncResult struct {
	SyncedCount int
}

// SyncOption configures a SyncService.
type SyncOption func(*SyncService)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(size int) SyncOption {
	return func(s *SyncService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithSyncLogger overrides the logger used by the SyncService.
func WithSyncLogger(logger *log.Logger) SyncOption {
	return func(s *SyncService) {
		s.logger = logger
	}
}

// WithSyncClock overrides the time source used to stamp synced rows.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		s.now = now
	}
}

// SyncService pulls a page of provider activities for a user and stores them normalized.
type SyncService struct {
	tokens   *TokenManager
	fetcher  ActivityFetcher
	store    ActivityStore
	pageSize int
	now      func() time.Time
	logger   *log.Logger
}

// NewSyncService constructs a SyncService.
func NewSyncService(tokens *TokenManager, fetcher ActivityFetcher, store ActivityStore, opts ...SyncOption) *SyncService {
	s := &SyncService{
		tokens:   tokens,
		fetcher:  fetcher,
		store:    store,
		pageSize: DefaultPageSize,
		now:      time.Now,
		logger:   log.New(log.Writer(), "[sync] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync fetches, normalizes and upserts the user's most recent activities. The whole page is
// written or nothing is.
func (s *SyncService) Sync(ctx context.Context, userID string) (SyncResult, error) {
	if strings.TrimSpace(userID) == "" {
		return SyncResult{}, ErrMissingUserID
	}
	start := s.now()

	token, connected, err := s.tokens.ValidAccessToken(ctx, userID)
	if err != nil {
		observability.RecordSync(KindOf(err).String(), start)
		return SyncResult{}, err
	}
	if !connected {
		observability.RecordSync(KindNotConnected.String(), start)
		return SyncResult{}, &Error{Kind: KindNotConnected, Op: "sync"}
	}

	raws, err := s.fetcher.FetchRecentActivities(ctx, token, s.pageSize)
	if err != nil {
		observability.RecordSync(KindOf(err).String(), start)
		return SyncResult{}, err
	}
	if len(raws) == 0 {
		observability.RecordSync("ok", start)
		return SyncResult{}, nil
	}

	activities := NormalizeAll(raws, userID, s.now().UTC())
	written, err := s.store.UpsertActivities(ctx, activities)
	if err != nil {
		observability.RecordSync(KindStorage.String(), start)
		return SyncResult{}, storageError("upsert activities", err)
	}

	observability.RecordSync("ok", start)
	observability.RecordActivitiesSynced(written)
	s.logger.Printf("synced %d activities for user %s", written, userID)
	return SyncResult{SyncedCount: written}, nil
}

// ListActivities returns stored activities for a user, newest first.
func (s *SyncService) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	activities, next, err := s.store.ListByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, storageError("list activities", err)
	}
	return activities, next, nil
}
