package domain

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/fuelsync/internal/observability"
)

// RefreshMargin is how close to expiry a stored access token may get before it is refreshed.
const RefreshMargin = 5 * time.Minute

// DefaultRefreshTimeout bounds a shared refresh once it no longer follows any caller's context.
const DefaultRefreshTimeout = 15 * time.Second

// TokenRefresher exchanges a refresh token for a new grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithTokenLogger overrides the logger used by the TokenManager.
func WithTokenLogger(logger *log.Logger) TokenOption {
	return func(m *TokenManager) {
		m.logger = logger
	}
}

// WithRefreshTimeout bounds each provider refresh. Non-positive values keep the default.
func WithRefreshTimeout(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// TokenManager hands out currently valid provider access tokens, refreshing them when they are
// within RefreshMargin of expiry.
type TokenManager struct {
	store          CredentialStore
	refresher      TokenRefresher
	now            func() time.Time
	logger         *log.Logger
	refreshTimeout time.Duration
	inflight       singleflight.Group
}

// NewTokenManager constructs a TokenManager.
func NewTokenManager(store CredentialStore, refresher TokenRefresher, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		store:          store,
		refresher:      refresher,
		now:            time.Now,
		logger:         log.New(log.Writer(), "[tokens] ", log.LstdFlags),
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ValidAccessToken returns a usable access token for userID. connected is false, with a nil
// error, when the user has no stored credential.
func (m *TokenManager) ValidAccessToken(ctx context.Context, userID string) (token string, connected bool, err error) {
	cred, err := m.store.GetCredential(ctx, userID, ProviderStrava)
	if err != nil {
		return "", false, storageError("load credential", err)
	}
	if cred == nil {
		return "", false, nil
	}
	if !cred.expiresWithin(m.now(), RefreshMargin) {
		return cred.AccessToken, true, nil
	}

	// Concurrent callers for the same user share one refresh; provider refresh tokens are
	// single use. The flight is detached from the caller that started it so that caller
	// going away does not fail the others.
	flight := m.inflight.DoChan(userID, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(rctx, userID)
	})
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return "", false, res.Err
		}
		result := res.Val.(refreshResult)
		return result.token, result.connected, nil
	}
}

type refreshResult struct {
	token     string
	connected bool
}

func (m *TokenManager) refresh(ctx context.Context, userID string) (refreshResult, error) {
	// Re-read inside the flight: a previous flight may already have rotated the token.
	cred, err := m.store.GetCredential(ctx, userID, ProviderStrava)
	if err != nil {
		return refreshResult{}, storageError("load credential", err)
	}
	if cred == nil {
		return refreshResult{}, nil
	}
	if !cred.expiresWithin(m.now(), RefreshMargin) {
		return refreshResult{token: cred.AccessToken, connected: true}, nil
	}

	grant, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		observability.RecordTokenRefresh("failed")
		return m.handleRefreshFailure(ctx, *cred, err)
	}

	next := grant.credentialFor(userID, cred)
	stored, err := m.store.ReplaceCredential(ctx, next, cred.Version)
	if errors.Is(err, ErrCredentialStale) {
		// Another process rotated the credential between our read and write.
		observability.RecordTokenRefresh("conflict")
		return m.afterConflict(ctx, userID)
	}
	if err != nil {
		observability.RecordTokenRefresh("persist_failed")
		m.logger.Printf("refreshed token for user %s could not be persisted: %v", userID, err)
		return refreshResult{}, storageError("persist refreshed credential", err)
	}

	observability.RecordTokenRefresh("refreshed")
	return refreshResult{token: stored.AccessToken, connected: true}, nil
}

func (m *TokenManager) afterConflict(ctx context.Context, userID string) (refreshResult, error) {
	current, err := m.store.GetCredential(ctx, userID, ProviderStrava)
	if err != nil {
		return refreshResult{}, storageError("reload credential", err)
	}
	if current == nil {
		return refreshResult{}, nil
	}
	if current.expiresWithin(m.now(), RefreshMargin) {
		return refreshResult{}, storageError("persist refreshed credential", ErrCredentialStale)
	}
	return refreshResult{token: current.AccessToken, connected: true}, nil
}

// handleRefreshFailure clears the credential when the provider rejected the refresh token with
// invalid_grant, so the user shows as disconnected instead of failing every sync. Only the exact
// version that was rejected is cleared: if another process rotated the credential meanwhile, its
// token is used instead. A 401 points at the client credentials rather than the user's grant and
// is treated like any other failure.
func (m *TokenManager) handleRefreshFailure(ctx context.Context, cred Credential, refreshErr error) (refreshResult, error) {
	var e *Error
	if !errors.As(refreshErr, &e) || e.Kind != KindOAuthRefresh || e.StatusCode != http.StatusBadRequest {
		return refreshResult{}, refreshErr
	}

	current, err := m.store.GetCredential(ctx, cred.UserID, cred.Provider)
	if err != nil {
		return refreshResult{}, errors.Join(refreshErr, storageError("reload credential", err))
	}
	if current == nil {
		return refreshResult{}, refreshErr
	}
	if current.Version != cred.Version {
		return m.rotatedElsewhere(ctx, cred.UserID, refreshErr)
	}

	m.logger.Printf("refresh token rejected for user %s, clearing credential version %d", cred.UserID, cred.Version)
	err = m.store.RevokeCredential(ctx, cred.UserID, cred.Provider, cred.Version)
	if errors.Is(err, ErrCredentialStale) {
		return m.rotatedElsewhere(ctx, cred.UserID, refreshErr)
	}
	if err != nil {
		return refreshResult{}, errors.Join(refreshErr, storageError("clear revoked credential", err))
	}
	observability.RecordConnectionChange("revoked")
	return refreshResult{}, refreshErr
}

// rotatedElsewhere resolves a rejected refresh that raced a rotation by another process.
func (m *TokenManager) rotatedElsewhere(ctx context.Context, userID string, refreshErr error) (refreshResult, error) {
	m.logger.Printf("refresh for user %s rejected but credential was rotated concurrently, keeping it", userID)
	result, err := m.afterConflict(ctx, userID)
	if err != nil {
		return refreshResult{}, errors.Join(refreshErr, err)
	}
	if !result.connected {
		return refreshResult{}, refreshErr
	}
	return result, nil
}
