package domain

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/fuelsync/internal/observability"
)

var fixedNow = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestTokenManager(store CredentialStore, refresher TokenRefresher) *TokenManager {
	return NewTokenManager(store, refresher,
		WithClock(func() time.Time { return fixedNow }),
		WithTokenLogger(log.New(io.Discard, "", 0)),
	)
}

func storedCredential(userID string, expiresIn time.Duration) Credential {
	return Credential{
		UserID:       userID,
		Provider:     ProviderStrava,
		AthleteID:    "987",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    fixedNow.Add(expiresIn),
		Scope:        "read,activity:read_all",
	}
}

func TestValidAccessTokenOutsideMarginSkipsRefresh(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", 301*time.Second))
	refresher := &refresherStub{}

	token, connected, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, connected)
	require.Equal(t, "at-old", token)
	require.Zero(t, refresher.calls.Load())
}

func TestValidAccessTokenInsideMarginRefreshesOnce(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", 299*time.Second))
	refresher := &refresherStub{grant: TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresAt: fixedNow.Add(6 * time.Hour)}}
	before := testutil.ToFloat64(observability.TokenRefreshCount("refreshed"))

	token, connected, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, connected)
	require.Equal(t, "at-new", token)
	require.Equal(t, int32(1), refresher.calls.Load())
	require.InDelta(t, before+1, testutil.ToFloat64(observability.TokenRefreshCount("refreshed")), 0.0001)

	persisted, ok := store.get("u1")
	require.True(t, ok)
	require.Equal(t, "at-new", persisted.AccessToken)
	require.Equal(t, "rt-new", persisted.RefreshToken)
	require.Equal(t, "987", persisted.AthleteID, "refresh keeps the athlete id")
	require.Equal(t, int64(2), persisted.Version)
}

func TestValidAccessTokenKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{grant: TokenGrant{AccessToken: "at-new", ExpiresAt: fixedNow.Add(6 * time.Hour)}}

	_, _, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)

	persisted, _ := store.get("u1")
	require.Equal(t, "rt-old", persisted.RefreshToken)
}

func TestValidAccessTokenNotConnected(t *testing.T) {
	refresher := &refresherStub{}

	token, connected, err := newTestTokenManager(newCredentialStub(), refresher).ValidAccessToken(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, connected)
	require.Empty(t, token)
	require.Zero(t, refresher.calls.Load())
}

func TestValidAccessTokenStorageFailure(t *testing.T) {
	store := newCredentialStub()
	store.getErr = errors.New("connection refused")

	_, _, err := newTestTokenManager(store, &refresherStub{}).ValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrStorage)
}

func TestValidAccessTokenRejectedRefreshClearsCredential(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{err: &Error{Kind: KindOAuthRefresh, Op: "strava refresh", StatusCode: http.StatusBadRequest}}

	_, _, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrOAuthRefresh)

	_, ok := store.get("u1")
	require.False(t, ok, "revoked credential must be cleared")
	require.Equal(t, 1, store.revokes)
	require.Zero(t, store.deletes)
}

func TestValidAccessTokenUnauthorizedRefreshKeepsCredential(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{err: &Error{Kind: KindOAuthRefresh, Op: "strava refresh", StatusCode: http.StatusUnauthorized}}

	_, _, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.ErrorIs(t, err, ErrOAuthRefresh)

	_, ok := store.get("u1")
	require.True(t, ok, "a client credential problem must not disconnect the user")
	require.Zero(t, store.revokes)
}

func TestValidAccessTokenRejectedRefreshKeepsConcurrentRotation(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{
		err: &Error{Kind: KindOAuthRefresh, Op: "strava refresh", StatusCode: http.StatusBadRequest},
		during: func() {
			// Another process rotated the token with the refresh token we are about to have rejected.
			current, _ := store.get("u1")
			rotated := storedCredential("u1", 6*time.Hour)
			rotated.AccessToken = "at-theirs"
			rotated.Version = current.Version
			store.put(rotated)
		},
	}

	token, connected, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, connected)
	require.Equal(t, "at-theirs", token)

	persisted, ok := store.get("u1")
	require.True(t, ok, "the rotated credential must survive")
	require.Equal(t, "at-theirs", persisted.AccessToken)
	require.Zero(t, store.revokes)
}

func TestValidAccessTokenTransientRefreshFailureKeepsCredential(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{err: &Error{Kind: KindOAuthRefresh, Op: "strava refresh", StatusCode: http.StatusBadGateway}}

	_, _, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.Equal(t, KindOAuthRefresh, KindOf(err))

	_, ok := store.get("u1")
	require.True(t, ok)
	require.Zero(t, store.deletes)
}

func TestValidAccessTokenConflictUsesWinnersToken(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{grant: TokenGrant{AccessToken: "at-ours", RefreshToken: "rt-ours", ExpiresAt: fixedNow.Add(6 * time.Hour)}}
	store.beforeReplace = func() {
		winner := storedCredential("u1", 6*time.Hour)
		winner.AccessToken = "at-theirs"
		current, _ := store.get("u1")
		winner.Version = current.Version
		store.put(winner)
	}

	token, connected, err := newTestTokenManager(store, refresher).ValidAccessToken(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, connected)
	require.Equal(t, "at-theirs", token)

	persisted, _ := store.get("u1")
	require.Equal(t, "at-theirs", persisted.AccessToken)
}

func TestValidAccessTokenCollapsesConcurrentRefreshes(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{
		grant: TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresAt: fixedNow.Add(6 * time.Hour)},
		delay: 50 * time.Millisecond,
	}
	manager := newTestTokenManager(store, refresher)

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	errs := make([]error, len(tokens))
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _, errs[i] = manager.ValidAccessToken(context.Background(), "u1")
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), refresher.calls.Load())
	for i, token := range tokens {
		require.NoError(t, errs[i])
		require.Equal(t, "at-new", token)
	}
}

func TestValidAccessTokenSharedRefreshSurvivesInitiatorCancel(t *testing.T) {
	store := newCredentialStub()
	store.put(storedCredential("u1", time.Minute))
	refresher := &refresherStub{
		grant:   TokenGrant{AccessToken: "at-new", RefreshToken: "rt-new", ExpiresAt: fixedNow.Add(6 * time.Hour)},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	manager := newTestTokenManager(store, refresher)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := manager.ValidAccessToken(ctxA, "u1")
		errA <- err
	}()
	<-refresher.started

	type outcome struct {
		token string
		err   error
	}
	resB := make(chan outcome, 1)
	go func() {
		token, _, err := manager.ValidAccessToken(context.Background(), "u1")
		resB <- outcome{token, err}
	}()

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	// Give the second caller time to join the in-flight refresh before it completes.
	time.Sleep(20 * time.Millisecond)
	close(refresher.release)

	b := <-resB
	require.NoError(t, b.err)
	require.Equal(t, "at-new", b.token)
	require.NoError(t, refresher.ctxErr)
	require.Equal(t, int32(1), refresher.calls.Load())

	persisted, _ := store.get("u1")
	require.Equal(t, "at-new", persisted.AccessToken)
}
