package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "fuelsync.identity"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeActivitiesRead, ScopeActivitiesWrite},
	}
}

func TestParseAcceptsValidToken(t *testing.T) {
	claims, err := Parse(signToken(t, validClaims(), testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope(ScopeActivitiesRead))
	require.False(t, claims.HasScope("admin"))
}

func TestParseAcceptsSpaceSeparatedScopes(t *testing.T) {
	raw := validClaims()
	raw["scopes"] = "activities:read  activities:write"
	claims, err := Parse(signToken(t, raw, testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeActivitiesWrite))
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse(signToken(t, validClaims(), "other-secret"), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = Parse(signToken(t, expired, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject := validClaims()
	delete(noSubject, "sub")
	_, err = Parse(signToken(t, noSubject, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestStateRoundTrip(t *testing.T) {
	state, err := IssueState("user-7", 10*time.Minute, time.Now(), testConfig)
	require.NoError(t, err)

	userID, err := ParseState(state, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-7", userID)

	_, err = Parse(state, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken, "a state must not work as a bearer token")
}

func TestStateRejectsExpiredAndForeign(t *testing.T) {
	expired, err := IssueState("user-7", time.Minute, time.Now().Add(-time.Hour), testConfig)
	require.NoError(t, err)
	_, err = ParseState(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseState(signToken(t, validClaims(), testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken, "a bearer token must not work as a state")
}

func TestMiddlewareSkipsPublicPaths(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/strava/callback?code=x", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/strava/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/strava/sync", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(), testConfig.Secret))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-1", seen.Subject)
}
