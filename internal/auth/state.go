package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const statePurpose = "strava_oauth_state"

type stateClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// IssueState signs the user id into the OAuth state parameter so the unauthenticated callback
// can recover who started the flow.
func IssueState(userID string, ttl time.Duration, now time.Time, cfg Config) (string, error) {
	claims := stateClaims{
		Purpose: statePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// ParseState verifies a state produced by IssueState and returns the user id.
func ParseState(state string, cfg Config) (string, error) {
	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(state, &claims, keyFunc(cfg),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Purpose != statePurpose || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
