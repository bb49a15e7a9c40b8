package domain

import (
	"context"
	"time"
)

// ProviderStrava is the only provider wired today.
const ProviderStrava = "strava"

// Credential is the stored OAuth bundle for one user and one provider. A stored credential always
// carries all three of AccessToken, RefreshToken and ExpiresAt; "not connected" is the absence of
// a row, never a partially filled one.
type Credential struct {
	UserID       string
	Provider     string
	AthleteID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	// Version increments on every write and backs compare-and-swap rotation.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenGrant is what the provider token endpoint returns for an exchange or a refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// AthleteID is only populated by code exchange.
	AthleteID string
	Scope     string
}

// CredentialStore persists provider credentials.
type CredentialStore interface {
	// GetCredential returns nil, nil when the user is not connected.
	GetCredential(ctx context.Context, userID, provider string) (*Credential, error)
	// UpsertCredential inserts or overwrites the credential unconditionally.
	UpsertCredential(ctx context.Context, cred Credential) (Credential, error)
	// ReplaceCredential overwrites the credential only if the stored version equals
	// expectedVersion, returning ErrCredentialStale otherwise.
	ReplaceCredential(ctx context.Context, cred Credential, expectedVersion int64) (Credential, error)
	DeleteCredential(ctx context.Context, userID, provider string) error
	// RevokeCredential deletes the credential only if the stored version equals
	// expectedVersion, returning ErrCredentialStale otherwise.
	RevokeCredential(ctx context.Context, userID, provider string, expectedVersion int64) error
}

func (c Credential) expiresWithin(now time.Time, margin time.Duration) bool {
	return c.ExpiresAt.Sub(now) < margin
}

func (g TokenGrant) credentialFor(userID string, previous *Credential) Credential {
	cred := Credential{
		UserID:       userID,
		Provider:     ProviderStrava,
		AthleteID:    g.AthleteID,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.ExpiresAt.UTC().Truncate(time.Second),
		Scope:        g.Scope,
	}
	if previous != nil {
		if cred.AthleteID == "" {
			cred.AthleteID = previous.AthleteID
		}
		if cred.Scope == "" {
			cred.Scope = previous.Scope
		}
		// Providers may omit the refresh token when it did not rotate.
		if cred.RefreshToken == "" {
			cred.RefreshToken = previous.RefreshToken
		}
		cred.CreatedAt = previous.CreatedAt
	}
	return cred
}
