package domain

import (
	"context"
	"log"
	"strings"
	"time"

	"example.com/fuelsync/internal/observability"
)

// CodeExchanger is the part of the provider OAuth client used to connect and disconnect.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (TokenGrant, error)
	Deauthorize(ctx context.Context, accessToken string) error
}

// ConnectionStatus describes a user's provider connection.
type ConnectionStatus struct {
	Connected bool
	AthleteID string
	ExpiresAt time.Time
	Scope     string
}

// ConnectionService links and unlinks a user's provider account.
type ConnectionService struct {
	store     CredentialStore
	exchanger CodeExchanger
	logger    *log.Logger
}

// NewConnectionService constructs a ConnectionService.
func NewConnectionService(store CredentialStore, exchanger CodeExchanger, logger *log.Logger) *ConnectionService {
	if logger == nil {
		logger = log.New(log.Writer(), "[connection] ", log.LstdFlags)
	}
	return &ConnectionService{store: store, exchanger: exchanger, logger: logger}
}

// Connect exchanges an authorization code and stores the resulting credential, replacing any
// previous one. Codes are single use, so the exchange is never retried.
func (s *ConnectionService) Connect(ctx context.Context, userID, code string) (Credential, error) {
	if strings.TrimSpace(userID) == "" {
		return Credential{}, ErrMissingUserID
	}
	if strings.TrimSpace(code) == "" {
		return Credential{}, ErrMissingAuthCode
	}

	grant, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		return Credential{}, err
	}

	stored, err := s.store.UpsertCredential(ctx, grant.credentialFor(userID, nil))
	if err != nil {
		return Credential{}, storageError("store credential", err)
	}
	observability.RecordConnectionChange("connected")
	s.logger.Printf("user %s connected athlete %s", userID, stored.AthleteID)
	return stored, nil
}

// Disconnect deauthorizes the application at the provider and deletes the stored credential.
// The provider call is best effort; the local credential is removed regardless.
func (s *ConnectionService) Disconnect(ctx context.Context, userID string) error {
	cred, err := s.store.GetCredential(ctx, userID, ProviderStrava)
	if err != nil {
		return storageError("load credential", err)
	}
	if cred == nil {
		return nil
	}

	if err := s.exchanger.Deauthorize(ctx, cred.AccessToken); err != nil {
		s.logger.Printf("deauthorize for user %s failed: %v", userID, err)
	}
	if err := s.store.DeleteCredential(ctx, userID, ProviderStrava); err != nil {
		return storageError("delete credential", err)
	}
	observability.RecordConnectionChange("disconnected")
	return nil
}

// Status reports whether the user is connected.
func (s *ConnectionService) Status(ctx context.Context, userID string) (ConnectionStatus, error) {
	cred, err := s.store.GetCredential(ctx, userID, ProviderStrava)
	if err != nil {
		return ConnectionStatus{}, storageError("load credential", err)
	}
	if cred == nil {
		return ConnectionStatus{}, nil
	}
	return ConnectionStatus{
		Connected: true,
		AthleteID: cred.AthleteID,
		ExpiresAt: cred.ExpiresAt,
		Scope:     cred.Scope,
	}, nil
}
