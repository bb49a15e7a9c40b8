package domain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// credentialStub is a minimal in-package CredentialStore with a version guard.
type credentialStub struct {
	mu      sync.Mutex
	creds   map[string]Credential
	getErr  error
	deletes int
	revokes int
	// beforeReplace runs once, before the next ReplaceCredential applies.
	beforeReplace func()
}

func newCredentialStub() *credentialStub {
	return &credentialStub{creds: make(map[string]Credential)}
}

func (s *credentialStub) put(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred.Provider == "" {
		cred.Provider = ProviderStrava
	}
	cred.Version++
	s.creds[cred.UserID] = cred
}

func (s *credentialStub) get(userID string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[userID]
	return c, ok
}

func (s *credentialStub) GetCredential(ctx context.Context, userID, provider string) (*Credential, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	c, ok := s.get(userID)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *credentialStub) UpsertCredential(ctx context.Context, cred Credential) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred.Version = s.creds[cred.UserID].Version + 1
	s.creds[cred.UserID] = cred
	return cred, nil
}

func (s *credentialStub) ReplaceCredential(ctx context.Context, cred Credential, expectedVersion int64) (Credential, error) {
	if hook := s.beforeReplace; hook != nil {
		s.beforeReplace = nil
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.creds[cred.UserID]
	if !ok || existing.Version != expectedVersion {
		return Credential{}, ErrCredentialStale
	}
	cred.Version = existing.Version + 1
	s.creds[cred.UserID] = cred
	return cred, nil
}

func (s *credentialStub) DeleteCredential(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.creds, userID)
	return nil
}

func (s *credentialStub) RevokeCredential(ctx context.Context, userID, provider string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.creds[userID]
	if !ok || existing.Version != expectedVersion {
		return ErrCredentialStale
	}
	s.revokes++
	delete(s.creds, userID)
	return nil
}

type refresherStub struct {
	calls atomic.Int32
	grant TokenGrant
	err   error
	delay time.Duration
	// during runs inside Refresh, before the result is returned.
	during func()
	// started is closed on the first call; release, when set, blocks until closed.
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (r *refresherStub) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if r.calls.Add(1) == 1 && r.started != nil {
		close(r.started)
	}
	if r.release != nil {
		<-r.release
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.during != nil {
		r.during()
	}
	r.ctxErr = ctx.Err()
	if r.ctxErr != nil {
		return TokenGrant{}, r.ctxErr
	}
	return r.grant, r.err
}

type fetcherStub struct {
	calls     int
	lastToken string
	raws      []RawActivity
	err       error
}

func (f *fetcherStub) FetchRecentActivities(ctx context.Context, accessToken string, pageSize int) ([]RawActivity, error) {
	f.calls++
	f.lastToken = accessToken
	if f.err != nil {
		return nil, f.err
	}
	if len(f.raws) > pageSize {
		return f.raws[:pageSize], nil
	}
	return f.raws, nil
}

type activityStoreStub struct {
	rows map[string]Activity
	err  error
}

func newActivityStoreStub() *activityStoreStub {
	return &activityStoreStub{rows: make(map[string]Activity)}
}

func (s *activityStoreStub) UpsertActivities(ctx context.Context, activities []Activity) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	for _, a := range activities {
		s.rows[a.UserID+"/"+a.ProviderActivityID] = a
	}
	return len(activities), nil
}

func (s *activityStoreStub) ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	out := make([]Activity, 0)
	for _, a := range s.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil, nil
}

type exchangerStub struct {
	grant        TokenGrant
	err          error
	deauthErr    error
	exchanged    []string
	deauthorized []string
}

func (e *exchangerStub) Exchange(ctx context.Context, code string) (TokenGrant, error) {
	e.exchanged = append(e.exchanged, code)
	return e.grant, e.err
}

func (e *exchangerStub) Deauthorize(ctx context.Context, accessToken string) error {
	e.deauthorized = append(e.deauthorized, accessToken)
	return e.deauthErr
}

type energyStoreStub struct {
	recorded map[string]int
	days     map[string]time.Time
	from, to time.Time
}

func newEnergyStoreStub() *energyStoreStub {
	return &energyStoreStub{recorded: make(map[string]int), days: make(map[string]time.Time)}
}

func (s *energyStoreStub) RecordActivityEnergy(ctx context.Context, userID, providerActivityID string, day time.Time, calories int) error {
	s.recorded[providerActivityID] = calories
	s.days[providerActivityID] = day
	return nil
}

func (s *energyStoreStub) DailyEnergy(ctx context.Context, userID string, from, to time.Time) ([]DailyEnergy, error) {
	s.from, s.to = from, to
	return nil, nil
}
