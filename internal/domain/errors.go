package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the sync core can return. The set is closed: handlers
// switch on KindOf and must cover each kind.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNotConnected means the user has no stored provider credential. It is a user state,
	// not a fault.
	KindNotConnected
	// KindNotConfigured means provider client credentials or redirect URI are missing.
	KindNotConfigured
	// KindOAuthExchange means the provider rejected an authorization code exchange.
	KindOAuthExchange
	// KindOAuthRefresh means the provider rejected a refresh token.
	KindOAuthRefresh
	// KindFetchActivities means the provider activities listing failed.
	KindFetchActivities
	// KindStorage wraps persistence failures.
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindNotConfigured:
		return "not_configured"
	case KindOAuthExchange:
		return "oauth_exchange"
	case KindOAuthRefresh:
		return "oauth_refresh"
	case KindFetchActivities:
		return "fetch_activities"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by the sync core.
type Error struct {
	Kind ErrorKind
	Op   string
	// StatusCode and Body are set when the provider answered with a non-success status.
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotConnected    = &Error{Kind: KindNotConnected}
	ErrNotConfigured   = &Error{Kind: KindNotConfigured}
	ErrOAuthExchange   = &Error{Kind: KindOAuthExchange}
	ErrOAuthRefresh    = &Error{Kind: KindOAuthRefresh}
	ErrFetchActivities = &Error{Kind: KindFetchActivities}
	ErrStorage         = &Error{Kind: KindStorage}

	// ErrCredentialStale is returned by CredentialStore.ReplaceCredential when the stored
	// version no longer matches the expected one.
	ErrCredentialStale = errors.New("credential version changed concurrently")
	ErrMissingAuthCode = errors.New("authorization code is required")
	ErrMissingUserID   = errors.New("user id is required")
)

// KindOf reports the kind of err, or KindUnknown when err is not produced by this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}
