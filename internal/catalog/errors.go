package catalog

import (
	"errors"
	"fmt"
)

// Errors returned by providers, checked with errors.Is.
var (
	ErrNotFound         = errors.New("catalog: resource not found")
	ErrRightsRestricted = errors.New("catalog: track not available for this account or region")
	ErrTrackUnavailable = errors.New("catalog: track has no downloadable media")
	ErrNoStreamURL      = errors.New("catalog: provider returned no stream url")
	ErrSessionInvalid   = errors.New("catalog: session is not logged in")
	ErrTokenExpired     = errors.New("catalog: session token expired")
	ErrRateLimited      = errors.New("catalog: rate limit exceeded")
)

// ProviderError adds provider context to one of the sentinel errors above.
type ProviderError struct {
	Err     error
	Op      string
	ID      string
	Message string
	Code    int
}

func (e *ProviderError) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	msg += ": " + e.Err.Error()
	if e.Message != "" {
		msg += fmt.Sprintf(" (%d: %s)", e.Code, e.Message)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newError(op, id string, err error) error {
	return &ProviderError{Op: op, ID: id, Err: err}
}

// IsSessionError reports whether err means the provider session must be renewed.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrTokenExpired)
}
