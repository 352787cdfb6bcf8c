package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across the gateway. Callers route on the kind with
// errors.As; the façade maps kinds to HTTP status codes.

var (
	ErrVenueNotFound  = errors.New("venue not found")
	ErrConnectPending = errors.New("connect already in flight")
	ErrNotConnected   = errors.New("venue not connected")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// AuthError signals a bad signature, bad credentials or an expired token.
// Never retried with the same credential.
type AuthError struct {
	Venue string
	Cause string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failed on %s: %s", e.Venue, e.Cause)
}

// VenueRejected carries the venue's raw business-rule rejection text.
type VenueRejected struct {
	Venue      string
	StatusCode int
	Body       string
}

func (e *VenueRejected) Error() string {
	return fmt.Sprintf("%s rejected request (HTTP %d): %s", e.Venue, e.StatusCode, e.Body)
}

// VenueUnavailable covers 5xx responses, timeouts and network failures.
// Eligible for a bounded retry at the call site, not internally looped.
type VenueUnavailable struct {
	Venue string
	Cause error
}

func (e *VenueUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Venue, e.Cause)
}

func (e *VenueUnavailable) Unwrap() error { return e.Cause }

// OAuth protocol violations. Both abort the flow and are never retried
// automatically.
var (
	ErrInvalidState   = errors.New("oauth state invalid or expired")
	ErrExchangeFailed = errors.New("oauth code exchange failed")
)
