package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is the closed failure taxonomy shared by all adapters.
type ErrorKind string

const (
	// ErrConnectionRefused means the backend was unreachable.
	ErrConnectionRefused ErrorKind = "connection_refused"

	// ErrTimeout means the backend exceeded its configured budget.
	ErrTimeout ErrorKind = "timeout"

	// ErrInvalidResponseShape means the backend answered but the payload
	// matched none of the recognized contracts.
	ErrInvalidResponseShape ErrorKind = "invalid_response_shape"

	// ErrAuthRejected means the credential was invalid or expired.
	ErrAuthRejected ErrorKind = "auth_rejected"

	// ErrBackendOverloaded means a transient capacity failure (rate limit,
	// model loading). Never retried against the same provider.
	ErrBackendOverloaded ErrorKind = "backend_overloaded"

	// ErrInvalidRequest means the request could not be built or sent from
	// this side. It says nothing about the backend's health.
	ErrInvalidRequest ErrorKind = "invalid_request"

	// ErrNoProviderAvailable is the aggregate returned when every provider
	// for a request kind failed or was skipped.
	ErrNoProviderAvailable ErrorKind = "no_provider_available"
)

// Error implements error so kinds can be used as errors.Is targets.
func (k ErrorKind) Error() string { return string(k) }

// Error is a provider-tagged failure.
type Error struct {
	Provider   string    `json:"provider"`
	Kind       ErrorKind `json:"kind"`
	StatusCode int       `json:"statusCode,omitempty"`
	Message    string    `json:"message"`
	Err        error     `json:"-"`
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches against an ErrorKind sentinel.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func newError(provider string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Message: msg, Err: cause}
}

// AsError converts any error returned by an adapter into a *Error tagged
// with the provider name. Errors that are already typed keep their kind.
func AsError(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			cp := *pe
			cp.Provider = provider
			return &cp
		}
		return pe
	}
	return transportError(provider, err)
}

// transportError maps a failure from http.Client.Do (or a context error)
// onto the taxonomy.
func transportError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(provider, ErrTimeout, "deadline exceeded", err)
	}
	// caller went away; the attempt ran out of budget from our point of view
	if errors.Is(err, context.Canceled) {
		return newError(provider, ErrTimeout, "request canceled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(provider, ErrTimeout, ne.Error(), err)
	}
	return newError(provider, ErrConnectionRefused, err.Error(), err)
}

// statusError maps a non-2xx HTTP status onto the taxonomy.
func statusError(provider string, status int, body []byte) *Error {
	var kind ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuthRejected
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = ErrTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		kind = ErrBackendOverloaded
	default:
		kind = ErrInvalidResponseShape
	}
	return &Error{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Message:    truncate(string(body), 256),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
