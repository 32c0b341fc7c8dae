package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-grants/storage"
)

// ErrorKind classifies grant failures. The HTTP adapter maps each kind to an OAuth
// error code and status.
type ErrorKind int

// Error kinds
const (
	InvalidRequest ErrorKind = iota + 1
	InvalidClient
	InvalidRedirectURI
	InvalidGrant
	InvalidScope
	UnauthorizedClient
	UnsupportedGrantType
	Unauthorized
	ServiceUnavailable
)

var kindNames = map[ErrorKind]string{
	InvalidRequest:       "invalid_request",
	InvalidClient:        "invalid_client",
	InvalidRedirectURI:   "invalid_redirect_uri",
	InvalidGrant:         "invalid_grant",
	InvalidScope:         "invalid_scope",
	UnauthorizedClient:   "unauthorized_client",
	UnsupportedGrantType: "unsupported_grant_type",
	Unauthorized:         "unauthorized",
	ServiceUnavailable:   "service_unavailable",
}

// String returns the snake_case name of the kind
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Error is a classified grant failure. Description is safe to show to clients; the
// wrapped cause is for logs only.
type Error struct {
	Kind        ErrorKind
	Description string
	Err         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidGrant) works for
// every invalid grant failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrInvalidRequest       = &Error{Kind: InvalidRequest}
	ErrInvalidClient        = &Error{Kind: InvalidClient}
	ErrInvalidRedirectURI   = &Error{Kind: InvalidRedirectURI}
	ErrInvalidGrant         = &Error{Kind: InvalidGrant}
	ErrInvalidScope         = &Error{Kind: InvalidScope}
	ErrUnauthorizedClient   = &Error{Kind: UnauthorizedClient}
	ErrUnsupportedGrantType = &Error{Kind: UnsupportedGrantType}
	ErrUnauthorized         = &Error{Kind: Unauthorized}
	ErrServiceUnavailable   = &Error{Kind: ServiceUnavailable}
)

func newError(kind ErrorKind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, Err: cause}
}

// KindOf returns the kind of a grant error, or 0 when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// unavailable classifies a store failure that is not a grant-level outcome.
// Every unexpected store error is treated as transient.
func unavailable(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ServiceUnavailable, "Storage timed out", fmt.Errorf("%s: %w", op, err))
	}
	if errors.Is(err, storage.ErrUnavailable) {
		return newError(ServiceUnavailable, "Storage unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return newError(ServiceUnavailable, "Storage failure", fmt.Errorf("%s: %w", op, err))
}
