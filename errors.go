package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-grants/server"
	"github.com/giantswarm/oauth-grants/storage"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Errors the HTTP layer raises itself; grant failures go through ErrorFromGrant
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the authorization endpoint was asked for something other than a code
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// grantErrorCodes maps grant error kinds to RFC 6749 error codes
var grantErrorCodes = map[server.ErrorKind]string{
	server.InvalidRequest:       ErrorCodeInvalidRequest,
	server.InvalidClient:        ErrorCodeInvalidClient,
	server.InvalidRedirectURI:   ErrorCodeInvalidRedirectURI,
	server.InvalidGrant:         ErrorCodeInvalidGrant,
	server.InvalidScope:         ErrorCodeInvalidScope,
	server.UnauthorizedClient:   ErrorCodeUnauthorizedClient,
	server.UnsupportedGrantType: ErrorCodeUnsupportedGrantType,
	server.Unauthorized:         ErrorCodeAccessDenied,
	server.ServiceUnavailable:   ErrorCodeTemporarilyUnavailable,
}

// StatusFor returns the HTTP status a grant error is reported with. An unknown client
// id is reported as not found; every other client authentication failure is 401.
func StatusFor(err error) int {
	if errors.Is(err, storage.ErrClientNotFound) {
		return http.StatusNotFound
	}

	switch server.KindOf(err) {
	case server.InvalidClient, server.Unauthorized:
		return http.StatusUnauthorized
	case server.ServiceUnavailable:
		return http.StatusServiceUnavailable
	case 0:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ErrorFromGrant converts an error returned by the grant engine into the response sent
// to the client. Causes never reach the description; errors the engine did not
// classify become server_error.
func ErrorFromGrant(err error) *OAuthError {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	var grantErr *server.Error
	if !errors.As(err, &grantErr) {
		return ErrServerError("Internal server error")
	}

	code, ok := grantErrorCodes[grantErr.Kind]
	if !ok {
		return ErrServerError("Internal server error")
	}
	return NewOAuthError(code, grantErr.Description, StatusFor(err))
}
