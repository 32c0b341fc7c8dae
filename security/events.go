package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is obtained with a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when tokens are revoked by the engine
	EventTokenRevoked = "token_revoked"

	// EventTokenReuseDetected is logged when a rotated refresh token is presented again
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // G101: event type name, not a credential

	// Authorization code events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a redeemed authorization code is presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// Client events

	// EventClientRegistered is logged when a client is added to the registry
	EventClientRegistered = "client_registered"

	// EventClientDeleted is logged when a client is removed from the registry
	EventClientDeleted = "client_deleted"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidRedirect is logged when a redirect URI is not registered for the client
	EventInvalidRedirect = "invalid_redirect"
)
