package server

import (
	"log/slog"
	"time"
)

// Config holds grant engine configuration
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid.
	// A negative value issues refresh tokens that never expire.
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// DisableRefreshTokenRotation keeps the presented refresh token valid on refresh
	// instead of replacing it.
	// WARNING: Without rotation a leaked refresh token stays usable until it expires.
	// Default: false (rotation on)
	DisableRefreshTokenRotation bool

	// ClientCredentialsRefreshTokens issues a refresh token with client credentials
	// grants. No end user approved such a session, so the default is false.
	ClientCredentialsRefreshTokens bool

	// AllowRedirectURIPrefixMatch accepts a redirect URI that extends a registered URI
	// at a path or query boundary (https://app/cb matches https://app/cb/x and
	// https://app/cb?x=1, never https://app/cbx).
	// Default: false (exact match only)
	AllowRedirectURIPrefixMatch bool

	// StoreTimeout bounds every store call made while serving a request.
	// Default: 5 seconds
	StoreTimeout time.Duration

	// SupportedScopes lists the scopes the server accepts.
	// If empty, all scopes are allowed.
	SupportedScopes []string
}

// applySecureDefaults fills zero values and logs warnings for insecure settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = 300 // 5 minutes
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.DisableRefreshTokenRotation {
		logger.Warn("⚠️  SECURITY WARNING: Refresh token rotation is DISABLED",
			"risk", "Stolen refresh tokens remain usable and reuse cannot be detected",
			"recommendation", "Leave DisableRefreshTokenRotation=false")
	}
	if config.ClientCredentialsRefreshTokens {
		logger.Warn("⚠️  SECURITY NOTICE: Client credentials grants issue refresh tokens",
			"risk", "Long-lived credentials without an approving user",
			"recommendation", "Clients can authenticate again instead of refreshing")
	}
	if config.AllowRedirectURIPrefixMatch {
		logger.Warn("⚠️  SECURITY NOTICE: Redirect URI prefix matching is ENABLED",
			"risk", "Codes can be delivered to any path below a registered URI",
			"recommendation", "Register exact redirect URIs instead")
	}
	if config.RefreshTokenTTL < 0 {
		logger.Warn("⚠️  SECURITY NOTICE: Refresh tokens never expire",
			"recommendation", "Set a positive RefreshTokenTTL")
	}
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// refreshTokenTTL returns 0 for refresh tokens that never expire
func (c *Config) refreshTokenTTL() time.Duration {
	if c.RefreshTokenTTL < 0 {
		return 0
	}
	return time.Duration(c.RefreshTokenTTL) * time.Second
}
