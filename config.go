package oauth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Endpoint paths registered by Handler.RegisterRoutes
const (
	AuthorizationPath = "/oauth2/authorize"
	TokenPath         = "/oauth2/token"
	MetadataPath      = "/.well-known/oauth-authorization-server"
)

const (
	// DefaultTrustedProxyCount is used when TrustProxy is set without a count
	DefaultTrustedProxyCount = 1
)

// Config holds the HTTP adapter configuration. Grant policy (lifetimes, rotation,
// scopes) lives in server.Config.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is advertised in the
	// metadata document and enables HSTS when it uses https.
	Issuer string

	// AllowTokenQueryParams accepts token requests as GET with query parameters.
	// WARNING: Credentials and codes end up in access logs and browser history.
	// Default: false (POST with a form body only)
	AllowTokenQueryParams bool

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int

	// PrincipalFunc returns the authenticated end user of an authorization request,
	// or "" when the user is not authenticated. Authentication itself is left to the
	// embedding application. When nil every authorization request is denied.
	PrincipalFunc func(r *http.Request) string

	// EnableAuditLogging enables security audit logging.
	// Logs grant events, reuse detection and violations (sensitive data hashed).
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	// Default: Rate
	Burst int
}

// PrincipalFromHeader returns a PrincipalFunc reading the end user from a header set by
// an authenticating reverse proxy, e.g. X-Forwarded-User.
// WARNING: Only safe when the proxy strips the header from incoming requests.
func PrincipalFromHeader(name string) func(r *http.Request) string {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = DefaultTrustedProxyCount
	}
	if config.RateLimit.Rate > 0 && config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = config.RateLimit.Rate
	}
	config.Issuer = strings.TrimSuffix(config.Issuer, "/")

	logConfigWarnings(config)
	return config
}

func logConfigWarnings(config *Config) {
	logger := config.Logger

	if config.AllowTokenQueryParams {
		logger.Warn("⚠️  SECURITY WARNING: Token requests via query parameters are ENABLED",
			"risk", "Client secrets and codes may be recorded in access logs",
			"recommendation", "Only enable for legacy clients that cannot POST")
	}
	if config.TrustProxy {
		logger.Info("Trusting proxy headers for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	if config.PrincipalFunc == nil {
		logger.Warn("No principal resolver configured; authorization requests will be denied")
	}
}
