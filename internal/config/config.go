// Package config loads the oauth-grants server configuration from YAML.
//
// Values may reference environment variables as ${NAME} or ${NAME:default}; a .env
// file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-grants/server"
	"github.com/giantswarm/oauth-grants/storage"
)

// Storage backend types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQL    = "sql"
)

type (
	// Config is the root of the configuration file
	Config struct {
		HTTP    HTTPConfig     `yaml:"http"`
		Grants  GrantsConfig   `yaml:"grants"`
		Storage StorageConfig  `yaml:"storage"`
		Logger  LoggerConfig   `yaml:"logger"`
		Metrics MetricsConfig  `yaml:"metrics"`
		Clients []ClientConfig `yaml:"clients"`
	}

	// HTTPConfig configures the HTTP listener and the adapter in front of the engine
	HTTPConfig struct {
		Addr                  string          `yaml:"addr"`
		Issuer                string          `yaml:"issuer"`
		AllowTokenQueryParams bool            `yaml:"allow_token_query_params"`
		TrustProxy            bool            `yaml:"trust_proxy"`
		TrustedProxyCount     int             `yaml:"trusted_proxy_count"`
		PrincipalHeader       string          `yaml:"principal_header"` // header set by an authenticating proxy
		RateLimit             RateLimitConfig `yaml:"rate_limit"`
		AuditLog              bool            `yaml:"audit_log"`
		ShutdownTimeout       time.Duration   `yaml:"shutdown_timeout"`
	}

	// RateLimitConfig is the per-IP token bucket
	RateLimitConfig struct {
		Rate  int `yaml:"rate"`
		Burst int `yaml:"burst"`
	}

	// GrantsConfig is the grant policy; see server.Config
	GrantsConfig struct {
		AuthorizationCodeTTL           time.Duration `yaml:"authorization_code_ttl"`
		AccessTokenTTL                 time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL                time.Duration `yaml:"refresh_token_ttl"` // negative: never expire
		DisableRefreshTokenRotation    bool          `yaml:"disable_refresh_token_rotation"`
		ClientCredentialsRefreshTokens bool          `yaml:"client_credentials_refresh_tokens"`
		AllowRedirectURIPrefixMatch    bool          `yaml:"allow_redirect_uri_prefix_match"`
		StoreTimeout                   time.Duration `yaml:"store_timeout"`
		SupportedScopes                []string      `yaml:"supported_scopes"`
	}

	// StorageConfig selects and configures the backend
	StorageConfig struct {
		Type            string        `yaml:"type"` // "memory", "redis" or "sql"
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
		Redis           RedisConfig   `yaml:"redis"`
		SQL             SQLConfig     `yaml:"sql"`
	}

	// RedisConfig represents the Redis backend configuration
	RedisConfig struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	}

	// SQLConfig represents the SQL backend configuration
	SQLConfig struct {
		Driver string `yaml:"driver"` // sqlite, postgres or mysql
		DSN    string `yaml:"dsn"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json, text
	}

	// MetricsConfig enables the Prometheus endpoint
	MetricsConfig struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	// ClientConfig is a client seeded into the store at startup. Secrets are given as
	// bcrypt hashes (see the hash-secret command).
	ClientConfig struct {
		ClientID         string   `yaml:"client_id"`
		ClientName       string   `yaml:"client_name"`
		ClientType       string   `yaml:"client_type"`
		ClientSecretHash string   `yaml:"client_secret_hash"`
		RedirectURIs     []string `yaml:"redirect_uris"`
		GrantTypes       []string `yaml:"grant_types"`
		Scopes           []string `yaml:"scopes"`
	}
)

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Complete(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Complete applies defaults and validates the result
func (c *Config) Complete() error {
	c.applyDefaults()
	return c.Validate()
}

// Parse resolves environment references in data and decodes it into cfg
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(resolveEnv(data), cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		if value, exists := os.LookupEnv(string(matches[1])); exists {
			return []byte(value)
		}
		return matches[2]
	})
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Storage.CleanupInterval <= 0 {
		c.Storage.CleanupInterval = time.Minute
	}
	if c.Storage.SQL.Driver == "" {
		c.Storage.SQL.Driver = "sqlite"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks values that would otherwise only fail at first use
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case StorageSQL:
		if c.Storage.SQL.DSN == "" {
			return fmt.Errorf("storage.sql.dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if _, err := ParseLevel(c.Logger.Level); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Clients))
	for i, client := range c.Clients {
		if client.ClientID == "" {
			return fmt.Errorf("clients[%d]: client_id is required", i)
		}
		if seen[client.ClientID] {
			return fmt.Errorf("clients[%d]: duplicate client_id %q", i, client.ClientID)
		}
		seen[client.ClientID] = true
	}
	return nil
}

// ServerConfig converts the grant policy into the engine configuration
func (g GrantsConfig) ServerConfig() *server.Config {
	refreshTTL := seconds(g.RefreshTokenTTL)
	if g.RefreshTokenTTL < 0 {
		refreshTTL = -1
	}

	return &server.Config{
		AuthorizationCodeTTL:           seconds(g.AuthorizationCodeTTL),
		AccessTokenTTL:                 seconds(g.AccessTokenTTL),
		RefreshTokenTTL:                refreshTTL,
		DisableRefreshTokenRotation:    g.DisableRefreshTokenRotation,
		ClientCredentialsRefreshTokens: g.ClientCredentialsRefreshTokens,
		AllowRedirectURIPrefixMatch:    g.AllowRedirectURIPrefixMatch,
		StoreTimeout:                   g.StoreTimeout,
		SupportedScopes:                g.SupportedScopes,
	}
}

func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// StorageClient converts a seeded client into its storage record
func (c ClientConfig) StorageClient(now time.Time) *storage.Client {
	clientType := c.ClientType
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}

	return &storage.Client{
		ClientID:         c.ClientID,
		ClientSecretHash: c.ClientSecretHash,
		ClientType:       clientType,
		ClientName:       c.ClientName,
		RedirectURIs:     c.RedirectURIs,
		GrantTypes:       c.GrantTypes,
		Scopes:           c.Scopes,
		CreatedAt:        now,
	}
}

// ParseLevel maps a level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger
func (l LoggerConfig) NewLogger() *slog.Logger {
	level, err := ParseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
