package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-grants/storage"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B_UNSET:db}\nc: ${X_C_UNSET}\n")
	out := string(resolveEnv(in))
	assert.Contains(t, out, "a: va")
	assert.Contains(t, out, "b: db")
	assert.Contains(t, out, "c: \n")
}

func TestLoad(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	require.NoError(t, os.Chdir(tmp))

	t.Setenv("GRANTS_REDIS_ADDR", "redis:6379")

	content := `
http:
  addr: ":9000"
  issuer: https://auth.example.com
  principal_header: X-Forwarded-User
  rate_limit:
    rate: 10
grants:
  access_token_ttl: 30m
  refresh_token_ttl: -1s
  store_timeout: 2s
  supported_scopes: [read, write]
storage:
  type: redis
  redis:
    addr: ${GRANTS_REDIS_ADDR:localhost:6379}
    key_prefix: "${GRANTS_REDIS_PREFIX:grants:}"
clients:
  - client_id: C1
    client_secret_hash: $2a$10$abcdefghijklmnopqrstuv
    redirect_uris: [https://app/cb]
    scopes: [read]
`
	file := filepath.Join(tmp, "oauth-grants.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "https://auth.example.com", cfg.HTTP.Issuer)
	assert.Equal(t, 10, cfg.HTTP.RateLimit.Rate)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "grants:", cfg.Storage.Redis.KeyPrefix)
	assert.Equal(t, time.Minute, cfg.Storage.CleanupInterval)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, []string{"https://app/cb"}, cfg.Clients[0].RedirectURIs)

	grants := cfg.Grants.ServerConfig()
	assert.Equal(t, int64(1800), grants.AccessTokenTTL)
	assert.Equal(t, int64(-1), grants.RefreshTokenTTL)
	assert.Equal(t, int64(0), grants.AuthorizationCodeTTL, "zero leaves the engine default")
	assert.Equal(t, 2*time.Second, grants.StoreTimeout)
	assert.Equal(t, []string{"read", "write"}, grants.SupportedScopes)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, "sqlite", cfg.Storage.SQL.Driver)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Type = "etcd" }, "unknown storage type"},
		{"redis without addr", func(c *Config) { c.Storage.Type = StorageRedis }, "storage.redis.addr"},
		{"sql without dsn", func(c *Config) { c.Storage.Type = StorageSQL }, "storage.sql.dsn"},
		{"bad log level", func(c *Config) { c.Logger.Level = "loud" }, "unknown log level"},
		{"client without id", func(c *Config) { c.Clients = []ClientConfig{{}} }, "client_id is required"},
		{"duplicate client", func(c *Config) {
			c.Clients = []ClientConfig{{ClientID: "C1"}, {ClientID: "C1"}}
		}, "duplicate client_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClientConfig_StorageClient(t *testing.T) {
	now := time.Now()
	client := ClientConfig{ClientID: "C1", Scopes: []string{"read"}}.StorageClient(now)

	assert.Equal(t, storage.ClientTypeConfidential, client.ClientType)
	assert.Equal(t, now, client.CreatedAt)
	assert.Equal(t, []string{"read"}, client.Scopes)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
