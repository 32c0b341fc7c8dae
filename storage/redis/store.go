package redis

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all keys
	DefaultKeyPrefix = "oauth:"

	// DefaultRevokedRetention is how long a revoked token without its own expiry is kept
	DefaultRevokedRetention = 90 * 24 * time.Hour

	// tokenIDLogLength is the number of characters to include when logging codes and tokens
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// minKeyTTL keeps records written already past expiry readable long enough to report them as expired
	minKeyTTL = time.Second
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// RevokedRetention bounds how long revoked non-expiring tokens are kept.
	// Default: 90 days
	RevokedRetention time.Duration
}

// Store is a Redis-backed implementation of ClientStore, CodeStore and TokenStore.
//
// Key layout (after the prefix):
//
//	client:<id>             client JSON
//	clients                 set of client ids
//	code:<code>             code JSON, expires with the code
//	token:<value>           token JSON, expires with the token
//	children:<refresh>      set of access tokens minted from a refresh token
//	family:<id>             set of refresh tokens of a family
//	pc:<hash>               set of tokens held by a client for a principal
type Store struct {
	client           goredis.UniversalClient
	prefix           string
	logger           *slog.Logger
	revokedRetention time.Duration
	obs              *storage.Observer
}

var _ storage.Store = (*Store)(nil)

// New connects to Redis and returns a store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(client, cfg)
	s.logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", s.prefix)

	return s, nil
}

// NewWithClient wraps an existing client. Address, Password, DB and TLS in cfg are ignored.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.RevokedRetention
	if retention <= 0 {
		retention = DefaultRevokedRetention
	}

	return &Store{
		client:           client,
		prefix:           prefix,
		logger:           logger,
		revokedRetention: retention,
	}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	s.logger.Info("Redis storage connection closed")
	return s.client.Close()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// Storage size gauges are not reported: counting keys would need a full scan.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.obs = storage.NewObserver(inst, "redis")
}

// ============================================================
// Key Helpers
// ============================================================

func (s *Store) clientKey(id string) string      { return s.prefix + "client:" + id }
func (s *Store) clientsKey() string              { return s.prefix + "clients" }
func (s *Store) codeKey(code string) string      { return s.prefix + "code:" + code }
func (s *Store) tokenKey(value string) string    { return s.prefix + "token:" + value }
func (s *Store) childrenKey(value string) string { return s.prefix + "children:" + value }
func (s *Store) familyKey(id string) string      { return s.prefix + "family:" + id }

// principalClientKey hashes the pair so separators inside either value cannot collide
func (s *Store) principalClientKey(principal, clientID string) string {
	sum := sha256.Sum256([]byte(principal + "\x00" + clientID))
	return s.prefix + "pc:" + hex.EncodeToString(sum[:])
}

// keyTTL returns the TTL for a record expiring at expiresAt; zero means no expiry.
func keyTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	return max(time.Until(expiresAt)+security.DefaultClockSkewGracePeriod, minKeyTTL)
}

// wrapErr marks backend failures as storage.ErrUnavailable
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func graceMillis() int64 {
	return security.DefaultClockSkewGracePeriod.Milliseconds()
}

// scriptReply splits a {status, data?} script reply
func scriptReply(res []any) (status, data string, err error) {
	if len(res) == 0 {
		return "", "", fmt.Errorf("empty script reply")
	}
	status, ok := res[0].(string)
	if !ok {
		return "", "", fmt.Errorf("unexpected script status %T", res[0])
	}
	if len(res) > 1 {
		data, _ = res[1].(string)
	}
	return status, data, nil
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.obs.Start(ctx, "save_client")
	defer done(&err)

	if err = storage.ValidateClient(client); err != nil {
		return err
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.clientKey(client.ClientID), data, 0)
		pipe.SAdd(ctx, s.clientsKey(), client.ClientID)
		return nil
	})
	if err != nil {
		return wrapErr("save client", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.obs.Start(ctx, "get_client")
	defer done(&err)

	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, wrapErr("get client", err)
	}

	var client storage.Client
	if err = json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// DeleteClient removes a client
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete_client")
	defer done(&err)

	var del *goredis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.clientKey(clientID))
		pipe.SRem(ctx, s.clientsKey(), clientID)
		return nil
	})
	if err != nil {
		return wrapErr("delete client", err)
	}
	if del.Val() == 0 {
		return storage.ErrClientNotFound
	}
	return nil
}

// ListClients returns every registered client ordered by client ID
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	ctx, done := s.obs.Start(ctx, "list_clients")
	defer done(&err)

	ids, err := s.client.SMembers(ctx, s.clientsKey()).Result()
	if err != nil {
		return nil, wrapErr("list clients", err)
	}
	if len(ids) == 0 {
		return []*storage.Client{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.clientKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapErr("list clients", err)
	}

	clients := make([]*storage.Client, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between SMEMBERS and MGET
		}
		var client storage.Client
		if err = json.Unmarshal([]byte(str), &client); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client: %w", err)
		}
		clients = append(clients, &client)
	}

	slices.SortFunc(clients, func(a, b *storage.Client) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an authorization code with a TTL matching its expiry
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.obs.Start(ctx, "save_authorization_code")
	defer done(&err)

	if err = storage.ValidateAuthorizationCode(code); err != nil {
		return err
	}

	data, err := json.Marshal(newCodeRecord(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.codeKey(code.Code), data, keyTTL(code.ExpiresAt)).Result()
	if err != nil {
		return wrapErr("save authorization code", err)
	}
	if !ok {
		return storage.ErrAlreadyExists
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.obs.Start(ctx, "get_authorization_code")
	defer done(&err)

	data, err := s.client.Get(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, wrapErr("get authorization code", err)
	}

	authCode, err := decodeCode(string(data))
	if err != nil {
		return nil, err
	}
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	return authCode, nil
}

// RedeemAuthorizationCode atomically validates and consumes an authorization code
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, binding storage.CodeBinding) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.obs.Start(ctx, "redeem_authorization_code")
	defer done(&err)

	res, err := redeemCodeScript.Run(ctx, s.client,
		[]string{s.codeKey(code)},
		nowMillis(), graceMillis(), binding.ClientID, binding.RedirectURI,
	).Slice()
	if err != nil {
		return nil, wrapErr("redeem authorization code", err)
	}

	status, data, err := scriptReply(res)
	if err != nil {
		return nil, err
	}

	switch status {
	case "OK":
		s.logger.Debug("Redeemed authorization code",
			"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
			"client_id", binding.ClientID)
		return decodeCode(data)
	case "USED":
		authCode, decodeErr := decodeCode(data)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return authCode, storage.ErrAuthorizationCodeUsed
	case "NOT_FOUND":
		return nil, storage.ErrAuthorizationCodeNotFound
	case "EXPIRED":
		return nil, storage.ErrAuthorizationCodeExpired
	case "MISMATCH":
		return nil, storage.ErrAuthorizationCodeMismatch
	default:
		return nil, fmt.Errorf("unexpected redeem status %q", status)
	}
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete_authorization_code")
	defer done(&err)

	if err = s.client.Del(ctx, s.codeKey(code)).Err(); err != nil {
		return wrapErr("delete authorization code", err)
	}
	return nil
}

func decodeCode(data string) (*storage.AuthorizationCode, error) {
	var rec codeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return rec.toCode(), nil
}

func decodeToken(data string) (*storage.Token, error) {
	var rec tokenRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return rec.toToken(), nil
}
