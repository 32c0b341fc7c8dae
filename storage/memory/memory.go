package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

const (
	// tokenIDLogLength is the number of characters of a code or token written to debug logs
	tokenIDLogLength = 8

	// DefaultRevokedRetention is how long revoked tokens are kept for reuse detection
	// before cleanup reclaims them, even if they never expire.
	DefaultRevokedRetention = 90 * 24 * time.Hour
)

// Store is an in-memory implementation of ClientStore, CodeStore and TokenStore.
// A single mutex serializes every mutation, which makes redemption and refresh
// exchange atomic.
type Store struct {
	mu sync.RWMutex

	clients map[string]*storage.Client
	codes   map[string]*storage.AuthorizationCode
	tokens  map[string]*storage.Token

	// refresh token value -> access token values minted from it
	children map[string][]string

	// family id -> refresh token values of that family
	families map[string][]string

	obs *storage.Observer

	// lock-free reads for the storage size gauges
	tokensCountAtomic  atomic.Int64
	codesCountAtomic   atomic.Int64
	clientsCountAtomic atomic.Int64

	cleanupInterval  time.Duration
	revokedRetention time.Duration
	stopCleanup      chan struct{}
	stopOnce         sync.Once
	logger           *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with a one minute cleanup interval
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:          make(map[string]*storage.Client),
		codes:            make(map[string]*storage.AuthorizationCode),
		tokens:           make(map[string]*storage.Token),
		children:         make(map[string][]string),
		families:         make(map[string][]string),
		cleanupInterval:  cleanupInterval,
		revokedRetention: DefaultRevokedRetention,
		stopCleanup:      make(chan struct{}),
		logger:           slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetRevokedRetention sets how long revoked tokens are kept before cleanup removes them.
func (s *Store) SetRevokedRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokedRetention = d
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.obs = storage.NewObserver(inst, "memory")
	s.updateCounts()
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return s.tokensCountAtomic.Load() },
		func() int64 { return s.codesCountAtomic.Load() },
		func() int64 { return s.clientsCountAtomic.Load() },
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// updateCounts must be called with mu held.
func (s *Store) updateCounts() {
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.codesCountAtomic.Store(int64(len(s.codes)))
	s.clientsCountAtomic.Store(int64(len(s.clients)))
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, done := s.obs.Start(ctx, "save_client")
	defer done(&err)

	if err = storage.ValidateClient(client); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = client.Clone()
	s.updateCounts()

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, done := s.obs.Start(ctx, "get_client")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return client.Clone(), nil
}

// DeleteClient removes a client. Tokens already issued to it stay in the store but
// can no longer be refreshed because the client no longer resolves.
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	_, done := s.obs.Start(ctx, "delete_client")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return storage.ErrClientNotFound
	}
	delete(s.clients, clientID)
	s.updateCounts()
	return nil
}

// ListClients returns every registered client ordered by client ID
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	_, done := s.obs.Start(ctx, "list_clients")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c.Clone())
	}
	slices.SortFunc(clients, func(a, b *storage.Client) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, done := s.obs.Start(ctx, "save_authorization_code")
	defer done(&err)

	if err = storage.ValidateAuthorizationCode(code); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return storage.ErrAlreadyExists
	}
	s.codes[code.Code] = code.Clone()
	s.updateCounts()

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	_, done := s.obs.Start(ctx, "get_authorization_code")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	return authCode.Clone(), nil
}

// RedeemAuthorizationCode atomically validates and consumes an authorization code.
//
// The stored record is only returned on ErrAuthorizationCodeUsed so the caller can
// revoke what the first redemption issued. Other failures return nil.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, binding storage.CodeBinding) (_ *storage.AuthorizationCode, err error) {
	_, done := s.obs.Start(ctx, "redeem_authorization_code")
	defer done(&err)

	s.mu.Lock() // write lock: check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if err = storage.CheckRedeemable(authCode, binding); err != nil {
		if err == storage.ErrAuthorizationCodeUsed {
			return authCode.Clone(), err
		}
		return nil, err
	}

	authCode.Used = true
	authCode.UsedAt = time.Now()

	s.logger.Debug("Redeemed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"client_id", authCode.ClientID)

	return authCode.Clone(), nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	_, done := s.obs.Start(ctx, "delete_authorization_code")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	s.updateCounts()
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair stores an access token and its optional refresh token
func (s *Store) SaveTokenPair(ctx context.Context, access, refresh *storage.Token) (err error) {
	_, done := s.obs.Start(ctx, "save_token_pair")
	defer done(&err)

	if err = storage.ValidateTokenPair(access, refresh); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[access.Value]; exists {
		return storage.ErrAlreadyExists
	}
	if refresh != nil {
		if _, exists := s.tokens[refresh.Value]; exists {
			return storage.ErrAlreadyExists
		}
		s.insertToken(refresh.Clone())
	}
	s.insertToken(access.Clone())
	s.updateCounts()
	return nil
}

// insertToken must be called with mu held.
func (s *Store) insertToken(t *storage.Token) {
	s.tokens[t.Value] = t
	switch t.Kind {
	case storage.TokenKindAccess:
		if t.RefreshToken != "" {
			s.children[t.RefreshToken] = append(s.children[t.RefreshToken], t.Value)
		}
	case storage.TokenKindRefresh:
		if t.FamilyID != "" {
			s.families[t.FamilyID] = append(s.families[t.FamilyID], t.Value)
		}
	}
}

// GetToken retrieves a token of either kind
func (s *Store) GetToken(ctx context.Context, value string) (_ *storage.Token, err error) {
	_, done := s.obs.Start(ctx, "get_token")
	defer done(&err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if err = storage.CheckUsable(t); err != nil {
		if err == storage.ErrTokenRevoked {
			return t.Clone(), err
		}
		return nil, err
	}
	return t.Clone(), nil
}

// ExchangeRefreshToken atomically validates a refresh token and stores its successor tokens
func (s *Store) ExchangeRefreshToken(ctx context.Context, ex storage.RefreshExchange) (_ *storage.Token, err error) {
	_, done := s.obs.Start(ctx, "exchange_refresh_token")
	defer done(&err)

	if err = storage.ValidateTokenPair(ex.Access, ex.Refresh); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[ex.RefreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if err = storage.CheckRefreshable(old, ex.ClientID); err != nil {
		if err == storage.ErrTokenRevoked {
			return old.Clone(), err
		}
		return nil, err
	}

	if _, exists := s.tokens[ex.Access.Value]; exists {
		return nil, storage.ErrAlreadyExists
	}

	access := ex.Access.Clone()
	if ex.Refresh != nil {
		if _, exists := s.tokens[ex.Refresh.Value]; exists {
			return nil, storage.ErrAlreadyExists
		}
		s.revokeLocked(old.Value, time.Now())
		s.insertToken(ex.Refresh.Clone())
		access.RefreshToken = ex.Refresh.Value
	} else {
		access.RefreshToken = old.Value
	}
	s.insertToken(access)
	s.updateCounts()

	return old.Clone(), nil
}

// RevokeToken revokes a token and, for refresh tokens, the access tokens minted from it
func (s *Store) RevokeToken(ctx context.Context, value string) (err error) {
	_, done := s.obs.Start(ctx, "revoke_token")
	defer done(&err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[value]; !ok {
		return storage.ErrTokenNotFound
	}
	s.revokeLocked(value, time.Now())
	return nil
}

// RevokeFamily revokes every token of a refresh token family
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (_ int, err error) {
	_, done := s.obs.Start(ctx, "revoke_family")
	defer done(&err)

	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for _, value := range s.families[familyID] {
		revoked += s.revokeLocked(value, now)
	}

	if revoked > 0 {
		s.logger.Info("Revoked refresh token family",
			"family_id", familyID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// RevokeAllTokensForPrincipalClient revokes every token a client holds on behalf of a principal
func (s *Store) RevokeAllTokensForPrincipalClient(ctx context.Context, principal, clientID string) (_ int, err error) {
	_, done := s.obs.Start(ctx, "revoke_principal_client")
	defer done(&err)

	if principal == "" || clientID == "" {
		return 0, fmt.Errorf("principal and client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	revoked := 0
	for value, t := range s.tokens {
		if t.Principal == principal && t.ClientID == clientID {
			revoked += s.revokeLocked(value, now)
		}
	}

	if revoked > 0 {
		s.logger.Info("Revoked all tokens for principal and client",
			"principal_hash", security.HashForLogging(principal),
			"client_id", clientID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// revokeLocked marks a token revoked and cascades to linked access tokens.
// Returns how many tokens changed state. Must be called with mu held.
func (s *Store) revokeLocked(value string, now time.Time) int {
	t, ok := s.tokens[value]
	if !ok {
		return 0
	}

	revoked := 0
	if !t.Revoked {
		t.Revoked = true
		t.RevokedAt = now
		revoked++
	}
	if t.Kind == storage.TokenKindRefresh {
		for _, child := range s.children[value] {
			revoked += s.revokeLocked(child, now)
		}
	}
	return revoked
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Cleanup removes expired codes, expired tokens and revoked tokens past the
// retention period. Returns the number of removed records.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	now := time.Now()

	for code, authCode := range s.codes {
		if security.IsTokenExpired(authCode.ExpiresAt) {
			delete(s.codes, code)
			cleaned++
		}
	}

	retentionCutoff := now.Add(-s.revokedRetention)
	for value, t := range s.tokens {
		expired := security.IsTokenExpired(t.ExpiresAt)
		stale := t.Revoked && t.RevokedAt.Before(retentionCutoff)
		if expired || stale {
			s.removeTokenLocked(value)
			cleaned++
		}
	}

	s.updateCounts()

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}

// removeTokenLocked deletes a token and its index entries. Must be called with mu held.
func (s *Store) removeTokenLocked(value string) {
	t, ok := s.tokens[value]
	if !ok {
		return
	}
	delete(s.tokens, value)

	switch t.Kind {
	case storage.TokenKindRefresh:
		delete(s.children, value)
		if t.FamilyID != "" {
			s.families[t.FamilyID] = slices.DeleteFunc(s.families[t.FamilyID], func(v string) bool { return v == value })
			if len(s.families[t.FamilyID]) == 0 {
				delete(s.families, t.FamilyID)
			}
		}
	case storage.TokenKindAccess:
		if t.RefreshToken != "" {
			s.children[t.RefreshToken] = slices.DeleteFunc(s.children[t.RefreshToken], func(v string) bool { return v == value })
			if len(s.children[t.RefreshToken]) == 0 {
				delete(s.children, t.RefreshToken)
			}
		}
	}
}
