package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// indexAdd adds members to an index set. The set's TTL only ever grows so it outlives
// every member; ttl 0 means no expiry.
type indexAdd struct {
	key     string
	members []any
	ttl     time.Duration
}

// ttl decisions for index sets
const (
	ttlKeep = iota
	ttlPersist
	ttlExpire
)

// maxTTL combines record TTLs where 0 (no expiry) dominates
func maxTTL(a, b time.Duration) time.Duration {
	if a == 0 || b == 0 {
		return 0
	}
	return max(a, b)
}

// indexesFor lists the index entries a batch of new tokens needs
func (s *Store) indexesFor(tokens []*storage.Token) []indexAdd {
	var adds []indexAdd
	pc := map[string]*indexAdd{}

	for _, t := range tokens {
		ttl := keyTTL(t.ExpiresAt)

		if t.Kind == storage.TokenKindAccess && t.RefreshToken != "" {
			adds = append(adds, indexAdd{key: s.childrenKey(t.RefreshToken), members: []any{t.Value}, ttl: ttl})
		}
		if t.Kind == storage.TokenKindRefresh && t.FamilyID != "" {
			adds = append(adds, indexAdd{key: s.familyKey(t.FamilyID), members: []any{t.Value}, ttl: ttl})
		}
		if t.Principal != "" {
			key := s.principalClientKey(t.Principal, t.ClientID)
			if idx, ok := pc[key]; ok {
				idx.members = append(idx.members, t.Value)
				idx.ttl = maxTTL(idx.ttl, ttl)
			} else {
				pc[key] = &indexAdd{key: key, members: []any{t.Value}, ttl: ttl}
			}
		}
	}

	for _, idx := range pc {
		adds = append(adds, *idx)
	}
	return adds
}

// writeTokens stores new tokens and their index entries in one transaction.
// Token keys are watched so a concurrent write of the same value fails the whole batch.
func (s *Store) writeTokens(ctx context.Context, tokens ...*storage.Token) error {
	keys := make([]string, len(tokens))
	payloads := make([][]byte, len(tokens))
	for i, t := range tokens {
		keys[i] = s.tokenKey(t.Value)
		data, err := json.Marshal(newTokenRecord(t))
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}
		payloads[i] = data
	}
	indexes := s.indexesFor(tokens)

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return storage.ErrAlreadyExists
		}

		decisions := make([]int, len(indexes))
		for i, idx := range indexes {
			current, err := tx.PTTL(ctx, idx.key).Result()
			if err != nil {
				return err
			}
			switch {
			case current == -1: // exists without expiry
				decisions[i] = ttlKeep
			case idx.ttl == 0:
				decisions[i] = ttlPersist
			case current == -2 || current < idx.ttl: // missing or shorter
				decisions[i] = ttlExpire
			default:
				decisions[i] = ttlKeep
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, t := range tokens {
				pipe.Set(ctx, keys[i], payloads[i], keyTTL(t.ExpiresAt))
			}
			for i, idx := range indexes {
				pipe.SAdd(ctx, idx.key, idx.members...)
				switch decisions[i] {
				case ttlPersist:
					pipe.Persist(ctx, idx.key)
				case ttlExpire:
					pipe.PExpire(ctx, idx.key, idx.ttl)
				}
			}
			return nil
		})
		return err
	}, keys...)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, goredis.TxFailedErr):
		return storage.ErrAlreadyExists
	default:
		return wrapErr("save tokens", err)
	}
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair stores an access token and its optional refresh token
func (s *Store) SaveTokenPair(ctx context.Context, access, refresh *storage.Token) (err error) {
	ctx, done := s.obs.Start(ctx, "save_token_pair")
	defer done(&err)

	if err = storage.ValidateTokenPair(access, refresh); err != nil {
		return err
	}

	tokens := []*storage.Token{access}
	if refresh != nil {
		tokens = append(tokens, refresh)
	}
	return s.writeTokens(ctx, tokens...)
}

// GetToken retrieves a token of either kind
func (s *Store) GetToken(ctx context.Context, value string) (_ *storage.Token, err error) {
	ctx, done := s.obs.Start(ctx, "get_token")
	defer done(&err)

	data, err := s.client.Get(ctx, s.tokenKey(value)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, wrapErr("get token", err)
	}

	token, err := decodeToken(data)
	if err != nil {
		return nil, err
	}
	if err = storage.CheckUsable(token); err != nil {
		if errors.Is(err, storage.ErrTokenRevoked) {
			return token, err
		}
		return nil, err
	}
	return token, nil
}

// ExchangeRefreshToken validates the presented refresh token and stores the successor
// tokens in a single script. With rotation the same script revokes the presented token
// and its access tokens, so only one concurrent exchange succeeds and a failed one
// changes nothing.
func (s *Store) ExchangeRefreshToken(ctx context.Context, ex storage.RefreshExchange) (_ *storage.Token, err error) {
	ctx, done := s.obs.Start(ctx, "exchange_refresh_token")
	defer done(&err)

	if err = storage.ValidateTokenPair(ex.Access, ex.Refresh); err != nil {
		return nil, err
	}

	rotate := "0"
	access := ex.Access.Clone()
	tokens := []*storage.Token{access}
	if ex.Refresh != nil {
		rotate = "1"
		access.RefreshToken = ex.Refresh.Value
		tokens = append(tokens, ex.Refresh)
	} else {
		access.RefreshToken = ex.RefreshToken
	}

	keys := []string{s.tokenKey(ex.RefreshToken), s.childrenKey(ex.RefreshToken)}
	args := []any{
		nowMillis(), graceMillis(), ex.ClientID, rotate,
		s.revokedRetention.Milliseconds(), s.tokenKey(""), len(tokens),
	}
	for _, t := range tokens {
		data, err := json.Marshal(newTokenRecord(t))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal token: %w", err)
		}
		keys = append(keys, s.tokenKey(t.Value))
		args = append(args, data, keyTTL(t.ExpiresAt).Milliseconds())
	}
	for _, idx := range s.indexesFor(tokens) {
		keys = append(keys, idx.key)
		args = append(args, idx.ttl.Milliseconds(), len(idx.members))
		args = append(args, idx.members...)
	}

	res, err := exchangeRefreshScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, wrapErr("exchange refresh token", err)
	}

	status, data, err := scriptReply(res)
	if err != nil {
		return nil, err
	}

	switch status {
	case "OK":
		return decodeToken(data)
	case "REVOKED":
		revoked, decodeErr := decodeToken(data)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return revoked, storage.ErrTokenRevoked
	case "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case "EXPIRED":
		return nil, storage.ErrTokenExpired
	case "MISMATCH":
		return nil, storage.ErrTokenClientMismatch
	case "EXISTS":
		return nil, storage.ErrAlreadyExists
	default:
		return nil, fmt.Errorf("unexpected exchange status %q", status)
	}
}

// RevokeToken revokes a token and, for refresh tokens, the access tokens minted from it
func (s *Store) RevokeToken(ctx context.Context, value string) (err error) {
	ctx, done := s.obs.Start(ctx, "revoke_token")
	defer done(&err)

	_, found, err := s.revoke(ctx, value, time.Now())
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrTokenNotFound
	}
	return nil
}

// RevokeFamily revokes every token of a refresh token family
func (s *Store) RevokeFamily(ctx context.Context, familyID string) (_ int, err error) {
	ctx, done := s.obs.Start(ctx, "revoke_family")
	defer done(&err)

	if familyID == "" {
		return 0, fmt.Errorf("family ID cannot be empty")
	}

	revoked, err := s.revokeSet(ctx, s.familyKey(familyID))
	if err != nil {
		return revoked, err
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
	ctx, done := s.obs.Start(ctx, "revoke_principal_client")
	defer done(&err)

	if principal == "" || clientID == "" {
		return 0, fmt.Errorf("principal and client ID cannot be empty")
	}

	revoked, err := s.revokeSet(ctx, s.principalClientKey(principal, clientID))
	if err != nil {
		return revoked, err
	}

	if revoked > 0 {
		s.logger.Info("Revoked all tokens for principal and client",
			"principal_hash", security.HashForLogging(principal),
			"client_id", clientID,
			"tokens_revoked", revoked)
	}
	return revoked, nil
}

// revokeSet revokes every token named in an index set
func (s *Store) revokeSet(ctx context.Context, key string) (int, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return 0, wrapErr("read index", err)
	}

	now := time.Now()
	total := 0
	for _, value := range members {
		n, _, err := s.revoke(ctx, value, now)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// revoke marks a token revoked and cascades to linked access tokens.
// Returns how many tokens changed state and whether the token exists.
func (s *Store) revoke(ctx context.Context, value string, now time.Time) (int, bool, error) {
	changed, kind, err := s.revokeOne(ctx, value, now)
	if err != nil || changed < 0 {
		return 0, false, err
	}

	total := changed
	if kind == storage.TokenKindRefresh {
		n, err := s.revokeChildren(ctx, value, now)
		total += n
		if err != nil {
			return total, true, err
		}
	}
	return total, true, nil
}

func (s *Store) revokeChildren(ctx context.Context, refresh string, now time.Time) (int, error) {
	children, err := s.client.SMembers(ctx, s.childrenKey(refresh)).Result()
	if err != nil {
		return 0, wrapErr("read children", err)
	}

	total := 0
	for _, child := range children {
		changed, _, err := s.revokeOne(ctx, child, now)
		if err != nil {
			return total, err
		}
		if changed > 0 {
			total += changed
		}
	}
	return total, nil
}

// revokeOne runs the revoke script: -1 missing, 0 already revoked, 1 revoked now
func (s *Store) revokeOne(ctx context.Context, value string, now time.Time) (int, string, error) {
	res, err := revokeScript.Run(ctx, s.client,
		[]string{s.tokenKey(value)},
		now.UnixMilli(), s.revokedRetention.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, "", wrapErr("revoke token", err)
	}
	if len(res) != 2 {
		return 0, "", fmt.Errorf("unexpected revoke reply length %d", len(res))
	}

	changed, ok := res[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("unexpected revoke status %T", res[0])
	}
	kind, _ := res[1].(string)
	return int(changed), kind, nil
}
