package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// RefreshAccessToken exchanges a refresh token for a new access token. With rotation
// (the default) a new refresh token replaces the presented one in a single atomic
// store call, so only one of several concurrent exchanges succeeds. Presenting a
// refresh token that was already rotated away revokes its whole family.
func (s *Server) RefreshAccessToken(ctx context.Context, req RefreshTokenRequest) (_ *AccessToken, err error) {
	client := req.Client
	if client == nil {
		return nil, newError(InvalidClient, "Client authentication failed", errors.New("no client"))
	}

	ctx, span := s.startSpan(ctx, "refresh_token", GrantTypeRefreshToken, client.ClientID)
	defer func() { endSpan(span, err) }()

	if req.RefreshToken == "" {
		return nil, newError(InvalidRequest, "Missing refresh_token parameter", nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	old, err := s.tokenStore.GetToken(storeCtx, req.RefreshToken)
	if err == nil {
		err = storage.CheckRefreshable(old, client.ClientID)
	}
	if err != nil {
		return nil, s.refreshFailed(ctx, client.ClientID, req.RefreshToken, old, err)
	}
	instrumentation.AddTokenFamilyAttributes(span, old.FamilyID, old.Generation)

	scope, err := narrowScope(req.Scope, old.Scope)
	if err != nil {
		s.Auditor.LogAuthFailure(client.ClientID, security.ClientIPFromContext(ctx), "invalid_scope")
		return nil, err
	}

	rotate := !s.Config.DisableRefreshTokenRotation

	now := time.Now()
	grant := tokenGrant{
		clientID:     client.ClientID,
		principal:    old.Principal,
		scope:        scope,
		refreshScope: old.Scope,
		withRefresh:  rotate,
		familyID:     old.FamilyID,
		generation:   old.Generation,
	}
	if rotate {
		grant.generation = old.Generation + 1
	} else {
		grant.refreshExpiresAt = old.ExpiresAt
	}
	access, refresh := s.mintTokens(grant, now)

	presented, err := s.tokenStore.ExchangeRefreshToken(storeCtx, storage.RefreshExchange{
		RefreshToken: req.RefreshToken,
		ClientID:     client.ClientID,
		Access:       access,
		Refresh:      refresh,
	})
	if errors.Is(err, storage.ErrTokenRevoked) {
		// revoked between lookup and exchange: a concurrent exchange won
		s.Logger.Warn("Refresh token exchange lost to a concurrent exchange",
			"client_id", client.ClientID,
			"family_id", util.SafeTruncate(old.FamilyID, 8))
		s.Auditor.LogAuthFailure(client.ClientID, security.ClientIPFromContext(ctx), "refresh_token_exchange_conflict")
		return nil, newError(InvalidGrant, "Invalid refresh token", err)
	}
	if err != nil {
		return nil, s.refreshFailed(ctx, client.ClientID, req.RefreshToken, presented, err)
	}

	s.Auditor.LogTokenRefreshed(old.Principal, client.ClientID, security.ClientIPFromContext(ctx), rotate)
	s.recordTokenRefresh(ctx, client.ClientID, rotate)
	s.recordTokenIssued(ctx, GrantTypeRefreshToken, rotate)

	refreshValue := req.RefreshToken
	if refresh != nil {
		refreshValue = refresh.Value
	}
	return tokenResponse(access, refreshValue, now), nil
}

// refreshFailed classifies a failed refresh. Every grant-level cause is reported to
// the client as the same generic invalid grant.
func (s *Server) refreshFailed(ctx context.Context, clientID, value string, token *storage.Token, err error) error {
	var reason string
	switch {
	case errors.Is(err, storage.ErrTokenRevoked):
		reason = "refresh_token_revoked"
	case errors.Is(err, storage.ErrTokenNotFound):
		reason = "refresh_token_not_found"
	case errors.Is(err, storage.ErrTokenExpired):
		reason = "refresh_token_expired"
	case errors.Is(err, storage.ErrTokenClientMismatch):
		reason = "refresh_token_client_mismatch"
	default:
		return unavailable("exchange refresh token", err)
	}

	s.Logger.Debug("Refresh token validation failed",
		"reason", reason,
		"client_id", clientID,
		"token_prefix", util.SafeTruncate(value, 8))
	s.Auditor.LogAuthFailure(clientID, security.ClientIPFromContext(ctx), reason)

	if reason == "refresh_token_revoked" && token != nil &&
		token.Kind == storage.TokenKindRefresh && token.ClientID == clientID {
		s.revokeAfterTokenReuse(ctx, token)
	}

	return newError(InvalidGrant, "Invalid refresh token", err)
}

// revokeAfterTokenReuse revokes the family of a revoked refresh token presented again.
// Failures are logged; the request fails with invalid_grant either way.
func (s *Server) revokeAfterTokenReuse(ctx context.Context, token *storage.Token) {
	if token.FamilyID == "" {
		return
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	revoked, err := s.tokenStore.RevokeFamily(storeCtx, token.FamilyID)
	if err != nil {
		s.Logger.Error("Failed to revoke token family", "error", err)
	}

	// the family may already be revoked by an earlier detection
	if revoked == 0 && err == nil {
		return
	}

	s.Logger.Error("Refresh token reuse detected - token family revoked",
		"principal_hash", security.HashForLogging(token.Principal),
		"client_id", token.ClientID,
		"family_id", util.SafeTruncate(token.FamilyID, 8),
		"generation", token.Generation,
		"tokens_revoked", revoked)

	s.Auditor.LogTokenReuse(token.Principal, token.ClientID, security.ClientIPFromContext(ctx), token.FamilyID)
	s.recordTokenReuse(ctx)
	if revoked > 0 {
		s.Auditor.LogTokenRevoked(token.Principal, token.ClientID, "refresh_token_reuse", revoked)
		s.recordRevocation(ctx, "refresh_token_reuse", revoked)
	}
}
