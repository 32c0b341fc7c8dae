package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// RequestCode issues an authorization code for an authenticated principal. The result
// names the validated redirect URI and the parameters the caller appends to it.
func (s *Server) RequestCode(ctx context.Context, req AuthorizationCodeRequest) (_ *CodeIssueResult, err error) {
	client := req.Client
	if client == nil {
		return nil, newError(InvalidClient, "Client authentication failed", errors.New("no client"))
	}

	ctx, span := s.startSpan(ctx, "request_code", GrantTypeAuthorizationCode, client.ClientID)
	defer func() { endSpan(span, err) }()

	clientIP := security.ClientIPFromContext(ctx)

	if req.Principal == "" {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "unauthenticated_principal")
		return nil, newError(Unauthorized, "User authentication required", nil)
	}

	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "grant_type_not_allowed")
		return nil, newError(UnauthorizedClient, "Client is not allowed to use the authorization code grant", nil)
	}

	redirectURI, err := s.ValidateRedirectURI(client, req.RedirectURI)
	if err != nil {
		s.Auditor.LogInvalidRedirect(client.ClientID, clientIP, req.RedirectURI)
		return nil, err
	}

	scope, err := s.resolveScope(client, req.Scope)
	if err != nil {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "invalid_scope")
		return nil, err
	}

	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		Principal:           req.Principal,
		Scope:               scope,
		RedirectURI:         redirectURI,
		RedirectURIProvided: req.RedirectURI != "",
		State:               req.State,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authorizationCodeTTL()),
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.codeStore.SaveAuthorizationCode(storeCtx, code); err != nil {
		return nil, unavailable("save authorization code", err)
	}

	s.Auditor.LogCodeIssued(req.Principal, client.ClientID, clientIP, scope)
	s.recordCodeIssued(ctx, client.ClientID)

	params := []RedirectParam{{Name: "code", Value: code.Code}}
	if req.State != "" {
		params = append(params, RedirectParam{Name: "state", Value: req.State})
	}

	return &CodeIssueResult{
		RedirectURI: redirectURI,
		Code:        code.Code,
		State:       req.State,
		Params:      params,
	}, nil
}

// ExchangeAuthorizationCode redeems a code for an access and refresh token pair.
// Redemption is a single atomic store call, so of any number of concurrent attempts on
// one code exactly one succeeds. Presenting a code that was already redeemed revokes
// every token the client holds for the code's principal.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req AuthorizationCodeTokenRequest) (_ *AccessToken, err error) {
	client := req.Client
	if client == nil {
		return nil, newError(InvalidClient, "Client authentication failed", errors.New("no client"))
	}

	ctx, span := s.startSpan(ctx, "exchange_authorization_code", GrantTypeAuthorizationCode, client.ClientID)
	defer func() { endSpan(span, err) }()

	clientIP := security.ClientIPFromContext(ctx)

	if req.Code == "" {
		return nil, newError(InvalidRequest, "Missing code parameter", nil)
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	authCode, err := s.codeStore.RedeemAuthorizationCode(storeCtx, req.Code, storage.CodeBinding{
		ClientID:    client.ClientID,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		return nil, s.codeRedemptionFailed(ctx, client.ClientID, req.Code, authCode, err)
	}

	now := time.Now()
	access, refresh := s.mintTokens(tokenGrant{
		clientID:    client.ClientID,
		principal:   authCode.Principal,
		scope:       authCode.Scope,
		withRefresh: true,
	}, now)

	if err := s.tokenStore.SaveTokenPair(storeCtx, access, refresh); err != nil {
		return nil, unavailable("save token pair", err)
	}

	s.Auditor.LogTokenIssued(authCode.Principal, client.ClientID, clientIP, GrantTypeAuthorizationCode, access.Scope)
	s.recordCodeRedeemed(ctx, client.ClientID)
	s.recordTokenIssued(ctx, GrantTypeAuthorizationCode, true)

	return tokenResponse(access, refresh.Value, now), nil
}

// codeRedemptionFailed classifies a failed redemption. Every grant-level cause is
// reported to the client as the same generic invalid grant.
func (s *Server) codeRedemptionFailed(ctx context.Context, clientID, code string, authCode *storage.AuthorizationCode, err error) error {
	clientIP := security.ClientIPFromContext(ctx)

	var reason string
	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		reason = "authorization_code_reuse"
	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		reason = "authorization_code_not_found"
	case errors.Is(err, storage.ErrAuthorizationCodeExpired):
		reason = "authorization_code_expired"
	case errors.Is(err, storage.ErrAuthorizationCodeMismatch):
		reason = "authorization_code_binding_mismatch"
	default:
		return unavailable("redeem authorization code", err)
	}

	s.Logger.Debug("Authorization code validation failed",
		"reason", reason,
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, 8))
	s.Auditor.LogAuthFailure(clientID, clientIP, reason)

	if reason == "authorization_code_reuse" && authCode != nil && authCode.ClientID == clientID {
		s.revokeAfterCodeReuse(ctx, authCode)
	}

	return newError(InvalidGrant, "Invalid authorization code", err)
}

// revokeAfterCodeReuse revokes every token issued to the principal through the client
// once a redeemed code is presented again. Failures are logged; the request fails
// with invalid_grant either way.
func (s *Server) revokeAfterCodeReuse(ctx context.Context, authCode *storage.AuthorizationCode) {
	s.Logger.Error("Authorization code reuse detected - revoking all tokens",
		"principal_hash", security.HashForLogging(authCode.Principal),
		"client_id", authCode.ClientID)

	s.Auditor.LogCodeReuse(authCode.Principal, authCode.ClientID, security.ClientIPFromContext(ctx))
	s.recordCodeReuse(ctx)

	if authCode.Principal == "" {
		return
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	revoked, err := s.tokenStore.RevokeAllTokensForPrincipalClient(storeCtx, authCode.Principal, authCode.ClientID)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
	}
	if revoked > 0 {
		s.Auditor.LogTokenRevoked(authCode.Principal, authCode.ClientID, "authorization_code_reuse", revoked)
		s.recordRevocation(ctx, "authorization_code_reuse", revoked)
	}
}
