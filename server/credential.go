package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth-grants/security"
)

// IssueClientCredentialToken issues a token to a confidential client acting on its own
// behalf. The token carries no principal. A refresh token is only issued when
// Config.ClientCredentialsRefreshTokens is set.
func (s *Server) IssueClientCredentialToken(ctx context.Context, req ClientCredentialRequest) (_ *AccessToken, err error) {
	client := req.Client
	if client == nil {
		return nil, newError(InvalidClient, "Client authentication failed", errors.New("no client"))
	}

	ctx, span := s.startSpan(ctx, "client_credentials", GrantTypeClientCredentials, client.ClientID)
	defer func() { endSpan(span, err) }()

	clientIP := security.ClientIPFromContext(ctx)

	if client.IsPublic() {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "public_client_credentials")
		return nil, newError(UnauthorizedClient, "Public clients cannot use the client credentials grant", nil)
	}

	scope, err := s.resolveScope(client, req.Scope)
	if err != nil {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "invalid_scope")
		return nil, err
	}

	withRefresh := s.Config.ClientCredentialsRefreshTokens

	now := time.Now()
	access, refresh := s.mintTokens(tokenGrant{
		clientID:    client.ClientID,
		scope:       scope,
		withRefresh: withRefresh,
	}, now)

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.tokenStore.SaveTokenPair(storeCtx, access, refresh); err != nil {
		return nil, unavailable("save token pair", err)
	}

	s.Auditor.LogTokenIssued("", client.ClientID, clientIP, GrantTypeClientCredentials, scope)
	s.recordTokenIssued(ctx, GrantTypeClientCredentials, withRefresh)

	refreshValue := ""
	if refresh != nil {
		refreshValue = refresh.Value
	}
	return tokenResponse(access, refreshValue, now), nil
}
