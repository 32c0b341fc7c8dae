package server

import (
	"context"
	"fmt"
	"net/url"

	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// Dispatch is the single entry point for token requests. It rejects unknown grant
// types, resolves and authenticates the client once, checks the client may use the
// grant type and hands the typed request to the matching grant.
func (s *Server) Dispatch(ctx context.Context, grantType string, creds ClientCredentials, params url.Values) (_ *AccessToken, err error) {
	metricGrantType := grantType
	if !isSupportedGrantType(grantType) {
		metricGrantType = "unsupported"
	}
	defer func() { s.recordGrantRequest(ctx, metricGrantType, err) }()

	if grantType == "" {
		return nil, newError(InvalidRequest, "Missing grant_type parameter", nil)
	}
	if !isSupportedGrantType(grantType) {
		s.Logger.Debug("Unsupported grant type requested",
			"grant_type", util.SafeTruncate(grantType, 32),
			"client_id", util.SafeTruncate(creds.ClientID, 64))
		return nil, newError(UnsupportedGrantType, "Grant type is not supported", fmt.Errorf("grant_type %q", util.SafeTruncate(grantType, 32)))
	}

	client, err := s.authenticateClient(ctx, grantType, creds)
	if err != nil {
		return nil, err
	}

	if !client.AllowsGrantType(grantType) {
		s.Auditor.LogAuthFailure(client.ClientID, security.ClientIPFromContext(ctx), "grant_type_not_allowed")
		return nil, newError(UnauthorizedClient, "Client is not allowed to use this grant type",
			fmt.Errorf("grant_type %q not registered", grantType))
	}

	req, err := ParseGrantRequest(grantType, client, params)
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case AuthorizationCodeTokenRequest:
		return s.ExchangeAuthorizationCode(ctx, r)
	case ClientCredentialRequest:
		return s.IssueClientCredentialToken(ctx, r)
	case RefreshTokenRequest:
		return s.RefreshAccessToken(ctx, r)
	default:
		return nil, newError(UnsupportedGrantType, "Grant type is not supported", fmt.Errorf("request type %T", req))
	}
}

// authenticateClient resolves the client and checks its secret. Public clients may
// omit the secret for the authorization code and refresh token grants only.
func (s *Server) authenticateClient(ctx context.Context, grantType string, creds ClientCredentials) (*storage.Client, error) {
	clientIP := security.ClientIPFromContext(ctx)

	client, err := s.ResolveClient(ctx, creds.ClientID)
	if err != nil {
		if KindOf(err) == InvalidClient {
			s.Auditor.LogAuthFailure(creds.ClientID, clientIP, "unknown_client")
		}
		return nil, err
	}

	if client.IsPublic() && creds.ClientSecret == "" {
		if grantType == GrantTypeClientCredentials {
			s.Auditor.LogAuthFailure(client.ClientID, clientIP, "public_client_credentials")
			return nil, newError(UnauthorizedClient, "Public clients cannot use the client credentials grant", nil)
		}
		return client, nil
	}

	if err := s.ValidateClientSecret(client, creds.ClientSecret); err != nil {
		s.Auditor.LogAuthFailure(client.ClientID, clientIP, "invalid_client_secret")
		return nil, err
	}
	return client, nil
}

// ParseGrantRequest builds the typed request for a token endpoint grant from raw
// parameters. The client must already be authenticated.
func ParseGrantRequest(grantType string, client *storage.Client, params url.Values) (GrantRequest, error) {
	switch grantType {
	case GrantTypeAuthorizationCode:
		code := params.Get("code")
		if code == "" {
			return nil, newError(InvalidRequest, "Missing code parameter", nil)
		}
		return AuthorizationCodeTokenRequest{
			Client:      client,
			Code:        code,
			RedirectURI: params.Get("redirect_uri"),
		}, nil

	case GrantTypeClientCredentials:
		return ClientCredentialRequest{
			Client: client,
			Scope:  params.Get("scope"),
		}, nil

	case GrantTypeRefreshToken:
		refreshToken := params.Get("refresh_token")
		if refreshToken == "" {
			return nil, newError(InvalidRequest, "Missing refresh_token parameter", nil)
		}
		return RefreshTokenRequest{
			Client:       client,
			RefreshToken: refreshToken,
			Scope:        params.Get("scope"),
		}, nil

	default:
		return nil, newError(UnsupportedGrantType, "Grant type is not supported",
			fmt.Errorf("grant_type %q", util.SafeTruncate(grantType, 32)))
	}
}
