package server

import (
	"github.com/giantswarm/oauth-grants/storage"
)

// TokenTypeBearer is the token_type of every issued access token
const TokenTypeBearer = "bearer"

// GrantRequest is one of the typed grant requests. The set is closed:
// AuthorizationCodeRequest, AuthorizationCodeTokenRequest, ClientCredentialRequest and
// RefreshTokenRequest.
type GrantRequest interface {
	grantRequest()
}

// AuthorizationCodeRequest asks for an authorization code on behalf of an authenticated principal
type AuthorizationCodeRequest struct {
	Client *storage.Client

	// Principal is the authenticated end user; empty means unauthenticated
	Principal string

	RedirectURI string
	Scope       string
	State       string
}

// AuthorizationCodeTokenRequest redeems an authorization code
type AuthorizationCodeTokenRequest struct {
	Client      *storage.Client
	Code        string
	RedirectURI string
}

// ClientCredentialRequest asks for a token on the client's own behalf
type ClientCredentialRequest struct {
	Client *storage.Client
	Scope  string
}

// RefreshTokenRequest exchanges a refresh token
type RefreshTokenRequest struct {
	Client       *storage.Client
	RefreshToken string
	Scope        string
}

func (AuthorizationCodeRequest) grantRequest()      {}
func (AuthorizationCodeTokenRequest) grantRequest() {}
func (ClientCredentialRequest) grantRequest()       {}
func (RefreshTokenRequest) grantRequest()           {}

// AccessToken is the result of a successful token grant
type AccessToken struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // seconds
	RefreshToken string
	Scope        string
}

// ClientCredentials are the client id and secret presented with a token request
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}
