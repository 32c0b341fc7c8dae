package storage

import (
	"context"
	"errors"
	"time"
)

// Token kinds
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Client type constants
const (
	// ClientTypeConfidential represents a client able to keep a secret
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a client without a secret (native apps, SPAs)
	ClientTypePublic = "public"
)

var (
	// ErrClientNotFound is returned when a client id is unknown.
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when a code does not exist.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExpired is returned when a code is past its expiry.
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")

	// ErrAuthorizationCodeUsed is returned when a code has already been redeemed.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrAuthorizationCodeMismatch is returned when the redeeming client or redirect
	// URI differs from the one the code was issued for. The code is left unredeemed.
	ErrAuthorizationCodeMismatch = errors.New("authorization code binding mismatch")

	// ErrTokenNotFound is returned when a token value does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when a token has been revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenClientMismatch is returned when a refresh token is presented by a client
	// other than the one it was issued to.
	ErrTokenClientMismatch = errors.New("token issued to another client")

	// ErrAlreadyExists is returned when saving a code or token whose value is taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrUnavailable wraps transient backend failures (connection errors, timeouts).
	ErrUnavailable = errors.New("storage unavailable")
)

// Client is a registered OAuth client.
type Client struct {
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"client_secret_hash,omitempty"` // bcrypt; empty for public clients
	ClientType       string    `json:"client_type"`
	ClientName       string    `json:"client_name,omitempty"`
	RedirectURIs     []string  `json:"redirect_uris"` // first entry is the default
	GrantTypes       []string  `json:"grant_types,omitempty"`
	Scopes           []string  `json:"scopes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsPublic reports whether the client has no secret to authenticate with.
func (c *Client) IsPublic() bool {
	return c.ClientType == ClientTypePublic
}

// DefaultRedirectURI returns the client's registered default redirect URI.
func (c *Client) DefaultRedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// AllowsGrantType reports whether the client may use the given grant type.
// A client without an explicit list may use every grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AuthorizationCode is an issued, short-lived, single-use authorization code.
type AuthorizationCode struct {
	Code     string
	ClientID string

	// Principal is the authenticated end user that approved the request
	Principal string

	Scope string

	// RedirectURI is the URI the code was delivered to. RedirectURIProvided records
	// whether the authorization request named it explicitly.
	RedirectURI         string
	RedirectURIProvided bool

	State     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    time.Time
}

// CodeBinding is what a token request claims about the code it redeems.
type CodeBinding struct {
	ClientID    string
	RedirectURI string
}

// Matches reports whether the binding is consistent with the issued code.
// When the authorization request named a redirect URI the token request must repeat it
// verbatim; otherwise it may be omitted or equal to the URI the code was delivered to.
func (c *AuthorizationCode) Matches(b CodeBinding) bool {
	if c.ClientID != b.ClientID {
		return false
	}
	if c.RedirectURIProvided {
		return b.RedirectURI == c.RedirectURI
	}
	return b.RedirectURI == "" || b.RedirectURI == c.RedirectURI
}

// Token is an issued access or refresh token.
type Token struct {
	Value    string
	Kind     string
	ClientID string

	// Principal is empty for tokens issued through the client credentials grant
	Principal string

	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero means the token never expires

	// RefreshToken links an access token to the refresh token it was minted with
	RefreshToken string

	// FamilyID groups every refresh token descended from one authorization
	FamilyID   string
	Generation int

	Revoked   bool
	RevokedAt time.Time
}

// RefreshExchange describes an atomic refresh-token exchange.
type RefreshExchange struct {
	// RefreshToken is the presented refresh token value
	RefreshToken string

	// ClientID is the authenticated client presenting it
	ClientID string

	// Access is the newly minted access token
	Access *Token

	// Refresh is the replacement refresh token. When nil the presented refresh token
	// stays valid and Access is linked to it.
	Refresh *Token
}

// ClientStore persists registered clients.
type ClientStore interface {
	// GetClient returns the client or ErrClientNotFound
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient creates or replaces a client
	SaveClient(ctx context.Context, client *Client) error

	// DeleteClient removes a client
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns every registered client
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore persists authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns a copy of an unexpired code without modifying it
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RedeemAuthorizationCode atomically checks that the code exists, is unexpired,
	// unused and matches the binding, and marks it used. Exactly one concurrent caller
	// can succeed for a given code.
	//
	// Errors: ErrAuthorizationCodeNotFound, ErrAuthorizationCodeExpired,
	// ErrAuthorizationCodeMismatch (code left unredeemed) and ErrAuthorizationCodeUsed.
	// On ErrAuthorizationCodeUsed the stored record is returned alongside the error so
	// callers can react to the replay.
	RedeemAuthorizationCode(ctx context.Context, code string, binding CodeBinding) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists issued tokens.
type TokenStore interface {
	// SaveTokenPair stores an access token and, when non-nil, its refresh token
	SaveTokenPair(ctx context.Context, access, refresh *Token) error

	// GetToken returns a copy of a token regardless of its kind. Expired and revoked
	// tokens are reported with ErrTokenExpired and ErrTokenRevoked; the record is
	// returned alongside ErrTokenRevoked.
	GetToken(ctx context.Context, value string) (*Token, error)

	// ExchangeRefreshToken atomically validates the presented refresh token (exists,
	// is a refresh token, unexpired, unrevoked, owned by ClientID) and stores the new
	// tokens. When a replacement refresh token is supplied the presented one is revoked
	// together with every access token minted from it, so at most one concurrent
	// exchange of the same token can succeed. Returns the presented token's record.
	//
	// On ErrTokenRevoked the revoked record is returned alongside the error.
	ExchangeRefreshToken(ctx context.Context, exchange RefreshExchange) (*Token, error)

	// RevokeToken revokes a token. Revoking a refresh token also revokes every access
	// token linked to it.
	RevokeToken(ctx context.Context, value string) error

	// RevokeFamily revokes every refresh token of a family and their access tokens.
	// Returns the number of tokens revoked.
	RevokeFamily(ctx context.Context, familyID string) (int, error)

	// RevokeAllTokensForPrincipalClient revokes every token issued to the principal
	// through the client. Returns the number of tokens revoked.
	RevokeAllTokensForPrincipalClient(ctx context.Context, principal, clientID string) (int, error)
}

// Store is a backend holding all three record types.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

// Clone returns a copy of the code.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	cp := *c
	return &cp
}

// Clone returns a copy of the token.
func (t *Token) Clone() *Token {
	cp := *t
	return &cp
}
