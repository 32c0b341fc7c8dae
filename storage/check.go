package storage

import (
	"fmt"

	"github.com/giantswarm/oauth-grants/security"
)

// CheckRedeemable applies the redemption rules of RedeemAuthorizationCode to a stored
// code. Backends that can run Go code inside their critical section share it.
func CheckRedeemable(code *AuthorizationCode, binding CodeBinding) error {
	if security.IsTokenExpired(code.ExpiresAt) {
		return ErrAuthorizationCodeExpired
	}
	if code.Used {
		return ErrAuthorizationCodeUsed
	}
	if !code.Matches(binding) {
		return ErrAuthorizationCodeMismatch
	}
	return nil
}

// CheckRefreshable applies the validation rules of ExchangeRefreshToken to a stored token.
func CheckRefreshable(token *Token, clientID string) error {
	if token.Kind != TokenKindRefresh {
		return ErrTokenNotFound
	}
	if token.Revoked {
		return ErrTokenRevoked
	}
	if security.IsTokenExpired(token.ExpiresAt) {
		return ErrTokenExpired
	}
	if token.ClientID != clientID {
		return ErrTokenClientMismatch
	}
	return nil
}

// CheckUsable reports whether a stored token may still be used.
func CheckUsable(token *Token) error {
	if token.Revoked {
		return ErrTokenRevoked
	}
	if security.IsTokenExpired(token.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// ValidateClient checks a client before it is saved.
func ValidateClient(client *Client) error {
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	switch client.ClientType {
	case ClientTypeConfidential:
		if client.ClientSecretHash == "" {
			return fmt.Errorf("confidential client %q requires a secret hash", client.ClientID)
		}
	case ClientTypePublic:
	default:
		return fmt.Errorf("unknown client type %q", client.ClientType)
	}
	return nil
}

// ValidateAuthorizationCode checks a code before it is saved.
func ValidateAuthorizationCode(code *AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code cannot be nil")
	}
	if code.Code == "" {
		return fmt.Errorf("authorization code value cannot be empty")
	}
	if code.ClientID == "" {
		return fmt.Errorf("authorization code client ID cannot be empty")
	}
	return nil
}

// ValidateTokenPair checks an access token and its optional refresh token before they are saved.
func ValidateTokenPair(access, refresh *Token) error {
	if access == nil {
		return fmt.Errorf("access token cannot be nil")
	}
	if access.Value == "" || access.Kind != TokenKindAccess {
		return fmt.Errorf("invalid access token record")
	}
	if refresh == nil {
		return nil
	}
	if refresh.Value == "" || refresh.Kind != TokenKindRefresh {
		return fmt.Errorf("invalid refresh token record")
	}
	if refresh.Value == access.Value {
		return fmt.Errorf("access and refresh token values must differ")
	}
	return nil
}
