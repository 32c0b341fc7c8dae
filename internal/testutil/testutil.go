package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-grants/storage"
)

// GenerateRandomString returns a URL-safe random string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// HashSecret returns a bcrypt hash of secret at the minimum cost to keep tests fast
func HashSecret(t testing.TB, secret string) string {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt.GenerateFromPassword() error = %v", err)
	}
	return string(hash)
}

// ConfidentialClient builds a confidential client with a hashed secret and one redirect URI
func ConfidentialClient(t testing.TB, clientID, secret string, redirectURIs ...string) *storage.Client {
	t.Helper()

	return &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: HashSecret(t, secret),
		ClientType:       storage.ClientTypeConfidential,
		ClientName:       "Test client " + clientID,
		RedirectURIs:     redirectURIs,
		CreatedAt:        time.Now(),
	}
}

// PublicClient builds a public client without a secret
func PublicClient(clientID string, redirectURIs ...string) *storage.Client {
	return &storage.Client{
		ClientID:     clientID,
		ClientType:   storage.ClientTypePublic,
		ClientName:   "Test public client " + clientID,
		RedirectURIs: redirectURIs,
		CreatedAt:    time.Now(),
	}
}

// AuthorizationCode builds an unused code valid for ttl
func AuthorizationCode(clientID, principal, redirectURI string, ttl time.Duration) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(32),
		ClientID:            clientID,
		Principal:           principal,
		RedirectURI:         redirectURI,
		RedirectURIProvided: redirectURI != "",
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}
}

// TokenPair builds an access token and a refresh token in a new family
func TokenPair(clientID, principal string, ttl time.Duration) (access, refresh *storage.Token) {
	now := time.Now()
	refresh = &storage.Token{
		Value:      GenerateRandomString(43),
		Kind:       storage.TokenKindRefresh,
		ClientID:   clientID,
		Principal:  principal,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl * 24),
		FamilyID:   GenerateRandomString(16),
		Generation: 1,
	}
	access = &storage.Token{
		Value:        GenerateRandomString(43),
		Kind:         storage.TokenKindAccess,
		ClientID:     clientID,
		Principal:    principal,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		RefreshToken: refresh.Value,
		FamilyID:     refresh.FamilyID,
		Generation:   1,
	}
	return access, refresh
}

// PostForm sends a form-encoded POST through handler and returns the recorder
func PostForm(handler http.Handler, target string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}
