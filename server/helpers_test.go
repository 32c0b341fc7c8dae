package server

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/giantswarm/oauth-grants/internal/testutil"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
	"github.com/giantswarm/oauth-grants/storage/memory"
)

const (
	testClientID    = "C1"
	testSecret      = "S1"
	testRedirectURI = "https://app/cb"
	testPrincipal   = "U1"
)

// newTestServer returns a server over a fresh memory store
func newTestServer(t *testing.T, config *Config) (*Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := NewWithStore(store, config, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewWithStore() error = %v", err)
	}
	return srv, store
}

// newAuditedServer returns a server whose audit log is captured in the returned buffer
func newAuditedServer(t *testing.T, config *Config) (*Server, *memory.Store, *bytes.Buffer) {
	t.Helper()

	srv, store := newTestServer(t, config)
	var buf bytes.Buffer
	srv.SetAuditor(security.NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true))
	return srv, store, &buf
}

// registerClient saves a client directly into the store
func registerClient(t *testing.T, store storage.ClientStore, client *storage.Client) *storage.Client {
	t.Helper()

	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return client
}

// confidentialClient registers C1 with secret S1 and redirect https://app/cb
func confidentialClient(t *testing.T, store storage.ClientStore, scopes ...string) *storage.Client {
	t.Helper()

	client := testutil.ConfidentialClient(t, testClientID, testSecret, testRedirectURI)
	client.Scopes = scopes
	return registerClient(t, store, client)
}

// issueCode runs the authorization step and returns the code
func issueCode(t *testing.T, srv *Server, client *storage.Client, redirectURI, scope string) string {
	t.Helper()

	result, err := srv.RequestCode(context.Background(), AuthorizationCodeRequest{
		Client:      client,
		Principal:   testPrincipal,
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       "xyz",
	})
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	return result.Code
}

// issueTokens runs the authorization code flow end to end
func issueTokens(t *testing.T, srv *Server, client *storage.Client, scope string) *AccessToken {
	t.Helper()

	code := issueCode(t, srv, client, testRedirectURI, scope)
	token, err := srv.ExchangeAuthorizationCode(context.Background(), AuthorizationCodeTokenRequest{
		Client:      client,
		Code:        code,
		RedirectURI: testRedirectURI,
	})
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	return token
}

// assertKind fails the test unless err is a grant error of the given kind
func assertKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()

	if err == nil {
		t.Fatalf("error = nil, want %s", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("error kind = %s, want %s (error: %v)", got, want, err)
	}
}

// failingStore reports every read as a backend outage
type failingStore struct {
	*memory.Store
}

func (failingStore) GetClient(context.Context, string) (*storage.Client, error) {
	return nil, storage.ErrUnavailable
}

func (failingStore) RedeemAuthorizationCode(context.Context, string, storage.CodeBinding) (*storage.AuthorizationCode, error) {
	return nil, storage.ErrUnavailable
}

func (failingStore) GetToken(context.Context, string) (*storage.Token, error) {
	return nil, storage.ErrUnavailable
}

func newFailingServer(t *testing.T) *Server {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := NewWithStore(failingStore{store}, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewWithStore() error = %v", err)
	}
	return srv
}
