package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oauth-grants/internal/testutil"
	"github.com/giantswarm/oauth-grants/server"
	"github.com/giantswarm/oauth-grants/storage"
	"github.com/giantswarm/oauth-grants/storage/memory"
)

const userHeader = "X-Forwarded-User"

// setupTestHandler returns a mux serving a handler over a memory store holding client
// C1 (secret S1, redirect https://app/cb, scopes read and write)
func setupTestHandler(t *testing.T, config *Config) (http.Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	client := testutil.ConfidentialClient(t, "C1", "S1", "https://app/cb")
	client.Scopes = []string{"read", "write"}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	return newTestMux(t, store, config), store
}

func newTestMux(t *testing.T, store storage.Store, config *Config) http.Handler {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	grants, err := server.NewWithStore(store, nil, logger)
	if err != nil {
		t.Fatalf("server.NewWithStore() error = %v", err)
	}

	if config == nil {
		config = &Config{}
	}
	config.Logger = logger
	if config.PrincipalFunc == nil {
		config.PrincipalFunc = PrincipalFromHeader(userHeader)
	}

	srv, err := NewServer(grants, config)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(srv.Close)

	mux := http.NewServeMux()
	NewHandler(srv, nil).RegisterRoutes(mux)
	return mux
}

func authorize(t *testing.T, handler http.Handler, query url.Values, user string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+query.Encode(), nil)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func postToken(handler http.Handler, form url.Values, auth string) *httptest.ResponseRecorder {
	header := http.Header{}
	if auth != "" {
		header.Set("Authorization", auth)
	}
	return testutil.PostForm(handler, TokenPath, form, header)
}

func decodeToken(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp
}

func assertOAuthError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	if w.Code != status {
		t.Errorf("status = %d, want %d: %s", w.Code, status, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error != code {
		t.Errorf("error = %q, want %q", resp.Error, code)
	}
}

func authorizeQuery(extra url.Values) url.Values {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {"C1"},
		"redirect_uri":  {"https://app/cb"},
		"scope":         {"read"},
		"state":         {"xyz"},
	}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

func TestHandler_Scenario(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	// authorization
	w := authorize(t, handler, authorizeQuery(nil), "U1")
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302: %s", w.Code, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location does not parse: %v", err)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatalf("Location %q carries no code", location)
	}
	if want := "https://app/cb?code=" + url.QueryEscape(code) + "&state=xyz"; location.String() != want {
		t.Errorf("Location = %q, want %q", location, want)
	}

	// code exchange
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app/cb"},
	}
	w = postToken(handler, form, basic("C1:S1"))
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	token := decodeToken(t, w)
	if token.TokenType != "bearer" || token.ExpiresIn != 3600 || token.Scope != "read" {
		t.Errorf("token = %+v, want bearer/3600/read", token)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		t.Fatal("access and refresh tokens should be issued")
	}

	// replay
	w = postToken(handler, form, basic("C1:S1"))
	assertOAuthError(t, w, http.StatusBadRequest, ErrorCodeInvalidGrant)
}

func TestHandler_ServeToken_Refresh(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	w := authorize(t, handler, authorizeQuery(nil), "U1")
	location, _ := url.Parse(w.Header().Get("Location"))
	initial := decodeToken(t, postToken(handler, url.Values{
		"grant_type": {"authorization_code"},
		"code":       {location.Query().Get("code")},
	}, basic("C1:S1")))

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {initial.RefreshToken},
		"client_id":     {"C1"},
		"client_secret": {"S1"},
	}
	refreshed := decodeToken(t, postToken(handler, refreshForm, ""))
	if refreshed.RefreshToken == initial.RefreshToken {
		t.Error("refresh token should rotate")
	}

	w = postToken(handler, refreshForm, "")
	assertOAuthError(t, w, http.StatusBadRequest, ErrorCodeInvalidGrant)
}

func TestHandler_ServeToken_ClientCredentials(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	token := decodeToken(t, postToken(handler, url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"write"},
	}, basic("C1:S1")))

	if token.RefreshToken != "" {
		t.Error("client credentials grant should not issue a refresh token")
	}
	if token.Scope != "write" {
		t.Errorf("scope = %q, want write", token.Scope)
	}
}

func TestHandler_ServeToken_Errors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		auth       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unsupported grant type",
			form:       url.Values{"grant_type": {"foo"}},
			auth:       basic("C1:S1"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeUnsupportedGrantType,
		},
		{
			name:       "missing grant type",
			form:       url.Values{},
			auth:       basic("C1:S1"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "wrong secret",
			form:       url.Values{"grant_type": {"client_credentials"}},
			auth:       basic("C1:wrong"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidClient,
		},
		{
			name:       "unknown client",
			form:       url.Values{"grant_type": {"client_credentials"}, "client_id": {"C9"}, "client_secret": {"S9"}},
			wantStatus: http.StatusNotFound,
			wantCode:   ErrorCodeInvalidClient,
		},
		{
			name:       "missing client",
			form:       url.Values{"grant_type": {"client_credentials"}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidClient,
		},
		{
			name:       "missing code",
			form:       url.Values{"grant_type": {"authorization_code"}},
			auth:       basic("C1:S1"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "scope beyond client",
			form:       url.Values{"grant_type": {"client_credentials"}, "scope": {"admin"}},
			auth:       basic("C1:S1"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := setupTestHandler(t, nil)

			w := postToken(handler, tt.form, tt.auth)
			challenge := w.Header().Get("WWW-Authenticate")
			if tt.wantStatus == http.StatusUnauthorized && !strings.HasPrefix(challenge, "Basic") {
				t.Errorf("WWW-Authenticate = %q, want a Basic challenge", challenge)
			}
			if tt.wantStatus != http.StatusUnauthorized && challenge != "" {
				t.Errorf("WWW-Authenticate = %q, want none outside 401", challenge)
			}
			assertOAuthError(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestHandler_ServeToken_BasicHeaderWins(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"C2"},
		"client_secret": {"wrong"},
	}
	decodeToken(t, postToken(handler, form, basic("C1:S1")))
}

func TestHandler_ServeToken_Methods(t *testing.T) {
	query := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"C1"},
		"client_secret": {"S1"},
	}

	t.Run("GET disabled by default", func(t *testing.T) {
		handler, _ := setupTestHandler(t, nil)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, TokenPath+"?"+query.Encode(), nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
		if got := w.Header().Get("Allow"); got != http.MethodPost {
			t.Errorf("Allow = %q, want POST", got)
		}
	})

	t.Run("GET with query parameters when enabled", func(t *testing.T) {
		handler, _ := setupTestHandler(t, &Config{AllowTokenQueryParams: true})

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, TokenPath+"?"+query.Encode(), nil))
		decodeToken(t, w)
	})

	t.Run("PUT never allowed", func(t *testing.T) {
		handler, _ := setupTestHandler(t, &Config{AllowTokenQueryParams: true})

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, TokenPath, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})
}

func TestHandler_ServeAuthorization_JSONErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing response type",
			query:      authorizeQuery(url.Values{"response_type": {""}}),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "implicit grant",
			query:      authorizeQuery(url.Values{"response_type": {"token"}}),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeUnsupportedResponseType,
		},
		{
			name:       "unknown client",
			query:      authorizeQuery(url.Values{"client_id": {"C9"}}),
			wantStatus: http.StatusNotFound,
			wantCode:   ErrorCodeInvalidClient,
		},
		{
			name:       "missing client",
			query:      authorizeQuery(url.Values{"client_id": {""}}),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "unregistered redirect",
			query:      authorizeQuery(url.Values{"redirect_uri": {"https://evil/cb"}}),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRedirectURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := setupTestHandler(t, nil)

			w := authorize(t, handler, tt.query, "U1")
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("no redirect expected, got Location %q", loc)
			}
			assertOAuthError(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestHandler_ServeAuthorization_RedirectedErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    url.Values
		user     string
		wantCode string
	}{
		{"unauthenticated user", authorizeQuery(nil), "", ErrorCodeAccessDenied},
		{"scope beyond client", authorizeQuery(url.Values{"scope": {"admin"}}), "U1", ErrorCodeInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := setupTestHandler(t, nil)

			w := authorize(t, handler, tt.query, tt.user)
			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}

			location, err := url.Parse(w.Header().Get("Location"))
			if err != nil {
				t.Fatalf("Location does not parse: %v", err)
			}
			if !strings.HasPrefix(location.String(), "https://app/cb?") {
				t.Errorf("Location = %q, want the registered redirect URI", location)
			}
			if got := location.Query().Get("error"); got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
			if got := location.Query().Get("state"); got != "xyz" {
				t.Errorf("state = %q, want xyz", got)
			}
			if location.Query().Has("code") {
				t.Error("no code should be issued")
			}
		})
	}
}

func TestHandler_ServeAuthorization_DefaultRedirect(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	w := authorize(t, handler, authorizeQuery(url.Values{"redirect_uri": {""}}), "U1")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://app/cb?code=") {
		t.Errorf("Location = %q, want the registered redirect URI", loc)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	handler, _ := setupTestHandler(t, &Config{RateLimit: RateLimitConfig{Rate: 1, Burst: 1}})
	form := url.Values{"grant_type": {"client_credentials"}}

	decodeToken(t, postToken(handler, form, basic("C1:S1")))

	w := postToken(handler, form, basic("C1:S1"))
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set")
	}
	assertOAuthError(t, w, http.StatusTooManyRequests, ErrorCodeRateLimitExceeded)
}

func TestHandler_RequestID(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath, nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Errorf("X-Request-ID = %q, want upstream-id", got)
	}
}

func TestHandler_Metadata(t *testing.T) {
	handler, _ := setupTestHandler(t, &Config{Issuer: "https://auth.example.com/"})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetadataPath, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", meta.Issuer)
	}
	if meta.TokenEndpoint != "https://auth.example.com/oauth2/token" {
		t.Errorf("token_endpoint = %q", meta.TokenEndpoint)
	}
	if len(meta.GrantTypesSupported) != 3 {
		t.Errorf("grant_types_supported = %v, want all three grants", meta.GrantTypesSupported)
	}
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS should be set for an https issuer")
	}
}

func TestHandler_Metadata_NotRegisteredWithoutIssuer(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetadataPath, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// unavailableStore fails every client lookup
type unavailableStore struct {
	*memory.Store
}

func (s unavailableStore) GetClient(context.Context, string) (*storage.Client, error) {
	return nil, storage.ErrUnavailable
}

func TestHandler_StoreUnavailable(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	handler := newTestMux(t, unavailableStore{store}, nil)

	w := postToken(handler, url.Values{"grant_type": {"client_credentials"}}, basic("C1:S1"))
	if got := w.Header().Get("Retry-After"); got == "" {
		t.Error("Retry-After should be set")
	}
	assertOAuthError(t, w, http.StatusServiceUnavailable, ErrorCodeTemporarilyUnavailable)
}
