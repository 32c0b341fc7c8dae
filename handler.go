package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/server"
)

const (
	responseTypeCode = "code"

	// retryAfterUnavailable is the Retry-After value, in seconds, of 503 responses
	retryAfterUnavailable = "5"
)

// Handler is a thin HTTP adapter for the grant engine.
// It parses requests, delegates to server.Server and renders the results.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = server.Logger
	}

	h := &Handler{
		server: server,
		logger: logger,
		tracer: tracenoop.NewTracerProvider().Tracer("http"),
	}

	if server.Instrumentation != nil {
		h.tracer = server.Instrumentation.Tracer("http")
	}

	return h
}

// RegisterRoutes registers the authorization and token endpoints, and the metadata
// document when an issuer is configured. Every route assigns request ids.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(AuthorizationPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorization)))
	mux.Handle(TokenPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeToken)))

	if h.server.Config.Issuer != "" {
		mux.Handle(MetadataPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeAuthorizationServerMetadata)))
	}
}

// ServeAuthorization handles authorization requests (RFC 6749 section 4.1.1).
//
// Failures detected before the redirect URI is validated are rendered as JSON; once the
// redirect URI is trusted, failures are delivered to it as error parameters.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorization")
	defer span.End()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	ctx = security.WithClientIP(ctx, clientIP)
	r = r.WithContext(ctx)

	if h.checkRateLimit(w, r, clientIP, "authorization", startTime) {
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	if responseType := query.Get("response_type"); responseType != responseTypeCode {
		oauthErr := ErrInvalidRequest("response_type is required")
		if responseType != "" {
			oauthErr = ErrUnsupportedResponseType("Only the code response type is supported")
		}
		h.fail(w, r, span, "authorization", oauthErr, startTime)
		return
	}

	if clientID == "" {
		h.fail(w, r, span, "authorization", ErrInvalidRequest("client_id is required"), startTime)
		return
	}

	client, err := h.server.Grants.ResolveClient(ctx, clientID)
	if err != nil {
		h.fail(w, r, span, "authorization", ErrorFromGrant(err), startTime)
		return
	}

	target, err := h.server.Grants.ValidateRedirectURI(client, redirectURI)
	if err != nil {
		h.server.Auditor.LogInvalidRedirect(client.ClientID, clientIP, redirectURI)
		h.fail(w, r, span, "authorization", ErrorFromGrant(err), startTime)
		return
	}

	principal := ""
	if h.server.Config.PrincipalFunc != nil {
		principal = h.server.Config.PrincipalFunc(r)
	}

	result, err := h.server.Grants.RequestCode(ctx, server.AuthorizationCodeRequest{
		Client:      client,
		Principal:   principal,
		RedirectURI: redirectURI,
		Scope:       query.Get("scope"),
		State:       state,
	})
	if err != nil {
		oauthErr := ErrorFromGrant(err)
		h.logGrantError(ctx, "Authorization request failed", clientID, clientIP, err)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, oauthErr.Code)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
		http.Redirect(w, r, errorRedirectURL(target, oauthErr, state), http.StatusFound)
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.AddHTTPAttributes(span, r.Method, "authorization", http.StatusFound)
	instrumentation.SetSpanSuccess(span)

	security.SetNoStoreHeaders(w)
	http.Redirect(w, r, result.RedirectURL(), http.StatusFound)
}

// errorRedirectURL appends an error response to a validated redirect URI (RFC 6749 section 4.1.2.1)
func errorRedirectURL(target string, oauthErr *OAuthError, state string) string {
	params := []server.RedirectParam{
		{Name: "error", Value: oauthErr.Code},
		{Name: "error_description", Value: oauthErr.Description},
	}
	if state != "" {
		params = append(params, server.RedirectParam{Name: "state", Value: state})
	}
	return server.BuildRedirectURL(target, params)
}

// ServeToken handles token requests for every supported grant type
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()

	var values url.Values
	switch {
	case r.Method == http.MethodPost:
		if err := r.ParseForm(); err != nil {
			h.fail(w, r, span, "token", ErrInvalidRequest("Failed to parse request"), startTime)
			return
		}
		values = r.PostForm
	case r.Method == http.MethodGet && h.server.Config.AllowTokenQueryParams:
		values = r.URL.Query()
	default:
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		allow := http.MethodPost
		if h.server.Config.AllowTokenQueryParams {
			allow += ", " + http.MethodGet
		}
		w.Header().Set("Allow", allow)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	ctx = security.WithClientIP(ctx, clientIP)
	r = r.WithContext(ctx)

	creds := ExtractClientCredentials(r.Header, values)
	grantType := values.Get("grant_type")

	instrumentation.AddGrantAttributes(span, grantType, creds.ClientID, values.Get("scope"))

	if h.checkRateLimit(w, r, clientIP, "token", startTime) {
		return
	}

	token, err := h.server.Grants.Dispatch(ctx, grantType, creds, values)
	if err != nil {
		h.logGrantError(ctx, "Token request failed", creds.ClientID, clientIP, err)
		instrumentation.RecordError(span, err)
		h.fail(w, r, span, "token", ErrorFromGrant(err), startTime)
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.AddHTTPAttributes(span, r.Method, "token", http.StatusOK)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, token)
}

// ServeAuthorizationServerMetadata serves the RFC 8414 metadata document
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := h.server.Config.Issuer
	metadata := AuthorizationServerMetadata{
		Issuer:                 issuer,
		AuthorizationEndpoint:  issuer + AuthorizationPath,
		TokenEndpoint:          issuer + TokenPath,
		ScopesSupported:        h.server.Grants.Config.SupportedScopes,
		ResponseTypesSupported: []string{responseTypeCode},
		GrantTypesSupported:    server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
	}

	security.SetSecurityHeaders(w, issuer)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string, startTime time.Time) bool {
	limiter := h.server.RateLimiter
	if limiter == nil || limiter.Allow(clientIP) {
		return false
	}

	clientID := r.URL.Query().Get("client_id")
	if r.PostForm != nil {
		clientID = r.PostForm.Get("client_id")
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.Auditor.LogRateLimitExceeded(clientIP, clientID)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.recordHTTPMetrics(r.Context(), endpoint, r.Method, http.StatusTooManyRequests, startTime)

	w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfter()))
	h.writeError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests))
	return true
}

// fail renders an error response and records the outcome
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, endpoint string, oauthErr *OAuthError, startTime time.Time) {
	h.recordHTTPMetrics(r.Context(), endpoint, r.Method, oauthErr.Status, startTime)
	instrumentation.AddHTTPAttributes(span, r.Method, endpoint, oauthErr.Status)
	instrumentation.SetSpanError(span, oauthErr.Code)
	h.writeError(w, oauthErr)
}

// logGrantError logs a grant failure. Storage failures are operational problems;
// everything else is a client mistake and only logged at debug level.
func (h *Handler) logGrantError(ctx context.Context, message, clientID, clientIP string, err error) {
	attrs := []any{
		"client_id", util.SafeTruncate(clientID, 64),
		"ip", clientIP,
		"request_id", security.GetRequestID(ctx),
		"error", err,
	}
	if server.KindOf(err) == server.ServiceUnavailable {
		h.logger.Error(message, attrs...)
		return
	}
	h.logger.Debug(message, attrs...)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *server.AccessToken) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, oauthErr *OAuthError) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	switch {
	case oauthErr.Code == ErrorCodeInvalidClient && oauthErr.Status == http.StatusUnauthorized:
		// RFC 6749 section 5.2
		w.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm()+`"`)
	case oauthErr.Status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterUnavailable)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}

func (h *Handler) realm() string {
	if h.server.Config.Issuer != "" {
		return h.server.Config.Issuer
	}
	return "oauth"
}

// recordHTTPMetrics records HTTP request metrics if instrumentation is enabled
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
