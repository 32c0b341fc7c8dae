package server

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/storage"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be registered
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// customSchemePattern accepts RFC 3986 schemes for native app callbacks
	customSchemePattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)
)

// validateRegisteredRedirectURI checks a redirect URI offered at registration.
// Registered URIs must be absolute without a fragment; plain http is only accepted on
// loopback hosts (RFC 8252 native clients).
func validateRegisteredRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect URI cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", raw, err)
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "":
		return fmt.Errorf("redirect URI %q must be absolute", raw)
	case slices.Contains(DangerousSchemes, scheme):
		return fmt.Errorf("redirect URI scheme %q is not allowed", scheme)
	case scheme == SchemeHTTPS:
		if u.Host == "" {
			return fmt.Errorf("redirect URI %q has no host", raw)
		}
	case scheme == SchemeHTTP:
		if !util.IsLoopbackHost(u.Hostname()) {
			return fmt.Errorf("redirect URI %q must use https unless it targets a loopback host", raw)
		}
	case !customSchemePattern.MatchString(scheme):
		return fmt.Errorf("redirect URI scheme %q is not a valid URI scheme", scheme)
	}
	return nil
}

// matchRedirectURI returns the registered URI the supplied one is accepted under.
func (s *Server) matchRedirectURI(client *storage.Client, supplied string) (string, bool) {
	for _, registered := range client.RedirectURIs {
		if supplied == registered {
			return registered, true
		}
	}
	if !s.Config.AllowRedirectURIPrefixMatch {
		return "", false
	}
	for _, registered := range client.RedirectURIs {
		if extendsAtBoundary(supplied, registered) {
			return registered, true
		}
	}
	return "", false
}

// extendsAtBoundary reports whether supplied continues registered at a path segment or
// query boundary, so a registered https://app/cb never admits https://app/cbx or a
// different host like https://app/cb.evil.example.
func extendsAtBoundary(supplied, registered string) bool {
	if registered == "" || !strings.HasPrefix(supplied, registered) {
		return false
	}
	if strings.Contains(supplied, "#") {
		return false
	}

	reg, err := url.Parse(registered)
	if err != nil || reg.Host == "" && reg.Opaque == "" && reg.Path == "" {
		return false
	}
	sup, err := url.Parse(supplied)
	if err != nil || !strings.EqualFold(sup.Scheme, reg.Scheme) || !strings.EqualFold(sup.Host, reg.Host) {
		return false
	}

	rest := supplied[len(registered):]
	if strings.HasSuffix(registered, "/") {
		return true
	}
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "?") ||
		(strings.Contains(registered, "?") && strings.HasPrefix(rest, "&"))
}

// resolveScope returns the effective scope for a new grant. An empty request grants the
// client's full scope. A client without registered scopes is unrestricted, subject to
// Config.SupportedScopes.
func (s *Server) resolveScope(client *storage.Client, requested string) (string, error) {
	requested = util.NormalizeScope(requested)
	if requested == "" {
		return util.JoinScope(client.Scopes), nil
	}

	for _, scope := range util.ParseScope(requested) {
		if len(client.Scopes) > 0 && !slices.Contains(client.Scopes, scope) {
			return "", newError(InvalidScope, "Requested scope exceeds the client's allowed scopes",
				fmt.Errorf("scope %q not registered for client", scope))
		}
		if len(s.Config.SupportedScopes) > 0 && !slices.Contains(s.Config.SupportedScopes, scope) {
			return "", newError(InvalidScope, "Requested scope is not supported",
				fmt.Errorf("scope %q not supported", scope))
		}
	}
	return requested, nil
}

// narrowScope validates a scope requested on refresh against the original grant.
// An empty request keeps the original scope.
func narrowScope(requested, granted string) (string, error) {
	requested = util.NormalizeScope(requested)
	if requested == "" {
		return granted, nil
	}
	if !util.ScopeSubset(requested, granted) {
		return "", newError(InvalidScope, "Requested scope exceeds the original grant", nil)
	}
	return requested, nil
}
