package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// Grant type identifiers (RFC 6749)
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// SupportedGrantTypes lists every grant type the engine dispatches
var SupportedGrantTypes = []string{
	GrantTypeAuthorizationCode,
	GrantTypeClientCredentials,
	GrantTypeRefreshToken,
}

// dummySecretHash is compared against when a client has no secret hash, so a failed
// authentication costs the same for every client.
var dummySecretHash = func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("dummy-secret-for-timing"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("failed to hash dummy secret: %v", err))
	}
	return hash
}()

// ClientRegistration describes a client to create
type ClientRegistration struct {
	// ClientID is generated when empty
	ClientID     string
	ClientName   string
	ClientType   string // confidential (default) or public
	RedirectURIs []string
	GrantTypes   []string // empty allows every grant type
	Scopes       []string
}

// ResolveClient looks up a client. Unknown clients yield InvalidClient.
func (s *Server) ResolveClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, newError(InvalidClient, "Client authentication failed", errors.New("missing client_id"))
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	client, err := s.clientStore.GetClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		s.Logger.Debug("Client lookup failed",
			"reason", "unknown_client",
			"client_id", util.SafeTruncate(clientID, 64))
		return nil, newError(InvalidClient, "Client authentication failed", err)
	}
	if err != nil {
		return nil, unavailable("get client", err)
	}
	return client, nil
}

// ValidateClientSecret authenticates a client. bcrypt comparison runs in constant time;
// clients without a hash are compared against a dummy hash so timing does not reveal
// the client type. Public clients presenting no secret pass.
func (s *Server) ValidateClientSecret(client *storage.Client, secret string) error {
	if client.IsPublic() && secret == "" {
		return nil
	}

	hash := []byte(client.ClientSecretHash)
	if len(hash) == 0 {
		hash = dummySecretHash
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil || client.ClientSecretHash == "" {
		return newError(InvalidClient, "Client authentication failed", errors.New("client secret mismatch"))
	}
	return nil
}

// ValidateRedirectURI returns the redirect URI a code will be delivered to. An empty
// supplied URI selects the client's registered default; a non-empty one must match a
// registration.
func (s *Server) ValidateRedirectURI(client *storage.Client, supplied string) (string, error) {
	if supplied == "" {
		if uri := client.DefaultRedirectURI(); uri != "" {
			return uri, nil
		}
		return "", newError(InvalidRedirectURI, "Client has no registered redirect URI", nil)
	}

	if _, ok := s.matchRedirectURI(client, supplied); !ok {
		return "", newError(InvalidRedirectURI, "Redirect URI is not registered for this client",
			fmt.Errorf("redirect_uri %q not registered", supplied))
	}
	return supplied, nil
}

// RegisterClient creates a client. For confidential clients a secret is generated and
// returned in plaintext; only its bcrypt hash is stored, so this is the only time it is
// available.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (*storage.Client, string, error) {
	clientType := reg.ClientType
	if clientType == "" {
		clientType = storage.ClientTypeConfidential
	}
	if clientType != storage.ClientTypeConfidential && clientType != storage.ClientTypePublic {
		return nil, "", newError(InvalidRequest, "Unknown client type", fmt.Errorf("client type %q", clientType))
	}

	for _, uri := range reg.RedirectURIs {
		if err := validateRegisteredRedirectURI(uri); err != nil {
			s.Logger.Warn("Client registration rejected: redirect URI validation failed",
				"error", err.Error())
			return nil, "", newError(InvalidRedirectURI, "Invalid redirect URI", err)
		}
	}
	for _, gt := range reg.GrantTypes {
		if !isSupportedGrantType(gt) {
			return nil, "", newError(InvalidRequest, "Unsupported grant type", fmt.Errorf("grant type %q", gt))
		}
	}

	clientID := reg.ClientID
	if clientID == "" {
		clientID = generateRandomToken()
	}

	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ClientID:         clientID,
		ClientSecretHash: clientSecretHash,
		ClientType:       clientType,
		ClientName:       reg.ClientName,
		RedirectURIs:     reg.RedirectURIs,
		GrantTypes:       reg.GrantTypes,
		Scopes:           util.ParseScope(util.JoinScope(reg.Scopes)),
		CreatedAt:        time.Now(),
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := storage.ValidateClient(client); err != nil {
		return nil, "", newError(InvalidRequest, "Invalid client", err)
	}
	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, security.ClientIPFromContext(ctx))
	s.Logger.Info("Registered OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType)

	return client, clientSecret, nil
}

// DeleteClient removes a client. Tokens already issued to it stay valid until they
// expire; refreshing them fails once the client is gone.
func (s *Server) DeleteClient(ctx context.Context, clientID string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	err := s.clientStore.DeleteClient(ctx, clientID)
	if errors.Is(err, storage.ErrClientNotFound) {
		return newError(InvalidClient, "Unknown client", err)
	}
	if err != nil {
		return unavailable("delete client", err)
	}

	s.Auditor.LogClientDeleted(clientID)
	s.Logger.Info("Deleted OAuth client", "client_id", clientID)
	return nil
}

// ListClients returns every registered client ordered by client ID
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	clients, err := s.clientStore.ListClients(ctx)
	if err != nil {
		return nil, unavailable("list clients", err)
	}
	return clients, nil
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != storage.ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

func isSupportedGrantType(grantType string) bool {
	for _, gt := range SupportedGrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}
