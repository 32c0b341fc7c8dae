package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// tokenGrant describes the tokens to mint for one successful grant
type tokenGrant struct {
	clientID  string
	principal string
	scope     string

	// refreshScope is the scope of the refresh token when it differs from scope, which
	// happens when a refresh narrows the access token's scope
	refreshScope string

	// withRefresh mints a refresh token alongside the access token
	withRefresh bool

	// familyID and generation continue an existing refresh token family; a new family
	// is started when familyID is empty
	familyID   string
	generation int

	// refreshExpiresAt caps the access token when its refresh token is kept
	refreshExpiresAt time.Time
}

// mintTokens creates the access token and, when requested, its refresh token.
// The access token never outlives the refresh token it is linked to.
func (s *Server) mintTokens(g tokenGrant, now time.Time) (access, refresh *storage.Token) {
	familyID := g.familyID
	if familyID == "" && g.withRefresh {
		familyID = uuid.NewString()
	}
	generation := max(g.generation, 1)

	accessExpiresAt := now.Add(s.Config.accessTokenTTL())
	capAt := g.refreshExpiresAt

	if g.withRefresh {
		var refreshExpiresAt time.Time
		if ttl := s.Config.refreshTokenTTL(); ttl > 0 {
			refreshExpiresAt = now.Add(ttl)
		}
		refreshScope := g.refreshScope
		if refreshScope == "" {
			refreshScope = g.scope
		}
		refresh = &storage.Token{
			Value:      generateRandomToken(),
			Kind:       storage.TokenKindRefresh,
			ClientID:   g.clientID,
			Principal:  g.principal,
			Scope:      refreshScope,
			IssuedAt:   now,
			ExpiresAt:  refreshExpiresAt,
			FamilyID:   familyID,
			Generation: generation,
		}
		capAt = refreshExpiresAt
	}

	if !capAt.IsZero() && accessExpiresAt.After(capAt) {
		accessExpiresAt = capAt
	}

	access = &storage.Token{
		Value:      generateRandomToken(),
		Kind:       storage.TokenKindAccess,
		ClientID:   g.clientID,
		Principal:  g.principal,
		Scope:      g.scope,
		IssuedAt:   now,
		ExpiresAt:  accessExpiresAt,
		FamilyID:   familyID,
		Generation: generation,
	}
	if refresh != nil {
		access.RefreshToken = refresh.Value
	}
	return access, refresh
}

// tokenResponse renders stored tokens as a grant result
func tokenResponse(access *storage.Token, refreshValue string, now time.Time) *AccessToken {
	return &AccessToken{
		AccessToken:  access.Value,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    security.ExpiresIn(access.ExpiresAt, now),
		RefreshToken: refreshValue,
		Scope:        access.Scope,
	}
}
