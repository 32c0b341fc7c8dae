// Package storagetest is a conformance suite for storage.Store implementations.
//
// Every backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//		storagetest.Run(t, func(t *testing.T) storage.Store { return newTestStore(t) })
//	}
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-grants/internal/testutil"
	"github.com/giantswarm/oauth-grants/storage"
)

// Factory returns an empty store; it registers its own cleanup on t.
type Factory func(t *testing.T) storage.Store

// concurrentCallers is how many goroutines race on the same code or refresh token
const concurrentCallers = 10

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Clients", func(t *testing.T) { testClients(t, newStore) })
	t.Run("AuthorizationCodes", func(t *testing.T) { testAuthorizationCodes(t, newStore) })
	t.Run("RedeemConcurrent", func(t *testing.T) { testRedeemConcurrent(t, newStore) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newStore) })
	t.Run("ExchangeRefreshToken", func(t *testing.T) { testExchangeRefreshToken(t, newStore) })
	t.Run("ExchangeConcurrent", func(t *testing.T) { testExchangeConcurrent(t, newStore) })
	t.Run("Revocation", func(t *testing.T) { testRevocation(t, newStore) })
}

func testClients(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		s := newStore(t)
		client := testutil.ConfidentialClient(t, "c1", "s1", "https://app/cb", "https://app/alt")
		client.GrantTypes = []string{"authorization_code", "refresh_token"}
		require.NoError(t, s.SaveClient(ctx, client))

		got, err := s.GetClient(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, client.ClientSecretHash, got.ClientSecretHash)
		assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, client.GrantTypes, got.GrantTypes)
		assert.Equal(t, storage.ClientTypeConfidential, got.ClientType)
		assert.Equal(t, "https://app/cb", got.DefaultRedirectURI())

		got.RedirectURIs[0] = "https://mutated"
		again, err := s.GetClient(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "https://app/cb", again.RedirectURIs[0], "returned clients must be copies")
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
	})

	t.Run("invalid clients rejected", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.SaveClient(ctx, nil))
		assert.Error(t, s.SaveClient(ctx, &storage.Client{ClientType: storage.ClientTypePublic}))
		assert.Error(t, s.SaveClient(ctx, &storage.Client{ClientID: "c", ClientType: storage.ClientTypeConfidential}))
		assert.Error(t, s.SaveClient(ctx, &storage.Client{ClientID: "c", ClientType: "weird"}))
	})

	t.Run("replace, list and delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveClient(ctx, testutil.PublicClient("b", "https://b/cb")))
		require.NoError(t, s.SaveClient(ctx, testutil.PublicClient("a", "https://a/cb")))
		require.NoError(t, s.SaveClient(ctx, testutil.PublicClient("a", "https://a/new")))

		list, err := s.ListClients(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].ClientID)
		assert.Equal(t, "https://a/new", list[0].DefaultRedirectURI())
		assert.Equal(t, "b", list[1].ClientID)

		require.NoError(t, s.DeleteClient(ctx, "a"))
		_, err = s.GetClient(ctx, "a")
		assert.ErrorIs(t, err, storage.ErrClientNotFound)
		assert.ErrorIs(t, s.DeleteClient(ctx, "a"), storage.ErrClientNotFound)
	})
}

func testAuthorizationCodes(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
		code.Scope = "read"
		code.State = "xyz"
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, code.Code)
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ClientID)
		assert.Equal(t, "alice", got.Principal)
		assert.Equal(t, "read", got.Scope)
		assert.Equal(t, "xyz", got.State)
		assert.True(t, got.RedirectURIProvided)
		assert.False(t, got.Used)

		assert.ErrorIs(t, s.SaveAuthorizationCode(ctx, code), storage.ErrAlreadyExists)
	})

	t.Run("redeem once", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		binding := storage.CodeBinding{ClientID: "c1", RedirectURI: "https://app/cb"}
		got, err := s.RedeemAuthorizationCode(ctx, code.Code, binding)
		require.NoError(t, err)
		assert.True(t, got.Used)
		assert.Equal(t, "alice", got.Principal)

		replay, err := s.RedeemAuthorizationCode(ctx, code.Code, binding)
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeUsed)
		require.NotNil(t, replay, "replay must return the stored record")
		assert.Equal(t, "alice", replay.Principal)
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.RedeemAuthorizationCode(ctx, "nope", storage.CodeBinding{ClientID: "c1"})
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
		_, err = s.GetAuthorizationCode(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", -time.Minute)
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		_, err := s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c1", RedirectURI: "https://app/cb"})
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeExpired)
	})

	t.Run("mismatch leaves code redeemable", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		_, err := s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c2", RedirectURI: "https://app/cb"})
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeMismatch)

		_, err = s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c1", RedirectURI: "https://app/other"})
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeMismatch)

		_, err = s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c1"})
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeMismatch, "explicit redirect must be repeated")

		_, err = s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c1", RedirectURI: "https://app/cb"})
		assert.NoError(t, err)
	})

	t.Run("default redirect may be omitted", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
		code.RedirectURIProvided = false
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		_, err := s.RedeemAuthorizationCode(ctx, code.Code, storage.CodeBinding{ClientID: "c1"})
		assert.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		code := testutil.AuthorizationCode("c1", "alice", "", time.Minute)
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))
		require.NoError(t, s.DeleteAuthorizationCode(ctx, code.Code))

		_, err := s.GetAuthorizationCode(ctx, code.Code)
		assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	})
}

func testRedeemConcurrent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
	require.NoError(t, s.SaveAuthorizationCode(ctx, code))

	binding := storage.CodeBinding{ClientID: "c1", RedirectURI: "https://app/cb"}
	results := make(chan error, concurrentCallers)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < concurrentCallers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.RedeemAuthorizationCode(ctx, code.Code, binding)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one redemption must succeed")
}

func testTokens(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("save and get pair", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		access.Scope = "read"
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		got, err := s.GetToken(ctx, access.Value)
		require.NoError(t, err)
		assert.Equal(t, storage.TokenKindAccess, got.Kind)
		assert.Equal(t, "read", got.Scope)
		assert.Equal(t, refresh.Value, got.RefreshToken)

		gotRefresh, err := s.GetToken(ctx, refresh.Value)
		require.NoError(t, err)
		assert.Equal(t, storage.TokenKindRefresh, gotRefresh.Kind)
		assert.Equal(t, refresh.FamilyID, gotRefresh.FamilyID)
		assert.Equal(t, 1, gotRefresh.Generation)

		assert.ErrorIs(t, s.SaveTokenPair(ctx, access, nil), storage.ErrAlreadyExists)
	})

	t.Run("access only", func(t *testing.T) {
		s := newStore(t)
		access, _ := testutil.TokenPair("c1", "", time.Hour)
		access.RefreshToken = ""
		require.NoError(t, s.SaveTokenPair(ctx, access, nil))

		got, err := s.GetToken(ctx, access.Value)
		require.NoError(t, err)
		assert.Empty(t, got.Principal)
	})

	t.Run("non-expiring refresh token", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		refresh.ExpiresAt = time.Time{}
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		got, err := s.GetToken(ctx, refresh.Value)
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.IsZero())
	})

	t.Run("invalid pairs rejected", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		assert.Error(t, s.SaveTokenPair(ctx, nil, nil))
		assert.Error(t, s.SaveTokenPair(ctx, refresh, nil))
		assert.Error(t, s.SaveTokenPair(ctx, access, access))
	})

	t.Run("not found and expired", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetToken(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)

		access, _ := testutil.TokenPair("c1", "alice", -time.Minute)
		access.RefreshToken = ""
		require.NoError(t, s.SaveTokenPair(ctx, access, nil))
		_, err = s.GetToken(ctx, access.Value)
		assert.ErrorIs(t, err, storage.ErrTokenExpired)
	})
}

func testExchangeRefreshToken(t *testing.T, newStore Factory) {
	ctx := context.Background()

	newSuccessors := func(old *storage.Token, rotate bool) (*storage.Token, *storage.Token) {
		access, refresh := testutil.TokenPair(old.ClientID, old.Principal, time.Hour)
		refresh.FamilyID = old.FamilyID
		refresh.Generation = old.Generation + 1
		access.FamilyID = old.FamilyID
		if !rotate {
			access.RefreshToken = ""
			return access, nil
		}
		access.RefreshToken = refresh.Value
		return access, refresh
	}

	t.Run("rotation revokes presented token and its access tokens", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		newAccess, newRefresh := newSuccessors(refresh, true)
		old, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       newAccess,
			Refresh:      newRefresh,
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", old.Principal)

		_, err = s.GetToken(ctx, refresh.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		_, err = s.GetToken(ctx, access.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)

		got, err := s.GetToken(ctx, newRefresh.Value)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Generation)
		assert.Equal(t, refresh.FamilyID, got.FamilyID)

		gotAccess, err := s.GetToken(ctx, newAccess.Value)
		require.NoError(t, err)
		assert.Equal(t, newRefresh.Value, gotAccess.RefreshToken)

		revoked, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       testAccess("c1"),
		})
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		require.NotNil(t, revoked, "revoked record must be returned for reuse detection")
		assert.Equal(t, refresh.FamilyID, revoked.FamilyID)
	})

	t.Run("without rotation the refresh token stays valid", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		newAccess, _ := newSuccessors(refresh, false)
		_, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       newAccess,
		})
		require.NoError(t, err)

		_, err = s.GetToken(ctx, refresh.Value)
		assert.NoError(t, err)

		got, err := s.GetToken(ctx, newAccess.Value)
		require.NoError(t, err)
		assert.Equal(t, refresh.Value, got.RefreshToken, "new access token must link to the presented refresh token")
	})

	t.Run("validation failures", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		expAccess, expRefresh := testutil.TokenPair("c1", "alice", time.Hour)
		expRefresh.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, s.SaveTokenPair(ctx, expAccess, expRefresh))

		tests := []struct {
			name     string
			token    string
			clientID string
			wantErr  error
		}{
			{name: "unknown", token: "missing", clientID: "c1", wantErr: storage.ErrTokenNotFound},
			{name: "access token presented", token: access.Value, clientID: "c1", wantErr: storage.ErrTokenNotFound},
			{name: "other client", token: refresh.Value, clientID: "c2", wantErr: storage.ErrTokenClientMismatch},
			{name: "expired", token: expRefresh.Value, clientID: "c1", wantErr: storage.ErrTokenExpired},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
					RefreshToken: tt.token,
					ClientID:     tt.clientID,
					Access:       testAccess(tt.clientID),
				})
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}

		_, err := s.GetToken(ctx, refresh.Value)
		assert.NoError(t, err, "failed exchanges must not revoke the token")
	})

	t.Run("failed successor write leaves the presented token usable", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		takenAccess, taken := testutil.TokenPair("c1", "bob", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, takenAccess, taken))

		newAccess, newRefresh := newSuccessors(refresh, true)
		newRefresh.Value = taken.Value
		newAccess.RefreshToken = taken.Value

		_, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       newAccess,
			Refresh:      newRefresh,
		})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)

		_, err = s.GetToken(ctx, refresh.Value)
		assert.NoError(t, err, "refresh token must survive a failed exchange")
		_, err = s.GetToken(ctx, access.Value)
		assert.NoError(t, err, "access token must survive a failed exchange")
		_, err = s.GetToken(ctx, newAccess.Value)
		assert.ErrorIs(t, err, storage.ErrTokenNotFound, "no successor may be stored")

		retryAccess, retryRefresh := newSuccessors(refresh, true)
		_, err = s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       retryAccess,
			Refresh:      retryRefresh,
		})
		require.NoError(t, err)

		_, err = s.GetToken(ctx, retryRefresh.Value)
		assert.NoError(t, err)
		_, err = s.GetToken(ctx, taken.Value)
		assert.NoError(t, err, "the colliding token belongs to someone else and is untouched")
	})
}

func testExchangeConcurrent(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

	results := make(chan error, concurrentCallers)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < concurrentCallers; i++ {
		newAccess, newRefresh := testutil.TokenPair("c1", "alice", time.Hour)
		newRefresh.FamilyID = refresh.FamilyID
		newRefresh.Generation = 2
		newAccess.RefreshToken = newRefresh.Value

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
				RefreshToken: refresh.Value,
				ClientID:     "c1",
				Access:       newAccess,
				Refresh:      newRefresh,
			})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, storage.ErrTokenRevoked):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes, "exactly one exchange must succeed")
}

func testRevocation(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("revoke refresh token cascades", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		require.NoError(t, s.RevokeToken(ctx, refresh.Value))

		_, err := s.GetToken(ctx, access.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		assert.ErrorIs(t, s.RevokeToken(ctx, "missing"), storage.ErrTokenNotFound)
	})

	t.Run("revoke access token only", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		require.NoError(t, s.RevokeToken(ctx, access.Value))

		_, err := s.GetToken(ctx, refresh.Value)
		assert.NoError(t, err)
	})

	t.Run("revoke family", func(t *testing.T) {
		s := newStore(t)
		access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, access, refresh))

		access2, refresh2 := testutil.TokenPair("c1", "alice", time.Hour)
		refresh2.FamilyID = refresh.FamilyID
		refresh2.Generation = 2
		access2.RefreshToken = refresh2.Value
		_, err := s.ExchangeRefreshToken(ctx, storage.RefreshExchange{
			RefreshToken: refresh.Value,
			ClientID:     "c1",
			Access:       access2,
			Refresh:      refresh2,
		})
		require.NoError(t, err)

		other, otherRefresh := testutil.TokenPair("c1", "alice", time.Hour)
		require.NoError(t, s.SaveTokenPair(ctx, other, otherRefresh))

		n, err := s.RevokeFamily(ctx, refresh.FamilyID)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "the live refresh token and its access token")

		_, err = s.GetToken(ctx, access2.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		_, err = s.GetToken(ctx, refresh2.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		_, err = s.GetToken(ctx, other.Value)
		assert.NoError(t, err, "other families are untouched")
	})

	t.Run("revoke all for principal and client", func(t *testing.T) {
		s := newStore(t)
		a1, r1 := testutil.TokenPair("c1", "alice", time.Hour)
		a2, r2 := testutil.TokenPair("c1", "alice", time.Hour)
		b1, rb1 := testutil.TokenPair("c2", "alice", time.Hour)
		c1, rc1 := testutil.TokenPair("c1", "bob", time.Hour)
		for _, pair := range [][2]*storage.Token{{a1, r1}, {a2, r2}, {b1, rb1}, {c1, rc1}} {
			require.NoError(t, s.SaveTokenPair(ctx, pair[0], pair[1]))
		}

		n, err := s.RevokeAllTokensForPrincipalClient(ctx, "alice", "c1")
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		_, err = s.GetToken(ctx, a2.Value)
		assert.ErrorIs(t, err, storage.ErrTokenRevoked)
		_, err = s.GetToken(ctx, b1.Value)
		assert.NoError(t, err)
		_, err = s.GetToken(ctx, c1.Value)
		assert.NoError(t, err)
	})
}

func testAccess(clientID string) *storage.Token {
	access, _ := testutil.TokenPair(clientID, "alice", time.Hour)
	access.RefreshToken = ""
	return access
}
