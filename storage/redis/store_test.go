package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-grants/internal/testutil"
	"github.com/giantswarm/oauth-grants/storage"
	"github.com/giantswarm/oauth-grants/storage/storagetest"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewWithClient(client, Config{})
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		store, _ := setupStore(t)
		return store
	})
}

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := New(Config{Address: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	defer store.Close()

	client := testutil.PublicClient("c1", "https://app/cb")
	require.NoError(t, store.SaveClient(context.Background(), client))
	assert.True(t, mr.Exists("test:client:c1"))
}

func TestStore_KeysExpireWithRecords(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	code := testutil.AuthorizationCode("c1", "alice", "https://app/cb", time.Minute)
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	codeTTL := mr.TTL(store.codeKey(code.Code))
	assert.Greater(t, codeTTL, time.Minute)
	assert.LessOrEqual(t, codeTTL, time.Minute+10*time.Second)

	accessTTL := mr.TTL(store.tokenKey(access.Value))
	refreshTTL := mr.TTL(store.tokenKey(refresh.Value))
	assert.Greater(t, refreshTTL, accessTTL)

	// the principal/client index lives as long as its longest member
	pcTTL := mr.TTL(store.principalClientKey("alice", "c1"))
	assert.InDelta(t, float64(refreshTTL), float64(pcTTL), float64(time.Second))

	mr.FastForward(2 * time.Minute)
	_, err := store.GetAuthorizationCode(ctx, code.Code)
	assert.ErrorIs(t, err, storage.ErrAuthorizationCodeNotFound)
	_, err = store.GetToken(ctx, refresh.Value)
	assert.NoError(t, err)
}

func TestStore_NonExpiringTokenHasNoTTL(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	refresh.ExpiresAt = time.Time{}
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	assert.Zero(t, mr.TTL(store.tokenKey(refresh.Value)))
	assert.Zero(t, mr.TTL(store.familyKey(refresh.FamilyID)))
	assert.Zero(t, mr.TTL(store.principalClientKey("alice", "c1")))
}

func TestStore_RevokedNonExpiringTokenGetsRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewWithClient(client, Config{RevokedRetention: time.Hour})
	defer store.Close()
	ctx := context.Background()

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	refresh.ExpiresAt = time.Time{}
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))
	require.NoError(t, store.RevokeToken(ctx, refresh.Value))

	assert.Equal(t, time.Hour, mr.TTL(store.tokenKey(refresh.Value)))

	mr.FastForward(2 * time.Hour)
	_, err := store.GetToken(ctx, refresh.Value)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	a := NewWithClient(client, Config{KeyPrefix: "a:"})
	b := NewWithClient(client, Config{KeyPrefix: "b:"})
	ctx := context.Background()

	require.NoError(t, a.SaveClient(ctx, testutil.PublicClient("c1", "https://app/cb")))

	_, err := b.GetClient(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
}

func TestStore_UnavailableBackend(t *testing.T) {
	store, mr := setupStore(t)
	mr.Close()

	_, err := store.GetClient(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}

func TestStore_DuplicateTokenRejected(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	access, refresh := testutil.TokenPair("c1", "alice", time.Hour)
	require.NoError(t, store.SaveTokenPair(ctx, access, refresh))

	err := store.SaveTokenPair(ctx, access, nil)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}
