package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon/domain"
)

func newStoreTest(t *testing.T) (*SessionStore, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, "beacon", time.Minute)
	return store, func() {
		client.Close()
		mr.Close()
	}
}

func testSession(id string) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:                id,
		UserID:            "user-1",
		ExpiresAt:         now.Add(time.Hour),
		AbsoluteExpiresAt: now.Add(24 * time.Hour),
		CreatedAt:         now,
		LastActivityAt:    now,
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "hash-1", testSession("sess-1")))

	got, found := store.Get(ctx, "hash-1")
	require.True(t, found)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "user-1", got.UserID)

	_, found = store.Get(ctx, "hash-other")
	assert.False(t, found)
}

func TestSessionStoreDeleteBySession(t *testing.T) {
	store, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "hash-1", testSession("sess-1")))
	require.NoError(t, store.DeleteBySession(ctx, "sess-1"))

	_, found := store.Get(ctx, "hash-1")
	assert.False(t, found)

	require.NoError(t, store.DeleteBySession(ctx, "sess-1"))
}

func TestSessionStoreClearAndCount(t *testing.T) {
	store, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "hash-1", testSession("sess-1")))
	require.NoError(t, store.Set(ctx, "hash-2", testSession("sess-2")))
	assert.Equal(t, 2, store.Count(ctx))

	require.NoError(t, store.Clear(ctx))
	assert.Equal(t, 0, store.Count(ctx))
}

func TestSessionStoreSkipsExpiredSessions(t *testing.T) {
	store, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	session := testSession("sess-1")
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	require.NoError(t, store.Set(ctx, "hash-1", session))
	_, found := store.Get(ctx, "hash-1")
	assert.False(t, found)
}
