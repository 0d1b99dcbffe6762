package data

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionCache(t *testing.T) (*sessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewSessionCache(rdb, log.DefaultLogger).(*sessionCache), mr
}

func TestSessionCache_PutGetInvalidate(t *testing.T) {
	cache, _ := newTestSessionCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "acct-1", time.Hour)
	assert.False(t, ok)

	cache.Put(ctx, "acct-1", "handle-1", time.Hour)
	h, ok := cache.Get(ctx, "acct-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "handle-1", h)

	// One live entry per account: a new handle replaces the old one.
	cache.Put(ctx, "acct-1", "handle-2", time.Hour)
	h, ok = cache.Get(ctx, "acct-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "handle-2", h)

	cache.Invalidate(ctx, "acct-1")
	_, ok = cache.Get(ctx, "acct-1", time.Hour)
	assert.False(t, ok)
}

func TestSessionCache_TTLCheckedAtReadTime(t *testing.T) {
	cache, _ := newTestSessionCache(t)
	ctx := context.Background()

	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Put(ctx, "acct-1", "handle-1", time.Hour)

	// Fresh under the TTL in force at read time.
	cache.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, ok := cache.Get(ctx, "acct-1", time.Hour)
	assert.True(t, ok)

	// A tightened TTL expires existing entries immediately.
	_, ok = cache.Get(ctx, "acct-1", 10*time.Minute)
	assert.False(t, ok)
}

func TestSessionCache_ReadsThroughFromRedis(t *testing.T) {
	cache, mr := newTestSessionCache(t)
	ctx := context.Background()

	cache.Put(ctx, "acct-1", "handle-1", time.Hour)
	// Drop the local entry so the next read must hit Redis.
	cache.local.Purge()

	h, ok := cache.Get(ctx, "acct-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "handle-1", h)

	// Invalidate clears Redis too.
	cache.Invalidate(ctx, "acct-1")
	assert.False(t, mr.Exists(sessionKey("acct-1")))
}

func TestSessionCache_MalformedRedisEntryIsDiscarded(t *testing.T) {
	cache, mr := newTestSessionCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(sessionKey("acct-1"), "not json"))
	_, ok := cache.Get(ctx, "acct-1", time.Hour)
	assert.False(t, ok)
	assert.False(t, mr.Exists(sessionKey("acct-1")))
}

func TestSessionCache_DegradesWithoutRedis(t *testing.T) {
	cache := NewSessionCache(nil, log.DefaultLogger).(*sessionCache)
	ctx := context.Background()

	cache.Put(ctx, "acct-1", "handle-1", time.Hour)
	h, ok := cache.Get(ctx, "acct-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "handle-1", h)

	cache.Invalidate(ctx, "acct-1")
	_, ok = cache.Get(ctx, "acct-1", time.Hour)
	assert.False(t, ok)
}

func TestSessionCache_SurvivesRedisOutage(t *testing.T) {
	cache, mr := newTestSessionCache(t)
	ctx := context.Background()

	mr.Close()

	// Writes and reads degrade to the in-process cache.
	cache.Put(ctx, "acct-1", "handle-1", time.Hour)
	h, ok := cache.Get(ctx, "acct-1", time.Hour)
	require.True(t, ok)
	assert.Equal(t, "handle-1", h)
}
