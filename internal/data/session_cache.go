package data

import (
	"context"
	"encoding/json"
	"time"

	"RelayPool/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "relaypool:session:"

	// localCacheSize bounds the in-process fallback cache.
	localCacheSize = 4096
	// localCacheMaxAge is the eviction horizon of the fallback cache. The
	// effective TTL is always re-checked against entry age at read time,
	// so this only has to exceed any configurable session TTL.
	localCacheMaxAge = 24 * time.Hour
)

// sessionEntry is the cached session handle with its creation time. TTL is
// enforced at read time against CreatedAt so a settings change takes effect
// on entries written before it.
type sessionEntry struct {
	Handle    string    `json:"handle"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionCache keeps at most one live upstream session handle per account.
// Redis is the primary store; a process-local expirable LRU serves as both a
// fast path and a degraded mode when Redis is down or not configured.
type sessionCache struct {
	rdb   *redis.Client
	local *lru.LRU[string, sessionEntry]
	log   *log.Helper
	now   func() time.Time
}

// NewSessionCache creates the session cache. rdb may be nil.
func NewSessionCache(rdb *redis.Client, logger log.Logger) biz.SessionCache {
	return &sessionCache{
		rdb:   rdb,
		local: lru.NewLRU[string, sessionEntry](localCacheSize, nil, localCacheMaxAge),
		log:   log.NewHelper(logger),
		now:   time.Now,
	}
}

func sessionKey(accountID string) string {
	return sessionKeyPrefix + accountID
}

func (c *sessionCache) fresh(e sessionEntry, ttl time.Duration) bool {
	return c.now().Sub(e.CreatedAt) < ttl
}

// Get returns the cached handle for the account if one exists and its age is
// below ttl.
func (c *sessionCache) Get(ctx context.Context, accountID string, ttl time.Duration) (string, bool) {
	if entry, ok := c.local.Get(accountID); ok {
		if c.fresh(entry, ttl) {
			return entry.Handle, true
		}
		c.local.Remove(accountID)
	}

	if c.rdb == nil {
		return "", false
	}

	raw, err := c.rdb.Get(ctx, sessionKey(accountID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("session cache read failed for account %s: %v", accountID, err)
		}
		return "", false
	}

	var entry sessionEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warnf("discarding malformed session cache entry for account %s: %v", accountID, err)
		c.deleteRemote(ctx, accountID)
		return "", false
	}
	if !c.fresh(entry, ttl) {
		c.deleteRemote(ctx, accountID)
		return "", false
	}

	c.local.Add(accountID, entry)
	return entry.Handle, true
}

// Put stores the handle for the account, replacing any previous entry.
func (c *sessionCache) Put(ctx context.Context, accountID, handle string, ttl time.Duration) {
	entry := sessionEntry{
		Handle:    handle,
		CreatedAt: c.now(),
	}
	c.local.Add(accountID, entry)

	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.log.Errorf("failed to encode session cache entry for account %s: %v", accountID, err)
		return
	}
	if err := c.rdb.Set(ctx, sessionKey(accountID), raw, ttl).Err(); err != nil {
		c.log.Warnf("session cache write failed for account %s: %v", accountID, err)
	}
}

// Invalidate removes the cached entry for the account, if any.
func (c *sessionCache) Invalidate(ctx context.Context, accountID string) {
	c.local.Remove(accountID)
	c.deleteRemote(ctx, accountID)
}

func (c *sessionCache) deleteRemote(ctx context.Context, accountID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, sessionKey(accountID)).Err(); err != nil {
		c.log.Warnf("session cache delete failed for account %s: %v", accountID, err)
	}
}
