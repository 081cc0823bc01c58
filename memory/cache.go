package memory

import (
	"context"
	"sync"
	"time"

	"github.com/relaykit/message-api/api"
)

const (
	defaultCacheSize = 10
	defaultCacheTTL  = time.Hour
)

type cacheEntry struct {
	msg     api.Message
	expires time.Time
}

// Cache keeps the most recent messages in process memory. It follows the
// same rules as the Redis cache: an id deleted through DeleteMessage is not
// cached again until its marker expires, and DeleteMessages rejects every
// message created before it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	deleted map[string]time.Time // id -> marker expiry
	cleared time.Time

	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// A CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheSize bounds the cache to n messages. Values below 1 keep the
// default of 10.
func WithCacheSize(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithCacheTTL sets how long an entry and a deletion marker live.
func WithCacheTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithCacheClock sets the time source used for expiry and clears.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		deleted: make(map[string]time.Time),
		maxSize: defaultCacheSize,
		ttl:     defaultCacheTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InsertMessage caches msg unless a delete has made it invisible. Once the
// cache is over its size the entry with the oldest creation time goes.
func (c *Cache) InsertMessage(_ context.Context, msg api.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if exp, ok := c.deleted[msg.ID]; ok && now.Before(exp) {
		return nil
	}
	if !msg.CreatedAt.After(c.cleared) {
		return nil
	}

	c.entries[msg.ID] = cacheEntry{msg: msg, expires: now.Add(c.ttl)}
	for len(c.entries) > c.maxSize {
		c.evictOldest()
	}
	return nil
}

// GetMessage returns api.ErrCacheMiss when id is not cached or has expired.
func (c *Cache) GetMessage(_ context.Context, id string) (*api.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, api.ErrCacheMiss
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, id)
		return nil, api.ErrCacheMiss
	}
	m := e.msg
	return &m, nil
}

// DeleteMessage drops id and marks it deleted.
func (c *Cache) DeleteMessage(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, exp := range c.deleted {
		if !now.Before(exp) {
			delete(c.deleted, k)
		}
	}
	delete(c.entries, id)
	c.deleted[id] = now.Add(c.ttl)
	return nil
}

// DeleteMessages drops every entry.
func (c *Cache) DeleteMessages(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleared = c.now()
	clear(c.entries)
	return nil
}

// evictOldest drops the entry with the oldest creation time. Callers hold mu.
func (c *Cache) evictOldest() {
	var (
		oldest string
		at     time.Time
	)
	for id, e := range c.entries {
		if oldest == "" || e.msg.CreatedAt.Before(at) {
			oldest, at = id, e.msg.CreatedAt
		}
	}
	delete(c.entries, oldest)
}
