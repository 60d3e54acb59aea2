package secrets

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	secret  string
	expires time.Time
}

// Cache is a time-bounded read-through cache in front of a Provider. Only
// successful lookups are cached; the short TTL bounds exposure to secret
// rotation staleness.
type Cache struct {
	next Provider
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// now is swappable for tests.
	now func() time.Time
}

func NewCache(next Provider, ttl time.Duration) *Cache {
	return &Cache{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cache) GetSecret(ctx context.Context, tenantID string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.secret, nil
	}

	secret, err := c.next.GetSecret(ctx, tenantID)
	if err != nil {
		// A stale positive entry must not mask suspension or rotation.
		c.mu.Lock()
		delete(c.entries, tenantID)
		c.mu.Unlock()
		return "", err
	}

	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{secret: secret, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return secret, nil
}
