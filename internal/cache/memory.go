package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/quorum/internal/model"
)

// MemoryCache is the in-memory TTL tier.
type MemoryCache struct {
	cache      *gocache.Cache
	defaultTTL time.Duration
}

// NewMemoryCache creates a memory cache with the given default TTL.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

// Get retrieves a value if present and unexpired.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	if val, found := c.cache.Get(key); found {
		return val.([]byte), true
	}
	return nil, false
}

// Set stores a value with the given TTL (0 means the default TTL).
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value.
func (c *MemoryCache) Delete(key string) error {
	c.cache.Delete(key)
	return nil
}

// Clear removes all values.
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Stats reports current size and configured TTL.
func (c *MemoryCache) Stats() model.CacheStats {
	return model.CacheStats{
		Size: c.cache.ItemCount(),
		TTL:  c.defaultTTL.Seconds(),
	}
}
