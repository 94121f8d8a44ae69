package discovery

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gzhole/graphpower/internal/clock"
)

// DefaultCacheTTL is how long a discovery result is served from memory.
const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// Cache memoizes discovery results by query and category. Entries expire
// lazily on read; nothing is evicted otherwise. Values are stored and
// returned as independent deep copies.
type Cache struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache returns an empty cache. A non-positive ttl uses DefaultCacheTTL.
func NewCache(clk clock.Clock, ttl time.Duration) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{clock: clk, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// CacheKey is the lowercase "query|category" key.
func CacheKey(query, category string) string {
	return strings.ToLower(query + "|" + category)
}

// Get decodes the live entry for key into dst and reports whether one was
// found. Expired entries are dropped.
func (c *Cache) Get(key string, dst interface{}) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !c.clock.Now().Before(entry.expires) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	return json.Unmarshal(entry.value, dst) == nil
}

// Set stores a deep copy of v under key.
func (c *Cache) Set(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: data, expires: c.clock.Now().Add(c.ttl)}
	return nil
}

// Len counts stored entries, including expired ones not yet read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
