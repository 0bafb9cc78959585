package service

import (
	"sync"
	"time"
)

const (
	defaultResultCacheTTL     = 5 * time.Minute
	defaultResultCacheEntries = 16
)

type resultEntry struct {
	data    []byte
	updated time.Time
}

// ResultCache maps input fingerprints to encoded results so an unchanged
// snapshot is served without recomputing. Entries expire after the TTL and
// the oldest entry is evicted once the cache is full.
type ResultCache struct {
	mu         sync.RWMutex
	entries    map[uint64]resultEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	hits       int64
	misses     int64
	invalids   int64
}

// NewResultCache creates a cache with the provided TTL; zero uses a default.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultResultCacheTTL
	}
	return &ResultCache{
		entries:    make(map[uint64]resultEntry),
		ttl:        ttl,
		maxEntries: defaultResultCacheEntries,
		now:        time.Now,
	}
}

func (c *ResultCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Get returns a copy of the encoded result stored for fingerprint.
func (c *ResultCache) Get(fingerprint uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.updated) > c.ttl {
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	return cloneBytes(entry.data), true
}

// Put stores data under fingerprint.
func (c *ResultCache) Put(fingerprint uint64, data []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fingerprint]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[fingerprint] = resultEntry{data: cloneBytes(data), updated: c.now()}
}

// Invalidate drops the entry for fingerprint and reports whether one existed.
func (c *ResultCache) Invalidate(fingerprint uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fingerprint]
	if ok {
		delete(c.entries, fingerprint)
		c.invalids++
	}
	return ok
}

func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	hits, misses, invalids = c.hits, c.misses, c.invalids
	c.mu.RUnlock()
	return
}

// evictOldestLocked drops the least recently written entry.
// Caller must hold c.mu.
func (c *ResultCache) evictOldestLocked() {
	var (
		oldestKey uint64
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.updated.Before(oldest) || (e.updated.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, found = k, e.updated, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

func (c *ResultCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *ResultCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func cloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	clone := make([]byte, len(src))
	copy(clone, src)
	return clone
}
