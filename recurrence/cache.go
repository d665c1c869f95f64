package recurrence

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// cacheEntry represents a cached expansion result.
type cacheEntry struct {
	result     *Results
	expiresAt  time.Time
	accessedAt time.Time
}

// Cache stores expansion results. Expansion is deterministic, so a cached
// result is indistinguishable from a fresh one within the TTL.
type Cache struct {
	entries         map[string]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
}

// CacheConfig holds configuration for the expansion cache.
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// NewCache creates a new expansion cache with the given configuration.
func NewCache(config CacheConfig) *Cache {
	cache := &Cache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// cacheKey hashes every input that influences an expansion result.
func cacheKey(p *Pattern, exc ExceptionDates, opts Options) string {
	hasher := sha256.New()

	writeInt := func(v int) {
		hasher.Write([]byte(strconv.Itoa(v)))
		hasher.Write([]byte{'|'})
	}
	writeTime := func(t time.Time) {
		hasher.Write([]byte(strconv.FormatInt(t.UnixMilli(), 10)))
		hasher.Write([]byte{'|'})
	}

	writeInt(int(p.Type))
	writeInt(p.Interval)
	writeInt(p.Days)
	writeInt(p.DayInMonth)
	writeInt(p.Month)
	writeTime(p.Until)
	writeInt(p.Count)
	writeTime(p.Start)
	writeInt(int(p.TimeOfDay))
	writeInt(int(p.Diff))
	writeInt(p.DayOffset)
	hasher.Write([]byte(p.Timezone))
	hasher.Write([]byte{'|'})

	for _, d := range exc.Delete {
		writeTime(d)
	}
	hasher.Write([]byte{';'})
	for _, d := range exc.Change {
		writeTime(d)
	}
	hasher.Write([]byte{';'})

	writeTime(opts.RangeStart)
	writeTime(opts.RangeEnd)
	writeInt(opts.Position)
	writeInt(opts.Limit)
	if opts.IgnoreExceptions {
		hasher.Write([]byte{'i'})
	}
	if opts.UntilOnly {
		hasher.Write([]byte{'u'})
	}

	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired.
func (c *Cache) Get(p *Pattern, exc ExceptionDates, opts Options) (*Results, bool) {
	key := cacheKey(p, exc, opts)

	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.accessedAt = now
	c.mutex.Unlock()

	// Each caller gets its own Results header so ByDate's lookup state is
	// never shared between goroutines; the occurrence slice underneath is
	// immutable once cached.
	return &Results{items: entry.result.items}, true
}

// Set stores an expansion result in the cache.
func (c *Cache) Set(p *Pattern, exc ExceptionDates, opts Options, result *Results) {
	key := cacheKey(p, exc, opts)
	now := time.Now()

	entry := &cacheEntry{
		result:     &Results{items: result.items},
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry

	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries and the least recently accessed entries
// when over the limit. Callers must hold the write lock.
func (c *Cache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxEntries {
		oldestKey := ""
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.accessedAt.Before(oldest) {
				oldestKey = key
				oldest = entry.accessedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

// cleanupLoop runs periodic cleanup.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache.
func (c *Cache) Close() {
	close(c.stopCleanup)
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache usage.
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
