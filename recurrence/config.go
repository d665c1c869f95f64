package recurrence

import (
	"time"
)

// ExpanderConfig holds configuration options for the recurrence expander.
type ExpanderConfig struct {
	// Cache configuration
	CacheEnabled bool
	CacheConfig  CacheConfig

	// MaxOperations bounds the internal work of a single expansion; a
	// pattern whose interval/range combination exceeds it fails with
	// ErrPatternTooComplex.
	MaxOperations int
}

// DefaultExpanderConfig provides sensible defaults for production use.
var DefaultExpanderConfig = ExpanderConfig{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,

	MaxOperations: 50000,
}

// NoCacheExpanderConfig turns off result caching entirely.
var NoCacheExpanderConfig = ExpanderConfig{
	CacheEnabled: false,
	CacheConfig:  CacheConfig{}, // Not used

	MaxOperations: 50000,
}

// DefaultCacheConfig provides sensible defaults for expansion caching.
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}
