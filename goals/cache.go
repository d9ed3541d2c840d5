package goals

import "time"

// GoalsCache caches the active goals list so tracking does not hit the
// store for every subject.
type GoalsCache interface {
	// Get retrieves cached goals, returns nil on a miss or expiry
	Get() []*Goal

	// Set stores goals in cache
	Set(goals []*Goal)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig invalidates on goal mutations only
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
