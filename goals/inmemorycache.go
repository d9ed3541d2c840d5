package goals

import (
	"sync"
	"time"
)

// InMemoryGoalsCache is an in-process GoalsCache.
// Goals are copied on Set and Get so callers cannot alter cached state,
// in particular the Used counter read by the usage-limit check.
type InMemoryGoalsCache struct {
	goals    []*Goal
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemoryGoalsCache creates a new in-memory goals cache
func NewInMemoryGoalsCache(config CacheConfig) *InMemoryGoalsCache {
	return &InMemoryGoalsCache{config: config}
}

// Get returns nil if the cache is invalid or expired
func (c *InMemoryGoalsCache) Get() []*Goal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		return nil
	}
	return cloneGoals(c.goals)
}

// Set stores goals in cache
func (c *InMemoryGoalsCache) Set(goals []*Goal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.goals = cloneGoals(goals)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *InMemoryGoalsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.goals = nil
}

// IsValid returns true if cache contains unexpired data
func (c *InMemoryGoalsCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validLocked()
}

func (c *InMemoryGoalsCache) validLocked() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}

func cloneGoals(goals []*Goal) []*Goal {
	out := make([]*Goal, len(goals))
	for i, g := range goals {
		out[i] = g.clone()
	}
	return out
}
