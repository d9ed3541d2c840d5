package goals

import (
	"testing"
	"time"
)

var (
	_ GoalsCache = (*InMemoryGoalsCache)(nil)
	_ GoalsCache = (*RedisGoalsCache)(nil)
)

func TestInMemoryGoalsCacheMissWhenEmpty(t *testing.T) {
	cache := NewInMemoryGoalsCache(DefaultCacheConfig())

	if got := cache.Get(); got != nil {
		t.Errorf("Get() on empty cache = %v, want nil", got)
	}
	if cache.IsValid() {
		t.Error("IsValid() = true on empty cache")
	}
}

func TestInMemoryGoalsCacheSetGetInvalidate(t *testing.T) {
	cache := NewInMemoryGoalsCache(DefaultCacheConfig())

	cache.Set([]*Goal{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}})

	got := cache.Get()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("Get() = %+v, want goals a and b", got)
	}

	cache.Invalidate()
	if cache.Get() != nil {
		t.Error("Get() after Invalidate() should miss")
	}
}

func TestInMemoryGoalsCacheEmptyListIsHit(t *testing.T) {
	cache := NewInMemoryGoalsCache(DefaultCacheConfig())
	cache.Set(nil)

	got := cache.Get()
	if got == nil {
		t.Fatal("Get() after Set(nil) should be a hit with no goals")
	}
	if len(got) != 0 {
		t.Errorf("Get() returned %d goals, want 0", len(got))
	}
}

func TestInMemoryGoalsCacheCopies(t *testing.T) {
	cache := NewInMemoryGoalsCache(DefaultCacheConfig())

	goals := []*Goal{{ID: "a", Used: 1}}
	cache.Set(goals)
	goals[0].Used = 50

	got := cache.Get()
	if got[0].Used != 1 {
		t.Errorf("cached Used = %d after mutating the input, want 1", got[0].Used)
	}

	got[0].Used = 75
	if again := cache.Get(); again[0].Used != 1 {
		t.Errorf("cached Used = %d after mutating the output, want 1", again[0].Used)
	}
}

func TestInMemoryGoalsCacheTTL(t *testing.T) {
	cache := NewInMemoryGoalsCache(CacheConfig{TTL: 20 * time.Millisecond})
	cache.Set([]*Goal{{ID: "a"}})

	if !cache.IsValid() {
		t.Fatal("IsValid() = false right after Set()")
	}

	time.Sleep(40 * time.Millisecond)

	if cache.IsValid() {
		t.Error("IsValid() = true after TTL elapsed")
	}
	if cache.Get() != nil {
		t.Error("Get() after TTL elapsed should miss")
	}
}
