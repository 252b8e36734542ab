package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func TestLRUCache_GetSet(t *testing.T) {
	cache := NewLRUCache[int](2, time.Minute, nil)

	cache.Set("a", 1)
	cache.Set("b", 2)

	v, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	cache.Set("b", 20)
	v, ok = cache.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 20, v)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewLRUCache[string](2, time.Minute, nil)

	cache.Set("a", "A")
	cache.Set("b", "B")
	cache.Get("a") // b is now the oldest
	cache.Set("c", "C")

	_, ok := cache.Get("b")
	assert.False(t, ok)
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewLRUCache[int](10, 30*time.Second, clock.Now)

	cache.Set("a", 1)
	cache.Set("b", 2)

	clock.now = clock.now.Add(29 * time.Second)
	_, ok := cache.Get("a")
	assert.True(t, ok)

	clock.now = clock.now.Add(time.Second)
	_, ok = cache.Get("a")
	assert.False(t, ok)

	assert.Equal(t, 1, cache.CleanupExpired())
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCache_DeleteClear(t *testing.T) {
	cache := NewLRUCache[int](10, time.Minute, nil)
	cache.Set("a", 1)
	cache.Set("b", 2)

	cache.Delete("a")
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}
