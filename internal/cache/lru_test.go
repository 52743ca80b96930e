package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGet(t *testing.T) {
	c := New[string, int](10, time.Minute)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 2, 0)
	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Size())
}

func TestLRUExpiry(t *testing.T) {
	c := New[string, string](10, time.Minute)

	c.Set("k", "v", 10*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestLRUEviction(t *testing.T) {
	c := New[int, int](3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Set(i, i, 0)
	}

	// Touch 0 so 1 becomes the least recently used.
	_, ok := c.Get(0)
	require.True(t, ok)

	c.Set(3, 3, 0)
	assert.Equal(t, 3, c.Size())

	_, ok = c.Get(1)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(0)
	assert.True(t, ok)
}

func TestLRUCleanupExpired(t *testing.T) {
	c := New[string, int](10, time.Minute)
	c.Set("short", 1, 5*time.Millisecond)
	c.Set("long", 2, time.Hour)

	time.Sleep(10 * time.Millisecond)
	removed := c.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())

	keys := c.Keys()
	assert.Equal(t, []string{"long"}, keys)
}

func TestLRURemoveAndClear(t *testing.T) {
	c := New[string, int](10, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}
