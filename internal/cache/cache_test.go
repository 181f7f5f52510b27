package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

type listing struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestCache(t *testing.T, opts ...MemoryOption) (*Cache, *MemoryStore, *testClock) {
	t.Helper()

	clock := &testClock{current: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(append([]MemoryOption{WithMemoryClock(clock.Now)}, opts...)...)
	c, err := New(store, WithClock(clock.Now))
	require.NoError(t, err)
	return c, store, clock
}

func TestCacheSetGet(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "companies", []listing{{ID: "1", Name: "Acme"}}, TTLMedium))

	var got []listing
	found, err := c.Get(ctx, "companies", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []listing{{ID: "1", Name: "Acme"}}, got)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"cache_companies"}, keys)
}

func TestCacheExpiryRemovesEntry(t *testing.T) {
	c, store, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 100*time.Millisecond))

	clock.Advance(150 * time.Millisecond)

	var got string
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, got)
	require.Zero(t, store.Len())
}

func TestCacheEntryLiveAtExactExpiry(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, time.Second))
	clock.Advance(time.Second)

	var got int
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, got)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DefaultPrefix+"bad", []byte("{not json"), 0))

	found, err := c.Get(ctx, "bad", nil)
	require.NoError(t, err)
	require.False(t, found)

	_, present, err := store.Get(ctx, DefaultPrefix+"bad")
	require.NoError(t, err)
	require.False(t, present)
}

func TestCacheQuotaEvictsOldest(t *testing.T) {
	c, store, clock := newTestCache(t, WithMemoryLimit(2))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "b", "second", TTLLong))
	clock.Advance(-time.Second)
	require.NoError(t, c.Set(ctx, "a", "first", TTLLong))
	clock.Advance(5 * time.Second)

	require.NoError(t, c.Set(ctx, "c", "third", TTLLong))
	require.Equal(t, 2, store.Len())

	found, err := c.Get(ctx, "a", nil)
	require.NoError(t, err)
	require.False(t, found, "oldest entry by timestamp should be evicted")

	var value string
	found, err = c.Get(ctx, "b", &value)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", value)

	found, err = c.Get(ctx, "c", &value)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "third", value)
}

type fullStore struct {
	*MemoryStore
	sets int
}

func (s *fullStore) Set(context.Context, string, []byte, time.Duration) error {
	s.sets++
	return ErrQuotaExceeded
}

func TestCacheDropsWriteAfterRetry(t *testing.T) {
	store := &fullStore{MemoryStore: NewMemoryStore()}
	c, err := New(store)
	require.NoError(t, err)

	require.NoError(t, c.Set(context.Background(), "k", "v", TTLShort))
	require.Equal(t, 2, store.sets)
}

func TestCacheSetRejectsUnencodableData(t *testing.T) {
	c, _, _ := newTestCache(t)
	require.Error(t, c.Set(context.Background(), "k", make(chan int), TTLShort))
}

func TestCacheClearExpired(t *testing.T) {
	c, store, clock := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, TTLShort))
	require.NoError(t, c.Set(ctx, "long", 2, TTLVeryLong))
	require.NoError(t, store.Set(ctx, DefaultPrefix+"junk", []byte("nope"), 0))
	require.NoError(t, store.Set(ctx, "other_namespace", []byte("kept"), 0))

	clock.Advance(TTLMedium)

	removed, err := c.ClearExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"long"}, keys)

	_, found, err := store.Get(ctx, "other_namespace")
	require.NoError(t, err)
	require.True(t, found)
}

func TestCacheClearAll(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, TTLShort))
	require.NoError(t, c.Set(ctx, "b", 2, TTLShort))
	require.NoError(t, store.Set(ctx, "session:x", []byte("1"), 0))

	removed, err := c.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Equal(t, 1, store.Len())

	require.NoError(t, c.Set(ctx, "a", 1, TTLShort))
	require.NoError(t, c.Delete(ctx, "a"))
	found, err := c.Get(ctx, "a", nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
