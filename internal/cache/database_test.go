package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/cache"
	"github.com/charlesng35/estatedir/internal/database/testutil"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	store := cache.NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cache_a", []byte("one"), time.Minute))
	require.NoError(t, store.Set(ctx, "cache_a", []byte("two"), time.Minute))

	value, found, err := store.Get(ctx, "cache_a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("two"), value)

	require.NoError(t, store.Delete(ctx, "cache_a"))
	_, found, err = store.Get(ctx, "cache_a")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(clk.Now))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))
	require.NoError(t, store.Set(ctx, "later", []byte("z"), time.Hour))

	clk.now = clk.now.Add(2 * time.Minute)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	keys, err := store.Keys(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"forever", "later"}, keys)

	clk.now = clk.now.Add(2 * time.Hour)
	_, found, err := store.Get(ctx, "later")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreLogsFailedExpiredDelete(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	core, recorded := observer.New(zap.DebugLevel)
	store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(clk.Now), cache.WithDatabaseLogger(zap.New(core)))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, db.Callback().Delete().Before("gorm:delete").Register("test:fail_delete", func(tx *gorm.DB) {
		_ = tx.AddError(errors.New("disk I/O error"))
	}))
	clk.now = clk.now.Add(2 * time.Minute)

	_, found, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, found)

	entries := recorded.FilterMessage("failed to remove expired cache row").All()
	require.Len(t, entries, 1)
	require.Equal(t, "short", entries[0].ContextMap()["key"])
	require.Equal(t, "disk I/O error", entries[0].ContextMap()["error"])
}

func TestDatabaseStoreQuota(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	store := cache.NewDatabaseStore(db, cache.WithMaxEntries(2))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), 0))
	require.ErrorIs(t, store.Set(ctx, "c", []byte("3"), 0), cache.ErrQuotaExceeded)
	require.NoError(t, store.Set(ctx, "a", []byte("4"), 0))
}

func TestDatabaseStoreKeysEscapesPrefix(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	store := cache.NewDatabaseStore(db)
	ctx := context.Background()

	for _, key := range []string{"cache_x", "cacheXy", "cache_%", "other"} {
		require.NoError(t, store.Set(ctx, key, []byte("v"), 0))
	}

	keys, err := store.Keys(ctx, "cache_")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"cache_x", "cache_%"}, keys)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(clk.Now))
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clk.now = clk.now.Add(15 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 45*time.Second, ttl)

	clk.now = clk.now.Add(time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestExpiringCacheOverDatabaseStore(t *testing.T) {
	db := testutil.OpenDB(t, testutil.Migrated)
	clk := &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := cache.NewDatabaseStore(db, cache.WithDatabaseClock(clk.Now), cache.WithMaxEntries(2))
	c, err := cache.New(store, cache.WithClock(clk.Now))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "companies", map[string]string{"1": "Acme"}, cache.TTLMedium))
	clk.now = clk.now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "projects", []string{"Tower"}, cache.TTLMedium))
	clk.now = clk.now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "places", []string{"Harbor"}, cache.TTLMedium))

	found, err := c.Get(ctx, "companies", nil)
	require.NoError(t, err)
	require.False(t, found)

	var places []string
	found, err = c.Get(ctx, "places", &places)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"Harbor"}, places)
}
