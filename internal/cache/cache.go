// Package cache provides the key-value backends shared across the application and an expiring
// JSON cache layered on top of them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

// DefaultPrefix namespaces expiring cache entries inside a shared Store.
const DefaultPrefix = "cache_"

// TTL tiers used by callers of the expiring cache.
const (
	TTLShort    = 2 * time.Minute
	TTLMedium   = 10 * time.Minute
	TTLLong     = 30 * time.Minute
	TTLVeryLong = 60 * time.Minute
)

// Entry is the stored envelope. Timestamp and Expiry are epoch milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Expiry    int64           `json:"expiry"`
}

// Cache is an expiring JSON cache. Entries past their expiry are treated as absent and removed
// when read. Writes that hit the store quota evict the oldest entry and retry once; a write that
// still fails is dropped.
type Cache struct {
	store  Store
	prefix string
	now    func() time.Time
	log    *zap.Logger
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the clock used to stamp and expire entries.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// New builds a Cache over store.
func New(store Store, opts ...Option) (*Cache, error) {
	if store == nil {
		return nil, errors.New("cache: store is required")
	}
	c := &Cache{
		store:  store,
		prefix: DefaultPrefix,
		now:    time.Now,
		log:    logger.WithModule("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get decodes the live entry for key into dest and reports whether one was found.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	storeKey := c.prefix + key

	raw, found, err := c.store.Get(ctx, storeKey)
	if err != nil {
		return false, fmt.Errorf("cache: get %q: %w", key, err)
	}
	if !found {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false, nil
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.discard(ctx, storeKey, "corrupt")
		return false, nil
	}

	if c.now().UnixMilli() > entry.Expiry {
		c.discard(ctx, storeKey, "expired")
		return false, nil
	}

	if dest != nil {
		if err := json.Unmarshal(entry.Data, dest); err != nil {
			c.discard(ctx, storeKey, "corrupt")
			return false, nil
		}
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true, nil
}

func (c *Cache) discard(ctx context.Context, storeKey, reason string) {
	metrics.CacheLookups.WithLabelValues(reason).Inc()
	if err := c.store.Delete(ctx, storeKey); err != nil {
		c.log.Debug("failed to remove stale cache entry", zap.String("key", storeKey), zap.Error(err))
	}
}

// Set stores data under key for ttl. Only encoding failures are returned; storage failures are
// logged and the write is dropped.
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	now := c.now()
	entry := Entry{
		Data:      payload,
		Timestamp: now.UnixMilli(),
		Expiry:    now.Add(ttl).UnixMilli(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}

	storeKey := c.prefix + key
	err = c.store.Set(ctx, storeKey, raw, ttl)
	if errors.Is(err, ErrQuotaExceeded) {
		if evicted, evictErr := c.evictOldest(ctx); evictErr != nil {
			c.log.Debug("cache eviction failed", zap.Error(evictErr))
		} else if evicted != "" {
			metrics.CacheEvictions.Inc()
			c.log.Debug("evicted oldest cache entry", zap.String("key", evicted))
		}
		err = c.store.Set(ctx, storeKey, raw, ttl)
	}
	if err != nil {
		c.log.Debug("cache write dropped", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete removes a single entry.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.prefix+key)
}

// evictOldest removes the entry with the smallest timestamp. Undecodable entries count as oldest.
func (c *Cache) evictOldest(ctx context.Context) (string, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return "", err
	}

	var (
		oldestKey string
		oldestTS  int64
	)
	for _, key := range keys {
		ts := int64(-1)
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if found {
			var entry Entry
			if json.Unmarshal(raw, &entry) == nil {
				ts = entry.Timestamp
			}
		}
		if oldestKey == "" || ts < oldestTS {
			oldestKey, oldestTS = key, ts
		}
	}

	if oldestKey == "" {
		return "", nil
	}
	return oldestKey, c.store.Delete(ctx, oldestKey)
}

// ClearExpired removes entries past their expiry along with undecodable ones, returning how
// many were removed.
func (c *Cache) ClearExpired(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("cache: list keys: %w", err)
	}

	nowMs := c.now().UnixMilli()
	var (
		stale   []string
		dropped int
	)
	for _, key := range keys {
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("cache: read %q: %w", key, err)
		}
		if !found {
			// The store dropped it on read because its own expiry passed.
			dropped++
			continue
		}
		var entry Entry
		if json.Unmarshal(raw, &entry) != nil || entry.Expiry < nowMs {
			stale = append(stale, key)
		}
	}

	if len(stale) == 0 {
		return dropped, nil
	}
	if err := c.store.Delete(ctx, stale...); err != nil {
		return dropped, fmt.Errorf("cache: delete expired: %w", err)
	}
	return dropped + len(stale), nil
}

// ClearAll removes every entry under the cache prefix.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("cache: list keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("cache: clear: %w", err)
	}
	return len(keys), nil
}

// Keys lists the caller-facing keys currently stored, without the prefix.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, c.prefix))
	}
	return out, nil
}
