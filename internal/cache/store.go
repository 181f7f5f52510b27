package cache

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned by a Store when it has no room for another key.
var ErrQuotaExceeded = errors.New("cache: storage quota exceeded")

// Store represents a shared key-value backend used across the application.
//
// A ttl of zero stores the value without a store-level expiry.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// Keys lists stored keys beginning with prefix, expired or not.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Purger drops expired keys in bulk and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
