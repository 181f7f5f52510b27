package app

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/cache"
)

// Cache backends.
const (
	CacheBackendDatabase = "database"
	CacheBackendMemory   = "memory"
)

// PurgingStore is a cache.Store that can drop its expired keys in bulk.
type PurgingStore interface {
	cache.Store
	cache.Purger
}

// NewStore builds the configured cache backend. The database backend survives restarts;
// the memory backend is per process.
func (c CacheConfig) NewStore(db *gorm.DB) (PurgingStore, error) {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", CacheBackendDatabase:
		if db == nil {
			return nil, fmt.Errorf("cache: database backend needs a database handle")
		}
		return cache.NewDatabaseStore(db, cache.WithMaxEntries(c.MaxEntries)), nil
	case CacheBackendMemory:
		return cache.NewMemoryStore(cache.WithMemoryLimit(c.MaxEntries)), nil
	default:
		return nil, fmt.Errorf("cache: unsupported backend %q", c.Backend)
	}
}

// CacheOptions converts the prefix setting into cache options.
func (c CacheConfig) CacheOptions() []cache.Option {
	if prefix := strings.TrimSpace(c.Prefix); prefix != "" {
		return []cache.Option{cache.WithPrefix(prefix)}
	}
	return nil
}
