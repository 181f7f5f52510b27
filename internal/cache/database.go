package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/logger"
)

// keyColumn is quoted by gorm on every dialect; "key" is reserved in MySQL.
var keyColumn = clause.Column{Name: "key"}

// DatabaseStore keeps cache entries in the cache_entries table so they survive restarts and
// are shared by every server process using the same database.
type DatabaseStore struct {
	db         *gorm.DB
	maxEntries int
	now        func() time.Time
	log        *zap.Logger
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithMaxEntries caps the number of rows the store will hold. Writes of new keys beyond the
// cap fail with ErrQuotaExceeded. Zero disables the cap.
func WithMaxEntries(n int) DatabaseOption {
	return func(s *DatabaseStore) { s.maxEntries = max(n, 0) }
}

// WithDatabaseClock overrides the clock used for store-level expiry.
func WithDatabaseClock(now func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDatabaseLogger sets the logger for failures the store absorbs.
func WithDatabaseLogger(log *zap.Logger) DatabaseOption {
	return func(s *DatabaseStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewDatabaseStore constructs a database-backed Store. db must be migrated.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) *DatabaseStore {
	store := &DatabaseStore{db: db, now: time.Now, log: logger.WithModule("cache")}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *DatabaseStore) entries(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.CacheEntry{})
}

func byKey(keys ...string) clause.Expression {
	if len(keys) == 1 {
		return clause.Eq{Column: keyColumn, Value: keys[0]}
	}
	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return clause.IN{Column: keyColumn, Values: values}
}

// Get returns the live value under key. An expired row is deleted on read.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Clauses(byKey(key)).Take(&entry).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	if s.expired(entry.ExpiresAt) {
		if err := s.Delete(ctx, key); err != nil {
			s.log.Debug("failed to remove expired cache row", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Set upserts the value under key. A zero ttl stores it without a store-level expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.checkQuota(ctx, key); err != nil {
		return err
	}

	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{keyColumn},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&entry).Error
}

// checkQuota fails with ErrQuotaExceeded when key is new and the table is full.
func (s *DatabaseStore) checkQuota(ctx context.Context, key string) error {
	if s.maxEntries == 0 {
		return nil
	}

	var existing int64
	if err := s.entries(ctx).Clauses(byKey(key)).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	var total int64
	if err := s.entries(ctx).Count(&total).Error; err != nil {
		return err
	}
	if total >= int64(s.maxEntries) {
		return ErrQuotaExceeded
	}
	return nil
}

// Delete removes keys; missing keys are ignored.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(byKey(keys...)).Delete(&models.CacheEntry{}).Error
}

// Keys lists keys with the given prefix in key order.
func (s *DatabaseStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := s.entries(ctx).Order(clause.OrderByColumn{Column: keyColumn})
	if prefix != "" {
		query = query.Where(clause.Expr{
			SQL:  "? LIKE ? ESCAPE '!'",
			Vars: []any{keyColumn, escapeLike(prefix) + "%"},
		})
	}

	var keys []string
	if err := query.Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// PurgeExpired removes rows whose store-level expiry has passed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

// IncrementWithTTL bumps a fixed-window counter. The window starts at the first increment
// and restarts once it has passed.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}, byKey(key)).Take(&entry).Error
		fresh := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !fresh {
			return err
		}

		count := int64(1)
		if fresh || s.expired(entry.ExpiresAt) {
			entry = models.CacheEntry{Key: key, ExpiresAt: now.Add(window)}
		} else {
			count = parseCount(entry.Value) + 1
		}
		entry.Value = []byte(formatCount(count))

		if fresh {
			return tx.Create(&entry).Error
		}
		return tx.Model(&models.CacheEntry{}).Clauses(byKey(key)).
			Updates(map[string]any{"value": entry.Value, "expires_at": entry.ExpiresAt}).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return parseCount(entry.Value), entry.ExpiresAt.Sub(now), nil
}

func (s *DatabaseStore) expired(at time.Time) bool {
	return !at.IsZero() && s.now().After(at)
}

func escapeLike(value string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(value)
}
