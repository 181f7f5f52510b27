// Package records is the durable copy of the directory: one table per entity type keyed by id,
// plus the queue of actions recorded while the spreadsheet host was unreachable.
package records

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/logger"
)

// SchemaVersion is the on-disk layout the store expects. Raising it makes Open create any
// tables or indexes introduced since; existing rows are left as they are.
const SchemaVersion = 1

const schemaName = "records"

// Store names accepted by RemoveByName.
const (
	StoreCompanies      = "companies"
	StoreProjects       = "projects"
	StorePlaces         = "places"
	StorePendingActions = "pending_actions"
)

var (
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("records: store is closed")
	// ErrUnknownStore is returned when a store name is not recognised.
	ErrUnknownStore = errors.New("records: unknown store")
)

// Record is the set of directory entity types held by the store.
type Record interface {
	models.Company | models.Project | models.Place
}

// Store owns the durable directory tables. Construct it with Open and release it with Close.
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	log    *zap.Logger
	closed atomic.Bool
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp queued actions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open prepares the durable tables on db, upgrading the schema when the recorded version is
// older than SchemaVersion.
func Open(ctx context.Context, db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("records: db is required")
	}

	s := &Store{
		db:  db,
		now: time.Now,
		log: logger.WithModule("records"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close marks the store closed. The database handle belongs to the caller and stays open.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	return s.db.WithContext(ctx), nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	if err := db.AutoMigrate(&models.SchemaMeta{}); err != nil {
		return fmt.Errorf("records: migrate schema meta: %w", err)
	}

	var meta models.SchemaMeta
	err := db.Take(&meta, "name = ?", schemaName).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		meta = models.SchemaMeta{Name: schemaName}
	case err != nil:
		return fmt.Errorf("records: read schema version: %w", err)
	}

	if meta.Version >= SchemaVersion {
		return nil
	}

	s.log.Info("upgrading durable store schema",
		zap.Int("from", meta.Version),
		zap.Int("to", SchemaVersion),
	)

	if err := db.AutoMigrate(
		&models.Company{},
		&models.Project{},
		&models.Place{},
		&models.PendingAction{},
	); err != nil {
		return fmt.Errorf("records: upgrade schema: %w", err)
	}

	meta.Version = SchemaVersion
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "updated_at"}),
	}).Create(&meta).Error; err != nil {
		return fmt.Errorf("records: record schema version: %w", err)
	}
	return nil
}

// Version returns the schema version recorded on disk.
func (s *Store) Version(ctx context.Context) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var meta models.SchemaMeta
	if err := db.Take(&meta, "name = ?", schemaName).Error; err != nil {
		return 0, fmt.Errorf("records: read schema version: %w", err)
	}
	return meta.Version, nil
}

// Put upserts records by id in a single transaction. The last write for an id wins.
func Put[T Record](ctx context.Context, s *Store, records ...T) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for i := range records {
			record := records[i]
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
				return fmt.Errorf("records: put %s: %w", storeName[T](), err)
			}
		}
		return nil
	})
}

// Replace swaps the full contents of the store for records in a single transaction.
func Replace[T Record](ctx context.Context, s *Store, records ...T) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var zero T
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&zero).Error; err != nil {
			return fmt.Errorf("records: clear %s: %w", storeName[T](), err)
		}
		for i := range records {
			record := records[i]
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
				return fmt.Errorf("records: put %s: %w", storeName[T](), err)
			}
		}
		return nil
	})
}

// All returns every record of type T ordered by id.
func All[T Record](ctx context.Context, s *Store) ([]T, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var out []T
	if err := db.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("records: list %s: %w", storeName[T](), err)
	}
	return out, nil
}

// ByID returns the record with the given id and whether it exists.
func ByID[T Record](ctx context.Context, s *Store, id string) (T, bool, error) {
	var zero T
	db, err := s.conn(ctx)
	if err != nil {
		return zero, false, err
	}

	var out T
	err = db.Take(&out, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("records: get %s %q: %w", storeName[T](), id, err)
	}
	return out, true, nil
}

// Remove deletes the record with the given id. Removing a missing id is not an error.
func Remove[T Record](ctx context.Context, s *Store, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	var zero T
	if err := db.Where("id = ?", id).Delete(&zero).Error; err != nil {
		return fmt.Errorf("records: remove %s %q: %w", storeName[T](), id, err)
	}
	return nil
}

// Count returns how many records of type T are stored.
func Count[T Record](ctx context.Context, s *Store) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var (
		zero  T
		total int64
	)
	if err := db.Model(&zero).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("records: count %s: %w", storeName[T](), err)
	}
	return total, nil
}

// RemoveByName deletes id from the store called name.
func (s *Store) RemoveByName(ctx context.Context, name, id string) error {
	switch name {
	case StoreCompanies:
		return Remove[models.Company](ctx, s, id)
	case StoreProjects:
		return Remove[models.Project](ctx, s, id)
	case StorePlaces:
		return Remove[models.Place](ctx, s, id)
	case StorePendingActions:
		db, err := s.conn(ctx)
		if err != nil {
			return err
		}
		return db.Where("id = ?", id).Delete(&models.PendingAction{}).Error
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
}

func storeName[T Record]() string {
	var zero T
	switch any(zero).(type) {
	case models.Company:
		return StoreCompanies
	case models.Project:
		return StoreProjects
	case models.Place:
		return StorePlaces
	default:
		return "records"
	}
}
