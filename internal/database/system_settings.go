package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/estatedir/internal/models"
)

// Well-known system setting keys.
const (
	// InstalledAtSetting holds the RFC3339 time the schema was first seeded.
	InstalledAtSetting = "system.installed_at"
	// OTPEncryptionKeySetting holds the generated key sealing one-time code secrets at rest.
	OTPEncryptionKeySetting = "auth.otp_encryption_key"
	// LastSyncSetting holds the RFC3339 time of the last completed sync pass.
	LastSyncSetting = "sync.last_completed_at"
)

var nowRFC3339 = func() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// GetSystemSetting returns the value stored under key, or "" when the key or the settings
// table does not exist yet.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errNilDB
	}
	if !db.Migrator().HasTable(&models.SystemSetting{}) {
		return "", nil
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Where(&models.SystemSetting{Key: key}).Take(&setting).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
	return setting.Value, nil
}

// UpsertSystemSetting stores value under key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	return writeSetting(ctx, db, key, value, clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	})
}

// EnsureSystemSetting returns the stored value for key, storing the result of generate first
// when nothing is stored yet. When two processes race, the first write wins and both return it.
func EnsureSystemSetting(ctx context.Context, db *gorm.DB, key string, generate func() (string, error)) (string, bool, error) {
	stored, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(stored) != "" {
		return stored, false, nil
	}

	value, err := generate()
	if err != nil {
		return "", false, fmt.Errorf("system settings: generate %q: %w", key, err)
	}
	if err := writeSetting(ctx, db, key, value, clause.OnConflict{DoNothing: true}); err != nil {
		return "", false, err
	}

	winner, err := GetSystemSetting(ctx, db, key)
	if err != nil {
		return "", false, err
	}
	return winner, winner == value, nil
}

func writeSetting(ctx context.Context, db *gorm.DB, key, value string, onConflict clause.OnConflict) error {
	if db == nil {
		return errNilDB
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(onConflict).Create(&record).Error; err != nil {
		return fmt.Errorf("system settings: write %q: %w", key, err)
	}
	return nil
}
