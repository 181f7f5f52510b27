package database

import (
	"context"

	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/models"
)

// AutoMigrate creates or updates the schema owned by the application core: accounts,
// sessions, one-time code secrets, the cache table and installation settings.
// Directory records and the pending-action queue are versioned by the records store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.OTPSecret{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	)
}

// SeedData records the installation schema marker. There are no default accounts; operators
// provision users through the admin CLI.
func SeedData(db *gorm.DB) error {
	_, _, err := EnsureSystemSetting(context.Background(), db, InstalledAtSetting, func() (string, error) {
		return nowRFC3339(), nil
	})
	return err
}
