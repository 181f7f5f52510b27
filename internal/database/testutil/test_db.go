// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/database"
)

// Schema selects how much of the application schema a test database receives.
type Schema int

const (
	// Empty leaves the database untouched; stores that migrate themselves use it.
	Empty Schema = iota
	// Migrated applies the account, settings and cache tables.
	Migrated
	// Seeded migrates and writes the installation marker.
	Seeded
)

var (
	openedDBs  atomic.Int64
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]+`)
)

// OpenDB returns a private in-memory SQLite database named after the test. The handle is
// closed when the test finishes.
func OpenDB(t testing.TB, schema Schema) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("%s_%d", unsafeName.ReplaceAllString(t.Name(), "_"), openedDBs.Add(1))
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		DSN:    "file:" + name + "?mode=memory&cache=shared&_foreign_keys=1",
	})
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { _ = database.Close(db) })

	switch schema {
	case Migrated:
		require.NoError(t, database.AutoMigrate(db))
	case Seeded:
		require.NoError(t, database.AutoMigrateAndSeed(db))
	}
	return db
}
