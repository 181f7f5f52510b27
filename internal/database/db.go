// Package database opens the relational store shared by accounts, the sheet cache, the
// directory records and the pending-action queue.
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config contains database connection options.
type Config struct {
	Driver string
	// Path is the SQLite file. Empty or ":memory:" opens a shared in-memory database.
	Path string
	DSN  string

	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string
}

var errNilDB = errors.New("nil database handle")

// Open connects to the configured database. Query logging is silenced; callers log through zap.
func Open(cfg Config) (*gorm.DB, error) {
	dialector, memory, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if memory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrateAndSeed migrates the core schema and records the installation marker.
func AutoMigrateAndSeed(db *gorm.DB) error {
	if db == nil {
		return errNilDB
	}
	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := SeedData(db); err != nil {
		return fmt.Errorf("seed data: %w", err)
	}
	return nil
}
