package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/database"
	"github.com/charlesng35/estatedir/internal/syncer"
)

// LoadLastSync reads the completion time of the last sync pass recorded by a previous run.
// A zero time means no pass has completed yet.
func LoadLastSync(ctx context.Context, db *gorm.DB) (time.Time, error) {
	value, err := database.GetSystemSetting(ctx, db, database.LastSyncSetting)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", database.LastSyncSetting, err)
	}
	return at, nil
}

// RecordLastSync returns a sync pass hook that persists the completion time of every pass.
func RecordLastSync(db *gorm.DB, log *zap.Logger) func(context.Context, syncer.Result, time.Time) {
	return func(ctx context.Context, _ syncer.Result, at time.Time) {
		err := database.UpsertSystemSetting(context.WithoutCancel(ctx), db, database.LastSyncSetting, at.UTC().Format(time.RFC3339Nano))
		if err != nil {
			log.Warn("persist last sync time failed", zap.Error(err))
		}
	}
}
