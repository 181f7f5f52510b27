package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/models"
)

// ErrActionNotFound is returned when a pending action id does not exist.
var ErrActionNotFound = errors.New("records: pending action not found")

// Enqueue appends an action to the pending queue. Timestamp defaults to now.
func (s *Store) Enqueue(ctx context.Context, action models.PendingAction) (models.PendingAction, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return models.PendingAction{}, err
	}

	action.Type = strings.TrimSpace(action.Type)
	if action.Type == "" {
		return models.PendingAction{}, errors.New("records: pending action type is required")
	}
	action.ID = 0
	action.Method = strings.ToUpper(strings.TrimSpace(action.Method))
	action.Processed = false
	action.ProcessedAt = nil
	action.Attempts = 0
	action.LastError = ""
	if action.Timestamp == 0 {
		action.Timestamp = s.now().UnixMilli()
	}

	if err := db.Create(&action).Error; err != nil {
		return models.PendingAction{}, fmt.Errorf("records: enqueue %s: %w", action.Type, err)
	}
	return action, nil
}

// Pending returns unprocessed actions in insertion order.
func (s *Store) Pending(ctx context.Context) ([]models.PendingAction, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var actions []models.PendingAction
	if err := db.Where("processed = ?", false).Order("id").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("records: list pending actions: %w", err)
	}
	return actions, nil
}

// Actions returns the most recent actions, processed or not, newest first.
func (s *Store) Actions(ctx context.Context, limit int) ([]models.PendingAction, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var actions []models.PendingAction
	if err := db.Order("id DESC").Limit(limit).Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("records: list actions: %w", err)
	}
	return actions, nil
}

// MarkProcessed flags the action as replayed at the given time.
func (s *Store) MarkProcessed(ctx context.Context, id uint, at time.Time) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&models.PendingAction{}).Where("id = ?", id).Updates(map[string]any{
		"processed":    true,
		"processed_at": at,
		"last_error":   "",
	})
	if res.Error != nil {
		return fmt.Errorf("records: mark action %d processed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrActionNotFound, id)
	}
	return nil
}

// RecordFailure counts a failed replay attempt and keeps the action queued.
func (s *Store) RecordFailure(ctx context.Context, id uint, cause error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	res := db.Model(&models.PendingAction{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": message,
	})
	if res.Error != nil {
		return fmt.Errorf("records: record failure for action %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrActionNotFound, id)
	}
	return nil
}

// PendingCount returns the number of unprocessed actions.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := db.Model(&models.PendingAction{}).Where("processed = ?", false).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("records: count pending actions: %w", err)
	}
	return total, nil
}

// CompactProcessed deletes processed actions replayed before olderThan.
func (s *Store) CompactProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	res := db.Where("processed = ? AND processed_at < ?", true, olderThan).Delete(&models.PendingAction{})
	if res.Error != nil {
		return 0, fmt.Errorf("records: compact processed actions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DecodeActionData unmarshals the action payload into dest. A missing or malformed payload
// reports false rather than failing.
func DecodeActionData(action models.PendingAction, dest any) bool {
	if len(action.Data) == 0 {
		return false
	}
	return json.Unmarshal(action.Data, dest) == nil
}
