package models

import (
	"time"

	"gorm.io/datatypes"
)

// PendingAction is a mutating operation recorded while the upstream was unreachable.
// Rows are append-only from the coordinator's point of view: replay flips Processed,
// and only the retention job removes processed rows.
type PendingAction struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Type        string         `gorm:"size:64;index;not null" json:"type"`
	Data        datatypes.JSON `json:"data,omitempty"`
	URL         string         `json:"url,omitempty"`
	Method      string         `gorm:"size:16" json:"method,omitempty"`
	Timestamp   int64          `gorm:"index;not null" json:"timestamp"`
	Processed   bool           `gorm:"index;default:false" json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Attempts    int            `gorm:"default:0" json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// HasEndpoint reports whether the action is replayed over HTTP rather than by a local handler.
func (a PendingAction) HasEndpoint() bool {
	return a.URL != "" && a.Method != ""
}
