package models

import "time"

// SchemaMeta records the on-disk schema version of a named store.
type SchemaMeta struct {
	Name      string `gorm:"primaryKey;size:64"`
	Version   int    `gorm:"not null"`
	UpdatedAt time.Time
}
