package models

import "time"

// SystemSetting is a named installation value: generated keys, the install marker and the
// time of the last completed sync pass.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheEntry is one row of the database-backed cache store. Value holds the encoded
// expiring-cache envelope; ExpiresAt lets the maintenance sweep drop rows without decoding them.
// Keys are capped at 191 characters so the primary key fits MySQL's utf8mb4 index limit.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:191"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
