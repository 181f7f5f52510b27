package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountBase carries the identity columns shared by users, their sessions and their
// one-time code secrets. IDs are UUID strings sized to fit every supported driver.
type AccountBase struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller left ID empty.
func (m *AccountBase) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// User is a directory account. Accounts are provisioned by an operator; there is no self sign-up.
type User struct {
	AccountBase

	Username    string `gorm:"size:128;uniqueIndex;not null" json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `gorm:"not null" json:"-"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	// Lockout state; reset by a successful login or a password change.
	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// Session is a refresh-token backed login. Revoked or expired sessions are kept until the
// maintenance sweep removes them.
type Session struct {
	AccountBase

	UserID       string     `gorm:"size:36;not null;index" json:"user_id"`
	RefreshToken string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	ExpiresAt    time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt   time.Time  `json:"last_used_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
}

// OTPSecret stores the sealed TOTP seed installed for a user by an operator.
type OTPSecret struct {
	AccountBase

	UserID string `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Secret string `gorm:"not null" json:"-"`
	// LastStep is the time step of the last accepted code; codes at or before it are rejected.
	LastStep   int64      `gorm:"default:0" json:"-"`
	LastUsedAt *time.Time `json:"last_used_at"`
}
