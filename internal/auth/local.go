package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/crypto"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

var (
	// ErrInvalidCredentials is returned when the supplied username/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the user has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrOTPRequired is returned when the password is right but no one-time code was sent.
	ErrOTPRequired = errors.New("auth: one-time code required")
	// ErrOTPInvalid is returned for a wrong, stale or replayed one-time code.
	ErrOTPInvalid = errors.New("auth: invalid one-time code")
	// ErrUserExists is returned when provisioning a username that is already taken.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrUserNotFound is returned by account administration for an unknown username.
	ErrUserNotFound = errors.New("auth: user not found")
)

// LocalConfig defines tunable behaviour for the local authenticator.
type LocalConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	// RequireOTP rejects users without a provisioned secret instead of letting them in on password alone.
	RequireOTP bool
	Clock      func() time.Time
}

// LoginInput is a username/password/code login attempt.
type LoginInput struct {
	Username  string
	Password  string
	Code      string
	IPAddress string
}

// CreateUserInput captures an operator-provisioned account.
type CreateUserInput struct {
	Username    string
	DisplayName string
	Password    string
}

// LocalAuthenticator implements username/password plus one-time code authentication
// with account lockout.
type LocalAuthenticator struct {
	db         *gorm.DB
	otp        *OTPService
	clock      func() time.Time
	threshold  int
	duration   time.Duration
	requireOTP bool
}

// NewLocalAuthenticator builds an authenticator with sane defaults. otp may be nil, in
// which case codes are never checked.
func NewLocalAuthenticator(db *gorm.DB, otp *OTPService, cfg LocalConfig) (*LocalAuthenticator, error) {
	if db == nil {
		return nil, errors.New("local auth: db is required")
	}

	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}

	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LocalAuthenticator{
		db:         db,
		otp:        otp,
		clock:      clock,
		threshold:  threshold,
		duration:   duration,
		requireOTP: cfg.RequireOTP && otp != nil,
	}, nil
}

// Authenticate verifies the credentials and code and returns the user on success.
// Wrong passwords and wrong codes both count towards the lockout threshold.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, input LoginInput) (user *models.User, err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.AuthAttempts.WithLabelValues(result).Inc()
	}()

	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	var found models.User
	err = a.db.WithContext(ctx).Where("LOWER(username) = LOWER(?)", username).Take(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local auth: query user: %w", err)
	}

	now := a.clock()

	if !found.IsActive {
		return nil, ErrAccountDisabled
	}
	if found.LockedUntil != nil && found.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	if found.LockedUntil != nil {
		found.LockedUntil = nil
		found.FailedAttempts = 0
		if err := a.db.WithContext(ctx).Model(&found).Updates(map[string]any{
			"locked_until":    nil,
			"failed_attempts": 0,
		}).Error; err != nil {
			return nil, fmt.Errorf("local auth: reset lock state: %w", err)
		}
	}

	if !crypto.VerifyPassword(found.Password, input.Password) {
		return nil, a.handleFailedAttempt(ctx, &found, now, ErrInvalidCredentials)
	}

	if err := a.checkCode(ctx, &found, input.Code); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			return nil, a.handleFailedAttempt(ctx, &found, now, ErrOTPInvalid)
		}
		return nil, err
	}

	found.FailedAttempts = 0
	found.LockedUntil = nil
	found.LastLoginAt = &now
	found.LastLoginIP = strings.TrimSpace(input.IPAddress)

	if err := a.db.WithContext(ctx).Model(&found).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
		"last_login_ip":   found.LastLoginIP,
	}).Error; err != nil {
		return nil, fmt.Errorf("local auth: update user: %w", err)
	}

	return &found, nil
}

func (a *LocalAuthenticator) checkCode(ctx context.Context, user *models.User, code string) error {
	if a.otp == nil {
		return nil
	}

	provisioned, err := a.otp.Provisioned(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("local auth: %w", err)
	}
	if !provisioned {
		if a.requireOTP {
			return ErrOTPRequired
		}
		return nil
	}

	if strings.TrimSpace(code) == "" {
		return ErrOTPRequired
	}

	ok, err := a.otp.Verify(ctx, user.ID, code)
	if err != nil {
		return fmt.Errorf("local auth: %w", err)
	}
	if !ok {
		return ErrOTPInvalid
	}
	return nil
}

func (a *LocalAuthenticator) handleFailedAttempt(ctx context.Context, user *models.User, now time.Time, cause error) error {
	user.FailedAttempts++
	updates := map[string]any{"failed_attempts": user.FailedAttempts}

	if user.FailedAttempts >= a.threshold {
		lockUntil := now.Add(a.duration)
		user.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := a.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("local auth: update failed attempts: %w", err)
	}

	if user.LockedUntil != nil {
		return ErrAccountLocked
	}
	return cause
}

// CreateUser provisions a new active account with a hashed password.
func (a *LocalAuthenticator) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, errors.New("local auth: username and password are required")
	}

	var count int64
	if err := a.db.WithContext(ctx).Model(&models.User{}).Where("LOWER(username) = LOWER(?)", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("local auth: check username: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("local auth: hash password: %w", err)
	}

	user := &models.User{
		Username:    username,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Password:    hashed,
		IsActive:    true,
	}
	if err := a.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("local auth: create user: %w", err)
	}
	return user, nil
}

// FindUser loads a user by username, case-insensitively.
func (a *LocalAuthenticator) FindUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Where("LOWER(username) = LOWER(?)", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("local auth: find user: %w", err)
	}
	return &user, nil
}

// UserByID loads a user by primary key.
func (a *LocalAuthenticator) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := a.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("local auth: find user: %w", err)
	}
	return &user, nil
}

// SetPassword replaces a user's password and clears any lockout.
func (a *LocalAuthenticator) SetPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return errors.New("local auth: password is required")
	}
	user, err := a.FindUser(ctx, username)
	if err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("local auth: hash password: %w", err)
	}

	return a.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"password":        hashed,
		"failed_attempts": 0,
		"locked_until":    nil,
	}).Error
}

// SetActive enables or disables an account.
func (a *LocalAuthenticator) SetActive(ctx context.Context, username string, active bool) (*models.User, error) {
	user, err := a.FindUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.db.WithContext(ctx).Model(user).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("local auth: update user: %w", err)
	}
	user.IsActive = active
	return user, nil
}
