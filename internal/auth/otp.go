package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/pkg/crypto"
)

const (
	defaultOTPIssuer  = "Estate Directory"
	defaultQRCodeSize = 256
	otpPeriod         = 30
)

// ErrOTPNotProvisioned is returned when a user has no one-time code secret on record.
var ErrOTPNotProvisioned = errors.New("otp: secret not provisioned")

// OTPOption customises the OTP service.
type OTPOption func(*OTPService)

// WithOTPIssuer overrides the issuer encoded in provisioning URIs.
func WithOTPIssuer(issuer string) OTPOption {
	return func(s *OTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithOTPSkew sets how many 30s steps either side of now are accepted.
func WithOTPSkew(steps uint) OTPOption {
	return func(s *OTPService) {
		s.skew = steps
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) OTPOption {
	return func(s *OTPService) {
		if size > 0 {
			s.qrSize = size
		}
	}
}

// WithOTPClock injects a custom clock.
func WithOTPClock(clock func() time.Time) OTPOption {
	return func(s *OTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OTPService stores per-user TOTP secrets encrypted at rest and verifies submitted codes.
// A code is accepted at most once: its time step must be newer than the last accepted one.
type OTPService struct {
	db     *gorm.DB
	key    []byte
	issuer string
	skew   uint
	qrSize int
	now    func() time.Time
}

// NewOTPService constructs an OTP service. The encryption key must be 16, 24 or 32 bytes.
func NewOTPService(db *gorm.DB, encryptionKey []byte, opts ...OTPOption) (*OTPService, error) {
	if db == nil {
		return nil, errors.New("otp: db is required")
	}
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("otp: encryption key must be 16, 24 or 32 bytes, got %d", len(encryptionKey))
	}

	s := &OTPService{
		db:     db,
		key:    encryptionKey,
		issuer: defaultOTPIssuer,
		skew:   1,
		qrSize: defaultQRCodeSize,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Provision stores a TOTP secret for the user, replacing any previous one. An empty
// secret generates a fresh one; otherwise the operator-supplied base32 secret is used.
func (s *OTPService) Provision(ctx context.Context, user *models.User, secret string) (*otp.Key, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.Username) == "" {
		return nil, errors.New("otp: user id and username are required")
	}

	opts := totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Username,
		Period:      otpPeriod,
	}
	if secret = normalizeSecret(secret); secret != "" {
		raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("otp: secret is not valid base32: %w", err)
		}
		opts.Secret = raw
	}

	key, err := totp.Generate(opts)
	if err != nil {
		return nil, fmt.Errorf("otp: generate key: %w", err)
	}

	sealed, err := crypto.Seal([]byte(key.Secret()), s.key, []byte(user.ID))
	if err != nil {
		return nil, fmt.Errorf("otp: seal secret: %w", err)
	}

	record := models.OTPSecret{UserID: user.ID, Secret: sealed}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"secret":       sealed,
			"last_step":    0,
			"last_used_at": nil,
			"updated_at":   s.now(),
		}),
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("otp: store secret: %w", err)
	}

	return key, nil
}

// Provisioned reports whether the user has a secret on record.
func (s *OTPService) Provisioned(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.OTPSecret{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("otp: count secrets: %w", err)
	}
	return count > 0, nil
}

// Verify checks a submitted code and, when valid, consumes its time step.
func (s *OTPService) Verify(ctx context.Context, userID, code string) (bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if userID == "" || code == "" {
		return false, errors.New("otp: user id and code are required")
	}

	var record models.OTPSecret
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrOTPNotProvisioned
		}
		return false, fmt.Errorf("otp: load secret: %w", err)
	}

	raw, err := crypto.Open(record.Secret, s.key, []byte(record.UserID))
	if err != nil {
		return false, fmt.Errorf("otp: open secret: %w", err)
	}

	now := s.now()
	step, ok := s.match(string(raw), code, now)
	if !ok || step <= record.LastStep {
		return false, nil
	}

	// Conditional update so two concurrent logins cannot both spend the same step.
	result := s.db.WithContext(ctx).Model(&models.OTPSecret{}).
		Where("id = ? AND last_step < ?", record.ID, step).
		Updates(map[string]any{"last_step": step, "last_used_at": now})
	if result.Error != nil {
		return false, fmt.Errorf("otp: record use: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// QRCode renders the provisioning URI of key as a PNG.
func (s *OTPService) QRCode(key *otp.Key) ([]byte, error) {
	if key == nil {
		return nil, errors.New("otp: key is required")
	}
	png, err := qrcode.Encode(key.URL(), qrcode.Medium, s.qrSize)
	if err != nil {
		return nil, fmt.Errorf("otp: render qr code: %w", err)
	}
	return png, nil
}

func (s *OTPService) match(secret, code string, now time.Time) (int64, bool) {
	opts := totp.ValidateOpts{
		Period:    otpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
	skew := int64(s.skew)
	current := now.Unix() / otpPeriod
	for offset := -skew; offset <= skew; offset++ {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*otpPeriod, 0), opts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

func normalizeSecret(secret string) string {
	secret = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	return strings.TrimRight(secret, "=")
}
