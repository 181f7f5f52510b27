package app

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/database"
	"github.com/charlesng35/estatedir/pkg/crypto"
)

const (
	otpKeyBytes = 32
	otpKeySalt  = "estatedir.otp.secret-key"
)

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// It tries hex first (since generated keys use hex), then base64 variants.
// If all decoding attempts fail, it treats the input as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// ResolveOTPKey returns the AES key sealing one-time code secrets. A configured key wins;
// otherwise a key is generated once and kept in system settings. Keys that do not decode
// to an AES length are stretched with Argon2id.
func ResolveOTPKey(ctx context.Context, db *gorm.DB, cfg AuthConfig) ([]byte, bool, error) {
	value := strings.TrimSpace(cfg.OTP.EncryptionKey)
	generated := false
	if value == "" {
		stored, created, err := database.EnsureSystemSetting(ctx, db, database.OTPEncryptionKeySetting, func() (string, error) {
			return crypto.RandomHex(otpKeyBytes)
		})
		if err != nil {
			return nil, false, fmt.Errorf("resolve otp key: %w", err)
		}
		value, generated = stored, created
	}

	key, err := DecodeKey(value)
	if err != nil {
		return nil, false, err
	}
	switch len(key) {
	case 16, 24, 32:
		return key, generated, nil
	}

	derived, err := crypto.DeriveKey(value, otpKeySalt, crypto.DefaultKeyParams())
	if err != nil {
		return nil, false, fmt.Errorf("derive otp key: %w", err)
	}
	return derived, generated, nil
}
