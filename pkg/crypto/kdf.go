package crypto

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KeyParams controls the cost factors for Argon2id key derivation.
type KeyParams struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
	KeyLength uint32
}

// DefaultKeyParams returns the parameters used to derive at-rest encryption keys
// (one-time code secrets) from the configured application secret.
func DefaultKeyParams() KeyParams {
	return KeyParams{
		Time:      1,
		MemoryKiB: 32 * 1024,
		Threads:   2,
		KeyLength: 32,
	}
}

func (p KeyParams) validate() error {
	if p.Time == 0 || p.Threads == 0 {
		return fmt.Errorf("argon2: time and parallelism must be greater than zero")
	}
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	}
	switch p.KeyLength {
	case 16, 24, 32:
	default:
		return fmt.Errorf("argon2: key length must be 16, 24, or 32 bytes (got %d)", p.KeyLength)
	}
	return nil
}

// DeriveKey stretches a configured secret into an AES key using Argon2id.
// The salt is a stable, application-specific label; the same inputs always yield the same key.
func DeriveKey(secret, salt string, params KeyParams) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("argon2: secret is required")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("argon2: salt must be at least 16 bytes (got %d)", len(salt))
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey([]byte(secret), []byte(salt), params.Time, params.MemoryKiB, params.Threads, params.KeyLength), nil
}
