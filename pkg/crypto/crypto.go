// Package crypto holds the primitives behind account security: password hashes, sealed
// one-time code seeds and random tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// sealPrefix versions sealed values so a future key or cipher change can tell old rows apart.
const sealPrefix = "v1:"

var (
	// ErrSealedFormat is returned for values that were not produced by Seal.
	ErrSealedFormat = errors.New("crypto: malformed sealed value")
	// ErrSealedMismatch is returned when the key or the bound context does not match.
	ErrSealedMismatch = errors.New("crypto: sealed value does not match key or context")
)

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// Seal encrypts plaintext with AES-GCM and binds it to context, so a value copied onto another
// row (for example another user's secret) fails to open. The key length selects AES-128/192/256.
func Seal(plaintext, key, context []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, context)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal using the same key and context.
func Open(sealed string, key, context []byte) ([]byte, error) {
	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return nil, ErrSealedFormat
	}
	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrSealedFormat
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrSealedFormat
	}

	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, context)
	if err != nil {
		return nil, ErrSealedMismatch
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// RandomToken returns n random bytes as unpadded URL-safe base64. Refresh tokens and generated
// JWT secrets come from here.
func RandomToken(n int) (string, error) {
	buf, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RandomHex returns n random bytes hex encoded, the format used for generated encryption keys.
func RandomHex(n int) (string, error) {
	buf, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func randomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("crypto: length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
