package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/estatedir/internal/cache"
	"github.com/charlesng35/estatedir/internal/models"
)

// Cached sessions share the cache store with the sheet cache, so keys carry a digest of the
// refresh token rather than the token itself; a dump of the cache table reveals no credentials.
const sessionCacheKeyPrefix = "auth:session:"

// NewStoreSessionCache keeps sessions in a cache.Store (database or memory backed).
func NewStoreSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &storeSessionCache{store: store}
}

type storeSessionCache struct {
	store cache.Store
}

func (c *storeSessionCache) Get(ctx context.Context, refreshToken string) (*models.Session, error) {
	key, ok := sessionCacheKey(refreshToken)
	if !ok {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		_ = c.store.Delete(ctx, key)
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	session.RefreshToken = strings.TrimSpace(refreshToken)
	return &session, nil
}

func (c *storeSessionCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key, ok := sessionCacheKey(session.RefreshToken)
	if !ok {
		return errors.New("session cache: refresh token missing")
	}
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache: encode: %w", err)
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *storeSessionCache) Delete(ctx context.Context, refreshToken string) error {
	key, ok := sessionCacheKey(refreshToken)
	if !ok {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func sessionCacheKey(refreshToken string) (string, bool) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	return sessionCacheKeyPrefix + hex.EncodeToString(sum[:]), true
}
