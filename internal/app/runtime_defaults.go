package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/estatedir/pkg/crypto"
)

const (
	jwtSecretBytes      = 48
	defaultRateWindow   = time.Minute
	defaultProbeTimeout = 5 * time.Second
)

// ApplyRuntimeDefaults fills settings that must never be empty at runtime. It returns the keys
// it generated so callers can log the event without exposing values. A generated JWT secret
// lives only in memory: sessions issued with it do not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.RandomToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	cfg.Sheets.SpreadsheetID = strings.TrimSpace(cfg.Sheets.SpreadsheetID)
	if cfg.Server.RateWindow <= 0 {
		cfg.Server.RateWindow = defaultRateWindow
	}
	if cfg.Sync.ProbeTimeout <= 0 {
		cfg.Sync.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Sync.ProbeInterval > 0 && cfg.Sync.ProbeTimeout > cfg.Sync.ProbeInterval {
		cfg.Sync.ProbeTimeout = cfg.Sync.ProbeInterval
	}

	return generated, nil
}
