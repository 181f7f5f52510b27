package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsGeneratesJWTSecret(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Auth.JWT.Secret)
	require.True(t, generated["auth.jwt.secret"])
}

func TestApplyRuntimeDefaultsPreservesConfiguredValues(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)
	cfg.Server.RateWindow = 30 * time.Second
	cfg.Sync.ProbeInterval = time.Minute
	cfg.Sync.ProbeTimeout = 2 * time.Second

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Second, cfg.Server.RateWindow)
	require.Equal(t, 2*time.Second, cfg.Sync.ProbeTimeout)
}

func TestApplyRuntimeDefaultsNormalisesTimings(t *testing.T) {
	cfg := &Config{}
	cfg.Sheets.SpreadsheetID = "  1AbC  "
	cfg.Sync.ProbeInterval = 2 * time.Second

	_, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Equal(t, "1AbC", cfg.Sheets.SpreadsheetID)
	require.Equal(t, time.Minute, cfg.Server.RateWindow)
	// The probe must finish before the next one is due.
	require.Equal(t, 2*time.Second, cfg.Sync.ProbeTimeout)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.ErrorContains(t, err, "config is nil")
}
