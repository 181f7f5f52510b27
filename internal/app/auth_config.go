package app

import (
	"strings"
	"time"

	"github.com/charlesng35/estatedir/internal/auth"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	defaultRefreshLength    = 48
)

// orDefault returns fallback for zero or negative settings.
func orDefault[T int | time.Duration](value, fallback T) T {
	if value <= 0 {
		return fallback
	}
	return value
}

// JWTServiceConfig resolves access token settings.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: orDefault(c.JWT.TTL, auth.DefaultAccessTokenTTL),
	}
}

// SessionServiceConfig resolves refresh token settings.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	return auth.SessionConfig{
		RefreshTokenTTL: orDefault(c.Session.RefreshTTL, auth.DefaultRefreshTokenTTL),
		RefreshLength:   orDefault(c.Session.RefreshLength, defaultRefreshLength),
	}
}

// LocalAuthConfig resolves password login and lockout settings.
func (c AuthConfig) LocalAuthConfig() auth.LocalConfig {
	return auth.LocalConfig{
		LockoutThreshold: orDefault(c.Local.LockoutThreshold, defaultLockoutThreshold),
		LockoutDuration:  orDefault(c.Local.LockoutDuration, defaultLockoutDuration),
		RequireOTP:       c.Local.RequireOTP,
	}
}

// OTPOptions turns the non-empty one-time code settings into service options.
func (c AuthConfig) OTPOptions() []auth.OTPOption {
	var opts []auth.OTPOption
	if issuer := strings.TrimSpace(c.OTP.Issuer); issuer != "" {
		opts = append(opts, auth.WithOTPIssuer(issuer))
	}
	if c.OTP.Skew > 0 {
		opts = append(opts, auth.WithOTPSkew(c.OTP.Skew))
	}
	return opts
}
