package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the runtime configuration for the estate directory backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Sheets     SheetsConfig     `mapstructure:"sheets"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFile        string        `mapstructure:"log_file"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      int           `mapstructure:"rate_limit"`
	LoginRateLimit int           `mapstructure:"login_rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SheetsConfig locates the published spreadsheet.
type SheetsConfig struct {
	BaseURL       string            `mapstructure:"base_url"`
	DriveURL      string            `mapstructure:"drive_url"`
	SpreadsheetID string            `mapstructure:"spreadsheet_id"`
	GIDs          map[string]string `mapstructure:"gids"`
	Format        string            `mapstructure:"format"`
	ImageHosts    []string          `mapstructure:"image_hosts"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MaxAttempts   int               `mapstructure:"max_attempts"`
	BaseDelay     time.Duration     `mapstructure:"base_delay"`
}

// CacheConfig selects the cache backend and entry lifetimes.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
	Prefix     string        `mapstructure:"prefix"`
	Warm       bool          `mapstructure:"warm_on_start"`
}

// SyncConfig configures connectivity probing and replay of queued actions.
type SyncConfig struct {
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	RetrySchedule   string        `mapstructure:"retry_schedule"`
	CompactSchedule string        `mapstructure:"compact_schedule"`
	CacheSchedule   string        `mapstructure:"cache_schedule"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings       `mapstructure:"jwt"`
	Session SessionSettings   `mapstructure:"session"`
	Local   LocalAuthSettings `mapstructure:"local"`
	OTP     OTPSettings       `mapstructure:"otp"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens and session lifetimes.
type SessionSettings struct {
	RefreshTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshLength int           `mapstructure:"refresh_token_length"`
	Schedule      string        `mapstructure:"cleanup_schedule"`
}

// LocalAuthSettings defines controls for password login.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
	RequireOTP       bool          `mapstructure:"require_otp"`
}

// OTPSettings configures one-time codes. An empty EncryptionKey means the key is generated
// once and kept in system settings.
type OTPSettings struct {
	Issuer        string `mapstructure:"issuer"`
	Skew          uint   `mapstructure:"skew"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LoadConfig reads config.yaml from ./config and the given directories, then applies
// ESTATEDIR_* environment overrides. A missing file leaves the defaults in place.
func LoadConfig(paths ...string) (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	return readConfig(v)
}

// LoadConfigFrom loads configuration from an explicit directory or file. An empty path
// searches the default locations; a path that does not exist is an error.
func LoadConfigFrom(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return LoadConfig()
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	case err != nil:
		return nil, fmt.Errorf("stat config path: %w", err)
	case info.IsDir():
		return LoadConfig(path)
	}

	v := newViper()
	v.SetConfigFile(path)
	return readConfig(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("ESTATEDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &config, nil
}

// Validate reports every setting the server cannot start without. Call it after
// ApplyRuntimeDefaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs error
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		errs = multierr.Append(errs, errors.New("auth.jwt.secret must be configured"))
	}
	if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
		errs = multierr.Append(errs, errors.New("sheets.spreadsheet_id must be configured"))
	}
	if c.Sync.ProbeInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("sync.probe_interval must be positive (current: %s)", c.Sync.ProbeInterval))
	}
	return errs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit", 300)
	v.SetDefault("server.login_rate_limit", 10)
	v.SetDefault("server.rate_window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/estatedir.sqlite")

	v.SetDefault("sheets.base_url", "https://docs.google.com/spreadsheets/d")
	v.SetDefault("sheets.drive_url", "https://drive.google.com/uc")
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.gids.companies", "0")
	v.SetDefault("sheets.format", "csv")
	v.SetDefault("sheets.image_hosts", []string{"googleusercontent.com", "drive.google.com"})
	v.SetDefault("sheets.timeout", "10s")
	v.SetDefault("sheets.max_attempts", 3)
	v.SetDefault("sheets.base_delay", "1s")

	v.SetDefault("cache.backend", "database")
	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("cache.prefix", "cache_")
	v.SetDefault("cache.warm_on_start", false)

	v.SetDefault("sync.probe_interval", "30s")
	v.SetDefault("sync.probe_timeout", "5s")
	v.SetDefault("sync.request_timeout", "10s")
	v.SetDefault("sync.retention", "168h")
	v.SetDefault("sync.retry_schedule", "@every 5m")
	v.SetDefault("sync.compact_schedule", "@daily")
	v.SetDefault("sync.cache_schedule", "@every 15m")

	v.SetDefault("auth.jwt.issuer", "estatedir")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "168h")
	v.SetDefault("auth.session.refresh_token_length", 48)
	v.SetDefault("auth.session.cleanup_schedule", "@hourly")
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "15m")
	v.SetDefault("auth.local.require_otp", false)
	v.SetDefault("auth.otp.issuer", "Estate Directory")
	v.SetDefault("auth.otp.skew", 1)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
