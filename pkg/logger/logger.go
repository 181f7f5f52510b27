// Package logger owns the process-wide zap logger. Packages take a child logger through
// WithModule when they are constructed.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the optional file sink.
const (
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 28
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Options controls how the global logger is built.
type Options struct {
	Level string
	// File, when set, mirrors JSON log output into a size-rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init configures the global logger to write JSON to stderr at level.
func Init(level string) error {
	return InitWithOptions(Options{Level: level})
}

// InitWithOptions replaces the global logger. Unknown levels fall back to info.
func InitWithOptions(opts Options) error {
	level := zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	built, err := cfg.Build()
	if err != nil {
		return err
	}

	if sink := rotatingSink(opts); sink != nil {
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), sink, level)
		built = built.WithOptions(zap.WrapCore(func(stderr zapcore.Core) zapcore.Core {
			return zapcore.NewTee(stderr, fileCore)
		}))
	}

	current.Store(built)
	return nil
}

// ParseLevel maps a level name such as "debug" or "WARN" to a zap level, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func rotatingSink(opts Options) zapcore.WriteSyncer {
	path := strings.TrimSpace(opts.File)
	if path == "" {
		return nil
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    positive(opts.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: positive(opts.MaxBackups, defaultMaxBackups),
		MaxAge:     positive(opts.MaxAgeDays, defaultMaxAgeDays),
		Compress:   true,
	})
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	return current.Load()
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
