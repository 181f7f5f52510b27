package app

import (
	"strings"

	"github.com/charlesng35/estatedir/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server settings, defaulting to
// info and mirroring output into a rotated file when log_file is set.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level: level,
		File:  strings.TrimSpace(cfg.LogFile),
	})
}
