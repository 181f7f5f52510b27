package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() { _ = logger.Init("info") })

	require.NoError(t, ConfigureLogging(ServerConfig{LogLevel: "debug"}))
	require.True(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, ConfigureLogging(ServerConfig{LogFile: " " + path + " "}))
	require.False(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	logger.WithModule("app").Info("file sink ready")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "file sink ready")
}
