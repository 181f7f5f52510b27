package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() { current.Store(zap.NewNop()) })
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" WARN ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"":       zapcore.InfoLevel,
		"loud":   zapcore.InfoLevel,
	}
	for name, want := range cases {
		require.Equal(t, want, ParseLevel(name), name)
	}
}

func TestInitAppliesLevel(t *testing.T) {
	resetLogger(t)

	require.NoError(t, Init("debug"))
	require.True(t, Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Init("loud"))
	require.False(t, Logger().Core().Enabled(zap.DebugLevel))
	require.True(t, Logger().Core().Enabled(zap.InfoLevel))
}

func TestInitWithFileWritesRotatedLog(t *testing.T) {
	resetLogger(t)

	path := filepath.Join(t.TempDir(), "logs", "estatedir.log")
	require.NoError(t, InitWithOptions(Options{Level: "info", File: path}))

	WithModule("directory").Info("sheet refreshed", zap.String("sheet", "companies"))
	WithModule("directory").Debug("below threshold")
	_ = Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "sheet refreshed")
	require.Contains(t, string(data), `"module":"directory"`)
	require.NotContains(t, string(data), "below threshold")
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	resetLogger(t)
	core, recorded := observer.New(zap.InfoLevel)
	current.Store(zap.New(core))

	WithModule("syncer").Info("pass finished")

	entries := recorded.All()
	require.Len(t, entries, 1)
	require.Equal(t, "syncer", entries[0].ContextMap()["module"])
}
