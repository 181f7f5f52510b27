package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/app"
	"github.com/charlesng35/estatedir/internal/database"
)

func TestBootstrapRuntimeServesDirectory(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "id,name\n1,Acme Homes\n")
	}))
	t.Cleanup(upstream.Close)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	_, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	cfg.Database.Path = filepath.Join(t.TempDir(), "estatedir.sqlite")
	cfg.Sheets.BaseURL = upstream.URL
	cfg.Sheets.SpreadsheetID = "bootstrap"
	cfg.Sheets.MaxAttempts = 1
	cfg.Sync.ProbeInterval = time.Hour
	require.NoError(t, cfg.Validate())

	log := zap.NewNop()
	stack, err := bootstrapRuntime(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	rec := httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/companies", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "Acme Homes")

	rec = httptest.NewRecorder()
	stack.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Estate Directory")

	key, err := database.GetSystemSetting(context.Background(), stack.DB, database.OTPEncryptionKeySetting)
	require.NoError(t, err)
	require.NotEmpty(t, key)
}
