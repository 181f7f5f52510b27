package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const companiesCSV = "id,name,active\n1,Acme Homes,1\n2,Globex,0\n"

type harness struct {
	t         *testing.T
	configDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, companiesCSV)
	}))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	config := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
sheets:
  base_url: %s
  spreadsheet_id: cli
  max_attempts: 1
  gids:
    companies: "0"
`, filepath.Join(dir, "estatedir.sqlite"), upstream.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0o600))

	return &harness{t: t, configDir: dir}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", h.configDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserLifecycle(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("s3cret-pass\n", "user", "add", "agent", "--display-name", "Agent Smith")
	require.NoError(t, err, out)
	require.Contains(t, out, "created user agent")

	_, err = h.run("", "user", "add", "agent", "--password", "other")
	require.ErrorContains(t, err, "already exists")

	_, err = h.run("", "user", "passwd", "agent")
	require.ErrorContains(t, err, "password is required")

	out, err = h.run("", "user", "passwd", "agent", "--password", "n3w-pass")
	require.NoError(t, err)
	require.Contains(t, out, "password updated for agent")

	out, err = h.run("", "user", "disable", "agent")
	require.NoError(t, err, out)
	require.Contains(t, out, "disabled agent, revoked 0 session(s)")

	out, err = h.run("", "user", "enable", "agent")
	require.NoError(t, err)
	require.Contains(t, out, "enabled agent")

	_, err = h.run("", "user", "enable", "ghost")
	require.Error(t, err)
}

func TestUserOTPProvisioning(t *testing.T) {
	h := newHarness(t)
	qrPath := filepath.Join(t.TempDir(), "agent.png")

	out, err := h.run("", "user", "add", "agent", "--password", "pw", "--otp", "--qr", qrPath)
	require.NoError(t, err, out)
	require.Contains(t, out, "otp secret: ")
	require.Contains(t, out, "otpauth://totp/")

	png, err := os.ReadFile(qrPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	out, err = h.run("", "user", "otp", "agent", "--otp-secret", "JBSWY3DPEHPK3PXP")
	require.NoError(t, err, out)
	require.Contains(t, out, "otp secret: JBSWY3DPEHPK3PXP")

	_, err = h.run("", "user", "otp", "agent", "--otp-secret", "not base32!")
	require.ErrorContains(t, err, "base32")
}

func TestSheetsFetch(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("", "sheets", "fetch", "companies")
	require.NoError(t, err, out)
	require.Equal(t, companiesCSV, out)

	out, err = h.run("", "sheets", "fetch", "companies", "--parse")
	require.NoError(t, err, out)
	require.Contains(t, out, `"name": "Acme Homes"`)

	_, err = h.run("", "sheets", "fetch", "secrets")
	require.ErrorContains(t, err, "unknown sheet")

	_, err = h.run("", "sheets", "fetch", "projects")
	require.ErrorContains(t, err, "unknown sheet")

	out, err = h.run("", "sheets", "probe")
	require.NoError(t, err)
	require.Contains(t, out, "spreadsheet reachable")
}

func TestCacheCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("", "cache", "clear")
	require.NoError(t, err, out)
	require.Contains(t, out, "removed 0 cache entries")

	out, err = h.run("", "cache", "purge-expired")
	require.NoError(t, err, out)
	require.Contains(t, out, "removed 0 expired entries")

	out, err = h.run("", "cache", "keys")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))
}

func TestSyncRunRecordsLastPass(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("", "sync", "status")
	require.NoError(t, err, out)
	require.Contains(t, out, "last sync: never")

	out, err = h.run("", "sync", "run")
	require.NoError(t, err, out)
	require.Contains(t, out, "processed 0, failed 0, pending 0")

	out, err = h.run("", "sync", "status")
	require.NoError(t, err, out)
	require.NotContains(t, out, "never")

	out, err = h.run("", "sync", "actions", "--json")
	require.NoError(t, err)
	var actions []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	require.Empty(t, actions)
}

func TestMissingConfigPath(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing"), "cache", "keys"})
	require.ErrorContains(t, cmd.Execute(), "does not exist")
}
