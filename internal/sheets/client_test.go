package sheets

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/estatedir/internal/fetch"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:       srv.URL + "/spreadsheets/d",
		DriveURL:      srv.URL + "/uc",
		SpreadsheetID: "sheet-123",
		GIDs: map[Sheet]string{
			Companies: "0",
			Projects:  "111",
			Places:    "222",
		},
		Retry: fetch.Options{MaxAttempts: 1, Sleep: noSleep},
	}, srv.Client())
	require.NoError(t, err)
	return client, srv
}

func TestExportURL(t *testing.T) {
	client, err := NewClient(Config{SpreadsheetID: "abc", GIDs: map[Sheet]string{Projects: "42"}}, nil)
	require.NoError(t, err)

	got, err := client.ExportURL(Projects, "csv")
	require.NoError(t, err)
	require.Equal(t, "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=42", got)

	got, err = client.ExportURL(Projects, "tq")
	require.NoError(t, err)
	require.Equal(t, "https://docs.google.com/spreadsheets/d/abc/gviz/tq?gid=42&tqx=out%3Acsv", got)

	_, err = client.ExportURL(Companies, "csv")
	require.ErrorIs(t, err, ErrUnknownSheet)

	_, err = client.ExportURL(Projects, "xlsx")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestParseSheet(t *testing.T) {
	sheet, err := ParseSheet(" Companies ")
	require.NoError(t, err)
	require.Equal(t, Companies, sheet)

	_, err = ParseSheet("secrets")
	require.ErrorIs(t, err, ErrUnknownSheet)
}

func TestFetchCSV(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/spreadsheets/d/sheet-123/export", r.URL.Path)
		assert.Equal(t, "111", r.URL.Query().Get("gid"))
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "project_id,name\np1,Tower\n")
	})

	body, err := client.FetchCSV(context.Background(), Projects, FormatCSV)
	require.NoError(t, err)
	require.Equal(t, "project_id,name\np1,Tower\n", body)
}

func TestFetchCSVDetectsHTML(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "  <!DOCTYPE html><html><body>Sign in</body></html>")
	})

	_, err := client.FetchCSV(context.Background(), Companies, FormatCSV)
	require.ErrorIs(t, err, ErrSheetNotPublic)
}

func TestFetchCSVEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, "\n \n")
	})

	_, err := client.FetchCSV(context.Background(), Places, FormatQuery)
	require.ErrorIs(t, err, ErrEmptySheet)
}

func TestFetchImageAndProxy(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/uc":
			assert.Equal(t, "file-9", r.URL.Query().Get("id"))
		case "/img.png":
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	})

	resp, err := client.FetchImage(context.Background(), "file-9")
	require.NoError(t, err)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.NoError(t, resp.Body.Close())

	resp, err = client.ProxyImage(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	_, err = client.ProxyImage(context.Background(), "ftp://example.com/a.png")
	require.Error(t, err)

	_, err = client.FetchImage(context.Background(), " ")
	require.Error(t, err)
}

func TestProxyImageHostAllowList(t *testing.T) {
	client, err := NewClient(Config{
		SpreadsheetID: "abc",
		ImageHosts:    []string{"googleusercontent.com"},
	}, nil)
	require.NoError(t, err)

	require.True(t, client.hostAllowed("lh3.googleusercontent.com"))
	require.True(t, client.hostAllowed("googleusercontent.com"))
	require.False(t, client.hostAllowed("evilgoogleusercontent.com"))

	_, err = client.ProxyImage(context.Background(), "https://example.com/x.png")
	require.ErrorIs(t, err, ErrImageHostNotAllowed)
}

func TestProbe(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	})
	require.NoError(t, client.Probe(context.Background()))

	offline, err := NewClient(Config{BaseURL: "http://127.0.0.1:1", SpreadsheetID: "x"}, nil)
	require.NoError(t, err)
	require.Error(t, offline.Probe(context.Background()))
}
