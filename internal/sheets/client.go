// Package sheets talks to the published spreadsheet: CSV exports per sheet and images stored
// alongside it.
package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

// Sheet names a tab of the spreadsheet.
type Sheet string

// Known sheets.
const (
	Companies Sheet = "companies"
	Projects  Sheet = "projects"
	Users     Sheet = "users"
	Places    Sheet = "places"
)

// Export formats.
const (
	FormatCSV = "csv"
	// FormatQuery goes through the visualization query endpoint, which serves CSV for sheets
	// the plain export refuses.
	FormatQuery = "tq"
)

const (
	DefaultBaseURL  = "https://docs.google.com/spreadsheets/d"
	DefaultDriveURL = "https://drive.google.com/uc"
)

var (
	// ErrUnknownSheet is returned for sheet names without a configured gid.
	ErrUnknownSheet = errors.New("sheets: unknown sheet")
	// ErrUnknownFormat is returned for export formats other than csv and tq.
	ErrUnknownFormat = errors.New("sheets: unknown export format")
	// ErrSheetNotPublic is returned when the export answers with an HTML page, which happens
	// when the spreadsheet is not shared publicly.
	ErrSheetNotPublic = errors.New("sheets: sheet not publicly accessible")
	// ErrEmptySheet is returned when the export has no content.
	ErrEmptySheet = errors.New("sheets: sheet is empty")
	// ErrImageHostNotAllowed is returned when a proxied image URL points outside the allowed hosts.
	ErrImageHostNotAllowed = errors.New("sheets: image host not allowed")
	// ErrInvalidImageURL is returned for image requests that are not absolute http(s) URLs.
	ErrInvalidImageURL = errors.New("sheets: invalid image url")
)

// Config locates the spreadsheet and controls fetching.
type Config struct {
	BaseURL       string
	DriveURL      string
	SpreadsheetID string
	// GIDs maps sheet names to the numeric tab id used by the export endpoints.
	GIDs map[Sheet]string
	// ImageHosts restricts /api/proxy-image targets. Subdomains match. Empty allows any host.
	ImageHosts []string
	Retry      fetch.Options
}

// Client fetches sheet exports and images.
type Client struct {
	cfg  Config
	http fetch.Doer
}

// NewClient builds a Client. A nil doer uses http.DefaultClient.
func NewClient(cfg Config, doer fetch.Doer) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DriveURL == "" {
		cfg.DriveURL = DefaultDriveURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{cfg: cfg, http: doer}, nil
}

// ParseSheet validates a sheet name taken from a request.
func ParseSheet(name string) (Sheet, error) {
	switch s := Sheet(strings.ToLower(strings.TrimSpace(name))); s {
	case Companies, Projects, Users, Places:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSheet, name)
	}
}

// ExportURL returns the CSV export address of sheet in the given format.
func (c *Client) ExportURL(sheet Sheet, format string) (string, error) {
	gid, ok := c.cfg.GIDs[sheet]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSheet, sheet)
	}

	base := c.cfg.BaseURL + "/" + url.PathEscape(c.cfg.SpreadsheetID)
	query := url.Values{}
	switch strings.ToLower(format) {
	case "", FormatCSV:
		query.Set("format", "csv")
		query.Set("gid", gid)
		return base + "/export?" + query.Encode(), nil
	case FormatQuery:
		query.Set("tqx", "out:csv")
		query.Set("gid", gid)
		return base + "/gviz/tq?" + query.Encode(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// FetchCSV downloads the export of sheet and returns it as text.
func (c *Client) FetchCSV(ctx context.Context, sheet Sheet, format string) (string, error) {
	exportURL, err := c.ExportURL(sheet, format)
	if err != nil {
		return "", err
	}

	body, contentType, err := fetch.GetBytes(ctx, c.http, exportURL, c.cfg.Retry)
	if err != nil {
		metrics.SheetFetches.WithLabelValues(string(sheet), "error").Inc()
		return "", err
	}

	if looksLikeHTML(contentType, body) {
		metrics.SheetFetches.WithLabelValues(string(sheet), "not_public").Inc()
		return "", ErrSheetNotPublic
	}
	if len(bytes.TrimSpace(body)) == 0 {
		metrics.SheetFetches.WithLabelValues(string(sheet), "empty").Inc()
		return "", ErrEmptySheet
	}

	metrics.SheetFetches.WithLabelValues(string(sheet), "ok").Inc()
	return string(body), nil
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// Probe issues a HEAD request against the spreadsheet host and reports whether it answered.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
