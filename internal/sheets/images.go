package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charlesng35/estatedir/internal/fetch"
)

// ImageURL returns the direct-view address of a file stored next to the spreadsheet.
func (c *Client) ImageURL(fileID string) (string, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return "", fmt.Errorf("%w: file id is required", ErrInvalidImageURL)
	}
	query := url.Values{}
	query.Set("export", "view")
	query.Set("id", fileID)
	return c.cfg.DriveURL + "?" + query.Encode(), nil
}

// FetchImage streams the file with the given id. The caller closes the response body.
func (c *Client) FetchImage(ctx context.Context, fileID string) (*http.Response, error) {
	target, err := c.ImageURL(fileID)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, target)
}

// ProxyImage streams an arbitrary image URL on one of the allowed hosts. The caller closes the
// response body.
func (c *Client) ProxyImage(ctx context.Context, rawURL string) (*http.Response, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidImageURL, rawURL)
	}
	if !c.hostAllowed(target.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrImageHostNotAllowed, target.Hostname())
	}
	return c.get(ctx, target.String())
}

func (c *Client) hostAllowed(host string) bool {
	if len(c.cfg.ImageHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range c.cfg.ImageHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return fetch.Do(ctx, c.http, req, c.cfg.Retry)
}
