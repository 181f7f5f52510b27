package app

import (
	"strings"

	"github.com/charlesng35/estatedir/internal/fetch"
	"github.com/charlesng35/estatedir/internal/sheets"
)

// ClientConfig converts SheetsConfig into the sheets client representation. Unknown tab names
// in gids are ignored.
func (c SheetsConfig) ClientConfig() sheets.Config {
	gids := make(map[sheets.Sheet]string, len(c.GIDs))
	for name, gid := range c.GIDs {
		sheet, err := sheets.ParseSheet(name)
		if err != nil {
			continue
		}
		if gid = strings.TrimSpace(gid); gid != "" {
			gids[sheet] = gid
		}
	}

	return sheets.Config{
		BaseURL:       strings.TrimSpace(c.BaseURL),
		DriveURL:      strings.TrimSpace(c.DriveURL),
		SpreadsheetID: strings.TrimSpace(c.SpreadsheetID),
		GIDs:          gids,
		ImageHosts:    c.ImageHosts,
		Retry:         c.RetryOptions(),
	}
}

// RetryOptions converts the retry settings into fetch options. Zero values fall back to the
// fetch defaults.
func (c SheetsConfig) RetryOptions() fetch.Options {
	opts := fetch.DefaultOptions()
	if c.MaxAttempts != 0 {
		opts.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelay > 0 {
		opts.BaseDelay = c.BaseDelay
	}
	if c.Timeout > 0 {
		opts.Timeout = c.Timeout
	}
	return opts
}
