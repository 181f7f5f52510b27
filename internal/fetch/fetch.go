// Package fetch performs outbound HTTP requests with a per-attempt timeout and exponential
// backoff between attempts.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/pkg/logger"
	"github.com/charlesng35/estatedir/pkg/metrics"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultRateLimitFloor = 5 * time.Second
)

// Doer issues a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options control retry behaviour.
type Options struct {
	// MaxAttempts is the number of retries after the first attempt. Negative disables retries.
	MaxAttempts int
	// BaseDelay is doubled after every failed attempt.
	BaseDelay time.Duration
	// Timeout bounds each attempt, including reading response headers.
	Timeout time.Duration
	// RateLimitFloor is the minimum delay after a 429 response.
	RateLimitFloor time.Duration
	// Sleep replaces the real wait between attempts.
	Sleep SleepFunc
}

// DefaultOptions returns the retry settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		Timeout:        DefaultTimeout,
		RateLimitFloor: DefaultRateLimitFloor,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RateLimitFloor <= 0 {
		o.RateLimitFloor = DefaultRateLimitFloor
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", e.URL, e.Status)
}

// Do sends req, retrying network errors and non-2xx responses. The returned response has a 2xx
// status; closing its body releases the attempt's timeout. When every attempt fails the last
// error is returned, a *StatusError for status failures. Cancellation of ctx by the caller
// stops retrying and returns ctx.Err().
func Do(ctx context.Context, client Doer, req *http.Request, opts Options) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	opts = opts.withDefaults()
	log := logger.WithModule("fetch")

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := doAttempt(ctx, client, req, opts.Timeout)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt >= opts.MaxAttempts {
			return nil, lastErr
		}

		delay := opts.BaseDelay << attempt
		reason := "network"
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			reason = "status"
			if statusErr.StatusCode == http.StatusTooManyRequests {
				reason = "rate_limited"
				if delay < opts.RateLimitFloor {
					delay = opts.RateLimitFloor
				}
			}
		}
		metrics.FetchRetries.WithLabelValues(reason).Inc()
		log.Debug("retrying request",
			zap.String("url", req.URL.Redacted()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := opts.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func doAttempt(ctx context.Context, client Doer, req *http.Request, timeout time.Duration) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)

	r := req.Clone(attemptCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, err
		}
		r.Body = body
	}

	resp, err := client.Do(r)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: req.URL.Redacted()}
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetBytes fetches url with Do and returns the body and content type.
func GetBytes(ctx context.Context, client Doer, url string, opts Options) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := Do(ctx, client, req, opts)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: read body: %w", req.URL.Redacted(), err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
