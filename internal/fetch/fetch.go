// Package fetch retrieves raw source pages over HTTP with a bounded retry
// policy for transient failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultAttempts     = 3
	DefaultBackoff      = time.Second
	DefaultUserAgent    = "Mozilla/5.0 (compatible; grantwatch/1.0; +https://github.com/ppiankov/grantwatch)"
	DefaultMaxBodyBytes = 10 << 20
)

// DefaultRetryStatuses are the HTTP statuses treated as transient.
var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Page is the raw content of one fetched source page.
type Page struct {
	URL         string // final URL after redirects, used as the base for relative links
	ContentType string
	Body        []byte
}

// Fetcher retrieves a page by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetchError reports a network or HTTP failure for one source URL.
type FetchError struct {
	URL      string
	Status   int // 0 when no response was received
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %v (after %d attempt(s))", e.URL, e.Err, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config controls timeouts and the retry policy.
type Config struct {
	Timeout       time.Duration // per request
	Attempts      int           // total attempts, including the first
	Backoff       time.Duration // first retry delay, doubled per attempt
	RetryStatuses []int
	UserAgent     string
	MaxBodyBytes  int64
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}
	if c.RetryStatuses == nil {
		c.RetryStatuses = DefaultRetryStatuses
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// HTTPFetcher fetches pages with net/http.
type HTTPFetcher struct {
	client *http.Client
	cfg    Config
}

// NewHTTP creates an HTTPFetcher. Zero config fields take defaults.
func NewHTTP(cfg Config) *HTTPFetcher {
	cfg.setDefaults()
	return &HTTPFetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// sleepFunc waits between attempts. Tests replace it to avoid real delays.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	// errRetryableStatus marks a response whose status is in the retry set.
	errRetryableStatus = errors.New("retryable status")
	// errPermanent marks failures that no retry can fix, e.g. a malformed URL.
	errPermanent = errors.New("permanent")
)

// Fetch GETs url, retrying transport errors and retryable statuses with
// exponential backoff. Other non-2xx statuses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var (
		lastErr    error
		lastStatus int
	)

	for attempt := range f.cfg.Attempts {
		if attempt > 0 {
			backoff := f.cfg.Backoff << uint(attempt-1) // 1x, 2x, 4x ...
			if err := sleepFunc(ctx, backoff); err != nil {
				return nil, &FetchError{URL: url, Status: lastStatus, Attempts: attempt, Err: err}
			}
		}

		page, status, err := f.fetchOnce(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr, lastStatus = err, status

		if ctx.Err() != nil {
			return nil, &FetchError{URL: url, Status: status, Attempts: attempt + 1, Err: ctx.Err()}
		}
		if errors.Is(err, errPermanent) || (status != 0 && !errors.Is(err, errRetryableStatus)) {
			return nil, &FetchError{URL: url, Status: status, Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &FetchError{URL: url, Status: lastStatus, Attempts: f.cfg.Attempts, Err: lastErr}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*Page, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w: %w", errPermanent, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if slices.Contains(f.cfg.RetryStatuses, resp.StatusCode) {
			return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %w", resp.StatusCode, errRetryableStatus)
		}
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         finalURL,
		ContentType: strings.TrimSpace(resp.Header.Get("Content-Type")),
		Body:        body,
	}, resp.StatusCode, nil
}
