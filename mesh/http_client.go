package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for report fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 8 MB.
	maxResponseBytes = 8 << 20
)

// FetchOption configures a ReportFetcher.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// ErrReportUnchanged is returned by ReportFetcher.Fetch when the server
// answers 304 Not Modified to the ETag of the last report it served.
var ErrReportUnchanged = errors.New("report unchanged")

// ReportFetcher pulls scanner reports over HTTP and remembers each scanner's
// ETag, so polling an unchanged report is cheap and does not trigger a
// rebuild. Safe for concurrent use.
type ReportFetcher struct {
	cfg    fetchConfig
	client *http.Client

	mu    sync.Mutex
	etags map[string]string // scanner ID -> last ETag
}

// NewReportFetcher creates a fetcher with the given options
func NewReportFetcher(opts ...FetchOption) *ReportFetcher {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return &ReportFetcher{cfg: cfg, client: client, etags: make(map[string]string)}
}

// FetchReport fetches a scanner's report once, without ETag tracking
func FetchReport(ctx context.Context, scannerID, reportURL string, opts ...FetchOption) (*Scanner, error) {
	return NewReportFetcher(opts...).Fetch(ctx, scannerID, reportURL)
}

// Fetch downloads and decodes a scanner's report. Server errors and network
// failures are retried with exponential backoff; 4xx statuses and decode
// errors are not. Returns ErrReportUnchanged on 304.
func (f *ReportFetcher) Fetch(ctx context.Context, scannerID, reportURL string) (*Scanner, error) {
	if reportURL == "" {
		return nil, fmt.Errorf("fetch report %s: URL is empty", scannerID)
	}

	f.mu.Lock()
	etag := f.etags[scannerID]
	f.mu.Unlock()

	var lastErr error
	for attempt := range f.cfg.maxRetries {
		if attempt > 0 {
			backoff := f.cfg.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch report %s: %w", scannerID, ctx.Err())
			case <-time.After(backoff):
			}
		}

		res, err := f.get(ctx, reportURL, etag)
		if err != nil {
			if !res.retry {
				return nil, fmt.Errorf("fetch report %s: %w", scannerID, err)
			}
			lastErr = err
			continue
		}
		if res.notModified {
			return nil, ErrReportUnchanged
		}

		s, err := DecodeReport(scannerID, res.body)
		if err != nil {
			return nil, fmt.Errorf("fetch report %s: %w", scannerID, err)
		}

		f.mu.Lock()
		if res.etag != "" {
			f.etags[scannerID] = res.etag
		} else {
			delete(f.etags, scannerID)
		}
		f.mu.Unlock()

		return s, nil
	}

	return nil, fmt.Errorf("fetch report %s: all %d attempts failed: %w", scannerID, f.cfg.maxRetries, lastErr)
}

// fetchResult is the outcome of one GET
type fetchResult struct {
	body        []byte
	etag        string
	notModified bool
	retry       bool // set with an error worth retrying
}

// get performs a single conditional HTTP GET
func (f *ReportFetcher) get(ctx context.Context, url, etag string) (fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fetchResult{retry: ctx.Err() == nil}, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return fetchResult{notModified: true}, nil
	case resp.StatusCode >= 500:
		return fetchResult{retry: true}, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fetchResult{}, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fetchResult{retry: true}, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return fetchResult{body: body, etag: resp.Header.Get("ETag")}, nil
}
