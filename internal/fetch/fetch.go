// Package fetch issues crawl requests through the proxied HTTP client.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/torcrawler/internal/document"
)

// DefaultMaxBodySize bounds how much of a response body is read.
const DefaultMaxBodySize = 5 * 1024 * 1024

// ErrFetch is returned when a request fails in transport or the server
// answers 5xx or 429.
var ErrFetch = errors.New("fetch failed")

// Ticker is notified after every successful request. A non-nil error
// means the crawl identity could not be maintained.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Client fetches pages for the crawler. Requests are spaced by the crawl
// delay and each success is reported to the Ticker before Fetch returns.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxBodySize int64
	ticker      Ticker
	logger      *slog.Logger

	requests atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithCrawlDelay sets the minimum time between requests. Zero disables
// the delay.
func WithCrawlDelay(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxBodySize sets the response body limit. Zero keeps
// DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithTicker sets the request observer, normally a rotation policy.
func WithTicker(t Ticker) Option {
	return func(c *Client) {
		c.ticker = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient wraps httpClient, which must already route through the proxy.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Requests returns the number of successful requests made.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// Fetch GETs url and parses the response. Statuses other than 5xx and 429
// are returned as a Document so the caller can inspect StatusCode. There
// is no retry here.
func (c *Client) Fetch(ctx context.Context, url string) (*document.Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, url, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrFetch, url, err)
	}
	body, err := readBody(resp, c.maxBodySize)
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrFetch, url, resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrFetch, url, err)
	}

	c.logger.Debug("fetched", "url", url, "status", resp.StatusCode,
		"bytes", len(body), "elapsed", time.Since(start))

	doc, err := document.Parse(url, resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	c.requests.Add(1)
	// The connection is back in the pool or closed by now, so a rotation
	// in Tick can drop it.
	if c.ticker != nil {
		if err := c.ticker.Tick(ctx); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// readBody reads at most limit bytes and closes the body.
func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}
