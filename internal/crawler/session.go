package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/torcrawler/internal/document"
	"github.com/nao1215/torcrawler/internal/fetch"
	"github.com/nao1215/torcrawler/internal/model"
	"github.com/nao1215/torcrawler/internal/store"
)

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*document.Document, error)
}

// RecordSink persists scraped records.
type RecordSink interface {
	Append(d model.Datum) error
}

// Session is one crawl over a URL template. It owns the request log and
// record sink for its lifetime; Close closes the request log.
type Session struct {
	template model.Template
	fetcher  Fetcher
	requests store.RequestLog
	records  RecordSink

	success  model.Marker
	failures []model.Marker
	logger   *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithSuccessMarker requires every fetched page to match m.
func WithSuccessMarker(m model.Marker) Option {
	return func(s *Session) {
		s.success = m
	}
}

// WithFailureMarkers rejects pages that match any of markers.
func WithFailureMarkers(markers []model.Marker) Option {
	return func(s *Session) {
		s.failures = markers
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession creates a session. records may be nil if only Fetch is used.
func NewSession(template model.Template, fetcher Fetcher, requests store.RequestLog, records RecordSink, opts ...Option) (*Session, error) {
	if err := template.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		template: template,
		fetcher:  fetcher,
		requests: requests,
		records:  records,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// BuildURL builds the URL for params. It fails with model.ErrArity when
// the number of params does not match the template.
func (s *Session) BuildURL(params model.Params) (string, error) {
	return s.template.BuildURL(params)
}

// Fetch fetches the page for params. With a non-empty overrideURL the
// page is fetched unconditionally and the request log is not touched.
// Otherwise a params tuple that is already done returns (nil, nil)
// without network I/O, and a successful fetch marks it done. A page that
// fails the markers yields (nil, err) on both paths.
func (s *Session) Fetch(ctx context.Context, params model.Params, overrideURL string) (*document.Document, error) {
	if overrideURL != "" {
		return s.fetchChecked(ctx, overrideURL)
	}

	url, err := s.BuildURL(params)
	if err != nil {
		return nil, err
	}
	done, err := s.requests.IsDone(ctx, params)
	if err != nil {
		return nil, err
	}
	if done {
		s.logger.Debug("already done, skipping", "params", params)
		return nil, nil
	}

	doc, err := s.fetchChecked(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := s.requests.MarkDone(ctx, params); err != nil {
		return nil, err
	}
	return doc, nil
}

// Result describes one Scrape call.
type Result struct {
	Params  model.Params
	URL     string
	Skipped bool
	Records int
}

// Scrape fetches the page for params, extracts records from it and
// appends them before marking params done. A crash between the two
// leaves params eligible for another attempt; any duplicate records are
// removed by RecordStore.Deduplicate.
func (s *Session) Scrape(ctx context.Context, params model.Params, extractor document.Extractor) (Result, error) {
	res := Result{Params: params}
	if s.records == nil {
		return res, ErrNoRecordStore
	}

	url, err := s.BuildURL(params)
	if err != nil {
		return res, err
	}
	res.URL = url

	done, err := s.requests.IsDone(ctx, params)
	if err != nil {
		return res, err
	}
	if done {
		res.Skipped = true
		return res, nil
	}

	doc, err := s.fetchChecked(ctx, url)
	if err != nil {
		return res, err
	}

	data, err := extractor.Extract(doc)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrExtract, url, err)
	}
	for _, d := range data {
		if err := s.records.Append(d); err != nil {
			return res, err
		}
		res.Records++
	}

	if _, err := s.requests.MarkDone(ctx, params); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Session) fetchChecked(ctx context.Context, url string) (*document.Document, error) {
	doc, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := s.checkPage(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// checkPage applies the failure markers, then the success marker.
func (s *Session) checkPage(doc *document.Document) error {
	if m, ok := doc.MatchesAny(s.failures); ok {
		return fmt.Errorf("%w: %s matched %q", ErrFailurePage, doc.URL, m.Selector)
	}
	if !s.success.IsZero() && !doc.Matches(s.success) {
		return fmt.Errorf("%w: %s", ErrMissingSuccessMarker, doc.URL)
	}
	return nil
}

// Stats summarizes a Run.
type Stats struct {
	Attempted int
	Fetched   int
	Skipped   int
	Failed    int
	Records   int
	Elapsed   time.Duration
}

// Run scrapes every params tuple from src in order. Per-request failures
// are logged and counted and the tuple stays eligible for a later run.
// Run stops on context cancellation, on a rotation failure, on a
// malformed params tuple and on storage errors.
func (s *Session) Run(ctx context.Context, src ParamsSource, extractor document.Extractor) (Stats, error) {
	var stats Stats
	start := time.Now()

	for src.Next() {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}

		params := src.Params()
		stats.Attempted++

		res, err := s.Scrape(ctx, params, extractor)
		switch {
		case err == nil && res.Skipped:
			stats.Skipped++
		case err == nil:
			stats.Fetched++
			stats.Records += res.Records
			s.logger.Info("scraped", "url", res.URL, "records", res.Records)
		case isRequestError(err):
			stats.Failed++
			s.logger.Warn("request failed, will retry on next run", "params", params, "error", err)
		default:
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}
	stats.Elapsed = time.Since(start)
	if err := src.Err(); err != nil {
		return stats, fmt.Errorf("failed to read params: %w", err)
	}
	return stats, nil
}

// isRequestError reports whether err affects only the current request.
func isRequestError(err error) bool {
	return errors.Is(err, fetch.ErrFetch) ||
		errors.Is(err, ErrFailurePage) ||
		errors.Is(err, ErrMissingSuccessMarker) ||
		errors.Is(err, ErrExtract)
}

// Close closes the request log.
func (s *Session) Close() error {
	return s.requests.Close()
}
