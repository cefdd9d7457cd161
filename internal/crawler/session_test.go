package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/nao1215/torcrawler/internal/document"
	"github.com/nao1215/torcrawler/internal/fetch"
	"github.com/nao1215/torcrawler/internal/model"
	"github.com/nao1215/torcrawler/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingFetcher wraps a Fetcher and counts calls.
type countingFetcher struct {
	next  Fetcher
	calls atomic.Int32
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (*document.Document, error) {
	c.calls.Add(1)
	return c.next.Fetch(ctx, url)
}

// peopleServer serves /people?q=<name> with one person per page.
// q=blocked returns a captcha page and q=down a 503.
func peopleServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		switch q {
		case "blocked":
			_, _ = fmt.Fprint(w, `<html><body><div id="captcha">prove you are human</div></body></html>`)
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "empty":
			_, _ = fmt.Fprint(w, `<html><body><p>nothing</p></body></html>`)
		default:
			_, _ = fmt.Fprintf(w, `<html><body><ul id="results">
				<li class="person"><span class="name">%s</span><a href="/p/%s">profile</a></li>
			</ul></body></html>`, q, q)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	session  *Session
	fetcher  *countingFetcher
	requests *store.FileRequestLog
	records  *store.RecordStore
}

func newFixture(t *testing.T, template model.Template, opts ...Option) *fixture {
	t.Helper()

	dir := t.TempDir()
	requests, err := store.OpenRequestLog(filepath.Join(dir, "requests.log"))
	if err != nil {
		t.Fatalf("OpenRequestLog() error = %v", err)
	}
	records, err := store.OpenRecordStore(filepath.Join(dir, "data.records"))
	if err != nil {
		t.Fatalf("OpenRecordStore() error = %v", err)
	}
	fetcher := &countingFetcher{next: fetch.NewClient(http.DefaultClient, fetch.WithLogger(quietLogger()))}

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := NewSession(template, fetcher, requests, records, opts...)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{session: s, fetcher: fetcher, requests: requests, records: records}
}

var personExtractor = document.NewRuleExtractor(model.ExtractRule{
	Item: "li.person",
	Fields: map[string]string{
		"name":    ".name",
		"profile": "a@href",
	},
})

func TestSession_BuildURL(t *testing.T) {
	t.Parallel()

	s, err := NewSession(model.Template{"http://example.test/people?q=", ""}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	got, err := s.BuildURL(model.Params{"ab"})
	if err != nil {
		t.Fatalf("BuildURL() error = %v", err)
	}
	if got != "http://example.test/people?q=ab" {
		t.Errorf("BuildURL() = %q", got)
	}

	if _, err := s.BuildURL(model.Params{"a", "b"}); !errors.Is(err, model.ErrArity) {
		t.Errorf("BuildURL() error = %v, want ErrArity", err)
	}
}

func TestNewSession_EmptyTemplate(t *testing.T) {
	t.Parallel()

	if _, err := NewSession(nil, nil, nil, nil); !errors.Is(err, model.ErrEmptyTemplate) {
		t.Errorf("NewSession() error = %v, want ErrEmptyTemplate", err)
	}
}

func TestSession_Scrape_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := peopleServer(t)
	f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

	first, err := f.session.Scrape(ctx, model.Params{"ab"}, personExtractor)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if first.Skipped || first.Records != 1 {
		t.Errorf("first Scrape() = %+v, want 1 record", first)
	}
	if first.URL != srv.URL+"/people?q=ab" {
		t.Errorf("URL = %q", first.URL)
	}

	done, err := f.requests.IsDone(ctx, model.Params{"ab"})
	if err != nil || !done {
		t.Fatalf("IsDone(ab) = %v, %v; want true", done, err)
	}

	second, err := f.session.Scrape(ctx, model.Params{"ab"}, personExtractor)
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if !second.Skipped || second.Records != 0 {
		t.Errorf("second Scrape() = %+v, want skipped", second)
	}
	if n := f.fetcher.calls.Load(); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}

	n, err := f.requests.Len(ctx)
	if err != nil || n != 1 {
		t.Errorf("request log Len() = %d, %v; want 1", n, err)
	}
	data, err := f.records.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("record log holds %d records, want 1", len(data))
	}
	if data[0]["name"] != "ab" || data[0]["profile"] != "/p/ab" {
		t.Errorf("record = %v", data[0])
	}
}

func TestSession_Fetch(t *testing.T) {
	t.Parallel()

	t.Run("second call is skipped", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		doc, err := f.session.Fetch(ctx, model.Params{"ab"}, "")
		if err != nil || doc == nil {
			t.Fatalf("Fetch() = %v, %v; want document", doc, err)
		}
		if got := doc.Text(".name"); got != "ab" {
			t.Errorf("name = %q, want ab", got)
		}

		doc, err = f.session.Fetch(ctx, model.Params{"ab"}, "")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if doc != nil {
			t.Error("second Fetch() returned a document, want nil")
		}
		if n := f.fetcher.calls.Load(); n != 1 {
			t.Errorf("fetched %d times, want 1", n)
		}
	})

	t.Run("override bypasses the request log", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		for range 2 {
			doc, err := f.session.Fetch(ctx, model.Params{"ab"}, srv.URL+"/people?q=zz")
			if err != nil || doc == nil {
				t.Fatalf("Fetch() = %v, %v; want document", doc, err)
			}
		}
		if n := f.fetcher.calls.Load(); n != 2 {
			t.Errorf("fetched %d times, want 2", n)
		}
		done, err := f.requests.IsDone(ctx, model.Params{"ab"})
		if err != nil || done {
			t.Errorf("IsDone(ab) = %v, %v; want false", done, err)
		}
	})

	t.Run("failure marker yields no document on either path", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""},
			WithFailureMarkers([]model.Marker{{Selector: "#captcha"}}))

		doc, err := f.session.Fetch(ctx, model.Params{"blocked"}, "")
		if !errors.Is(err, ErrFailurePage) || doc != nil {
			t.Errorf("Fetch() = %v, %v; want nil, ErrFailurePage", doc, err)
		}
		doc, err = f.session.Fetch(ctx, model.Params{"ab"}, srv.URL+"/people?q=blocked")
		if !errors.Is(err, ErrFailurePage) || doc != nil {
			t.Errorf("Fetch() with override = %v, %v; want nil, ErrFailurePage", doc, err)
		}
	})

	t.Run("wrong arity does no I/O", func(t *testing.T) {
		t.Parallel()

		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		if _, err := f.session.Fetch(context.Background(), model.Params{"a", "b"}, ""); !errors.Is(err, model.ErrArity) {
			t.Errorf("Fetch() error = %v, want ErrArity", err)
		}
		if n := f.fetcher.calls.Load(); n != 0 {
			t.Errorf("fetched %d times, want 0", n)
		}
	})

	t.Run("failed fetch stays eligible", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		if _, err := f.session.Fetch(ctx, model.Params{"down"}, ""); !errors.Is(err, fetch.ErrFetch) {
			t.Fatalf("Fetch() error = %v, want ErrFetch", err)
		}
		done, err := f.requests.IsDone(ctx, model.Params{"down"})
		if err != nil || done {
			t.Errorf("IsDone(down) = %v, %v; want false", done, err)
		}
	})
}

func TestSession_Markers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		opts    []Option
		wantErr error
	}{
		{
			name:    "failure marker",
			query:   "blocked",
			opts:    []Option{WithFailureMarkers([]model.Marker{{Selector: "#captcha"}})},
			wantErr: ErrFailurePage,
		},
		{
			name:    "missing success marker",
			query:   "empty",
			opts:    []Option{WithSuccessMarker(model.Marker{Selector: "#results"})},
			wantErr: ErrMissingSuccessMarker,
		},
		{
			name:  "success marker present",
			query: "ab",
			opts:  []Option{WithSuccessMarker(model.Marker{Selector: "#results"})},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			srv := peopleServer(t)
			f := newFixture(t, model.Template{srv.URL + "/people?q=", ""}, tt.opts...)

			_, err := f.session.Scrape(ctx, model.Params{tt.query}, personExtractor)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Scrape() error = %v, want %v", err, tt.wantErr)
			}
			done, err := f.requests.IsDone(ctx, model.Params{tt.query})
			if err != nil {
				t.Fatalf("IsDone() error = %v", err)
			}
			if done != (tt.wantErr == nil) {
				t.Errorf("IsDone() = %v, want %v", done, tt.wantErr == nil)
			}
		})
	}
}

func TestSession_Run(t *testing.T) {
	t.Parallel()

	t.Run("counts outcomes and resumes", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""},
			WithFailureMarkers([]model.Marker{{Selector: "#captcha"}}))

		params := []model.Params{{"ab"}, {"blocked"}, {"cd"}, {"down"}, {"ab"}}
		stats, err := f.session.Run(ctx, NewSliceSource(params), personExtractor)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.Attempted != 5 || stats.Fetched != 2 || stats.Failed != 2 || stats.Skipped != 1 || stats.Records != 2 {
			t.Errorf("stats = %+v", stats)
		}

		again, err := f.session.Run(ctx, NewSliceSource(params), personExtractor)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if again.Fetched != 0 || again.Skipped != 3 || again.Failed != 2 {
			t.Errorf("second run stats = %+v", again)
		}
	})

	t.Run("arity error stops the run", func(t *testing.T) {
		t.Parallel()

		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		params := []model.Params{{"ab"}, {"a", "b"}, {"cd"}}
		stats, err := f.session.Run(context.Background(), NewSliceSource(params), personExtractor)
		if !errors.Is(err, model.ErrArity) {
			t.Fatalf("Run() error = %v, want ErrArity", err)
		}
		if stats.Fetched != 1 {
			t.Errorf("Fetched = %d, want 1", stats.Fetched)
		}
	})

	t.Run("cancelled context stops the run", func(t *testing.T) {
		t.Parallel()

		srv := peopleServer(t)
		f := newFixture(t, model.Template{srv.URL + "/people?q=", ""})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.session.Run(ctx, NewSliceSource([]model.Params{{"ab"}}), personExtractor)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	})
}
