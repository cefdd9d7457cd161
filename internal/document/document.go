// Package document wraps a fetched HTML page so that callers can query it
// with CSS selectors, test it against page markers and extract records.
package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/torcrawler/internal/model"
)

// Document is a parsed response body.
type Document struct {
	// URL is the URL the document was fetched from.
	URL string

	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Body is the raw response body, limited to the client's max body size.
	Body []byte

	dom *goquery.Document
}

// Parse parses body as HTML. Malformed markup is tolerated the same way a
// browser tolerates it; Parse only fails when the reader fails.
func Parse(url string, statusCode int, body []byte) (*Document, error) {
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document from %s: %w", url, err)
	}
	return &Document{
		URL:        url,
		StatusCode: statusCode,
		Body:       body,
		dom:        dom,
	}, nil
}

// Find returns the goquery selection for selector, for callers that need
// more than the helpers below.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.dom.Find(selector)
}

// Text returns the trimmed text of the first element matching selector,
// or "" when nothing matches.
func (d *Document) Text(selector string) string {
	return strings.TrimSpace(d.dom.Find(selector).First().Text())
}

// Title returns the page title.
func (d *Document) Title() string {
	return d.Text("title")
}

// Matches reports whether the document satisfies the marker.
// A zero marker never matches.
func (d *Document) Matches(m model.Marker) bool {
	if m.IsZero() {
		return false
	}
	sel := d.dom.Find(m.Selector)
	if sel.Length() == 0 {
		return false
	}
	if m.Contains == "" {
		return true
	}
	found := false
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), m.Contains) {
			found = true
			return false
		}
		return true
	})
	return found
}

// MatchesAny returns the first marker in markers that the document matches.
func (d *Document) MatchesAny(markers []model.Marker) (model.Marker, bool) {
	for _, m := range markers {
		if d.Matches(m) {
			return m, true
		}
	}
	return model.Marker{}, false
}
