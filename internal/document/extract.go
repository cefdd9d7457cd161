package document

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nao1215/torcrawler/internal/model"
)

// Extractor turns a fetched document into records.
// Implementations are supplied by the caller of the crawler.
type Extractor interface {
	Extract(doc *Document) ([]model.Datum, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(doc *Document) ([]model.Datum, error)

// Extract calls f(doc).
func (f ExtractorFunc) Extract(doc *Document) ([]model.Datum, error) {
	return f(doc)
}

// RuleExtractor extracts records with a CSS selector rule.
type RuleExtractor struct {
	rule model.ExtractRule
}

// NewRuleExtractor returns an Extractor for rule.
func NewRuleExtractor(rule model.ExtractRule) *RuleExtractor {
	return &RuleExtractor{rule: rule}
}

// Extract returns one Datum per element matched by the rule's Item selector.
// Items whose fields are all empty are skipped.
func (e *RuleExtractor) Extract(doc *Document) ([]model.Datum, error) {
	item := e.rule.Item
	if item == "" {
		item = "html"
	}

	records := make([]model.Datum, 0)
	doc.Find(item).Each(func(_ int, s *goquery.Selection) {
		datum := make(model.Datum, len(e.rule.Fields))
		empty := true
		for field, selector := range e.rule.Fields {
			v := fieldValue(s, selector)
			if v != "" {
				empty = false
			}
			datum[field] = v
		}
		if !empty {
			records = append(records, datum)
		}
	})
	return records, nil
}

// fieldValue evaluates selector relative to s. "sel@attr" reads an
// attribute; "@attr" reads an attribute of s itself.
func fieldValue(s *goquery.Selection, selector string) string {
	sel, attr, hasAttr := strings.Cut(selector, "@")
	target := s
	if strings.TrimSpace(sel) != "" {
		target = s.Find(sel).First()
	}
	if hasAttr {
		v, _ := target.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(target.Text())
}
