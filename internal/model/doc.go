// Package model defines the data types shared by the crawler packages.
//
// This package contains the following main types:
//   - Params: the substitution values for one request (a params tuple)
//   - Template: the URL fragments that params are interleaved with
//   - Datum: one scraped record, a mapping from field name to value
//   - Marker: a CSS selector query that identifies a kind of page
//   - ExtractRule: the selectors used to turn a page into records
//
// The types live in their own package so that config, document, store and
// crawler can share them without import cycles.
package model
