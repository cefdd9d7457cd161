// Package crawler drives a resumable crawl over a URL template.
//
// A Session builds one URL per params tuple, skips tuples the request log
// already holds, fetches the rest through the proxied client, hands each
// page to an extractor and persists the records. A tuple is marked done
// only after its page was fetched, checked against the configured markers
// and its records were appended, so a crash or a failed request leaves it
// eligible for the next run.
//
// # Usage
//
//	s, err := crawler.NewSession(template, client, requests, records,
//		crawler.WithFailureMarkers(markers))
//	stats, err := s.Run(ctx, crawler.NewSliceSource(params), extractor)
//
// One Session is one logical worker. The request log and record store are
// single-writer unless the request log is the SQLite backend.
package crawler
