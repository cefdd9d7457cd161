package crawler

import "errors"

var (
	// ErrFailurePage is returned when a fetched page matches a failure marker.
	ErrFailurePage = errors.New("page matched a failure marker")

	// ErrMissingSuccessMarker is returned when a success marker is configured
	// and the fetched page does not match it.
	ErrMissingSuccessMarker = errors.New("page is missing the success marker")

	// ErrExtract wraps an extractor failure.
	ErrExtract = errors.New("extraction failed")

	// ErrNoRecordStore is returned by Scrape when the session has no record store.
	ErrNoRecordStore = errors.New("session has no record store")
)
