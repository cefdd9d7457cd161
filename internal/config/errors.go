package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTemplate is returned when baseUrlTemplate is missing or empty.
	ErrNoTemplate = errors.New("no baseUrlTemplate specified")

	// ErrEmptyPath is returned when dataPath, requestLogPath or exportPath is empty.
	ErrEmptyPath = errors.New("dataPath, requestLogPath and exportPath must not be empty")

	// ErrInvalidBackend is returned for an unknown requestLogBackend.
	ErrInvalidBackend = errors.New("invalid requestLogBackend: must be file or sqlite")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	// Use 0 for no delay between requests.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidRotationBackoff is returned when the rotation backoff is negative.
	ErrInvalidRotationBackoff = errors.New("invalid rotation backoff: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidRequestsPerIdentity is returned when the quota is below one.
	ErrInvalidRequestsPerIdentity = errors.New("invalid requestsPerIdentity: must be at least 1")

	// ErrInvalidMarker is returned when a marker has no selector.
	ErrInvalidMarker = errors.New("invalid marker: selector is required")

	// ErrInvalidCombinations is returned when combinations are incomplete or
	// the template does not have exactly one slot.
	ErrInvalidCombinations = errors.New("invalid combinations: need alphabet, length >= 1 and a single-slot template")

	// ErrConflictingParams is returned when more than one of params,
	// paramsFile and combinations is set.
	ErrConflictingParams = errors.New("conflicting params sources: use only one of params, paramsFile, combinations")
)
