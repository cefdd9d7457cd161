// Package store provides the append-only, crash-safe logs that let a crawl
// be killed and resumed: the request log (params tuples already fetched)
// and the record store (data already scraped).
//
// Both logs share one on-disk format: a sequence of frames, each a 4-byte
// big-endian payload length followed by a JSON payload. The format supports
// full replay from the start, append without rewriting earlier frames, and
// treats a missing file as an empty log. A frame cut short by a crash is
// dropped when the log is reopened.
//
// The file logs assume a single writer. Calls from goroutines of the same
// process are serialized, but two processes appending to the same file can
// both record a params tuple. Use the sqlite backend in package database
// when several writers share a crawl.
package store
