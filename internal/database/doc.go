// Package database provides the SQLite request log for torcrawler.
//
// RequestDB records performed params tuples in a single table keyed by
// their canonical encoding. Unlike the file log, MarkDone is one
// INSERT ... ON CONFLICT DO NOTHING statement, so the check and the append
// happen atomically and several crawler processes can share one database.
//
// SQLite is provided by modernc.org/sqlite, a CGO-free driver.
package database
