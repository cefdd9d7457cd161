package store

import "errors"

var (
	// ErrSchema is returned by ExportCSV when records do not all share the
	// field names of the first record.
	ErrSchema = errors.New("records have heterogeneous fields")

	// ErrNoRecords is returned by ExportCSV when there is nothing to export.
	ErrNoRecords = errors.New("no records to export")

	// ErrCorruptFrame is returned when a complete frame cannot be decoded.
	ErrCorruptFrame = errors.New("corrupt log frame")
)
