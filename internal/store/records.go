package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/torcrawler/internal/model"
)

func decodeDatum(b []byte) (model.Datum, error) {
	var d model.Datum
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if d == nil {
		d = model.Datum{}
	}
	return d, nil
}

// RecordStore is an append-only log of scraped records with an in-memory
// working set. Append writes through to disk; LoadAll, Deduplicate and
// Rewrite operate on the working set.
type RecordStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	records []model.Datum
	clean   bool
}

// RecordStoreOption configures a RecordStore.
type RecordStoreOption func(*RecordStore)

// WithRecordStoreLogger sets the logger.
func WithRecordStoreLogger(logger *slog.Logger) RecordStoreOption {
	return func(s *RecordStore) {
		s.logger = logger
	}
}

// OpenRecordStore opens the record log at path. The working set starts
// empty; call LoadAll to read the file.
func OpenRecordStore(path string, opts ...RecordStoreOption) (*RecordStore, error) {
	s := &RecordStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	repaired, err := repairTail(path)
	if err != nil {
		return nil, err
	}
	if repaired {
		s.logger.Warn("dropped incomplete record at end of record log", "path", path)
	}
	return s, nil
}

// Path returns the record log path.
func (s *RecordStore) Path() string {
	return s.path
}

// Append writes one record to disk and adds it to the working set.
// Duplicates are not detected here.
func (s *RecordStore) Append(d model.Datum) error {
	payload, err := d.Canonical()
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendFrame(s.path, payload); err != nil {
		return err
	}
	s.records = append(s.records, d)
	s.clean = false
	return nil
}

// Cursor returns a lazy iterator over the records on disk in file order.
func (s *RecordStore) Cursor() (*Cursor[model.Datum], error) {
	return openCursor(s.path, decodeDatum)
}

// LoadAll replaces the working set with every record on disk, in file
// order, and returns it. A missing file loads as empty.
func (s *RecordStore) LoadAll() ([]model.Datum, error) {
	c, err := s.Cursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var records []model.Datum
	for c.Next() {
		records = append(records, c.Value())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.clean = false
	return cloneRecords(records), nil
}

// Records returns a copy of the working set.
func (s *RecordStore) Records() []model.Datum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.records)
}

// Len returns the size of the working set.
func (s *RecordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Deduplicate reduces the working set so no two records are content
// equal. The first occurrence of each record is kept. The file on disk is
// not changed; call Rewrite to persist the result. It returns the number
// of records removed.
func (s *RecordStore) Deduplicate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.records))
	kept := make([]model.Datum, 0, len(s.records))
	for _, d := range s.records {
		fp, err := d.Fingerprint()
		if err != nil {
			return 0, fmt.Errorf("failed to fingerprint record: %w", err)
		}
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		kept = append(kept, d)
	}

	removed := len(s.records) - len(kept)
	s.records = kept
	s.clean = true
	return removed, nil
}

// Rewrite atomically replaces the file on disk with the working set.
func (s *RecordStore) Rewrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloads := make([][]byte, 0, len(s.records))
	for _, d := range s.records {
		b, err := d.Canonical()
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		payloads = append(payloads, b)
	}
	return writeFrames(s.path, payloads)
}

// Close releases the working set.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

func cloneRecords(records []model.Datum) []model.Datum {
	out := make([]model.Datum, len(records))
	copy(out, records)
	return out
}
