package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nao1215/torcrawler/internal/model"
)

// ExportCSV writes the working set to path as CSV. The working set is
// deduplicated first if that has not happened since the last change.
// The header is the field names of the first record. Every record must
// have exactly those fields, otherwise ErrSchema is returned and path is
// left untouched.
func (s *RecordStore) ExportCSV(path string) (int, error) {
	s.mu.Lock()
	clean := s.clean
	s.mu.Unlock()
	if !clean {
		if _, err := s.Deduplicate(); err != nil {
			return 0, err
		}
	}

	records := s.Records()
	if len(records) == 0 {
		return 0, ErrNoRecords
	}

	header := headerOf(records[0])
	for i, d := range records[1:] {
		if !d.SameKeys(records[0]) {
			return 0, fmt.Errorf("%w: record %d has fields %v, want %v", ErrSchema, i+1, d.Keys(), header)
		}
	}

	if err := writeCSV(path, header, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// headerOf returns the field names of d in collation order.
func headerOf(d model.Datum) []string {
	header := d.Keys()
	c := collate.New(language.Und, collate.IgnoreCase)
	slices.SortStableFunc(header, c.CompareString)
	return header
}

func writeCSV(path string, header []string, records []model.Datum) error {
	if err := ensureParentDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		return fail(fmt.Errorf("failed to write header: %w", err))
	}
	row := make([]string, len(header))
	for _, d := range records {
		for i, k := range header {
			row[i] = d[k]
		}
		if err := w.Write(row); err != nil {
			return fail(fmt.Errorf("failed to write row: %w", err))
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fail(fmt.Errorf("failed to flush csv: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync csv: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close csv: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move csv into place: %w", err)
	}
	return nil
}
