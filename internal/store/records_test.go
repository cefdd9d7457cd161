package store

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/nao1215/torcrawler/internal/model"
)

func openTestStore(t *testing.T) *RecordStore {
	t.Helper()

	s, err := OpenRecordStore(filepath.Join(t.TempDir(), "data.records"))
	if err != nil {
		t.Fatalf("failed to open record store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendAll(t *testing.T, s *RecordStore, records ...model.Datum) {
	t.Helper()

	for _, d := range records {
		if err := s.Append(d); err != nil {
			t.Fatalf("Append(%v) error = %v", d, err)
		}
	}
}

func TestRecordStore_LoadAll(t *testing.T) {
	t.Parallel()

	t.Run("missing file loads empty", func(t *testing.T) {
		t.Parallel()

		s := openTestStore(t)
		got, err := s.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("LoadAll() returned %d records, want 0", len(got))
		}
	})

	t.Run("reads back in file order", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "data.records")
		s, err := OpenRecordStore(path)
		if err != nil {
			t.Fatalf("OpenRecordStore() error = %v", err)
		}
		appendAll(t, s,
			model.Datum{"name": "alice"},
			model.Datum{"name": "bob"},
			model.Datum{"name": "alice"},
		)

		fresh, err := OpenRecordStore(path)
		if err != nil {
			t.Fatalf("OpenRecordStore() error = %v", err)
		}
		got, err := fresh.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}

		want := []string{"alice", "bob", "alice"}
		if len(got) != len(want) {
			t.Fatalf("LoadAll() returned %d records, want %d", len(got), len(want))
		}
		for i, d := range got {
			if d["name"] != want[i] {
				t.Errorf("record %d name = %q, want %q", i, d["name"], want[i])
			}
		}
	})
}

func TestRecordStore_Deduplicate(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	appendAll(t, s,
		model.Datum{"a": "1", "b": "2"},
		model.Datum{"b": "2", "a": "1"},
		model.Datum{"a": "1", "b": "3"},
	)

	removed, err := s.Deduplicate()
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Deduplicate() removed %d, want 1", removed)
	}

	got := s.Records()
	if len(got) != 2 {
		t.Fatalf("got %d records after Deduplicate(), want 2", len(got))
	}
	bs := []string{got[0]["b"], got[1]["b"]}
	slices.Sort(bs)
	if !slices.Equal(bs, []string{"2", "3"}) {
		t.Errorf("distinct b values = %v, want [2 3]", bs)
	}

	// The durable log is untouched until Rewrite.
	onDisk, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(onDisk) != 3 {
		t.Errorf("log holds %d records before Rewrite, want 3", len(onDisk))
	}

	if _, err := s.Deduplicate(); err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if err := s.Rewrite(); err != nil {
		t.Fatalf("Rewrite() error = %v", err)
	}
	onDisk, err = s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(onDisk) != 2 {
		t.Errorf("log holds %d records after Rewrite, want 2", len(onDisk))
	}
}

func TestRecordStore_Cursor(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	appendAll(t, s, model.Datum{"n": "1"}, model.Datum{"n": "2"})

	for pass := range 2 {
		c, err := s.Cursor()
		if err != nil {
			t.Fatalf("Cursor() error = %v", err)
		}
		var got []string
		for c.Next() {
			got = append(got, c.Value()["n"])
		}
		if err := c.Err(); err != nil {
			t.Fatalf("cursor error = %v", err)
		}
		_ = c.Close()

		if !slices.Equal(got, []string{"1", "2"}) {
			t.Errorf("pass %d: got %v, want [1 2]", pass, got)
		}
	}
}

func TestRecordStore_CorruptFrame(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.records")
	if err := os.WriteFile(path, encodeFrame([]byte("not json")), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	s, err := OpenRecordStore(path)
	if err != nil {
		t.Fatalf("OpenRecordStore() error = %v", err)
	}
	if _, err := s.LoadAll(); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("LoadAll() error = %v, want ErrCorruptFrame", err)
	}
}

func TestRecordStore_ExportCSV(t *testing.T) {
	t.Parallel()

	t.Run("writes deduplicated rows", func(t *testing.T) {
		t.Parallel()

		s := openTestStore(t)
		appendAll(t, s,
			model.Datum{"name": "alice", "City": "Oslo"},
			model.Datum{"name": "alice", "City": "Oslo"},
			model.Datum{"name": "bob", "City": "Rome"},
		)

		out := filepath.Join(t.TempDir(), "out", "data.csv")
		n, err := s.ExportCSV(out)
		if err != nil {
			t.Fatalf("ExportCSV() error = %v", err)
		}
		if n != 2 {
			t.Errorf("ExportCSV() wrote %d rows, want 2", n)
		}

		f, err := os.Open(out)
		if err != nil {
			t.Fatalf("failed to open csv: %v", err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("failed to read csv: %v", err)
		}

		want := [][]string{
			{"City", "name"},
			{"Oslo", "alice"},
			{"Rome", "bob"},
		}
		if len(rows) != len(want) {
			t.Fatalf("csv has %d rows, want %d", len(rows), len(want))
		}
		for i := range want {
			if !slices.Equal(rows[i], want[i]) {
				t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
			}
		}
	})

	t.Run("heterogeneous fields", func(t *testing.T) {
		t.Parallel()

		s := openTestStore(t)
		appendAll(t, s,
			model.Datum{"a": "1", "b": "2"},
			model.Datum{"a": "1", "c": "3"},
		)

		out := filepath.Join(t.TempDir(), "data.csv")
		if _, err := s.ExportCSV(out); !errors.Is(err, ErrSchema) {
			t.Fatalf("ExportCSV() error = %v, want ErrSchema", err)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Error("ExportCSV() created the file despite a schema error")
		}
	})

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()

		s := openTestStore(t)
		if _, err := s.ExportCSV(filepath.Join(t.TempDir(), "data.csv")); !errors.Is(err, ErrNoRecords) {
			t.Errorf("ExportCSV() error = %v, want ErrNoRecords", err)
		}
	})
}
