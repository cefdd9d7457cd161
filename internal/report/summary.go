package report

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nao1215/torcrawler/internal/store"
)

// Summary describes the persistent state of a crawl job and, after a
// crawl, the run that produced it.
type Summary struct {
	Generated time.Time `json:"generated"`

	// Template is the URL template joined with "{}" at each slot.
	Template string `json:"template,omitempty"`

	Backend        string    `json:"requestLogBackend"`
	RequestLogPath string    `json:"requestLogPath"`
	RequestsDone   int       `json:"requestsDone"`
	LastRequest    time.Time `json:"lastRequest,omitzero"`

	DataPath      string `json:"dataPath"`
	RawRecords    int    `json:"rawRecords"`
	UniqueRecords int    `json:"uniqueRecords"`

	ExportPath string `json:"exportPath"`
	Exported   bool   `json:"exported"`

	Run      *RunStats      `json:"run,omitempty"`
	Identity *IdentityStats `json:"identity,omitempty"`
}

// RunStats are the counters of one crawl run.
type RunStats struct {
	Attempted int           `json:"attempted"`
	Fetched   int           `json:"fetched"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Records   int           `json:"records"`
	Elapsed   time.Duration `json:"elapsed"`

	// Error is the reason the run stopped early, if it did.
	Error string `json:"error,omitempty"`
}

// IdentityStats describe the Tor identity at the end of a run.
type IdentityStats struct {
	Mode                  string `json:"mode"`
	State                 string `json:"state"`
	Address               string `json:"address,omitempty"`
	Rotations             int    `json:"rotations"`
	Exhaustions           int    `json:"exhaustions"`
	RequestsSinceRotation int    `json:"requestsSinceRotation"`
}

// Duplicates returns how many raw records repeat an earlier one.
func (s *Summary) Duplicates() int {
	return max(s.RawRecords-s.UniqueRecords, 0)
}

// TemplateString renders template fragments with "{}" marking each slot.
func TemplateString(fragments []string) string {
	return strings.Join(fragments, "{}")
}

// Collect builds a Summary by scanning the record log on disk. Neither
// store is modified.
func Collect(ctx context.Context, requests store.RequestLog, records *store.RecordStore, exportPath string) (*Summary, error) {
	done, err := requests.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	s := &Summary{
		Generated:    time.Now(),
		RequestsDone: done,
		DataPath:     records.Path(),
		ExportPath:   exportPath,
	}

	c, err := records.Cursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	seen := make(map[string]struct{})
	for c.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fp, err := c.Value().Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("failed to fingerprint record: %w", err)
		}
		s.RawRecords++
		seen[fp] = struct{}{}
	}
	if err := c.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	s.UniqueRecords = len(seen)

	if exportPath != "" {
		if _, err := os.Stat(exportPath); err == nil {
			s.Exported = true
		}
	}
	return s, nil
}
