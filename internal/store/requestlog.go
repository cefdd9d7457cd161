package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nao1215/torcrawler/internal/model"
)

// RequestLog records which params tuples have already been fetched.
// MarkDone returns true only when the tuple was newly recorded.
type RequestLog interface {
	IsDone(ctx context.Context, params model.Params) (bool, error)
	MarkDone(ctx context.Context, params model.Params) (bool, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// requestEntry is the JSON payload of one request log frame.
type requestEntry struct {
	Params model.Params `json:"params"`
}

func decodeRequest(b []byte) (model.Params, error) {
	var e requestEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	if e.Params == nil {
		e.Params = model.Params{}
	}
	return e.Params, nil
}

// FileRequestLog is a RequestLog backed by an append-only frame file.
type FileRequestLog struct {
	path   string
	logger *slog.Logger

	// mu serializes the check-then-append in MarkDone.
	mu sync.Mutex
}

// RequestLogOption configures a FileRequestLog.
type RequestLogOption func(*FileRequestLog)

// WithRequestLogLogger sets the logger.
func WithRequestLogLogger(logger *slog.Logger) RequestLogOption {
	return func(l *FileRequestLog) {
		l.logger = logger
	}
}

// OpenRequestLog opens the request log at path. The file does not need to
// exist; it is created on the first MarkDone. A partial frame left by a
// crash is dropped.
func OpenRequestLog(path string, opts ...RequestLogOption) (*FileRequestLog, error) {
	l := &FileRequestLog{path: path}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	repaired, err := repairTail(path)
	if err != nil {
		return nil, err
	}
	if repaired {
		l.logger.Warn("dropped incomplete entry at end of request log", "path", path)
	}
	return l, nil
}

// Path returns the log file path.
func (l *FileRequestLog) Path() string {
	return l.path
}

// Entries returns a cursor over every entry in file order, duplicates included.
func (l *FileRequestLog) Entries() (*Cursor[model.Params], error) {
	return openCursor(l.path, decodeRequest)
}

// IsDone scans the log from the start and reports whether params is in it.
// A missing log file means nothing is done yet.
func (l *FileRequestLog) IsDone(ctx context.Context, params model.Params) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	c, err := l.Entries()
	if err != nil {
		return false, err
	}
	defer c.Close()

	for c.Next() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if c.Value().Equal(params) {
			return true, nil
		}
	}
	return false, c.Err()
}

// MarkDone appends params unless it is already recorded. It returns true
// if this call recorded it. The entry is synced to disk before returning.
func (l *FileRequestLog) MarkDone(ctx context.Context, params model.Params) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	done, err := l.IsDone(ctx, params)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	payload, err := json.Marshal(requestEntry{Params: params})
	if err != nil {
		return false, fmt.Errorf("failed to encode request entry: %w", err)
	}
	if err := appendFrame(l.path, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Len returns the number of distinct params tuples in the log.
func (l *FileRequestLog) Len(ctx context.Context) (int, error) {
	c, err := l.Entries()
	if err != nil {
		return 0, err
	}
	defer c.Close()

	seen := make(map[string]struct{})
	for c.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		seen[c.Value().Key()] = struct{}{}
	}
	return len(seen), c.Err()
}

// Close is a no-op; every operation opens and closes the file itself.
func (l *FileRequestLog) Close() error {
	return nil
}

// ensureParentDir creates the directory that will hold path.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
