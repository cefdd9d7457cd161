package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torcrawler/internal/model"
)

// FileName is the database file created inside the request log directory.
const FileName = "requests.db"

// RequestDB is a request log stored in SQLite.
type RequestDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures RequestDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so readers do not block the
	// writer.
	EnableWAL bool

	// BusyTimeout is how long a writer waits for a lock held by another
	// process before failing.
	BusyTimeout time.Duration
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		BusyTimeout:       5 * time.Second,
	}
}

// Open opens or creates a RequestDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*RequestDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RequestDB{
		db:     db,
		dbPath: dbPath,
	}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if opts.BusyTimeout > 0 {
		pragma := fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds())
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if err := rdb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Path returns the database file path.
func (rdb *RequestDB) Path() string {
	return rdb.dbPath
}

// Close closes the database connection.
func (rdb *RequestDB) Close() error {
	return rdb.db.Close()
}

func (rdb *RequestDB) createTables(ctx context.Context) error {
	schema := `
	-- One row per performed params tuple
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		params_key TEXT NOT NULL,
		params TEXT NOT NULL,
		done_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(params_key)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_done_at ON requests(done_at);
	`

	_, err := rdb.db.ExecContext(ctx, schema)
	return err
}

// IsDone reports whether params has been recorded.
func (rdb *RequestDB) IsDone(ctx context.Context, params model.Params) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	query := `SELECT 1 FROM requests WHERE params_key = ?`

	var one int
	err := rdb.db.QueryRowContext(ctx, query, params.Key()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up request: %w", err)
	}
	return true, nil
}

// MarkDone records params if absent and reports whether this call
// inserted it. The check and the insert are a single statement.
func (rdb *RequestDB) MarkDone(ctx context.Context, params model.Params) (bool, error) {
	if err := params.Validate(); err != nil {
		return false, err
	}
	key := params.Key()
	query := `
	INSERT INTO requests (params_key, params)
	VALUES (?, ?)
	ON CONFLICT(params_key) DO NOTHING
	`

	result, err := rdb.db.ExecContext(ctx, query, key, key)
	if err != nil {
		return false, fmt.Errorf("failed to record request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// Len returns the number of recorded params tuples.
func (rdb *RequestDB) Len(ctx context.Context) (int, error) {
	var n int
	if err := rdb.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

// Entry is one recorded request.
type Entry struct {
	ID     int64
	Params model.Params
	DoneAt time.Time
}

// Entries returns every recorded request in insertion order.
func (rdb *RequestDB) Entries(ctx context.Context) ([]Entry, error) {
	query := `SELECT id, params, done_at FROM requests ORDER BY id`

	rows, err := rdb.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			raw    string
			doneAt string
		)
		if err := rows.Scan(&e.ID, &raw, &doneAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params %q: %w", raw, err)
		}
		e.DoneAt = parseTimestamp(doneAt)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// LastDone returns the time of the most recent MarkDone, or the zero time
// when nothing is recorded.
func (rdb *RequestDB) LastDone(ctx context.Context) (time.Time, error) {
	var doneAt sql.NullString
	err := rdb.db.QueryRowContext(ctx, `SELECT MAX(done_at) FROM requests`).Scan(&doneAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last request time: %w", err)
	}
	if !doneAt.Valid {
		return time.Time{}, nil
	}
	return parseTimestamp(doneAt.String), nil
}

// timestampFormats contains the timestamp formats that SQLite may return.
// More specific formats come first.
var timestampFormats = []string{
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	time.RFC3339,              // Full RFC3339 format
	time.RFC3339Nano,          // RFC3339 with nanoseconds
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp tries each known format and returns the zero time if
// none match.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
