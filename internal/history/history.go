// Package history records analysis runs in SQLite so results can be listed
// and reused for identical uploads.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// ErrNotFound is returned by Get for unknown IDs.
var ErrNotFound = errors.New("run not found")

// Entry is one recorded run.
type Entry struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	DatasetHash string `json:"dataset_hash"`
	Revision    string `json:"revision"`
	// RunKey identifies how the script was invoked (script, interpreter, arguments).
	RunKey        string        `json:"run_key,omitempty"`
	Status        string        `json:"status"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	BestColumn    string        `json:"best_column,omitempty"`
	RelationCount int           `json:"relation_count"`
	Stdout        string        `json:"-"`
	Duration      time.Duration `json:"duration_ns"`
	Reused        bool          `json:"reused"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Store is a SQLite-backed run log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    dataset_hash TEXT NOT NULL,
    revision TEXT NOT NULL,
    status TEXT NOT NULL,
    error_kind TEXT NOT NULL DEFAULT '',
    best_column TEXT NOT NULL DEFAULT '',
    relation_count INTEGER NOT NULL DEFAULT 0,
    stdout TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reused INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    run_key TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_created ON runs(created_at);`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	// Databases created before run_key existed get the column added.
	has, err := hasColumn(db, "runs", "run_key")
	if err != nil {
		return err
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE runs ADD COLUMN run_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return err
		}
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS runs_reuse_key ON runs(dataset_hash, revision, run_key, status)`)
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info('` + table + `')`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts e. Failed runs never keep stdout.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Status != StatusOK {
		e.Stdout = ""
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (
    id, filename, dataset_hash, revision, status, error_kind,
    best_column, relation_count, stdout, duration_ms, reused, created_at, run_key
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Filename, e.DatasetHash, e.Revision, e.Status, e.ErrorKind,
		e.BestColumn, e.RelationCount, e.Stdout, e.Duration.Milliseconds(),
		boolToInt(e.Reused), e.CreatedAt.UTC().UnixNano(), e.RunKey,
	)
	if err != nil {
		return fmt.Errorf("history: insert %s: %w", e.ID, err)
	}
	return nil
}

const columns = `id, filename, dataset_hash, revision, status, error_kind,
    best_column, relation_count, stdout, duration_ms, reused, created_at, run_key`

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs WHERE id = ?`, id)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// FindReusable returns the newest successful run for the same dataset
// content, artifact revision and run key. ok is false when none exists.
func (s *Store) FindReusable(ctx context.Context, hash, revision, runKey string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM runs
WHERE dataset_hash = ? AND revision = ? AND run_key = ? AND status = ? AND stdout != ''
ORDER BY created_at DESC LIMIT 1`, hash, revision, runKey, StatusOK)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(sc scanner) (Entry, error) {
	var (
		e       Entry
		durMS   int64
		reused  int
		created int64
	)
	err := sc.Scan(&e.ID, &e.Filename, &e.DatasetHash, &e.Revision, &e.Status, &e.ErrorKind,
		&e.BestColumn, &e.RelationCount, &e.Stdout, &durMS, &reused, &created, &e.RunKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("history: scan: %w", err)
	}
	e.Duration = time.Duration(durMS) * time.Millisecond
	e.Reused = reused != 0
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
