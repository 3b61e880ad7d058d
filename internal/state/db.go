// Package state persists run snapshots for arbor.
// Each project keeps its runs in .arbor/state.db so an interrupted run can
// be resumed with its phase, documentation and ownership map.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the project state database. Reads share a lock; writes and
// transactions hold it exclusively.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectDBPath returns where the state database of projectRoot lives.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".arbor", "state.db")
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

// Open opens the database at path, creating its directory. The schema is
// not touched; call Migrate or use OpenProject.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("state: create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	// foreign_keys is per connection, so keep exactly one.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("state: %s: %w", p, err)
		}
	}
	return &DB{conn: conn, path: path}, nil
}

// OpenProject opens and migrates the database of projectRoot.
func OpenProject(projectRoot string) (*DB, error) {
	db, err := Open(ProjectDBPath(projectRoot))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// schema lists every migration in order. Entries are append-only: a
// released version is never edited.
var schema = []string{
	1: `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	project_root TEXT NOT NULL,
	phase        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	started_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_project_root ON runs(project_root);
`,
	2: `
CREATE TABLE IF NOT EXISTS documentation (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	version    INTEGER NOT NULL,
	content    TEXT NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, version)
);
`,
	3: `
CREATE TABLE IF NOT EXISTS ownership (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	node_id   TEXT NOT NULL,
	role      TEXT NOT NULL,
	scope     TEXT NOT NULL,
	parent_id TEXT,
	position  INTEGER NOT NULL,
	PRIMARY KEY (run_id, node_id)
);
`,
}

// Migrate brings the schema up to the latest version. Each version is
// applied and recorded in its own transaction.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("state: create schema_version: %w", err)
	}

	var applied int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("state: read schema version: %w", err)
	}

	for version := applied + 1; version < len(schema); version++ {
		stmt := schema[version]
		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("state: migrate to v%d: %w", version, err)
		}
	}
	return nil
}

func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, rolling back if fn fails.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Timestamps are stored as RFC 3339 text in UTC so they sort lexically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// PurgeFinishedRuns deletes every run that is no longer active and was last
// touched before olderThan, along with its documentation and ownership rows.
func (db *DB) PurgeFinishedRuns(olderThan time.Duration) (int64, error) {
	res, err := db.Exec(`DELETE FROM runs WHERE status != ? AND updated_at < ?`,
		string(RunActive), formatTime(time.Now().Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("state: purge runs: %w", err)
	}
	return res.RowsAffected()
}
