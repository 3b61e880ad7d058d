package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStatus represents the lifecycle of a run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run is one arbor run over a project.
type Run struct {
	ID          string       `json:"id"`
	ProjectRoot string       `json:"project_root"`
	Phase       models.Phase `json:"phase"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Snapshot is everything needed to resume a run.
type Snapshot struct {
	Run           Run
	Documentation docstore.Snapshot
	Ownership     []tree.Ownership
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(r *Run) error {
	now := time.Now()
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = RunActive
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, project_root, phase, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ProjectRoot, string(r.Phase), string(r.Status), formatTime(r.StartedAt), formatTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, project_root, phase, status, started_at, updated_at
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the runs of projectRoot, newest first. An empty
// projectRoot lists every run.
func (db *DB) ListRuns(projectRoot string) ([]Run, error) {
	query := `SELECT id, project_root, phase, status, started_at, updated_at FROM runs`
	var args []any
	if projectRoot != "" {
		query += ` WHERE project_root = ?`
		args = append(args, projectRoot)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// SetRunStatus updates a run's status.
func (db *DB) SetRunStatus(id string, status RunStatus) error {
	return db.touch(id, `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`, string(status))
}

// SetRunPhase updates a run's phase.
func (db *DB) SetRunPhase(id string, phase models.Phase) error {
	return db.touch(id, `UPDATE runs SET phase = ?, updated_at = ? WHERE id = ?`, string(phase))
}

func (db *DB) touch(id, query, value string) error {
	result, err := db.Exec(query, value, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Interrupted returns the active runs of projectRoot, newest first. A run
// stays active when the process exits without the human approving completion.
func (db *DB) Interrupted(projectRoot string) ([]Run, error) {
	runs, err := db.ListRuns(projectRoot)
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, r := range runs {
		if r.Status == RunActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteRun removes a run and its snapshots.
func (db *DB) DeleteRun(id string) error {
	if _, err := db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// LoadSnapshot reads the latest documentation and the ownership map of a run.
func (db *DB) LoadSnapshot(id string) (*Snapshot, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Run: *run}

	var updated string
	row := db.QueryRow(`
		SELECT version, content, updated_at FROM documentation
		WHERE run_id = ? ORDER BY version DESC LIMIT 1
	`, id)
	err = row.Scan(&snap.Documentation.Version, &snap.Documentation.Content, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load documentation: %w", err)
	default:
		snap.Documentation.UpdatedAt, _ = parseTime(updated)
	}

	rows, err := db.Query(`
		SELECT node_id, role, scope, parent_id FROM ownership
		WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load ownership: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o tree.Ownership
		var parent sql.NullString
		if err := rows.Scan(&o.NodeID, &o.Role, &o.Scope, &parent); err != nil {
			return nil, fmt.Errorf("scan ownership: %w", err)
		}
		o.ParentID = parent.String
		snap.Ownership = append(snap.Ownership, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load ownership: %w", err)
	}
	return snap, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var started, updated string
	if err := s.Scan(&r.ID, &r.ProjectRoot, &r.Phase, &r.Status, &started, &updated); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(started)
	r.UpdatedAt, _ = parseTime(updated)
	return &r, nil
}
