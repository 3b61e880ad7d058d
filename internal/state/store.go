package state

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// RunStore snapshots one run. It satisfies the engine's snapshotter and the
// documentation store's persister.
type RunStore struct {
	db    *DB
	runID string
}

// NewRunStore binds a store to runID. The run must already exist.
func NewRunStore(db *DB, runID string) *RunStore {
	return &RunStore{db: db, runID: runID}
}

// RunID returns the bound run.
func (s *RunStore) RunID() string {
	return s.runID
}

// SavePhase records the run's current phase. Completing a run also marks it
// completed.
func (s *RunStore) SavePhase(phase models.Phase) error {
	if err := s.db.SetRunPhase(s.runID, phase); err != nil {
		return err
	}
	if phase.Terminal() {
		return s.db.SetRunStatus(s.runID, RunCompleted)
	}
	return nil
}

// SaveOwnership replaces the run's ownership map.
func (s *RunStore) SaveOwnership(rows []tree.Ownership) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM ownership WHERE run_id = ?`, s.runID); err != nil {
			return fmt.Errorf("clear ownership: %w", err)
		}
		for i, o := range rows {
			var parent any
			if o.ParentID != "" {
				parent = o.ParentID
			}
			_, err := tx.Exec(`
				INSERT INTO ownership (run_id, node_id, role, scope, parent_id, position)
				VALUES (?, ?, ?, ?, ?, ?)
			`, s.runID, o.NodeID, string(o.Role), o.Scope, parent, i)
			if err != nil {
				return fmt.Errorf("save ownership of %s: %w", o.NodeID, err)
			}
		}
		return nil
	})
}

// SaveDocumentation stores a committed documentation version.
func (s *RunStore) SaveDocumentation(snap docstore.Snapshot) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO documentation (run_id, version, content, updated_at)
		VALUES (?, ?, ?, ?)
	`, s.runID, snap.Version, snap.Content, formatTime(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save documentation v%d: %w", snap.Version, err)
	}
	return nil
}

// MirrorPath is where the documentation mirror of a project lives.
func MirrorPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".arbor", "documentation.md")
}
