package state

import (
	"io"

	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// RunLister handles run bookkeeping.
type RunLister interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	ListRuns(projectRoot string) ([]Run, error)
	SetRunStatus(id string, status RunStatus) error
}

// Migrator handles database schema migrations.
type Migrator interface {
	Migrate() error
}

// StateStore is the persistence surface used by the CLI.
type StateStore interface {
	io.Closer
	Migrator
	RunLister
	LoadSnapshot(id string) (*Snapshot, error)
}

// Snapshotter is what the engine calls after each mutation.
type Snapshotter interface {
	SavePhase(phase models.Phase) error
	SaveOwnership(rows []tree.Ownership) error
}

// Compile-time verification of the implementations.
var (
	_ StateStore         = (*DB)(nil)
	_ Snapshotter        = (*RunStore)(nil)
	_ docstore.Persister = (*RunStore)(nil)
)
