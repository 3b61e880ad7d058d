package orchestrator

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	iexec "github.com/ShayCichocki/arbor/internal/exec"
	"github.com/ShayCichocki/arbor/internal/oracle"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/internal/protect"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// RequiredConfig contains the configuration every Engine needs.
type RequiredConfig struct {
	// Root is the project directory the tree works on.
	Root string
	// Oracle decides each worker's next action.
	Oracle oracle.Oracle
	// Approver answers the Coordinator's termination requests.
	Approver approval.Approver
}

// Snapshotter persists engine state for resume.
type Snapshotter interface {
	SavePhase(phase models.Phase) error
	SaveOwnership(rows []tree.Ownership) error
}

// ResumeState is a previously snapshotted run.
type ResumeState struct {
	Phase         models.Phase
	Documentation docstore.Snapshot
	Ownership     []tree.Ownership
}

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

type engineOptions struct {
	policy      *policy.Config
	logger      *zap.Logger
	runner      iexec.CommandRunner
	detector    *protect.Detector
	snapshotter Snapshotter
	persisters  []docstore.Persister
	scratchDir  string
	resume      *ResumeState
	runID       string
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *engineOptions) { o.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithRunner sets the command runner used by the sandbox.
func WithRunner(r iexec.CommandRunner) Option {
	return func(o *engineOptions) { o.runner = r }
}

// WithDetector sets the tracked/sensitive path detector.
func WithDetector(d *protect.Detector) Option {
	return func(o *engineOptions) { o.detector = d }
}

// WithSnapshotter persists phase and ownership changes.
func WithSnapshotter(s Snapshotter) Option {
	return func(o *engineOptions) { o.snapshotter = s }
}

// WithDocumentationPersister adds a persister for documentation commits.
func WithDocumentationPersister(p docstore.Persister) Option {
	return func(o *engineOptions) { o.persisters = append(o.persisters, p) }
}

// WithScratchDir sets where Diagnostician workspaces are created.
func WithScratchDir(dir string) Option {
	return func(o *engineOptions) { o.scratchDir = dir }
}

// WithResume restores a snapshotted run.
func WithResume(r *ResumeState) Option {
	return func(o *engineOptions) { o.resume = r }
}

// WithRunID labels log lines and events with a run ID.
func WithRunID(id string) Option {
	return func(o *engineOptions) { o.runID = id }
}
