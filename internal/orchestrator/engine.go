package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/contextasm"
	"github.com/ShayCichocki/arbor/internal/docstore"
	iexec "github.com/ShayCichocki/arbor/internal/exec"
	"github.com/ShayCichocki/arbor/internal/oracle"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/internal/protect"
	"github.com/ShayCichocki/arbor/internal/registry"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/internal/workspace"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// ErrOracleUnavailable is returned when the oracle fails repeatedly.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// Engine drives the supervision tree. The Coordinator's turn loop runs in
// Run; every other node runs inside its parent's wait.
type Engine struct {
	runID    string
	cfg      *policy.Config
	files    *project.Tree
	tree     *tree.Tree
	registry *registry.Registry
	docs     *docstore.Store
	sandbox  *iexec.Sandbox
	asm      *contextasm.Assembler
	oracle   oracle.Oracle
	approver approval.Approver
	emitter  *EventEmitter
	snap     Snapshotter
	logger   *zap.Logger

	// mu protects the fields below.
	mu    sync.Mutex
	phase models.Phase
	// pending maps a parent ID to its queued dispatches, in queue order.
	pending map[string][]dispatch
	// notes are human messages not yet shown to the Coordinator.
	notes []string
	// rejections counts consecutive rejected actions per node.
	rejections map[string]int
	// timeouts counts consecutive timed out commands per node.
	timeouts       map[string]int
	oracleFailures int
}

// New creates an Engine for the project at req.Root.
func New(req RequiredConfig, opts ...Option) (*Engine, error) {
	if req.Oracle == nil {
		return nil, fmt.Errorf("create engine: oracle is required")
	}
	if req.Approver == nil {
		return nil, fmt.Errorf("create engine: approver is required")
	}

	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.policy == nil {
		o.policy = policy.Default()
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.detector == nil {
		o.detector = protect.New()
	}
	if o.runner == nil {
		o.runner = iexec.NewRunner(o.policy.Exec.MaxOutputBytes, o.policy.Exec.KillGrace)
	}
	if o.scratchDir == "" {
		o.scratchDir = os.TempDir()
	}
	if o.runID == "" {
		o.runID = uuid.New().String()
	}

	files, err := project.New(req.Root, o.detector)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	phase := models.PhaseUnderstanding
	var nodes *tree.Tree
	if o.resume != nil {
		nodes, err = tree.Restore(o.resume.Ownership, o.policy.Engine.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("resume run: %w", err)
		}
		if !o.resume.Phase.Valid() {
			return nil, fmt.Errorf("resume run: invalid phase %q", o.resume.Phase)
		}
		phase = o.resume.Phase
	} else {
		nodes = tree.New(o.policy.Engine.HistoryLimit)
	}

	logger := o.logger.Named("engine").With(zap.String("run", o.runID))
	docs := docstore.New(nodes.CoordinatorID())
	if o.resume != nil {
		docs.Restore(o.resume.Documentation)
	}
	for _, p := range o.persisters {
		docs.AddPersister(p)
	}

	e := &Engine{
		runID:      o.runID,
		cfg:        o.policy,
		files:      files,
		tree:       nodes,
		registry:   registry.New(files.Root(), o.scratchDir, o.detector, o.policy.Scratch, o.logger),
		docs:       docs,
		sandbox:    iexec.NewSandbox(o.runner, o.policy, files.Root(), o.logger),
		oracle:     req.Oracle,
		approver:   req.Approver,
		emitter:    NewEventEmitter(o.policy.Engine.EventBuffer, logger),
		snap:       o.snapshotter,
		logger:     logger,
		phase:      phase,
		pending:    make(map[string][]dispatch),
		rejections: make(map[string]int),
		timeouts:   make(map[string]int),
	}
	e.asm = contextasm.New(files, docs, o.policy, nodes.OwnedByChild)
	docs.OnCommit(func(d docstore.Diff) {
		diff := d
		e.emit(Event{Type: EventDocumentation, NodeID: nodes.CoordinatorID(), Diff: &diff,
			Message: fmt.Sprintf("documentation version %d (%s)", d.Version, d.Mode)})
	})

	e.snapshotPhase()
	e.snapshotTree()
	return e, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// Phase returns the Coordinator's current phase.
func (e *Engine) Phase() models.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event {
	return e.emitter.Events()
}

// Documentation returns the latest documentation snapshot.
func (e *Engine) Documentation() docstore.Snapshot {
	return e.docs.Snapshot()
}

// Tree returns the supervision tree.
func (e *Engine) Tree() *tree.Tree {
	return e.tree
}

// Diagnosticians returns the live Diagnosticians.
func (e *Engine) Diagnosticians() []*models.AgentNode {
	return e.registry.List()
}

// Root returns the absolute project root.
func (e *Engine) Root() string {
	return e.files.Root()
}

// AddNote queues a human message for the Coordinator's next turn.
func (e *Engine) AddNote(text string) {
	e.mu.Lock()
	e.notes = append(e.notes, text)
	e.mu.Unlock()
}

// FileChanged reports an on-disk change to presentation layers.
func (e *Engine) FileChanged(rel string) {
	e.emit(Event{Type: EventFileChanged, Message: rel})
}

// Close removes all Diagnostician workspaces and closes the event stream.
func (e *Engine) Close() {
	for _, id := range e.registry.DestroyAll() {
		e.emit(Event{Type: EventNodeDestroyed, NodeID: id, Role: models.RoleDiagnostician})
	}
	e.emitter.Close()
}

// Run drives the Coordinator until the human approves completion or ctx is
// cancelled. Rejected actions never end a run; only infrastructure failures
// do.
func (e *Engine) Run(ctx context.Context) error {
	coordID := e.tree.CoordinatorID()
	e.logger.Info("run started", zap.String("phase", string(e.Phase())))
	for !e.Phase().Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := e.turn(ctx, coordID); err != nil {
			return err
		}
	}
	e.logger.Info("run completed")
	e.emit(Event{Type: EventRunCompleted, NodeID: coordID, Message: "run completed"})
	return nil
}

// runNode drives a non-Coordinator node until it finishes.
func (e *Engine) runNode(ctx context.Context, id string) (*models.Report, error) {
	for turns := 0; ; turns++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if turns >= e.cfg.Engine.MaxTurns {
			return e.forceFinish(id, fmt.Sprintf("turn limit of %d reached without finishing", e.cfg.Engine.MaxTurns), nil)
		}
		res, err := e.turn(ctx, id)
		if err != nil {
			return nil, err
		}
		if res != nil && res.Report != nil {
			return res.Report, nil
		}
	}
}

// turn assembles context, asks the oracle and steps the answer.
func (e *Engine) turn(ctx context.Context, id string) (*StepResult, error) {
	view, ok := e.lookup(id)
	if !ok {
		return nil, fmt.Errorf("turn: %w: %s", tree.ErrNotFound, id)
	}

	in := contextasm.Input{
		Node:      view.node,
		Phase:     e.Phase(),
		Workspace: view.workspace,
		Focus:     view.focus,
	}
	switch view.node.Role {
	case models.RoleCoordinator:
		in.Children = e.tree.Children(id)
		in.Notes = e.takeNotes(id)
	case models.RoleSubManager:
		in.Children = e.tree.Children(id)
	}

	payload, err := e.asm.Build(in)
	if err != nil {
		// A leaking or stale payload is an engine bug and never reaches the oracle.
		return nil, fmt.Errorf("turn for %s: %w", id, err)
	}
	e.logger.Debug("context assembled",
		zap.String("node", id),
		zap.Int("bytes", payload.Size()),
		zap.Int("proposals_queued", e.docs.Pending()))

	raw, err := e.oracle.NextAction(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.oracleFailed(id, err)
	}
	e.mu.Lock()
	e.oracleFailures = 0
	e.mu.Unlock()

	return e.Step(ctx, id, raw)
}

func (e *Engine) oracleFailed(id string, err error) error {
	e.mu.Lock()
	e.oracleFailures++
	n := e.oracleFailures
	e.mu.Unlock()

	e.logger.Warn("oracle call failed", zap.String("node", id), zap.Int("consecutive", n), zap.Error(err))
	if n >= e.cfg.Engine.MaxOracleFailures {
		return fmt.Errorf("%w after %d attempts: %v", ErrOracleUnavailable, n, err)
	}
	return nil
}

func (e *Engine) takeNotes(coordID string) []string {
	e.mu.Lock()
	notes := e.notes
	e.notes = nil
	e.mu.Unlock()
	for _, n := range notes {
		e.record(coordID, models.Observation{Kind: models.ObservationNote, Text: "Human: " + n})
	}
	return notes
}

// nodeView is a node from either the tree or the Diagnostician registry.
type nodeView struct {
	node      *models.AgentNode
	workspace *workspace.Workspace
	focus     []string
}

func (e *Engine) lookup(id string) (nodeView, bool) {
	if n, ok := e.tree.Get(id); ok {
		return nodeView{node: n}, true
	}
	if n, ws, focus, ok := e.registry.Get(id); ok {
		return nodeView{node: n, workspace: ws, focus: focus}, true
	}
	return nodeView{}, false
}

// record appends obs to a node's history wherever the node lives.
func (e *Engine) record(id string, obs models.Observation) {
	if obs.At.IsZero() {
		obs.At = timeNow()
	}
	if e.tree.Has(id) {
		_ = e.tree.Record(id, obs)
		return
	}
	_ = e.registry.Record(id, obs, e.cfg.Engine.HistoryLimit)
}

func (e *Engine) setStatus(id string, status models.NodeStatus) {
	if e.tree.Has(id) {
		_ = e.tree.SetStatus(id, status)
		return
	}
	_ = e.registry.SetStatus(id, status)
}

func (e *Engine) emit(ev Event) {
	if ev.Phase == "" {
		ev.Phase = e.Phase()
	}
	if ev.NodeID != "" && ev.Role == "" {
		if v, ok := e.lookup(ev.NodeID); ok {
			ev.Role = v.node.Role
			ev.Scope = v.node.Scope
			ev.ParentID = v.node.ParentID
		}
	}
	e.emitter.Emit(ev)
}

func (e *Engine) snapshotPhase() {
	if e.snap == nil {
		return
	}
	if err := e.snap.SavePhase(e.Phase()); err != nil {
		e.logger.Error("snapshot phase", zap.Error(err))
	}
}

func (e *Engine) snapshotTree() {
	if e.snap == nil {
		return
	}
	if err := e.snap.SaveOwnership(e.tree.Ownership()); err != nil {
		e.logger.Error("snapshot ownership", zap.Error(err))
	}
}
