package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/project"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// dispatch is a queued delegate or spawn waiting for its parent's wait.
type dispatch struct {
	childID     string
	role        models.Role
	scope       string
	instruction string
	independent bool
	// assign is set for delegations, which hand an existing child a new task.
	assign bool
}

func (e *Engine) doDelegate(node *models.AgentNode, a *models.Action) error {
	op := string(models.VerbDelegate)
	var child *models.AgentNode
	var ids []string
	for _, c := range e.tree.Children(node.ID) {
		ids = append(ids, c.ID)
		if c.ID == a.Child {
			child = c
		}
	}
	if child == nil {
		if node.Role == models.RoleCoordinator {
			return fault.Permissionf(op, "the coordinator may only delegate to the root submanager %s", e.tree.RootID())
		}
		return fault.Permissionf(op, "%q is not your child; children: %s", a.Child, strings.Join(ids, ", "))
	}
	if child.Status == models.NodeStatusRunning || child.Status == models.NodeStatusWaiting {
		return fault.Permissionf(op, "child %s is %s", child.ID, child.Status)
	}

	d := dispatch{
		childID:     child.ID,
		role:        child.Role,
		scope:       child.Scope,
		instruction: a.Instruction,
		independent: a.Independent,
		assign:      true,
	}
	if err := e.enqueue(node.ID, d); err != nil {
		return err
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationNote, Verb: models.VerbDelegate,
		Text: fmt.Sprintf("queued task for %s %s (%s); call wait to run it", child.Role, child.ID, child.Scope)})
	return nil
}

func (e *Engine) doSpawn(node *models.AgentNode, a *models.Action) error {
	d := dispatch{role: a.Role, scope: a.Scope, instruction: a.Instruction, independent: a.Independent}
	if err := e.admissible(node.ID, d); err != nil {
		return err
	}
	if err := e.scopeShape(a.Role, a.Scope); err != nil {
		return err
	}
	docVersion := e.docs.Snapshot().Version

	var child *models.AgentNode
	var err error
	if a.Role == models.RoleDiagnostician {
		child, err = e.registry.Spawn(node.ID, a.Instruction, a.Focus, docVersion)
	} else {
		child, err = e.tree.Spawn(node.ID, a.Role, a.Scope, a.Instruction, docVersion)
	}
	if err != nil {
		return err
	}
	if a.Role != models.RoleDiagnostician {
		e.snapshotTree()
	}
	d.childID = child.ID
	if err := e.enqueue(node.ID, d); err != nil {
		return err
	}

	e.emit(Event{Type: EventNodeSpawned, NodeID: child.ID, Message: a.Instruction})
	e.logger.Info("node spawned",
		zap.String("parent", node.ID),
		zap.String("node", child.ID),
		zap.String("role", string(child.Role)),
		zap.String("scope", child.Scope))
	text := fmt.Sprintf("spawned %s %s", child.Role, child.ID)
	if child.Scope != "" {
		text += " owning " + child.Scope
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationNote, Verb: models.VerbSpawn, Text: text + "; call wait to run it"})
	return nil
}

// scopeShape checks a new scope against the filesystem. A SubManager owns a
// directory, which may not exist yet; an Implementer owns a single file.
func (e *Engine) scopeShape(role models.Role, scope string) error {
	op := string(models.VerbSpawn)
	scope, err := project.Normalize(scope)
	if err != nil {
		// tree.Spawn reports malformed scopes.
		return nil
	}
	switch role {
	case models.RoleSubManager:
		if e.files.Exists(scope) && !e.files.IsDir(scope) {
			return fault.Permissionf(op, "%q is a file; spawn an implementer to own it", scope)
		}
	case models.RoleImplementer:
		if e.files.IsDir(scope) {
			return fault.Permissionf(op, "%q is a directory; spawn a submanager to own it", scope)
		}
	}
	return nil
}

// admissible checks whether d may join parentID's pending batch. A batch of
// more than one dispatch must be declared independent on every dispatch, and
// its scopes must be pairwise disjoint when verification is enabled.
func (e *Engine) admissible(parentID string, d dispatch) error {
	op := "dispatch"
	e.mu.Lock()
	batch := append([]dispatch(nil), e.pending[parentID]...)
	e.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if !d.independent {
		return fault.Permissionf(op, "another dispatch is already pending; call wait first or mark every dispatch of the batch independent")
	}
	var scopes []string
	for _, b := range batch {
		if !b.independent {
			return fault.Permissionf(op, "the pending dispatch to %s is not marked independent; call wait first", b.childID)
		}
		if d.childID != "" && b.childID == d.childID {
			return fault.Permissionf(op, "%s is already in this batch", d.childID)
		}
		if b.scope != "" {
			scopes = append(scopes, b.scope)
		}
	}
	if e.cfg.Engine.VerifyDisjointScopes && d.scope != "" {
		if a, b, ok := tree.Disjoint(append(scopes, d.scope)); !ok {
			return fault.Permissionf(op, "independent dispatches overlap: %q and %q", a, b)
		}
	}
	return nil
}

func (e *Engine) enqueue(parentID string, d dispatch) error {
	if err := e.admissible(parentID, d); err != nil {
		return err
	}
	e.mu.Lock()
	e.pending[parentID] = append(e.pending[parentID], d)
	e.mu.Unlock()
	return nil
}

// doWait runs the pending batch and joins it before the parent resumes.
// Reports are recorded in dispatch order.
func (e *Engine) doWait(ctx context.Context, node *models.AgentNode) error {
	e.mu.Lock()
	batch := e.pending[node.ID]
	delete(e.pending, node.ID)
	e.mu.Unlock()
	if len(batch) == 0 {
		return fault.Permissionf(string(models.VerbWait), "nothing is pending; delegate or spawn first")
	}

	e.setStatus(node.ID, models.NodeStatusWaiting)
	defer e.setStatus(node.ID, models.NodeStatusRunning)

	reports := make([]*models.Report, len(batch))
	if len(batch) == 1 {
		r, err := e.runDispatch(ctx, batch[0])
		if err != nil {
			return err
		}
		reports[0] = r
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for i, d := range batch {
			i, d := i, d
			g.Go(func() error {
				r, err := e.runDispatch(gctx, d)
				reports[i] = r
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	var failure *fault.Error
	for i, r := range reports {
		e.record(node.ID, models.Observation{Kind: models.ObservationReport, Verb: models.VerbWait, Report: r})
		if !r.Passed() && failure == nil {
			failure = fault.ChildFailure(batch[i].childID, r)
		}
	}
	if failure != nil {
		e.record(node.ID, models.Observation{Kind: models.ObservationNote, Verb: models.VerbWait, Text: failure.Corrective()})
		return failure
	}
	return nil
}

// runDispatch runs one child until it finishes.
func (e *Engine) runDispatch(ctx context.Context, d dispatch) (*models.Report, error) {
	if d.assign {
		if err := e.tree.Assign(d.childID, d.instruction, e.docs.Snapshot().Version); err != nil {
			return nil, err
		}
	}
	e.clearRejections(d.childID)
	e.setStatus(d.childID, models.NodeStatusRunning)
	e.emit(Event{Type: EventNodeStarted, NodeID: d.childID, Message: d.instruction})
	return e.runNode(ctx, d.childID)
}

// finish ends a node's turn loop with report. A Diagnostician is destroyed
// at once. A passing SubManager or Implementer is acknowledged and its
// subtree destroyed; the root SubManager is reset instead. A failing node
// stays so its parent can re-delegate.
func (e *Engine) finish(id string, report *models.Report) (*models.Report, error) {
	view, ok := e.lookup(id)
	if !ok {
		return nil, fmt.Errorf("finish: node %s not found", id)
	}
	node := view.node
	if node.Role == models.RoleCoordinator {
		return nil, fault.Permissionf(string(models.VerbFinish), "the coordinator ends the run through terminate")
	}
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()

	var out *models.Report
	if node.Role == models.RoleDiagnostician {
		r, _, err := e.registry.Finish(id, report)
		if err != nil {
			return nil, err
		}
		out = r
		e.emit(Event{Type: EventNodeFinished, NodeID: id, Role: node.Role, ParentID: node.ParentID, Report: out, Message: out.Summary})
		e.emit(Event{Type: EventNodeDestroyed, NodeID: id, Role: node.Role, ParentID: node.ParentID})
		e.forget([]string{id})
	} else {
		r := *report
		r.From = id
		r.Role = node.Role
		out = &r
		e.emit(Event{Type: EventNodeFinished, NodeID: id, Report: out, Message: out.Summary})

		if out.Passed() {
			e.acknowledge(node)
		} else {
			e.setStatus(id, models.NodeStatusFailed)
		}
	}

	if out.DocProposal != "" {
		e.docs.Propose(id, node.Role, out.DocProposal)
	}
	e.logger.Info("node finished",
		zap.String("node", id),
		zap.String("role", string(node.Role)),
		zap.String("status", string(out.Status)))
	return out, nil
}

// acknowledge destroys a passing node's subtree, or resets the root.
func (e *Engine) acknowledge(node *models.AgentNode) {
	var removed []string
	if node.ID == e.tree.RootID() {
		removed = e.tree.ResetRoot()
	} else {
		var err error
		removed, err = e.tree.Destroy(node.ID)
		if err != nil {
			e.logger.Error("destroy finished node", zap.String("node", node.ID), zap.Error(err))
			return
		}
	}
	for _, rid := range removed {
		e.emitter.Emit(Event{Type: EventNodeDestroyed, NodeID: rid, ParentID: node.ParentID, Phase: e.Phase()})
	}
	e.forget(removed)
	e.snapshotTree()
}

// forget drops per-node bookkeeping for removed nodes.
func (e *Engine) forget(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.pending, id)
		delete(e.rejections, id)
		delete(e.timeouts, id)
	}
}
