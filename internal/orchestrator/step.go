package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/action"
	"github.com/ShayCichocki/arbor/internal/contextasm"
	"github.com/ShayCichocki/arbor/internal/docstore"
	iexec "github.com/ShayCichocki/arbor/internal/exec"
	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

var timeNow = time.Now

// StepResult describes one processed action.
type StepResult struct {
	// Action is the parsed action; nil when parsing failed.
	Action *models.Action
	// Rejected is the classified error the node was re-prompted with, if any.
	Rejected error
	// Result is set for execute and run_scratch.
	Result *models.CommandResult
	// Report is set when the node finished, including forced finishes.
	Report *models.Report
	// Escalated is set when this step tripped a rejection or timeout limit.
	Escalated bool
}

// Step runs one raw oracle payload for nodeID through parse, validate and
// dispatch. Rejections are recorded on the node and returned in the result;
// the returned error is reserved for infrastructure failures.
func (e *Engine) Step(ctx context.Context, nodeID, raw string) (*StepResult, error) {
	view, ok := e.lookup(nodeID)
	if !ok {
		return nil, fmt.Errorf("step: node %s not found", nodeID)
	}
	node := view.node
	res := &StepResult{}

	a, err := action.Parse(raw)
	if err == nil {
		res.Action = a
		err = action.Validate(a, action.Caller{Role: node.Role, Phase: e.Phase(), Scope: node.Scope})
	}
	if err == nil {
		err = e.dispatch(ctx, node, a, res)
	}

	if err == nil {
		e.clearRejections(nodeID)
		return res, nil
	}
	fe, ok := fault.As(err)
	if !ok {
		return res, err
	}

	switch fe.Kind {
	case fault.KindParse, fault.KindPermission, fault.KindUntrustedRefusal:
		return e.reject(node, res, fe)
	default:
		// Timeouts and child failures are outcomes, already recorded by the
		// handler that produced them.
		e.clearRejections(nodeID)
		res.Rejected = fe
		return res, nil
	}
}

// reject records a corrective observation and escalates after too many
// consecutive rejections.
func (e *Engine) reject(node *models.AgentNode, res *StepResult, fe *fault.Error) (*StepResult, error) {
	res.Rejected = fe
	verb := models.Verb("")
	if res.Action != nil {
		verb = res.Action.Verb
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationRejection, Verb: verb, Text: fe.Corrective()})
	e.emit(Event{Type: EventRejection, NodeID: node.ID, Verb: verb, Error: fe, Message: fe.Error()})
	e.logger.Debug("action rejected", zap.String("node", node.ID), zap.String("kind", string(fe.Kind)), zap.Error(fe))

	e.mu.Lock()
	e.rejections[node.ID]++
	n := e.rejections[node.ID]
	e.mu.Unlock()
	if n < e.cfg.Engine.MaxReprompts {
		return res, nil
	}

	res.Escalated = true
	e.clearRejections(node.ID)
	msg := fmt.Sprintf("%d consecutive rejected actions, last: %s", n, fe.Error())
	if node.Role == models.RoleCoordinator {
		e.logger.Warn("coordinator escalation", zap.String("reason", msg))
		e.record(node.ID, models.Observation{Kind: models.ObservationNote,
			Text: "Escalation: " + msg + ". Re-read your allowed actions and respond with one valid JSON action."})
		e.emit(Event{Type: EventEscalation, NodeID: node.ID, Message: msg, Error: fe})
		return res, nil
	}

	report, err := e.forceFinish(node.ID, "escalated: "+msg, []string{fe.Corrective()})
	if err != nil {
		return res, err
	}
	res.Report = report
	return res, nil
}

func (e *Engine) clearRejections(id string) {
	e.mu.Lock()
	delete(e.rejections, id)
	e.mu.Unlock()
}

// forceFinish ends a non-Coordinator node with a synthesized fail report.
func (e *Engine) forceFinish(id, summary string, findings []string) (*models.Report, error) {
	e.emit(Event{Type: EventEscalation, NodeID: id, Message: summary})
	return e.finish(id, &models.Report{Status: models.ReportFail, Summary: summary, Findings: findings})
}

func (e *Engine) dispatch(ctx context.Context, node *models.AgentNode, a *models.Action, res *StepResult) error {
	switch a.Verb {
	case models.VerbRead:
		return e.doRead(node, a)
	case models.VerbExecute:
		return e.doExecute(ctx, node, a, res)
	case models.VerbWriteDocumentation:
		return e.doWriteDocumentation(node, a)
	case models.VerbWriteFile:
		return e.doWriteFile(node, a)
	case models.VerbWriteScratch:
		return e.doWriteScratch(node, a)
	case models.VerbRunScratch:
		return e.doRunScratch(ctx, node, a, res)
	case models.VerbDelegate:
		return e.doDelegate(node, a)
	case models.VerbSpawn:
		return e.doSpawn(node, a)
	case models.VerbWait:
		return e.doWait(ctx, node)
	case models.VerbFinish:
		report, err := e.finish(node.ID, a.Report)
		res.Report = report
		return err
	case models.VerbTerminate:
		return e.RequestTermination(ctx, a.Reason, a.Reset)
	default:
		return fault.Parsef("unknown action %q", a.Verb)
	}
}

// doRead records the joined text of every path in one observation, cut at
// the context budget. Paths past the cut are not read.
func (e *Engine) doRead(node *models.AgentNode, a *models.Action) error {
	limit := e.cfg.Context.MaxTotalBytes
	var b strings.Builder
	for i, p := range a.Paths {
		if b.Len() >= limit {
			fmt.Fprintf(&b, "...[read truncated: %d of %d paths not read; read fewer paths at once]\n", len(a.Paths)-i, len(a.Paths))
			break
		}
		part := e.readOne(node, p)
		if len(a.Paths) > 1 {
			part = fmt.Sprintf("== %s ==\n%s\n", p, part)
		}
		if room := limit - b.Len(); len(part) > room {
			part = part[:room] + "\n...[truncated]\n"
		}
		b.WriteString(part)
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationRead, Verb: models.VerbRead, Text: b.String()})
	return nil
}

// readOne returns the text a read of p yields for node. The Coordinator reads
// the documentation verbatim; others read their scope's excerpt.
func (e *Engine) readOne(node *models.AgentNode, p string) string {
	cp := e.cfg.Context
	if p == models.DocumentationPath {
		if node.Role == models.RoleCoordinator {
			return e.docs.Snapshot().Content
		}
		return e.docs.Excerpt(contextasm.EffectiveScope(node), cp.MaxDocBytes)
	}
	if e.files.Detector().IsIgnored(p) {
		return fmt.Sprintf("(%s is not part of the project)", p)
	}
	if e.files.IsDir(p) {
		entries, cut, err := e.files.List(p, 1, cp.MaxListingEntries, nil)
		if err != nil {
			return fmt.Sprintf("(error: %v)", err)
		}
		var b strings.Builder
		for _, en := range entries {
			if en.IsDir {
				fmt.Fprintf(&b, "%s/\n", en.Path)
			} else {
				fmt.Fprintf(&b, "%s (%d bytes)\n", en.Path, en.Size)
			}
		}
		if cut {
			b.WriteString("...[listing truncated]\n")
		}
		return b.String()
	}
	content, truncated, err := e.files.ReadFile(p, cp.MaxFileBytes)
	if err != nil {
		return fmt.Sprintf("(error: %v)", err)
	}
	if truncated {
		content += "\n...[file truncated]"
	}
	return content
}

func (e *Engine) doExecute(ctx context.Context, node *models.AgentNode, a *models.Action, res *StepResult) error {
	result, err := e.sandbox.Execute(ctx, iexec.Request{
		Role:           node.Role,
		Phase:          e.Phase(),
		Command:        a.Command,
		Timeout:        a.Timeout,
		TimeoutSeconds: a.TimeoutSeconds,
	})
	if result == nil {
		return err
	}
	res.Result = result
	return e.commandOutcome(ctx, node, models.VerbExecute, result, err)
}

func (e *Engine) doRunScratch(ctx context.Context, node *models.AgentNode, a *models.Action, res *StepResult) error {
	dir, rel, err := e.registry.ScriptPath(node.ID, a.Path)
	if err != nil {
		return err
	}
	result, err := e.sandbox.RunScript(ctx, dir, rel)
	if result == nil {
		return err
	}
	res.Result = result
	return e.commandOutcome(ctx, node, models.VerbRunScratch, result, err)
}

// commandOutcome records a command result and tracks consecutive timeouts.
func (e *Engine) commandOutcome(ctx context.Context, node *models.AgentNode, verb models.Verb, result *models.CommandResult, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	obs := models.Observation{Kind: models.ObservationCommand, Verb: verb, Result: result}
	if err != nil && !fault.Recoverable(err) {
		// The worker sees a runner failure as a result, not a run error.
		obs.Text = err.Error()
		err = nil
	}
	fe, isFault := fault.As(err)
	timedOut := isFault && fe.Kind == fault.KindTimeout
	if timedOut {
		obs.Text = fe.Corrective()
	}
	e.record(node.ID, obs)
	e.emit(Event{Type: EventCommand, NodeID: node.ID, Verb: verb, Result: result, Error: err, Message: result.Command})

	e.mu.Lock()
	if timedOut {
		e.timeouts[node.ID]++
	} else {
		delete(e.timeouts, node.ID)
	}
	n := e.timeouts[node.ID]
	e.mu.Unlock()

	if timedOut && n >= e.cfg.Engine.EscalateAfterTimeouts {
		msg := fmt.Sprintf("%d consecutive commands timed out; subdivide the work or spawn a diagnostician to investigate a possible infinite loop", n)
		e.record(node.ID, models.Observation{Kind: models.ObservationNote, Text: "Escalation: " + msg})
		e.emit(Event{Type: EventEscalation, NodeID: node.ID, Message: msg})
		e.logger.Warn("repeated timeouts", zap.String("node", node.ID), zap.Int("count", n))
	}
	return err
}

func (e *Engine) doWriteDocumentation(node *models.AgentNode, a *models.Action) error {
	snap, err := e.docs.Write(node.ID, a.Mode, a.Content)
	if err != nil && !errors.Is(err, docstore.ErrPersist) {
		return err
	}
	if err != nil {
		e.logger.Error("documentation committed but not persisted", zap.Error(err))
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationWrite, Verb: models.VerbWriteDocumentation,
		Text: fmt.Sprintf("documentation is now version %d (%d bytes)", snap.Version, len(snap.Content))})
	return nil
}

func (e *Engine) doWriteFile(node *models.AgentNode, a *models.Action) error {
	op := string(models.VerbWriteFile)
	if e.files.Detector().IsIgnored(a.Path) {
		return fault.Permissionf(op, "%q is not part of the project", a.Path)
	}
	if sensitive, reason := e.files.Detector().IsSensitive(a.Path); sensitive {
		return fault.Permissionf(op, "%q is sensitive: %s", a.Path, reason)
	}
	if e.files.IsDir(a.Path) {
		return fault.Permissionf(op, "%q is a directory", a.Path)
	}
	if node.Role == models.RoleCoordinator && e.tree.OwnedByChild(e.tree.RootID(), a.Path) {
		return fault.Permissionf(op, "%q is owned by a worker; delegate the change instead", a.Path)
	}
	if err := e.files.WriteFile(a.Path, a.Content); err != nil {
		return err
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationWrite, Verb: models.VerbWriteFile,
		Text: fmt.Sprintf("wrote %s (%d bytes)", a.Path, len(a.Content))})
	e.emit(Event{Type: EventFileWritten, NodeID: node.ID, Verb: models.VerbWriteFile, Message: a.Path})
	return nil
}

func (e *Engine) doWriteScratch(node *models.AgentNode, a *models.Action) error {
	_, warning, err := e.registry.WriteScratch(node.ID, a.Path, a.Content)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("wrote scratch file %s (%d bytes)", a.Path, len(a.Content))
	if warning != "" {
		text += ". Warning: " + warning
	}
	e.record(node.ID, models.Observation{Kind: models.ObservationWrite, Verb: models.VerbWriteScratch, Text: text})
	return nil
}
