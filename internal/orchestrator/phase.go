package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// RequestTermination asks the human to approve leaving the current phase.
// With reset set, the request is a scope reset from implementing back to
// understanding. The call blocks on the approver; a rejection leaves the
// phase unchanged and feeds the human's reason to the Coordinator.
func (e *Engine) RequestTermination(ctx context.Context, reason string, reset bool) error {
	op := string(models.VerbTerminate)
	from := e.Phase()
	var to models.Phase
	if reset {
		if from != models.PhaseImplementing {
			return fault.Permissionf(op, "a scope reset is only possible while implementing")
		}
		to = models.PhaseUnderstanding
	} else {
		next, ok := from.Next()
		if !ok {
			return fault.Permissionf(op, "the run has already completed")
		}
		to = next
	}

	coordID := e.tree.CoordinatorID()
	req := approval.TerminationRequest{
		ID:     uuid.New().String(),
		From:   from,
		To:     to,
		Reason: reason,
		Reset:  reset,
		At:     timeNow(),
	}
	e.emit(Event{Type: EventTerminationRequested, NodeID: coordID, Request: &req, Message: reason})
	e.logger.Info("termination requested",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("reset", reset))

	resp, err := e.approver.RequestTermination(ctx, req)
	if err != nil {
		return fmt.Errorf("termination request: %w", err)
	}
	e.emit(Event{Type: EventTerminationResolved, NodeID: coordID, Request: &req, Message: resp.Reason})

	if !resp.Approved {
		text := fmt.Sprintf("The human rejected moving from %s to %s.", from, to)
		if resp.Reason != "" {
			text += " Reason: " + resp.Reason
		}
		e.record(coordID, models.Observation{Kind: models.ObservationNote, Verb: models.VerbTerminate, Text: text})
		e.logger.Info("termination rejected", zap.String("reason", resp.Reason))
		return nil
	}

	e.advance(from, to, reset)
	e.record(coordID, models.Observation{Kind: models.ObservationNote, Verb: models.VerbTerminate,
		Text: fmt.Sprintf("The human approved. Phase is now %s.", to)})
	return nil
}

// advance moves the Coordinator to phase to. A reset destroys every node
// below the root SubManager and every live Diagnostician.
func (e *Engine) advance(from, to models.Phase, reset bool) {
	e.mu.Lock()
	e.phase = to
	if reset {
		e.pending = make(map[string][]dispatch)
		e.rejections = make(map[string]int)
		e.timeouts = make(map[string]int)
	}
	e.mu.Unlock()

	if reset {
		removed := e.tree.ResetRoot()
		removed = append(removed, e.registry.DestroyAll()...)
		for _, id := range removed {
			e.emitter.Emit(Event{Type: EventNodeDestroyed, NodeID: id, Phase: to})
		}
		e.snapshotTree()
		e.logger.Info("scope reset", zap.Int("destroyed", len(removed)))
	}

	e.snapshotPhase()
	e.emit(Event{Type: EventPhaseChanged, NodeID: e.tree.CoordinatorID(), Phase: to,
		Message: fmt.Sprintf("%s -> %s", from, to)})
	e.logger.Info("phase changed", zap.String("from", string(from)), zap.String("to", string(to)))
}
