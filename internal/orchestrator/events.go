package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventNodeSpawned indicates a node was created.
	EventNodeSpawned EventType = "node_spawned"
	// EventNodeStarted indicates a node began taking turns on a task.
	EventNodeStarted EventType = "node_started"
	// EventNodeFinished indicates a node finished with a report.
	EventNodeFinished EventType = "node_finished"
	// EventNodeDestroyed indicates a node and its subtree were removed.
	EventNodeDestroyed EventType = "node_destroyed"
	// EventCommand carries a command result.
	EventCommand EventType = "command"
	// EventDocumentation carries a committed documentation diff.
	EventDocumentation EventType = "documentation"
	// EventFileWritten indicates a worker wrote a project file.
	EventFileWritten EventType = "file_written"
	// EventFileChanged indicates a project file changed on disk.
	EventFileChanged EventType = "file_changed"
	// EventPhaseChanged indicates the Coordinator's phase advanced or reset.
	EventPhaseChanged EventType = "phase_changed"
	// EventTerminationRequested indicates the engine is waiting on a human.
	EventTerminationRequested EventType = "termination_requested"
	// EventTerminationResolved indicates the human answered.
	EventTerminationResolved EventType = "termination_resolved"
	// EventRejection indicates an action was rejected and the node re-prompted.
	EventRejection EventType = "rejection"
	// EventEscalation indicates repeated rejections or timeouts.
	EventEscalation EventType = "escalation"
	// EventRunCompleted indicates the run reached the completed phase.
	EventRunCompleted EventType = "run_completed"
)

// Event is emitted by the engine for presentation layers.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// NodeID is the related node, if any.
	NodeID   string
	ParentID string
	Role     models.Role
	Scope    string
	// Phase is the Coordinator's phase when the event was emitted.
	Phase models.Phase
	// Verb is the action involved, if any.
	Verb    models.Verb
	Message string
	Result  *models.CommandResult
	Report  *models.Report
	Diff    *docstore.Diff
	Request *approval.TerminationRequest
	// Error contains the rejection or failure, if any.
	Error     error
	Timestamp time.Time
}

// String renders the event as one line for logs and terminals.
func (ev Event) String() string {
	var b strings.Builder
	b.WriteString(string(ev.Type))
	if ev.NodeID != "" {
		fmt.Fprintf(&b, " %s", ShortID(ev.NodeID))
		if ev.Role != "" {
			fmt.Fprintf(&b, " (%s", ev.Role)
			if ev.Scope != "" {
				fmt.Fprintf(&b, " %s", ev.Scope)
			}
			b.WriteString(")")
		}
	}
	switch {
	case ev.Result != nil:
		fmt.Fprintf(&b, ": %s exit=%d", ev.Result.Command, ev.Result.ExitCode)
		if ev.Result.TimedOut {
			b.WriteString(" timed out")
		}
	case ev.Report != nil:
		fmt.Fprintf(&b, ": %s", ev.Report.Status)
		if ev.Report.Summary != "" {
			fmt.Fprintf(&b, " %s", ev.Report.Summary)
		}
	case ev.Request != nil && ev.Type == EventTerminationRequested:
		fmt.Fprintf(&b, ": %s -> %s", ev.Request.From, ev.Request.To)
		if ev.Message != "" {
			fmt.Fprintf(&b, " (%s)", ev.Message)
		}
	case ev.Message != "":
		fmt.Fprintf(&b, ": %s", ev.Message)
	}
	return b.String()
}

// ShortID abbreviates a node ID for display.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
