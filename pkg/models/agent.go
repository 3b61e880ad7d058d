package models

import "time"

// Role identifies the kind of worker a node represents.
type Role string

const (
	// RoleCoordinator is the top-level node and the sole point of human interaction.
	RoleCoordinator Role = "coordinator"
	// RoleSubManager owns one directory and delegates into it.
	RoleSubManager Role = "submanager"
	// RoleImplementer owns exactly one file.
	RoleImplementer Role = "implementer"
	// RoleDiagnostician is an ephemeral, read-mostly investigator.
	RoleDiagnostician Role = "diagnostician"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleSubManager, RoleImplementer, RoleDiagnostician:
		return true
	default:
		return false
	}
}

// OwnsScope reports whether nodes of this role own a slice of the file tree.
func (r Role) OwnsScope() bool {
	return r == RoleSubManager || r == RoleImplementer
}

// Phase is the coarse capability gate owned by the Coordinator.
type Phase string

const (
	// PhaseUnderstanding permits documentation work only.
	PhaseUnderstanding Phase = "understanding"
	// PhaseStructuring adds unrestricted scaffolding.
	PhaseStructuring Phase = "structuring"
	// PhaseImplementing adds delegation.
	PhaseImplementing Phase = "implementing"
	// PhaseCompleted is terminal.
	PhaseCompleted Phase = "completed"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseUnderstanding, PhaseStructuring, PhaseImplementing, PhaseCompleted:
		return true
	default:
		return false
	}
}

// Next returns the phase that follows p on an approved termination request.
// The second return value is false for the terminal phase.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseUnderstanding:
		return PhaseStructuring, true
	case PhaseStructuring:
		return PhaseImplementing, true
	case PhaseImplementing:
		return PhaseCompleted, true
	default:
		return p, false
	}
}

// Terminal returns true once the run has completed.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted
}

// NodeStatus represents the current state of a node.
type NodeStatus string

const (
	// NodeStatusIdle indicates the node has no active task.
	NodeStatusIdle NodeStatus = "idle"
	// NodeStatusRunning indicates the node is taking turns.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusWaiting indicates the node is suspended on its children.
	NodeStatusWaiting NodeStatus = "waiting"
	// NodeStatusDone indicates the node finished with a passing report.
	NodeStatusDone NodeStatus = "done"
	// NodeStatusFailed indicates the node finished with a failing report.
	NodeStatusFailed NodeStatus = "failed"
)

// AgentNode is one worker in the supervision tree.
type AgentNode struct {
	// ID is the unique identifier for this node.
	ID string `json:"id"`
	// Role determines the node's capabilities.
	Role Role `json:"role"`
	// ParentID is empty for the Coordinator. For a Diagnostician it names the
	// spawning node; Diagnosticians are never listed as children.
	ParentID string `json:"parent_id,omitempty"`
	// Children lists the IDs of owned SubManager/Implementer children.
	Children []string `json:"children,omitempty"`
	// Scope is the owned directory (SubManager) or file (Implementer),
	// slash separated and relative to the project root.
	Scope string `json:"scope,omitempty"`
	// Status is the current state of the node.
	Status NodeStatus `json:"status"`
	// Instruction is the task most recently handed to the node.
	Instruction string `json:"instruction,omitempty"`
	// DocVersion is the documentation version in effect at spawn.
	DocVersion int64 `json:"doc_version"`
	// History holds the node's most recent observations, oldest first.
	History []Observation `json:"history,omitempty"`
	// CreatedAt is when the node was spawned.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (n *AgentNode) Clone() *AgentNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = append([]string(nil), n.Children...)
	c.History = append([]Observation(nil), n.History...)
	return &c
}

// ObservationKind classifies an entry in a node's history.
type ObservationKind string

const (
	ObservationCommand   ObservationKind = "command"
	ObservationRead      ObservationKind = "read"
	ObservationReport    ObservationKind = "report"
	ObservationRejection ObservationKind = "rejection"
	ObservationNote      ObservationKind = "note"
	ObservationWrite     ObservationKind = "write"
)

// Observation is one result fed back into a node's next turn.
type Observation struct {
	Kind   ObservationKind `json:"kind"`
	Verb   Verb            `json:"verb,omitempty"`
	Text   string          `json:"text,omitempty"`
	Result *CommandResult  `json:"result,omitempty"`
	Report *Report         `json:"report,omitempty"`
	At     time.Time       `json:"at"`
}
