package models

import "time"

// CommandResult is the outcome of one sandboxed command.
type CommandResult struct {
	// Command is the command string as executed.
	Command string `json:"command"`
	// Stdout is the captured standard output, capped in size.
	Stdout string `json:"stdout"`
	// Stderr is the captured standard error, capped in size.
	Stderr string `json:"stderr"`
	// ExitCode is the process exit status, -1 if it never exited normally.
	ExitCode int `json:"exit_code"`
	// Elapsed is the wall-clock duration.
	Elapsed time.Duration `json:"elapsed"`
	// TimedOut is set when the command was killed by its timeout.
	TimedOut bool `json:"timed_out"`
	// Truncated is set when either stream exceeded the output cap.
	Truncated bool `json:"truncated"`
	// PossibleInfiniteLoop marks a timed out command for the worker.
	PossibleInfiniteLoop bool `json:"possible_infinite_loop"`
	// StartedAt is when the process was started.
	StartedAt time.Time `json:"started_at"`
}

// Succeeded returns true if the command exited zero within its timeout.
func (r *CommandResult) Succeeded() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// ReportStatus is the outcome carried by a finish action.
type ReportStatus string

const (
	ReportPass ReportStatus = "pass"
	ReportFail ReportStatus = "fail"
)

// Valid returns true if the status is pass or fail.
func (s ReportStatus) Valid() bool {
	return s == ReportPass || s == ReportFail
}

// Report is the structured payload a node hands to its parent on finish.
type Report struct {
	Status             ReportStatus `json:"status"`
	Summary            string       `json:"summary,omitempty"`
	Findings           []string     `json:"findings,omitempty"`
	Fixes              []string     `json:"fixes,omitempty"`
	RecommendSpawnMore bool         `json:"recommend_spawn_more,omitempty"`
	// DocProposal is documentation text proposed upward to the Coordinator.
	DocProposal string `json:"doc_proposal,omitempty"`
	// From is the reporting node, filled in by the engine.
	From string `json:"from,omitempty"`
	// Role is the reporting node's role, filled in by the engine.
	Role Role `json:"role,omitempty"`
}

// Passed returns true for a passing report.
func (r *Report) Passed() bool {
	return r != nil && r.Status == ReportPass
}
