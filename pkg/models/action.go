package models

// Verb names a single action a worker may take in one turn.
type Verb string

const (
	VerbRead               Verb = "read"
	VerbExecute            Verb = "execute"
	VerbWriteDocumentation Verb = "write_documentation"
	VerbWriteFile          Verb = "write_file"
	VerbWriteScratch       Verb = "write_scratch"
	VerbRunScratch         Verb = "run_scratch"
	VerbDelegate           Verb = "delegate"
	VerbSpawn              Verb = "spawn"
	VerbWait               Verb = "wait"
	VerbFinish             Verb = "finish"
	VerbTerminate          Verb = "terminate"
)

// AllVerbs returns every verb in grammar order.
func AllVerbs() []Verb {
	return []Verb{
		VerbRead, VerbExecute, VerbWriteDocumentation, VerbWriteFile,
		VerbWriteScratch, VerbRunScratch, VerbDelegate, VerbSpawn,
		VerbWait, VerbFinish, VerbTerminate,
	}
}

// Valid returns true if the verb is part of the grammar.
func (v Verb) Valid() bool {
	for _, known := range AllVerbs() {
		if v == known {
			return true
		}
	}
	return false
}

// TimeoutPolicy selects how long an execute action may run.
type TimeoutPolicy string

const (
	// TimeoutDefault applies the configured hard timeout.
	TimeoutDefault TimeoutPolicy = "default"
	// TimeoutUnbounded is the Coordinator-only exception for training runs.
	TimeoutUnbounded TimeoutPolicy = "unbounded"
)

// DocMode selects how write_documentation mutates the artifact.
type DocMode string

const (
	DocAppend  DocMode = "append"
	DocReplace DocMode = "replace"
)

// DocumentationPath is the pseudo-path that reads the documentation artifact.
const DocumentationPath = "documentation"

// Action is one validated unit of work requested by the oracle.
type Action struct {
	Verb           Verb          `json:"action"`
	Paths          []string      `json:"paths,omitempty"`
	Command        string        `json:"command,omitempty"`
	Timeout        TimeoutPolicy `json:"timeout,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	Content        string        `json:"content,omitempty"`
	Mode           DocMode       `json:"mode,omitempty"`
	Path           string        `json:"path,omitempty"`
	Child          string        `json:"child,omitempty"`
	Instruction    string        `json:"instruction,omitempty"`
	Role           Role          `json:"role,omitempty"`
	Scope          string        `json:"scope,omitempty"`
	Focus          []string      `json:"focus,omitempty"`
	Independent    bool          `json:"independent,omitempty"`
	Report         *Report       `json:"report,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Reset          bool          `json:"reset,omitempty"`
}

// Unbounded returns true if the action requests the unbounded timeout.
func (a *Action) Unbounded() bool {
	return a.Timeout == TimeoutUnbounded
}
