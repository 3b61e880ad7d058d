// Package exec runs shell-level commands for workers under the sandbox policy.
package exec

import (
	"context"
	"time"
)

// Output is the raw outcome of one process run.
type Output struct {
	Stdout []byte
	Stderr []byte
	// ExitCode is -1 when the process did not exit on its own.
	ExitCode  int
	Truncated bool
	StartedAt time.Time
	Elapsed   time.Duration
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
//
// A non-zero exit status is reported through Output.ExitCode, not as an
// error. When ctx is done the process group is killed and the partial output
// is returned together with ctx.Err().
type CommandRunner interface {
	// Run executes name with args in workDir.
	Run(ctx context.Context, workDir string, name string, args ...string) (*Output, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (*Output, error)
}
