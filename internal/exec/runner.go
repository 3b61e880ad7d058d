package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ShellRunner implements CommandRunner using os/exec.
type ShellRunner struct {
	maxOutput int64
	killGrace time.Duration
}

// NewRunner creates a ShellRunner capping each output stream at maxOutput
// bytes and waiting at most killGrace for pipes to drain after a kill.
func NewRunner(maxOutput int, killGrace time.Duration) *ShellRunner {
	return &ShellRunner{maxOutput: int64(maxOutput), killGrace: killGrace}
}

// Run executes name with args in workDir.
func (r *ShellRunner) Run(ctx context.Context, workDir string, name string, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	setupProcessGroup(cmd)
	cmd.WaitDelay = r.killGrace

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: r.maxOutput}
	stderr := &limitedWriter{w: &stderrBuf, max: r.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	out := &Output{StartedAt: time.Now()}
	err := cmd.Run()
	out.Elapsed = time.Since(out.StartedAt)
	out.Stdout = stdoutBuf.Bytes()
	out.Stderr = stderrBuf.Bytes()
	out.Truncated = stdout.truncated || stderr.truncated

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
			// A background child held the pipes open; the command itself exited.
			out.ExitCode = cmd.ProcessState.ExitCode()
			return out, nil
		}
		out.ExitCode = -1
		return out, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// RunShell executes a shell command through "sh -c".
func (r *ShellRunner) RunShell(ctx context.Context, workDir string, command string) (*Output, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Verify ShellRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ShellRunner)(nil)

// limitedWriter keeps the first max bytes and silently discards the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so the copier does not fail with a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
