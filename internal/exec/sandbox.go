package exec

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// compoundTokens are rejected in commands from restricted callers.
var compoundTokens = []string{";", "&&", "||", "|", "`", "$(", ">", "<", "\n", "\r", "&"}

// Request describes one execute action.
type Request struct {
	Role    models.Role
	Phase   models.Phase
	Command string
	Timeout models.TimeoutPolicy
	// TimeoutSeconds optionally shortens or extends the default up to the ceiling.
	TimeoutSeconds int
	// WorkDir is the directory the command runs in. Empty means the sandbox root.
	WorkDir string
}

// Sandbox authorizes and runs commands against the per-role allow-lists.
type Sandbox struct {
	runner CommandRunner
	policy *policy.Config
	root   string
	logger *zap.Logger
}

// NewSandbox creates a sandbox rooted at root.
func NewSandbox(runner CommandRunner, pol *policy.Config, root string, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		runner: runner,
		policy: pol,
		root:   root,
		logger: logger.Named("sandbox"),
	}
}

// Authorize checks req against the allow-list and timeout policy without
// running it. It returns the effective timeout; zero means unbounded.
func (s *Sandbox) Authorize(req Request) (time.Duration, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return 0, fault.Parsef("execute requires a non-empty command")
	}

	switch req.Timeout {
	case "", models.TimeoutDefault, models.TimeoutUnbounded:
	default:
		return 0, fault.Parsef("unknown timeout policy %q, use %q or %q", req.Timeout, models.TimeoutDefault, models.TimeoutUnbounded)
	}

	// Only the Coordinator may ever ask for an unbounded timeout. This is
	// decided before looking at the command at all.
	if req.Timeout == models.TimeoutUnbounded && req.Role != models.RoleCoordinator {
		return 0, fault.Permissionf(string(models.VerbExecute), "%s may not request an unbounded timeout", req.Role)
	}

	rule := s.policy.RuleFor(req.Role, req.Phase)
	if !rule.Unrestricted {
		if len(rule.Classes) == 0 {
			return 0, fault.Permissionf(string(models.VerbExecute), "%s may not execute commands during %s", req.Role, req.Phase)
		}
		if tok, ok := containsCompound(command); ok {
			return 0, fault.Permissionf(string(models.VerbExecute), "compound shell input %q is not allowed, issue one command per action", tok)
		}
		if _, ok := s.policy.Commands.Match(rule, command); !ok {
			return 0, fault.Permissionf(string(models.VerbExecute), "%q is not allow-listed for %s; allowed: %s",
				command, req.Role, s.policy.Commands.Describe(rule))
		}
	}

	if req.Timeout == models.TimeoutUnbounded {
		if s.policy.Commands.IsVerification(command) {
			return 0, fault.Permissionf(string(models.VerbExecute), "verification commands never run unbounded; split %q into smaller invocations", command)
		}
		if !s.policy.Commands.IsTraining(command) {
			return 0, fault.Permissionf(string(models.VerbExecute), "unbounded timeout is reserved for long-running training commands")
		}
		return 0, nil
	}

	timeout := s.policy.Exec.DefaultTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if timeout > s.policy.Exec.Ceiling {
		timeout = s.policy.Exec.Ceiling
	}
	return timeout, nil
}

// Execute authorizes and runs one command.
//
// A timed out command returns both its partial result and a timeout error.
// A non-zero exit status is a normal result.
func (s *Sandbox) Execute(ctx context.Context, req Request) (*models.CommandResult, error) {
	timeout, err := s.Authorize(req)
	if err != nil {
		return nil, err
	}
	command := strings.TrimSpace(req.Command)
	workDir := s.resolveWorkDir(req.WorkDir)

	return s.run(ctx, command, timeout, func(runCtx context.Context) (*Output, error) {
		return s.runner.RunShell(runCtx, workDir, command)
	})
}

// RunScript runs a scratch script in dir with the interpreter configured for
// its extension, always under the default timeout.
func (s *Sandbox) RunScript(ctx context.Context, dir, name string) (*models.CommandResult, error) {
	interp, ok := s.policy.Scratch.Interpreters[strings.ToLower(filepath.Ext(name))]
	if !ok || len(interp) == 0 {
		return nil, fault.Permissionf(string(models.VerbRunScratch), "no interpreter configured for %q", filepath.Ext(name))
	}
	args := append(append([]string{}, interp[1:]...), name)
	display := strings.Join(append([]string{interp[0]}, args...), " ")

	return s.run(ctx, display, s.policy.Exec.DefaultTimeout, func(runCtx context.Context) (*Output, error) {
		return s.runner.Run(runCtx, dir, interp[0], args...)
	})
}

func (s *Sandbox) run(ctx context.Context, command string, timeout time.Duration, fn func(context.Context) (*Output, error)) (*models.CommandResult, error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	out, runErr := fn(runCtx)
	result := toResult(command, out)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		result.PossibleInfiniteLoop = true
		result.ExitCode = -1
		s.logger.Warn("command timed out",
			zap.String("command", command),
			zap.Duration("timeout", timeout),
			zap.Bool("truncated", result.Truncated))
		return result, fault.Timeout(result)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if runErr != nil {
		return result, fmt.Errorf("execute %q: %w", command, runErr)
	}

	s.logger.Debug("command finished",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (s *Sandbox) resolveWorkDir(dir string) string {
	if dir == "" {
		return s.root
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.root, dir)
}

func toResult(command string, out *Output) *models.CommandResult {
	result := &models.CommandResult{Command: command, ExitCode: -1}
	if out == nil {
		return result
	}
	result.Stdout = string(out.Stdout)
	result.Stderr = string(out.Stderr)
	result.ExitCode = out.ExitCode
	result.Truncated = out.Truncated
	result.StartedAt = out.StartedAt
	result.Elapsed = out.Elapsed
	return result
}

func containsCompound(command string) (string, bool) {
	for _, tok := range compoundTokens {
		if strings.Contains(command, tok) {
			return tok, true
		}
	}
	return "", false
}
