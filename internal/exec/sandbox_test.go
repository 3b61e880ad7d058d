package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/arbor/internal/fault"
	"github.com/ShayCichocki/arbor/internal/policy"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// fakeRunner records the last command and returns a canned output.
type fakeRunner struct {
	out      *Output
	err      error
	commands []string
}

func (f *fakeRunner) Run(ctx context.Context, workDir string, name string, args ...string) (*Output, error) {
	f.commands = append(f.commands, strings.Join(append([]string{name}, args...), " "))
	return f.out, f.err
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir string, command string) (*Output, error) {
	f.commands = append(f.commands, command)
	return f.out, f.err
}

func newTestSandbox(t *testing.T, runner CommandRunner) *Sandbox {
	t.Helper()
	return NewSandbox(runner, policy.Default(), t.TempDir(), nil)
}

func TestExecute_SubManagerRunsTestSuite(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
	}{
		{"passing suite", 0},
		{"failing suite", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{out: &Output{Stdout: []byte("ok"), ExitCode: tt.exitCode}}
			sb := newTestSandbox(t, runner)

			result, err := sb.Execute(context.Background(), Request{
				Role:    models.RoleSubManager,
				Phase:   models.PhaseImplementing,
				Command: "go test ./...",
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if result.ExitCode != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", result.ExitCode, tt.exitCode)
			}
			if len(runner.commands) != 1 || runner.commands[0] != "go test ./..." {
				t.Errorf("runner commands = %v", runner.commands)
			}
		})
	}
}

func TestAuthorize_UnboundedRejectedForNonCoordinator(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})
	commands := []string{
		"python train.py --epochs 100",
		"go test ./...",
		"ls",
		"rm -rf /",
		"",
	}

	for _, role := range []models.Role{models.RoleSubManager, models.RoleImplementer, models.RoleDiagnostician} {
		for _, command := range commands {
			_, err := sb.Authorize(Request{
				Role:    role,
				Phase:   models.PhaseImplementing,
				Command: command,
				Timeout: models.TimeoutUnbounded,
			})
			if command == "" {
				if !fault.Is(err, fault.KindParse) {
					t.Errorf("%s empty command: err = %v, want parse error", role, err)
				}
				continue
			}
			if !fault.Is(err, fault.KindPermission) {
				t.Errorf("%s %q: err = %v, want permission error", role, command, err)
			}
			if err != nil && !strings.Contains(err.Error(), "unbounded") {
				t.Errorf("%s %q: err = %v, want unbounded rejection", role, command, err)
			}
		}
	}
}

func TestAuthorize_CoordinatorUnbounded(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})

	timeout, err := sb.Authorize(Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseImplementing,
		Command: "python train.py --epochs 100",
		Timeout: models.TimeoutUnbounded,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if timeout != 0 {
		t.Errorf("timeout = %v, want unbounded", timeout)
	}

	_, err = sb.Authorize(Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseImplementing,
		Command: "go test ./...",
		Timeout: models.TimeoutUnbounded,
	})
	if !fault.Is(err, fault.KindPermission) {
		t.Errorf("verification command with unbounded timeout: err = %v, want permission error", err)
	}

	_, err = sb.Authorize(Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseImplementing,
		Command: "python serve.py",
		Timeout: models.TimeoutUnbounded,
	})
	if !fault.Is(err, fault.KindPermission) {
		t.Errorf("non-training command with unbounded timeout: err = %v, want permission error", err)
	}
}

func TestAuthorize_AllowList(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})
	tests := []struct {
		name    string
		role    models.Role
		phase   models.Phase
		command string
		wantErr bool
	}{
		{"implementer builds", models.RoleImplementer, models.PhaseImplementing, "go build ./...", false},
		{"implementer installs", models.RoleImplementer, models.PhaseImplementing, "npm install", true},
		{"implementer compound", models.RoleImplementer, models.PhaseImplementing, "go test ./... && rm -rf .", true},
		{"implementer pipe", models.RoleImplementer, models.PhaseImplementing, "go test ./... | tee out", true},
		{"implementer redirect", models.RoleImplementer, models.PhaseImplementing, "go test ./... > out", true},
		{"diagnostician reads", models.RoleDiagnostician, models.PhaseImplementing, "grep -rn TODO .", false},
		{"diagnostician builds", models.RoleDiagnostician, models.PhaseImplementing, "go build ./...", true},
		{"coordinator understanding", models.RoleCoordinator, models.PhaseUnderstanding, "ls", true},
		{"coordinator structuring compound", models.RoleCoordinator, models.PhaseStructuring, "mkdir -p a && touch a/b.go", false},
		{"coordinator implementing install", models.RoleCoordinator, models.PhaseImplementing, "npm install", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sb.Authorize(Request{Role: tt.role, Phase: tt.phase, Command: tt.command})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !fault.Is(err, fault.KindPermission) {
				t.Errorf("error kind = %q, want permission", fault.KindOf(err))
			}
		})
	}
}

func TestAuthorize_TimeoutClampedToCeiling(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})
	pol := policy.Default()

	timeout, err := sb.Authorize(Request{
		Role:           models.RoleSubManager,
		Phase:          models.PhaseImplementing,
		Command:        "go test ./...",
		TimeoutSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if timeout != pol.Exec.Ceiling {
		t.Errorf("timeout = %v, want ceiling %v", timeout, pol.Exec.Ceiling)
	}

	timeout, err = sb.Authorize(Request{
		Role:    models.RoleSubManager,
		Phase:   models.PhaseImplementing,
		Command: "go test ./...",
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if timeout != pol.Exec.DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", timeout, pol.Exec.DefaultTimeout)
	}
}

func TestAuthorize_UnknownTimeoutPolicy(t *testing.T) {
	sb := newTestSandbox(t, &fakeRunner{})
	_, err := sb.Authorize(Request{
		Role:    models.RoleSubManager,
		Phase:   models.PhaseImplementing,
		Command: "go test ./...",
		Timeout: "forever",
	})
	if !fault.Is(err, fault.KindParse) {
		t.Errorf("err = %v, want parse error", err)
	}
}

func TestExecute_TimeoutReturnsPartialOutput(t *testing.T) {
	pol := policy.Default()
	pol.Exec.DefaultTimeout = 300 * time.Millisecond
	sb := NewSandbox(NewRunner(pol.Exec.MaxOutputBytes, time.Second), pol, t.TempDir(), nil)

	result, err := sb.Execute(context.Background(), Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseStructuring,
		Command: "echo partial; sleep 5",
	})
	if !fault.Is(err, fault.KindTimeout) {
		t.Fatalf("err = %v, want timeout error", err)
	}
	if result == nil {
		t.Fatal("expected partial result alongside timeout error")
	}
	if !result.TimedOut || !result.PossibleInfiniteLoop {
		t.Errorf("TimedOut = %v, PossibleInfiniteLoop = %v, want both true", result.TimedOut, result.PossibleInfiniteLoop)
	}
	if !strings.Contains(result.Stdout, "partial") {
		t.Errorf("Stdout = %q, want partial output", result.Stdout)
	}
	if result.Elapsed > 4*time.Second {
		t.Errorf("Elapsed = %v, process was not killed", result.Elapsed)
	}
	fe, _ := fault.As(err)
	if fe.Result != result {
		t.Error("timeout error should carry the result")
	}
}

func TestExecute_OutputTruncated(t *testing.T) {
	pol := policy.Default()
	sb := NewSandbox(NewRunner(16, time.Second), pol, t.TempDir(), nil)

	result, err := sb.Execute(context.Background(), Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseStructuring,
		Command: "printf 'aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa'",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Truncated {
		t.Error("expected truncated output")
	}
	if len(result.Stdout) != 16 {
		t.Errorf("len(Stdout) = %d, want 16", len(result.Stdout))
	}
}

func TestExecute_NonZeroExitIsResult(t *testing.T) {
	pol := policy.Default()
	sb := NewSandbox(NewRunner(pol.Exec.MaxOutputBytes, time.Second), pol, t.TempDir(), nil)

	result, err := sb.Execute(context.Background(), Request{
		Role:    models.RoleCoordinator,
		Phase:   models.PhaseStructuring,
		Command: "echo oops >&2; exit 3",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "oops") {
		t.Errorf("Stderr = %q", result.Stderr)
	}
}

func TestRunScript(t *testing.T) {
	runner := &fakeRunner{out: &Output{Stdout: []byte("checked")}}
	sb := newTestSandbox(t, runner)

	result, err := sb.RunScript(context.Background(), t.TempDir(), "check.sh")
	if err != nil {
		t.Fatalf("RunScript() error = %v", err)
	}
	if result.Stdout != "checked" {
		t.Errorf("Stdout = %q", result.Stdout)
	}
	if runner.commands[0] != "sh check.sh" {
		t.Errorf("command = %q, want %q", runner.commands[0], "sh check.sh")
	}

	if _, err := sb.RunScript(context.Background(), t.TempDir(), "check.exe"); !fault.Is(err, fault.KindPermission) {
		t.Errorf("unknown extension: err = %v, want permission error", err)
	}
}
