package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/config"
	"github.com/ShayCichocki/arbor/internal/state"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// useProject points the command globals at a fresh project directory.
func useProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	projectDir = dir
	cfg = config.Default()
	cfg.ScratchDir = t.TempDir()
	logger = zap.NewNop()
	return dir
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "script.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

const lifecycleScript = `coordinator:
  - {action: write_documentation, content: "# Plan\n\nOne binary.", mode: replace}
  - {action: terminate, reason: documented}
  - {action: terminate, reason: scaffolded}
  - {action: terminate, reason: done}
`

func TestScriptedRun_Completes(t *testing.T) {
	dir := useProject(t)
	script := writeScript(t, t.TempDir(), lifecycleScript)

	auto := &approval.Auto{Approve: true}
	sess, err := openSession(context.Background(), sessionOptions{Script: script, Approver: auto})
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	sess.out = &strings.Builder{}

	runErr := runHeadless(context.Background(), sess)
	if err := sess.finish(runErr); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	runID := sess.run.ID
	sess.Close()

	if got := len(auto.Requests()); got != 3 {
		t.Errorf("approval requests = %d, want 3", got)
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		t.Fatalf("OpenProject failed: %v", err)
	}
	defer db.Close()
	run, err := db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != state.RunCompleted || run.Phase != models.PhaseCompleted {
		t.Errorf("run = %s/%s, want completed/completed", run.Phase, run.Status)
	}

	mirror, err := os.ReadFile(state.MirrorPath(dir))
	if err != nil {
		t.Fatalf("read documentation mirror: %v", err)
	}
	if !strings.Contains(string(mirror), "One binary.") {
		t.Errorf("mirror = %q", mirror)
	}
}

func TestScriptedRun_CanceledIsResumable(t *testing.T) {
	dir := useProject(t)
	script := writeScript(t, t.TempDir(), `coordinator:
  - {action: write_documentation, content: "# Plan", mode: replace}
  - {action: terminate, reason: documented}
`)

	// The second request blocks until the context is cancelled.
	gateway := approval.NewGateway()
	sess, err := openSession(context.Background(), sessionOptions{Script: script, Approver: gateway})
	if err != nil {
		t.Fatalf("openSession failed: %v", err)
	}
	out := &strings.Builder{}
	sess.out = out

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runHeadless(ctx, sess) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(gateway.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no termination request")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case runErr := <-done:
		if err := sess.finish(runErr); err != nil {
			t.Fatalf("finish returned %v, want nil for a canceled run", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	runID := sess.run.ID
	sess.Close()

	if !strings.Contains(out.String(), "--resume "+runID) {
		t.Errorf("missing resume hint: %q", out.String())
	}

	db, err := state.OpenProject(dir)
	if err != nil {
		t.Fatalf("OpenProject failed: %v", err)
	}
	run, resume, err := prepareRun(db, runID)
	db.Close()
	if err != nil {
		t.Fatalf("prepareRun failed: %v", err)
	}
	if run.ID != runID || resume == nil {
		t.Fatalf("prepareRun = %+v, %+v", run, resume)
	}
	if resume.Phase != models.PhaseUnderstanding || resume.Documentation.Content != "# Plan" {
		t.Errorf("resume state = %s %q", resume.Phase, resume.Documentation.Content)
	}
	if len(resume.Ownership) != 2 {
		t.Errorf("ownership rows = %d, want coordinator and root", len(resume.Ownership))
	}
}

func TestPrepareRun_RejectsCompletedAndUnknown(t *testing.T) {
	dir := useProject(t)
	db, err := state.OpenProject(dir)
	if err != nil {
		t.Fatalf("OpenProject failed: %v", err)
	}
	defer db.Close()

	if _, _, err := prepareRun(db, "missing"); err == nil {
		t.Error("expected error for unknown run")
	}

	done := &state.Run{ID: "done", ProjectRoot: dir, Phase: models.PhaseCompleted, Status: state.RunCompleted}
	if err := db.CreateRun(done); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if _, _, err := prepareRun(db, "done"); err == nil || !strings.Contains(err.Error(), "already completed") {
		t.Errorf("prepareRun(done) error = %v", err)
	}
}

func TestNewOracle_RequiresKey(t *testing.T) {
	useProject(t)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("ARBOR_ANTHROPIC_API_KEY", "")

	_, err := newOracle(context.Background(), "")
	if err == nil || !strings.Contains(err.Error(), "arbor config anthropic.api_key") {
		t.Errorf("newOracle error = %v", err)
	}
}

func TestConfigValues(t *testing.T) {
	c := config.Default()
	tests := []struct {
		key     string
		value   string
		want    string
		wantErr bool
	}{
		{"executor.default_timeout", "45s", "45s", false},
		{"EXECUTOR.CEILING", "2m", "2m0s", false},
		{"executor.max_output_bytes", "1024", "1024", false},
		{"anthropic.use_bedrock", "true", "true", false},
		{"anthropic.max_tokens", "0", "", true},
		{"logging.level", "loud", "", true},
		{"tui.refresh_rate", "soon", "", true},
		{"anthropic.api_key", "not-a-key", "", true},
		{"no.such.key", "x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := setConfigValue(c, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Errorf("setConfigValue(%q, %q) expected error", tt.key, tt.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("setConfigValue failed: %v", err)
			}
			got, err := getConfigValue(c, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestConfigValues_APIKeyMasked(t *testing.T) {
	c := config.Default()
	key := "sk-ant-REDACTED"
	if err := setConfigValue(c, "anthropic.api_key", key); err != nil {
		t.Fatalf("setConfigValue failed: %v", err)
	}
	got, _ := getConfigValue(c, "anthropic.api_key")
	if got == key || !strings.HasPrefix(got, "sk-ant-") {
		t.Errorf("api key shown as %q", got)
	}
}

func TestIgnoreStateDir(t *testing.T) {
	dir := t.TempDir()
	added, err := ignoreStateDir(dir)
	if err != nil || added {
		t.Fatalf("without .gitignore: added=%v err=%v", added, err)
	}

	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, []byte("bin/"), 0644); err != nil {
		t.Fatal(err)
	}
	added, err = ignoreStateDir(dir)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "bin/\n.arbor/\n" {
		t.Errorf(".gitignore = %q", data)
	}

	added, err = ignoreStateDir(dir)
	if err != nil || added {
		t.Errorf("second add: added=%v err=%v", added, err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{49 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
