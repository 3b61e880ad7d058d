package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

type fakeSource struct {
	nodes *tree.Tree
	phase models.Phase
	doc   docstore.Snapshot
	notes []string
}

func (f *fakeSource) RunID() string                       { return "0123456789abcdef" }
func (f *fakeSource) Phase() models.Phase                 { return f.phase }
func (f *fakeSource) Documentation() docstore.Snapshot    { return f.doc }
func (f *fakeSource) Tree() *tree.Tree                    { return f.nodes }
func (f *fakeSource) Diagnosticians() []*models.AgentNode { return nil }
func (f *fakeSource) AddNote(text string)                 { f.notes = append(f.notes, text) }

type fakeApprovals struct {
	pending   []approval.TerminationRequest
	responses []approval.Response
}

func (f *fakeApprovals) Pending() []approval.TerminationRequest {
	return append([]approval.TerminationRequest(nil), f.pending...)
}

func (f *fakeApprovals) Respond(resp approval.Response) error {
	for i, r := range f.pending {
		if r.ID == resp.RequestID {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			f.responses = append(f.responses, resp)
			return nil
		}
	}
	return approval.ErrUnknownRequest
}

func newTestApp(t *testing.T, pending ...approval.TerminationRequest) (*App, *fakeSource, *fakeApprovals) {
	t.Helper()
	src := &fakeSource{nodes: tree.New(10), phase: models.PhaseStructuring}
	approvals := &fakeApprovals{pending: pending}
	app := NewApp(src, approvals, Options{})
	app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return app, src, approvals
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press delivers enter or esc to the open input and feeds the resulting
// message back into the app.
func press(t *testing.T, a *App, k tea.KeyType) {
	t.Helper()
	_, cmd := a.Update(tea.KeyMsg{Type: k})
	if cmd == nil {
		t.Fatalf("key %v produced no command", k)
	}
	a.Update(cmd())
}

func TestNewApp(t *testing.T) {
	app, _, _ := newTestApp(t)
	if app.Init() == nil {
		t.Error("Init should schedule a refresh tick")
	}
	if got := app.tree.Lines(); got != 2 {
		t.Errorf("tree lines = %d, want coordinator and root", got)
	}
	view := app.View()
	for _, want := range []string{"arbor", "01234567", "structuring", "Agents", "Activity"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestApp_CtrlCCallsOnQuit(t *testing.T) {
	src := &fakeSource{nodes: tree.New(10), phase: models.PhaseUnderstanding}
	quit := 0
	app := NewApp(src, &fakeApprovals{}, Options{OnQuit: func() { quit++ }})

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if !app.quitting || quit != 1 {
		t.Errorf("quitting=%v onQuit calls=%d", app.quitting, quit)
	}
}

func TestApp_QuitAfterDoneDoesNotCancel(t *testing.T) {
	src := &fakeSource{nodes: tree.New(10), phase: models.PhaseCompleted}
	quit := 0
	app := NewApp(src, &fakeApprovals{}, Options{OnQuit: func() { quit++ }})

	app.Update(DoneMsg{})
	app.Update(key("q"))
	if quit != 0 {
		t.Errorf("OnQuit called %d times after the run ended", quit)
	}
	if !strings.Contains(app.footer.View(), "completed") {
		t.Errorf("footer = %q", app.footer.View())
	}
}

func TestApp_ApproveOldestPending(t *testing.T) {
	app, _, approvals := newTestApp(t,
		approval.TerminationRequest{ID: "r1", From: models.PhaseStructuring, To: models.PhaseImplementing, Reason: "scaffolded"},
		approval.TerminationRequest{ID: "r2", From: models.PhaseStructuring, To: models.PhaseImplementing},
	)
	if !strings.Contains(app.View(), "scaffolded") {
		t.Error("approval bar should show the oldest request")
	}

	app.Update(key("y"))
	if len(approvals.responses) != 1 {
		t.Fatalf("responses = %+v", approvals.responses)
	}
	if resp := approvals.responses[0]; resp.RequestID != "r1" || !resp.Approved {
		t.Errorf("response = %+v, want r1 approved", resp)
	}
	if got := app.Pending(); len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("pending after approve = %+v", got)
	}
}

func TestApp_RejectWithReason(t *testing.T) {
	app, _, approvals := newTestApp(t, approval.TerminationRequest{ID: "r1"})

	app.Update(key("x"))
	if app.input.Mode() != modeReason {
		t.Fatalf("mode = %v, want reason input", app.input.Mode())
	}
	app.Update(key("tests fail"))
	press(t, app, tea.KeyEnter)

	if len(approvals.responses) != 1 {
		t.Fatalf("responses = %+v", approvals.responses)
	}
	resp := approvals.responses[0]
	if resp.Approved || resp.Reason != "tests fail" {
		t.Errorf("response = %+v, want rejection with reason", resp)
	}
	if app.input.Mode() != modeBrowse {
		t.Error("input should close after submit")
	}
}

func TestApp_RejectWithoutPendingIgnored(t *testing.T) {
	app, _, _ := newTestApp(t)
	app.Update(key("x"))
	if app.input.Mode() != modeBrowse {
		t.Error("x without a pending request should not open the input")
	}
}

func TestApp_NoteAndCancel(t *testing.T) {
	app, src, _ := newTestApp(t)

	app.Update(key("n"))
	app.Update(key("use sqlite"))
	press(t, app, tea.KeyEnter)
	if len(src.notes) != 1 || src.notes[0] != "use sqlite" {
		t.Errorf("notes = %q", src.notes)
	}

	app.Update(key("n"))
	app.Update(key("draft"))
	press(t, app, tea.KeyEsc)
	if len(src.notes) != 1 {
		t.Errorf("cancelled note was delivered: %q", src.notes)
	}
	if app.input.Mode() != modeBrowse {
		t.Error("esc should close the input")
	}
}

func TestApp_RespondErrorShownInFooter(t *testing.T) {
	app, _, approvals := newTestApp(t, approval.TerminationRequest{ID: "r1"})
	approvals.pending = nil

	app.Update(key("y"))
	if !strings.Contains(app.footer.View(), approval.ErrUnknownRequest.Error()) {
		t.Errorf("footer = %q", app.footer.View())
	}
}

func TestApp_EventsReachLog(t *testing.T) {
	app, _, _ := newTestApp(t)
	app.Update(EventMsg{Event: orchestrator.Event{
		Type:      orchestrator.EventCommand,
		NodeID:    "node-123456789",
		Result:    &models.CommandResult{Command: "go test ./...", ExitCode: 1},
		Timestamp: time.Now(),
	}})
	app.Update(EventMsg{Event: orchestrator.Event{Type: orchestrator.EventEscalation, Timestamp: time.Now()}})

	if app.logs.LogCount() != 2 {
		t.Fatalf("log count = %d, want 2", app.logs.LogCount())
	}
	if lvl := app.logs.logs[0].Level; lvl != LogLevelWarn {
		t.Errorf("failing command level = %s, want WARN", lvl)
	}
	if lvl := app.logs.logs[1].Level; lvl != LogLevelError {
		t.Errorf("escalation level = %s, want ERROR", lvl)
	}

	app.Update(key("f"))
	if got := app.logs.CurrentFilter(); got != "node-123" {
		t.Errorf("filter = %q, want node-123", got)
	}
}

func TestApp_DocumentationTab(t *testing.T) {
	app, src, _ := newTestApp(t)
	app.Update(key("2"))
	if !strings.Contains(app.View(), "No documentation yet") {
		t.Error("empty documentation placeholder missing")
	}

	src.doc = docstore.Snapshot{Version: 1, Content: "# Layout\n\npkg/a owns parsing"}
	app.Update(tickMsg(time.Now()))
	if !strings.Contains(app.View(), "pkg/a owns parsing") {
		t.Errorf("documentation not rendered:\n%s", app.View())
	}
}

func TestApp_DoneWithError(t *testing.T) {
	app, _, _ := newTestApp(t)
	_, cmd := app.Update(DoneMsg{Err: errors.New("oracle unavailable")})
	if cmd != nil {
		t.Error("done should not schedule anything")
	}
	if !strings.Contains(app.footer.View(), "oracle unavailable") {
		t.Errorf("footer = %q", app.footer.View())
	}
	if _, cmd := app.Update(tickMsg(time.Now())); cmd != nil {
		t.Error("ticks should stop after the run ends")
	}
}

func TestTreePanel_Counts(t *testing.T) {
	nodes := tree.New(10)
	child, err := nodes.Spawn(nodes.RootID(), models.RoleImplementer, "main.go", "write main", 0)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := nodes.SetStatus(child.ID, models.NodeStatusFailed); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	p := NewTreePanel()
	p.SetSize(60, 20)
	p.Refresh(nodes, []*models.AgentNode{{ID: "diag", Role: models.RoleDiagnostician, Status: models.NodeStatusDone}})

	counts := p.Counts()
	if counts.Running != 1 || counts.Failed != 1 || counts.Done != 1 {
		t.Errorf("counts = %+v, want 1 running (coordinator), 1 failed, 1 done", counts)
	}
	if p.Lines() != 4 {
		t.Errorf("lines = %d, want 4", p.Lines())
	}
	if view := p.View(); !strings.Contains(view, "main.go") {
		t.Errorf("view missing scope:\n%s", view)
	}
}
