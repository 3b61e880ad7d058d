package mcpserver

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

type fakeRun struct {
	mu    sync.Mutex
	nodes *tree.Tree
	doc   docstore.Snapshot
	notes []string
}

func newFakeRun() *fakeRun {
	return &fakeRun{nodes: tree.New(20)}
}

func (f *fakeRun) RunID() string                       { return "run-1" }
func (f *fakeRun) Phase() models.Phase                 { return models.PhaseStructuring }
func (f *fakeRun) Documentation() docstore.Snapshot    { return f.doc }
func (f *fakeRun) Tree() *tree.Tree                    { return f.nodes }
func (f *fakeRun) Diagnosticians() []*models.AgentNode { return nil }

func (f *fakeRun) AddNote(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, text)
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestNew_RegistersTools(t *testing.T) {
	s := New(newFakeRun(), approval.NewGateway(), NewJournal(10), "test")
	if s == nil {
		t.Fatal("New returned nil")
	}
}

func TestStatusTool_ListsWorkersAndPending(t *testing.T) {
	run := newFakeRun()
	gw := approval.NewGateway()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.RequestTermination(ctx, approval.TerminationRequest{ID: "req-1", From: models.PhaseStructuring, To: models.PhaseImplementing, Reason: "scaffolded"})
	}()
	waitPending(t, gw, 1)

	tool := &StatusTool{run: run, gateway: gw}
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	text := resultText(result)
	for _, want := range []string{"run-1", "structuring", "coordinator", "submanager", "req-1", "scaffolded"} {
		if !strings.Contains(text, want) {
			t.Errorf("status missing %q:\n%s", want, text)
		}
	}
	cancel()
	<-done
}

func TestRespondTool_ApprovesPendingRequest(t *testing.T) {
	gw := approval.NewGateway()
	got := make(chan approval.Response, 1)
	go func() {
		resp, _ := gw.RequestTermination(context.Background(), approval.TerminationRequest{ID: "req-1"})
		got <- resp
	}()
	waitPending(t, gw, 1)

	tool := &RespondTool{gateway: gw}
	result, err := tool.Handle(context.Background(), callRequest(map[string]interface{}{
		"request_id": "req-1",
		"approved":   true,
		"reason":     "looks complete",
	}))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(result))
	}

	select {
	case resp := <-got:
		if !resp.Approved || resp.Reason != "looks complete" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request was not answered")
	}
}

func TestRespondTool_Errors(t *testing.T) {
	tool := &RespondTool{gateway: approval.NewGateway()}
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing id", map[string]interface{}{"approved": true}},
		{"unknown id", map[string]interface{}{"request_id": "nope", "approved": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Handle(context.Background(), callRequest(tt.args))
			if err != nil {
				t.Fatalf("Handle failed: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected error result, got %q", resultText(result))
			}
		})
	}
}

func TestNoteTool(t *testing.T) {
	run := newFakeRun()
	tool := &NoteTool{run: run}

	result, _ := tool.Handle(context.Background(), callRequest(map[string]interface{}{"text": "  "}))
	if !result.IsError {
		t.Error("blank note should be rejected")
	}
	result, _ = tool.Handle(context.Background(), callRequest(map[string]interface{}{"text": "prefer sqlite"}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", resultText(result))
	}
	if len(run.notes) != 1 || run.notes[0] != "prefer sqlite" {
		t.Errorf("notes = %q", run.notes)
	}
}

func TestDocumentationTool(t *testing.T) {
	run := newFakeRun()
	tool := &DocumentationTool{run: run}

	result, _ := tool.Handle(context.Background(), callRequest(nil))
	if !strings.Contains(resultText(result), "No documentation") {
		t.Errorf("empty documentation text = %q", resultText(result))
	}

	run.doc = docstore.Snapshot{Version: 3, Content: "# Plan"}
	result, _ = tool.Handle(context.Background(), callRequest(nil))
	if text := resultText(result); !strings.Contains(text, "version 3") || !strings.Contains(text, "# Plan") {
		t.Errorf("documentation text = %q", text)
	}
}

func TestJournal_SinceAndLimit(t *testing.T) {
	j := NewJournal(3)
	for i := 0; i < 5; i++ {
		j.Add(orchestrator.Event{Type: orchestrator.EventCommand, Message: "step", Timestamp: time.Now()})
	}
	if j.Last() != 5 {
		t.Errorf("Last() = %d, want 5", j.Last())
	}

	all := j.Since(0, 0)
	if len(all) != 3 || all[0].Seq != 3 {
		t.Errorf("Since(0) = %+v, want seqs 3..5", all)
	}
	if got := j.Since(4, 0); len(got) != 1 || got[0].Seq != 5 {
		t.Errorf("Since(4) = %+v", got)
	}
	if got := j.Since(0, 2); len(got) != 2 || got[0].Seq != 4 {
		t.Errorf("Since(0, 2) = %+v", got)
	}
}

func TestEventsTool(t *testing.T) {
	j := NewJournal(10)
	j.Add(orchestrator.Event{Type: orchestrator.EventPhaseChanged, Message: "understanding -> structuring", Timestamp: time.Now()})
	tool := &EventsTool{journal: j}

	result, _ := tool.Handle(context.Background(), callRequest(map[string]interface{}{"since": float64(0)}))
	if !strings.Contains(resultText(result), "phase_changed") {
		t.Errorf("events text = %q", resultText(result))
	}
	result, _ = tool.Handle(context.Background(), callRequest(map[string]interface{}{"since": float64(1)}))
	if !strings.Contains(resultText(result), "No events") {
		t.Errorf("events text = %q", resultText(result))
	}
}

func TestJournal_Consume(t *testing.T) {
	j := NewJournal(10)
	ch := make(chan orchestrator.Event, 2)
	ch <- orchestrator.Event{Type: orchestrator.EventRunCompleted}
	close(ch)

	var forwarded int
	j.Consume(context.Background(), ch, func(orchestrator.Event) { forwarded++ })
	if forwarded != 1 || j.Last() != 1 {
		t.Errorf("forwarded=%d last=%d, want 1 and 1", forwarded, j.Last())
	}
}

func waitPending(t *testing.T, gw *approval.Gateway, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(gw.Pending()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d pending requests", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
