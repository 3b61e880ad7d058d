package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
)

// StatusTool handles the arbor_status MCP tool.
type StatusTool struct {
	run     Run
	gateway *approval.Gateway
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("arbor_status",
		mcp.WithDescription("Show the run's phase, live workers and pending termination requests."),
	)
}

// Handle processes the arbor_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\nPhase: **%s**\n\n", t.run.RunID(), t.run.Phase())

	b.WriteString("## Workers\n\n| ID | Role | Scope | Status |\n|----|------|-------|--------|\n")
	for _, n := range t.run.Tree().Nodes() {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", orchestrator.ShortID(n.ID), n.Role, orDash(n.Scope), n.Status)
	}
	for _, n := range t.run.Diagnosticians() {
		fmt.Fprintf(&b, "| %s | %s | - | %s |\n", orchestrator.ShortID(n.ID), n.Role, n.Status)
	}

	pending := t.gateway.Pending()
	b.WriteString("\n## Pending termination requests\n\n")
	if len(pending) == 0 {
		b.WriteString("None.\n")
	}
	for _, r := range pending {
		kind := "advance"
		if r.Reset {
			kind = "scope reset"
		}
		fmt.Fprintf(&b, "- `%s` %s %s -> %s: %s\n", r.ID, kind, r.From, r.To, r.Reason)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// EventsTool handles the arbor_events MCP tool.
type EventsTool struct {
	journal *Journal
}

// Definition returns the MCP tool definition for registration.
func (t *EventsTool) Definition() mcp.Tool {
	return mcp.NewTool("arbor_events",
		mcp.WithDescription("List engine events newer than a sequence number. "+
			"Pass the last seq you saw to poll for new events."),
		mcp.WithNumber("since", mcp.Description("Only events with a larger seq. Default 0.")),
		mcp.WithNumber("limit", mcp.Description("Maximum events to return, newest kept. Default 50.")),
	)
}

// Handle processes the arbor_events tool call.
func (t *EventsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := int64(req.GetFloat("since", 0))
	limit := req.GetInt("limit", 50)

	entries := t.journal.Since(since, limit)
	if len(entries) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No events after seq %d.", since)), nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d %s %s\n", e.Seq, e.At.Format("15:04:05"), e.Line)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// DocumentationTool handles the arbor_documentation MCP tool.
type DocumentationTool struct {
	run Run
}

// Definition returns the MCP tool definition for registration.
func (t *DocumentationTool) Definition() mcp.Tool {
	return mcp.NewTool("arbor_documentation",
		mcp.WithDescription("Return the current project documentation written by the coordinator."),
	)
}

// Handle processes the arbor_documentation tool call.
func (t *DocumentationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := t.run.Documentation()
	if snap.Version == 0 {
		return mcp.NewToolResultText("No documentation has been written yet."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("<!-- version %d -->\n%s", snap.Version, snap.Content)), nil
}

// RespondTool handles the arbor_respond MCP tool.
type RespondTool struct {
	gateway *approval.Gateway
}

// Definition returns the MCP tool definition for registration.
func (t *RespondTool) Definition() mcp.Tool {
	return mcp.NewTool("arbor_respond",
		mcp.WithDescription("Approve or reject a pending termination request. "+
			"A rejection keeps the phase and shows the reason to the coordinator."),
		mcp.WithString("request_id", mcp.Required(), mcp.Description("ID from arbor_status.")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("true to approve, false to reject.")),
		mcp.WithString("reason", mcp.Description("Why. Required in spirit for rejections.")),
	)
}

// Handle processes the arbor_respond tool call.
func (t *RespondTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("request_id", ""))
	if id == "" {
		return mcp.NewToolResultError("'request_id' is required"), nil
	}
	resp := approval.Response{
		RequestID: id,
		Approved:  req.GetBool("approved", false),
		Reason:    req.GetString("reason", ""),
	}
	if err := t.gateway.Respond(resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Cannot answer %q: %v", id, err)), nil
	}
	verdict := "rejected"
	if resp.Approved {
		verdict = "approved"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Request %s %s.", id, verdict)), nil
}

// NoteTool handles the arbor_note MCP tool.
type NoteTool struct {
	run Run
}

// Definition returns the MCP tool definition for registration.
func (t *NoteTool) Definition() mcp.Tool {
	return mcp.NewTool("arbor_note",
		mcp.WithDescription("Leave a message for the coordinator. It is shown on the coordinator's next turn."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The message.")),
	)
}

// Handle processes the arbor_note tool call.
func (t *NoteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := strings.TrimSpace(req.GetString("text", ""))
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}
	t.run.AddNote(text)
	return mcp.NewToolResultText("Note queued for the coordinator."), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
