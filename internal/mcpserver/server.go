// Package mcpserver exposes a running engine over MCP (stdio) so an MCP
// client can watch progress, answer termination requests and leave notes
// for the Coordinator.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// Run is the engine surface the tools read from.
type Run interface {
	RunID() string
	Phase() models.Phase
	Documentation() docstore.Snapshot
	Tree() *tree.Tree
	Diagnosticians() []*models.AgentNode
	AddNote(text string)
}

// New creates the MCP server with every arbor tool registered.
func New(run Run, gateway *approval.Gateway, journal *Journal, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"arbor",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	status := &StatusTool{run: run, gateway: gateway}
	s.AddTool(status.Definition(), status.Handle)

	events := &EventsTool{journal: journal}
	s.AddTool(events.Definition(), events.Handle)

	docs := &DocumentationTool{run: run}
	s.AddTool(docs.Definition(), docs.Handle)

	respond := &RespondTool{gateway: gateway}
	s.AddTool(respond.Definition(), respond.Handle)

	note := &NoteTool{run: run}
	s.AddTool(note.Definition(), note.Handle)

	return s
}

// Serve runs s over stdio until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `arbor drives a supervision tree of workers over one project.
The coordinator moves through understanding, structuring, implementing and
completed, and every move needs a human decision. Poll arbor_status for
pending termination requests and answer them with arbor_respond. Use
arbor_events to follow progress and arbor_note to talk to the coordinator.`
