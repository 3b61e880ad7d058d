package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/arbor/internal/approval"
	"github.com/ShayCichocki/arbor/internal/docstore"
	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// Tab indices.
const (
	TabMain = 0
	TabDocs = 1
)

// Source is the engine state the TUI renders.
type Source interface {
	RunID() string
	Phase() models.Phase
	Documentation() docstore.Snapshot
	Tree() *tree.Tree
	Diagnosticians() []*models.AgentNode
	AddNote(text string)
}

// Approvals lists and answers pending termination requests.
type Approvals interface {
	Pending() []approval.TerminationRequest
	Respond(resp approval.Response) error
}

// EventMsg carries one engine event into the program.
type EventMsg struct {
	Event orchestrator.Event
}

// DoneMsg is sent when the run has ended.
type DoneMsg struct {
	Err error
}

type tickMsg time.Time

// Options configures the App.
type Options struct {
	// RefreshRate is how often the tree and pending requests are re-read.
	RefreshRate time.Duration
	// OnQuit is called once when the user quits before the run has ended.
	OnQuit func()
}

// App is the bubbletea model for a run.
type App struct {
	src       Source
	approvals Approvals
	opts      Options

	header *Header
	tree   *TreePanel
	logs   *LogsPanel
	footer *Footer
	input  *InputField
	docs   viewport.Model
	layout *LayoutManager

	pending    []approval.TerminationRequest
	docVersion int64
	activeTab  int
	width      int
	height     int
	done       bool
	quitting   bool
}

// NewApp creates an App reading from src and answering through approvals.
func NewApp(src Source, approvals Approvals, opts Options) *App {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 100 * time.Millisecond
	}
	a := &App{
		src:       src,
		approvals: approvals,
		opts:      opts,
		header:    NewHeader(src.RunID()),
		tree:      NewTreePanel(),
		logs:      NewLogsPanel(),
		footer:    NewFooter(),
		input:     NewInputField(),
		docs:      viewport.New(80, 20),
		layout:    NewLayoutManager(80, 24),
	}
	a.refresh()
	return a
}

// NewProgram creates the bubbletea program for an App.
func NewProgram(src Source, approvals Approvals, opts Options) (*tea.Program, *App) {
	app := NewApp(src, approvals, opts)
	return tea.NewProgram(app, tea.WithAltScreen()), app
}

// Forward sends every event into p until the channel closes or ctx is done.
func Forward(ctx context.Context, p *tea.Program, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Send(EventMsg{Event: ev})
		}
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.tick()
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.opts.RefreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return a, a.quit()
		}
		if a.input.Mode() != modeBrowse {
			var cmd tea.Cmd
			a.input, cmd = a.input.Update(msg)
			return a, cmd
		}
		return a, a.handleKey(msg)

	case InputSubmittedMsg:
		a.submit(msg)
		a.closeInput()

	case InputCancelledMsg:
		a.closeInput()

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout.SetSize(msg.Width, msg.Height)
		a.resize()

	case EventMsg:
		a.logs.AddLog(EntryFromEvent(msg.Event))
		switch msg.Event.Type {
		case orchestrator.EventTerminationRequested, orchestrator.EventTerminationResolved,
			orchestrator.EventPhaseChanged, orchestrator.EventDocumentation,
			orchestrator.EventNodeSpawned, orchestrator.EventNodeDestroyed, orchestrator.EventNodeFinished:
			a.refresh()
		}

	case DoneMsg:
		a.done = true
		a.refresh()
		if msg.Err != nil {
			a.footer.SetRunDone(false, msg.Err.Error())
		} else {
			a.footer.SetRunDone(true, fmt.Sprintf("run %s %s", orchestrator.ShortID(a.src.RunID()), a.src.Phase()))
		}

	case tickMsg:
		a.refresh()
		if !a.done {
			return a, a.tick()
		}
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q":
		return a.quit()
	case "1":
		a.setTab(TabMain)
	case "2":
		a.setTab(TabDocs)
	case "y":
		if req, ok := a.oldestPending(); ok {
			a.respond(approval.Response{RequestID: req.ID, Approved: true})
		}
	case "x":
		if _, ok := a.oldestPending(); ok {
			return a.openInput(modeReason)
		}
	case "n":
		if !a.done {
			return a.openInput(modeNote)
		}
	default:
		if a.activeTab == TabDocs {
			var cmd tea.Cmd
			a.docs, cmd = a.docs.Update(msg)
			return cmd
		}
		a.logs, _ = a.logs.Update(msg)
	}
	return nil
}

func (a *App) quit() tea.Cmd {
	a.quitting = true
	if !a.done && a.opts.OnQuit != nil {
		a.opts.OnQuit()
	}
	return tea.Quit
}

func (a *App) openInput(mode inputMode) tea.Cmd {
	a.footer.SetMode(mode)
	a.resize()
	return a.input.Open(mode)
}

func (a *App) closeInput() {
	a.input.Close()
	a.footer.SetMode(modeBrowse)
	a.resize()
}

func (a *App) submit(msg InputSubmittedMsg) {
	switch msg.Mode {
	case modeNote:
		a.src.AddNote(msg.Text)
		a.footer.SetMessage("note queued", true)
	case modeReason:
		if req, ok := a.oldestPending(); ok {
			a.respond(approval.Response{RequestID: req.ID, Approved: false, Reason: msg.Text})
		}
	}
}

func (a *App) respond(resp approval.Response) {
	if err := a.approvals.Respond(resp); err != nil {
		a.footer.SetMessage(err.Error(), false)
		return
	}
	verdict := "rejected"
	if resp.Approved {
		verdict = "approved"
	}
	a.footer.SetMessage(verdict, true)
	a.refresh()
}

func (a *App) oldestPending() (approval.TerminationRequest, bool) {
	if len(a.pending) == 0 {
		return approval.TerminationRequest{}, false
	}
	return a.pending[0], true
}

func (a *App) setTab(tab int) {
	a.activeTab = tab
	a.footer.SetActiveTab(tab)
	a.resize()
}

// refresh re-reads the engine state.
func (a *App) refresh() {
	a.header.SetPhase(a.src.Phase())
	a.tree.Refresh(a.src.Tree(), a.src.Diagnosticians())
	a.footer.SetCounts(a.tree.Counts())
	a.pending = a.approvals.Pending()

	doc := a.src.Documentation()
	a.header.SetDocVersion(doc.Version)
	if doc.Version != a.docVersion {
		a.docVersion = doc.Version
		a.docs.SetContent(doc.Content)
	}
}

func (a *App) resize() {
	chrome := 3 // header, bar, footer
	if a.input.Mode() != modeBrowse {
		chrome += 3
	}
	a.layout.SetChrome(chrome)

	a.header.SetWidth(a.width)
	a.footer.SetWidth(a.width)
	a.input.SetWidth(a.width)
	if a.activeTab == TabDocs {
		dims := a.layout.CalculateDocsTab()
		a.docs.Width = dims.LogsWidth
		a.docs.Height = dims.ContentHeight
		return
	}
	dims := a.layout.CalculateMainTab()
	a.tree.SetSize(dims.TreeWidth, dims.ContentHeight)
	a.logs.SetSize(dims.LogsWidth, dims.ContentHeight)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var content string
	if a.activeTab == TabDocs {
		content = a.docs.View()
		if a.docVersion == 0 {
			content = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true).
				Render("  No documentation yet")
		}
	} else {
		content = lipgloss.JoinHorizontal(lipgloss.Top, a.tree.View(), a.logs.View())
	}

	parts := []string{a.header.View(), a.bar(), content}
	if a.input.Mode() != modeBrowse {
		parts = append(parts, a.input.View())
	}
	parts = append(parts, a.footer.View())
	return strings.Join(parts, "\n")
}

// bar renders the pending request, or the tab indicator when none is pending.
func (a *App) bar() string {
	if req, ok := a.oldestPending(); ok {
		kind := "advance"
		if req.Reset {
			kind = "scope reset"
		}
		text := fmt.Sprintf(" ⚑ %s %s → %s: %s  [y approve / x reject] ", kind, req.From, req.To, req.Reason)
		if n := len(a.pending); n > 1 {
			text += fmt.Sprintf("(+%d more) ", n-1)
		}
		return lipgloss.NewStyle().
			Background(lipgloss.Color("214")).
			Foreground(lipgloss.Color("0")).
			Bold(true).
			Render(text)
	}

	active := lipgloss.NewStyle().Bold(true).Reverse(true)
	inactive := lipgloss.NewStyle().Faint(true)
	main, docs := " 1:Main ", " 2:Documentation "
	if a.activeTab == TabMain {
		return active.Render(main) + inactive.Render(docs)
	}
	return inactive.Render(main) + active.Render(docs)
}

// Pending returns the requests shown in the approval bar.
func (a *App) Pending() []approval.TerminationRequest {
	return append([]approval.TerminationRequest(nil), a.pending...)
}
