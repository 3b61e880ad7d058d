package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// LogLevel is the severity shown next to an activity line.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	// NodeID is empty for run-wide lines.
	NodeID  string
	Message string
}

// EntryFromEvent converts an engine event into a log line.
func EntryFromEvent(ev orchestrator.Event) LogEntry {
	return LogEntry{
		Timestamp: ev.Timestamp,
		Level:     levelOf(ev),
		NodeID:    ev.NodeID,
		Message:   ev.String(),
	}
}

func levelOf(ev orchestrator.Event) LogLevel {
	switch ev.Type {
	case orchestrator.EventEscalation:
		return LogLevelError
	case orchestrator.EventRejection:
		return LogLevelWarn
	case orchestrator.EventCommand:
		if ev.Result != nil && (ev.Result.TimedOut || ev.Result.ExitCode != 0) {
			return LogLevelWarn
		}
	case orchestrator.EventNodeFinished:
		if ev.Report != nil && ev.Report.Status == models.ReportFail {
			return LogLevelError
		}
	}
	return LogLevelInfo
}

const (
	allNodes   = "all"
	logHistory = 1000
)

var (
	logTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Padding(0, 1)
	logFilterStyle = lipgloss.NewStyle().Background(lipgloss.Color("236")).Foreground(lipgloss.Color("252")).Padding(0, 1)
	logTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	logTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	logEmptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	logBorderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))

	levelBadges = map[LogLevel]string{
		LogLevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Render("I"),
		LogLevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("W"),
		LogLevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("E"),
	}
)

// LogsPanel is the activity log. "f" cycles a per-node filter through the
// nodes seen so far; the list follows new lines until the user scrolls up.
type LogsPanel struct {
	logs  []LogEntry
	nodes []string // short IDs in order of first appearance
	// filter is allNodes or a short node ID.
	filter string
	follow bool
	width  int
	vp     viewport.Model
}

func NewLogsPanel() *LogsPanel {
	return &LogsPanel{
		filter: allNodes,
		follow: true,
		vp:     viewport.New(0, 0),
	}
}

// AddLog appends entry, keeping at most the last logHistory lines.
func (p *LogsPanel) AddLog(entry LogEntry) {
	p.logs = append(p.logs, entry)
	if over := len(p.logs) - logHistory; over > 0 {
		p.logs = p.logs[over:]
	}
	if entry.NodeID != "" {
		p.rememberNode(orchestrator.ShortID(entry.NodeID))
	}
	p.render()
}

func (p *LogsPanel) rememberNode(id string) {
	for _, n := range p.nodes {
		if n == id {
			return
		}
	}
	p.nodes = append(p.nodes, id)
}

func (p *LogsPanel) SetSize(width, height int) {
	p.width = width
	// Border and title take four rows, the border two columns.
	p.vp.Width = max(width-2, 1)
	p.vp.Height = max(height-4, 1)
	p.render()
}

// Update handles scrolling and filter keys.
func (p *LogsPanel) Update(msg tea.Msg) (*LogsPanel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return p, nil
	}
	switch key.String() {
	case "f":
		p.filter = p.nextFilter()
		p.follow = true
		p.render()
		return p, nil
	case "g":
		p.vp.GotoTop()
		p.follow = false
		return p, nil
	case "G":
		p.vp.GotoBottom()
		p.follow = true
		return p, nil
	}

	var cmd tea.Cmd
	p.vp, cmd = p.vp.Update(msg)
	p.follow = p.vp.AtBottom()
	return p, cmd
}

func (p *LogsPanel) nextFilter() string {
	options := append([]string{allNodes}, p.nodes...)
	for i, opt := range options {
		if opt == p.filter {
			return options[(i+1)%len(options)]
		}
	}
	return allNodes
}

func (p *LogsPanel) visible() []LogEntry {
	if p.filter == allNodes {
		return p.logs
	}
	var out []LogEntry
	for _, e := range p.logs {
		if orchestrator.ShortID(e.NodeID) == p.filter {
			out = append(out, e)
		}
	}
	return out
}

// render rebuilds the viewport content from the filtered lines.
func (p *LogsPanel) render() {
	entries := p.visible()
	if len(entries) == 0 {
		p.vp.SetContent(logEmptyStyle.Render("  No activity"))
		return
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = p.line(e)
	}
	p.vp.SetContent(strings.Join(lines, "\n"))
	if p.follow {
		p.vp.GotoBottom()
	}
}

func (p *LogsPanel) line(e LogEntry) string {
	msg, _, _ := strings.Cut(e.Message, "\n")
	if room := max(p.width-16, 20); len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	badge, ok := levelBadges[e.Level]
	if !ok {
		badge = levelBadges[LogLevelInfo]
	}
	return logTimeStyle.Render(e.Timestamp.Format("15:04:05")) + " " + badge + " " + logTextStyle.Render(msg)
}

func (p *LogsPanel) View() string {
	header := logTitleStyle.Render("Activity")
	label := " [" + p.filter + "]"
	if p.follow {
		label += " (auto)"
	}
	header += logFilterStyle.Render(label)

	return logBorderStyle.
		Width(max(p.width-2, 1)).
		Render(header + "\n" + p.vp.View())
}

// LogCount returns the number of retained lines across all nodes.
func (p *LogsPanel) LogCount() int {
	return len(p.logs)
}

// CurrentFilter returns allNodes or the short ID being shown.
func (p *LogsPanel) CurrentFilter() string {
	return p.filter
}
