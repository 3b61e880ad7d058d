package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// NodeCounts tallies tree nodes by display state.
type NodeCounts struct {
	Running int
	Done    int
	Failed  int
}

var (
	footerOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("28")).Bold(true)
	footerFailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	footerHintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	footerSepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

// Footer is the bottom bar: node counts, the latest status message and the
// keys that apply right now.
type Footer struct {
	counts NodeCounts
	// message is shown after the counts, green when ok.
	message string
	ok      bool
	runDone bool
	tab     int
	mode    inputMode
	width   int
}

func NewFooter() *Footer {
	return &Footer{}
}

// SetMessage shows a status message until the next one.
func (f *Footer) SetMessage(message string, ok bool) {
	f.message, f.ok = message, ok
}

// SetRunDone replaces the counts with the final outcome of the run.
func (f *Footer) SetRunDone(ok bool, message string) {
	f.runDone = true
	f.SetMessage(message, ok)
}

func (f *Footer) SetActiveTab(tab int) { f.tab = tab }
func (f *Footer) SetMode(mode inputMode) { f.mode = mode }
func (f *Footer) SetWidth(width int) { f.width = width }
func (f *Footer) SetCounts(counts NodeCounts) { f.counts = counts }

func (f *Footer) View() string {
	return f.status() + footerSepStyle.Render(" │ ") + footerHintStyle.Render(strings.Join(f.hints(), " │ "))
}

func (f *Footer) status() string {
	if f.runDone {
		if f.ok {
			return footerOKStyle.Render("✓ " + f.message)
		}
		return footerFailStyle.Render("✗ " + f.message)
	}

	s := fmt.Sprintf("⏳%d ✓%d", f.counts.Running, f.counts.Done)
	if f.counts.Failed > 0 {
		s += footerFailStyle.Render(fmt.Sprintf(" ✗%d", f.counts.Failed))
	}
	switch {
	case f.message == "":
	case f.ok:
		s += " " + footerHintStyle.Render(f.message)
	default:
		s += " " + footerFailStyle.Render(f.message)
	}
	return s
}

func (f *Footer) hints() []string {
	switch {
	case f.runDone:
		return []string{"Press q to exit"}
	case f.mode != modeBrowse:
		return []string{"enter submit", "esc cancel"}
	case f.tab == TabDocs:
		return []string{"1/2 tabs", "↑/↓ scroll", "y approve", "x reject", "n note", "q quit"}
	}
	return []string{"1/2 tabs", "↑/↓ scroll log", "f filter", "y approve", "x reject", "n note", "q quit"}
}
