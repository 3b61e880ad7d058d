package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/internal/tree"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// TreePanel renders the supervision tree, one node per line.
type TreePanel struct {
	lines  []string
	counts NodeCounts
	width  int
	height int

	titleStyle lipgloss.Style
	scopeStyle lipgloss.Style
	dimStyle   lipgloss.Style
}

// NewTreePanel creates a new TreePanel.
func NewTreePanel() *TreePanel {
	return &TreePanel{
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),
		scopeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetSize updates the panel dimensions.
func (p *TreePanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// Refresh rebuilds the rendered lines from the tree and the live
// diagnosticians.
func (p *TreePanel) Refresh(t *tree.Tree, diagnosticians []*models.AgentNode) {
	p.lines = p.lines[:0]
	p.counts = NodeCounts{}
	if t == nil {
		return
	}
	p.walk(t, t.CoordinatorID(), 0)
	for _, d := range diagnosticians {
		p.add(d, 1)
	}
}

func (p *TreePanel) walk(t *tree.Tree, id string, depth int) {
	node, ok := t.Get(id)
	if !ok {
		return
	}
	p.add(node, depth)
	for _, child := range t.Children(id) {
		p.walk(t, child.ID, depth+1)
	}
}

func (p *TreePanel) add(node *models.AgentNode, depth int) {
	switch node.Status {
	case models.NodeStatusRunning, models.NodeStatusWaiting:
		p.counts.Running++
	case models.NodeStatusDone:
		p.counts.Done++
	case models.NodeStatusFailed:
		p.counts.Failed++
	}

	glyph, style := statusGlyph(node.Status)
	line := strings.Repeat("  ", depth) + style.Render(glyph) + " " + string(node.Role)
	if node.Scope != "" {
		line += " " + p.scopeStyle.Render(node.Scope)
	}
	line += p.dimStyle.Render(fmt.Sprintf(" %s", orchestrator.ShortID(node.ID)))
	p.lines = append(p.lines, line)
}

// Counts returns the node counts from the last refresh.
func (p *TreePanel) Counts() NodeCounts {
	return p.counts
}

// Lines returns the number of rendered nodes.
func (p *TreePanel) Lines() int {
	return len(p.lines)
}

// View renders the tree panel.
func (p *TreePanel) View() string {
	var b strings.Builder
	b.WriteString(p.titleStyle.Render("Agents"))
	b.WriteString("\n")

	visible := p.height - 4
	if visible < 1 {
		visible = 1
	}
	for i, line := range p.lines {
		if i >= visible {
			b.WriteString(p.dimStyle.Render(fmt.Sprintf("  … %d more", len(p.lines)-visible)))
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(p.width-2, 1)).
		Height(max(p.height-2, 1)).
		Render(b.String())
}

func statusGlyph(status models.NodeStatus) (string, lipgloss.Style) {
	switch status {
	case models.NodeStatusRunning:
		return "●", lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	case models.NodeStatusWaiting:
		return "◐", lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	case models.NodeStatusDone:
		return "✓", lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	case models.NodeStatusFailed:
		return "✗", lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	default:
		return "○", lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	}
}
