package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/arbor/internal/orchestrator"
	"github.com/ShayCichocki/arbor/pkg/models"
)

// Header renders the title bar: run ID, phase and documentation version.
type Header struct {
	width      int
	runID      string
	phase      models.Phase
	docVersion int64

	titleStyle lipgloss.Style
	labelStyle lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader(runID string) *Header {
	return &Header{
		width: 80,
		runID: runID,

		titleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetPhase sets the displayed phase.
func (h *Header) SetPhase(phase models.Phase) {
	h.phase = phase
}

// SetDocVersion sets the displayed documentation version.
func (h *Header) SetDocVersion(version int64) {
	h.docVersion = version
}

// View renders the header.
func (h *Header) View() string {
	title := h.titleStyle.Render("arbor")
	info := h.labelStyle.Render(fmt.Sprintf(" run %s │ doc v%d │ ", orchestrator.ShortID(h.runID), h.docVersion))
	return lipgloss.NewStyle().Width(h.width).Render(title + info + phaseStyle(h.phase).Render(string(h.phase)))
}

// phaseStyle colors a phase name.
func phaseStyle(phase models.Phase) lipgloss.Style {
	color := "252"
	switch phase {
	case models.PhaseUnderstanding:
		color = "39"
	case models.PhaseStructuring:
		color = "214"
	case models.PhaseImplementing:
		color = "205"
	case models.PhaseCompleted:
		color = "34"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}
