package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// inputMode selects what the input line is collecting.
type inputMode int

const (
	modeBrowse inputMode = iota
	modeNote
	modeReason
)

// InputSubmittedMsg is sent when the user presses enter on a non-empty line.
type InputSubmittedMsg struct {
	Mode inputMode
	Text string
}

// InputCancelledMsg is sent when the user presses esc.
type InputCancelledMsg struct{}

var (
	inputLabels = map[inputMode]string{modeNote: "note", modeReason: "reject"}
	inputHints  = map[inputMode]string{
		modeNote:   "Note for the coordinator. Enter to send...",
		modeReason: "Why is this rejected? Enter to send...",
	}
	inputPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	inputBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

// InputField is the single-line editor for notes and rejection reasons.
type InputField struct {
	input textinput.Model
	mode  inputMode
	width int
}

func NewInputField() *InputField {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Width = 60
	return &InputField{input: ti, width: 80}
}

// Open focuses the field for mode.
func (f *InputField) Open(mode inputMode) tea.Cmd {
	f.mode = mode
	f.input.Reset()
	f.input.Placeholder = inputHints[mode]
	return f.input.Focus()
}

// Close blurs and clears the field.
func (f *InputField) Close() {
	f.mode = modeBrowse
	f.input.Reset()
	f.input.Blur()
}

func (f *InputField) Mode() inputMode {
	return f.mode
}

func (f *InputField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 6
}

// Update submits on enter, ignoring blank lines, and cancels on esc.
func (f *InputField) Update(msg tea.Msg) (*InputField, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			text := strings.TrimSpace(f.input.Value())
			if text == "" {
				return f, nil
			}
			mode := f.mode
			return f, func() tea.Msg {
				return InputSubmittedMsg{Mode: mode, Text: text}
			}
		case "esc":
			return f, func() tea.Msg { return InputCancelledMsg{} }
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

func (f *InputField) View() string {
	return inputBoxStyle.
		Width(max(f.width-2, 1)).
		Render(inputPromptStyle.Render(inputLabels[f.mode]+"> ") + f.input.View())
}
