package tui

// PanelDimensions holds calculated dimensions for each panel in the layout.
type PanelDimensions struct {
	// TreeWidth is the width of the agent tree panel (left).
	TreeWidth int
	// LogsWidth is the width of the activity log panel (right).
	LogsWidth int
	// ContentHeight is the height available for panel content.
	ContentHeight int
}

// LayoutManager calculates panel dimensions based on terminal size.
type LayoutManager struct {
	totalWidth  int
	totalHeight int
	// chrome is the number of lines used by header, tab bar, approval bar,
	// input and footer.
	chrome int
}

// NewLayoutManager creates a new LayoutManager with the given terminal dimensions.
func NewLayoutManager(width, height int) *LayoutManager {
	return &LayoutManager{
		totalWidth:  width,
		totalHeight: height,
		chrome:      4,
	}
}

// SetSize updates the terminal dimensions.
func (l *LayoutManager) SetSize(width, height int) {
	l.totalWidth = width
	l.totalHeight = height
}

// SetChrome sets the number of lines reserved outside the panels.
func (l *LayoutManager) SetChrome(lines int) {
	l.chrome = lines
}

// CalculateMainTab returns dimensions for the tree and log panels.
// Layout: Tree 40%, Logs 60%
func (l *LayoutManager) CalculateMainTab() PanelDimensions {
	const minTreeWidth = 30

	treeWidth := l.totalWidth * 40 / 100
	if treeWidth < minTreeWidth {
		treeWidth = minTreeWidth
	}
	logsWidth := l.totalWidth - treeWidth
	if logsWidth < 0 {
		logsWidth = 0
	}

	return PanelDimensions{
		TreeWidth:     treeWidth,
		LogsWidth:     logsWidth,
		ContentHeight: l.contentHeight(),
	}
}

// CalculateDocsTab returns dimensions for the full-screen documentation view.
func (l *LayoutManager) CalculateDocsTab() PanelDimensions {
	return PanelDimensions{
		LogsWidth:     l.totalWidth,
		ContentHeight: l.contentHeight(),
	}
}

func (l *LayoutManager) contentHeight() int {
	h := l.totalHeight - l.chrome
	if h < 1 {
		h = 1
	}
	return h
}
