package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/triage/internal/model"
)

// Dracula palette.
var (
	colorRed       = lipgloss.Color("#ff5555")
	colorGreen     = lipgloss.Color("#50fa7b")
	colorYellow    = lipgloss.Color("#f1fa8c")
	colorBlue      = lipgloss.Color("#8be9fd")
	colorPurple    = lipgloss.Color("#bd93f9")
	colorOrange    = lipgloss.Color("#ffb86c")
	colorDim       = lipgloss.Color("#6272a4")
	colorBgLight   = lipgloss.Color("#343746")
	colorFg        = lipgloss.Color("#f8f8f2")
	colorBorder    = lipgloss.Color("#44475a")
	colorHighlight = lipgloss.Color("#44475a")
)

var (
	// List pane
	listStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	listItemStyle = lipgloss.NewStyle().
			Foreground(colorFg)

	listItemSelectedStyle = lipgloss.NewStyle().
				Foreground(colorFg).
				Background(colorHighlight).
				Bold(true)

	listTitleStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	// Detail pane
	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	lineNumberStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Width(4).
			Align(lipgloss.Right)

	addedLineStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	removedLineStyle = lipgloss.NewStyle().
				Foreground(colorRed)

	hunkHeaderStyle = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true)

	fileHeaderStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorOrange)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	// Status bar
	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorFg).
			Background(colorBgLight).
			Padding(0, 1)

	statusErrStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Background(colorBgLight)

	// Help
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	helpBarStyle = lipgloss.NewStyle().
			Foreground(colorDim)
)

// statusStyles colors the effective status marker of a hunk.
var statusStyles = map[model.EffectiveStatus]lipgloss.Style{
	model.EffectivePending:       lipgloss.NewStyle().Foreground(colorDim),
	model.EffectiveApproved:      lipgloss.NewStyle().Foreground(colorGreen).Bold(true),
	model.EffectiveRejected:      lipgloss.NewStyle().Foreground(colorRed).Bold(true),
	model.EffectiveSavedForLater: lipgloss.NewStyle().Foreground(colorYellow),
	model.EffectiveTrusted:       lipgloss.NewStyle().Foreground(colorBlue),
}

var statusGlyphs = map[model.EffectiveStatus]string{
	model.EffectivePending:       "·",
	model.EffectiveApproved:      "✓",
	model.EffectiveRejected:      "✗",
	model.EffectiveSavedForLater: "◷",
	model.EffectiveTrusted:       "◆",
}

func statusMarker(s model.EffectiveStatus) string {
	return statusStyles[s].Render(statusGlyphs[s])
}
