package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary    = lipgloss.Color("#5865f2")
	ColorPrimaryDim = lipgloss.Color("#3c45a5")
	ColorPrimaryBg  = lipgloss.Color("#1e2142")
	ColorGreen      = lipgloss.Color("#57f287")
	ColorAmber      = lipgloss.Color("#fee75c")
	ColorRed        = lipgloss.Color("#ed4245")
	ColorMuted      = lipgloss.Color("#808080")
	ColorDim        = lipgloss.Color("#454545")
)

var HeaderStyle = lipgloss.NewStyle().
	Background(ColorPrimaryBg).
	Foreground(ColorPrimary).
	Bold(true).
	Padding(0, 1)

var (
	TextGreen = lipgloss.NewStyle().Foreground(ColorGreen)
	TextAmber = lipgloss.NewStyle().Foreground(ColorAmber).Bold(true)
	TextRed   = lipgloss.NewStyle().Foreground(ColorRed)
	TextMuted = lipgloss.NewStyle().Foreground(ColorMuted)
	TextDim   = lipgloss.NewStyle().Foreground(ColorDim)
)

const HLine = "─"
