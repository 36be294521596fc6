// Package views renders the panels of the operator console.
package views

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

var (
	colorPrimary    = lipgloss.Color("#5865f2")
	colorPrimaryDim = lipgloss.Color("#3c45a5")
	colorGreen      = lipgloss.Color("#57f287")
	colorAmber      = lipgloss.Color("#fee75c")
	colorRed        = lipgloss.Color("#ed4245")
	colorCyan       = lipgloss.Color("#00b8ff")
	colorText       = lipgloss.Color("#e5e5e5")
	colorMuted      = lipgloss.Color("#808080")
	colorDim        = lipgloss.Color("#454545")
	colorGhost      = lipgloss.Color("#262626")
	colorSelectBg   = lipgloss.Color("#23274d")
	colorPanelBg    = lipgloss.Color("#111214")
)

var (
	styleDim      = lipgloss.NewStyle().Foreground(colorDim)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleText     = lipgloss.NewStyle().Foreground(colorText)
	stylePrimary  = lipgloss.NewStyle().Foreground(colorPrimary)
	styleGreen    = lipgloss.NewStyle().Foreground(colorGreen)
	styleAmber    = lipgloss.NewStyle().Foreground(colorAmber).Bold(true)
	styleRed      = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	styleCyan     = lipgloss.NewStyle().Foreground(colorCyan)
	styleSelected = lipgloss.NewStyle().Background(colorSelectBg).Foreground(colorText).Bold(true)
)

// ForLevel returns the style and three-letter tag of an alert level.
func ForLevel(level domain.AlertLevel) (lipgloss.Style, string) {
	switch level {
	case domain.AlertLevelCritical:
		return styleRed, "CRT"
	case domain.AlertLevelWarning:
		return styleAmber, "WRN"
	default:
		return styleCyan, "INF"
	}
}

// ForAction colors an action by severity.
func ForAction(action domain.Action) lipgloss.Style {
	switch {
	case action >= domain.ActionKick:
		return styleRed
	case action == domain.ActionTimeout:
		return styleAmber
	case action == domain.ActionWarn:
		return styleCyan
	default:
		return styleGreen
	}
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s[:length]
	}
	return s + strings.Repeat(" ", length-len(s))
}

func shorten(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
