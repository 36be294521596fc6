package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/sanitize"
)

// Offender is one row of the top-offenders table.
type Offender struct {
	UserID     string
	GuildID    string
	Violations int
	LastAction domain.Action
	LastSeen   string
	Rules      []string
}

type TopOffenders struct {
	Offenders    []*Offender
	Width        int
	VisibleCount int
}

func NewTopOffenders(width int) *TopOffenders {
	return &TopOffenders{Width: width, VisibleCount: 25}
}

func (v *TopOffenders) Update(offenders []*Offender) { v.Offenders = offenders }

func (v *TopOffenders) Render() string {
	if len(v.Offenders) == 0 {
		return styleDim.Italic(true).Render("  No violations yet")
	}

	lines := []string{
		styleMuted.Bold(true).Render(fmt.Sprintf(" %-3s %-20s %-20s %-13s %-8s %-9s %s",
			"#", "USER", "GUILD", "HITS", "LAST", "SEEN", "RULES")),
		styleDim.Render(strings.Repeat("─", max(0, v.Width))),
	}

	top := v.Offenders[0].Violations
	visible := v.Offenders[:min(len(v.Offenders), v.VisibleCount)]
	barFill := lipgloss.NewStyle().Foreground(colorPrimaryDim)

	for i, o := range visible {
		share := float64(o.Violations) / float64(max(1, top))
		userStyle := styleGreen
		switch {
		case o.Violations >= 10 || share > 0.7:
			userStyle = styleRed
		case o.Violations >= 5 || share > 0.4:
			userStyle = styleAmber
		}

		const barWidth = 6
		fill := min(barWidth, int(share*barWidth))
		bar := barFill.Render(strings.Repeat("█", fill)) + styleDim.Render(strings.Repeat("░", barWidth-fill))

		rules := shorten(sanitize.Terminal(strings.Join(o.Rules, ", ")), max(10, v.Width-86))

		lines = append(lines, fmt.Sprintf(" %s %s %s %s %s %s %s %s",
			styleMuted.Render(fmt.Sprintf("%2d.", i+1)),
			userStyle.Render(padRight(sanitize.Identifier(o.UserID), 20)),
			styleMuted.Render(padRight(sanitize.Identifier(o.GuildID), 20)),
			bar,
			userStyle.Render(fmt.Sprintf("%6d", o.Violations)),
			ForAction(o.LastAction).Render(padRight(o.LastAction.String(), 8)),
			styleMuted.Render(padRight(o.LastSeen, 9)),
			styleText.Render(rules),
		))
	}

	if len(v.Offenders) > v.VisibleCount {
		lines = append(lines, styleDim.Render(fmt.Sprintf("  [showing %d of %d users]", v.VisibleCount, len(v.Offenders))))
	}
	return strings.Join(lines, "\n")
}
