package views

import (
	"fmt"
	"strings"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/sanitize"
)

// AlertList is the scrolling feed of moderation alerts, newest on top.
type AlertList struct {
	Alerts        []*domain.Alert
	VisibleCount  int
	ScrollPos     int
	Width         int
	SelectedIndex int
}

func NewAlertList(visibleCount int) *AlertList {
	return &AlertList{
		VisibleCount:  visibleCount,
		Width:         100,
		SelectedIndex: -1,
	}
}

func (a *AlertList) Update(alerts []*domain.Alert) {
	a.Alerts = alerts
	if a.SelectedIndex >= len(alerts) {
		a.SelectedIndex = len(alerts) - 1
	}
}

// ScrollUp moves the selection towards newer alerts.
func (a *AlertList) ScrollUp() {
	if a.SelectedIndex < len(a.Alerts)-1 {
		a.SelectedIndex++
	}
	a.ensureSelectionVisible()
}

// ScrollDown moves the selection towards older alerts.
func (a *AlertList) ScrollDown() {
	if a.SelectedIndex > 0 {
		a.SelectedIndex--
	}
	a.ensureSelectionVisible()
}

// window returns the [start, end) range of alerts on screen.
func (a *AlertList) window() (int, int) {
	n := len(a.Alerts)
	if n <= a.VisibleCount {
		return 0, n
	}
	start := max(0, n-a.VisibleCount-a.ScrollPos)
	return start, min(n, start+a.VisibleCount)
}

func (a *AlertList) ensureSelectionVisible() {
	n := len(a.Alerts)
	if n <= a.VisibleCount {
		a.ScrollPos = 0
		return
	}
	start, end := a.window()
	switch {
	case a.SelectedIndex < start:
		a.ScrollPos = n - a.VisibleCount - a.SelectedIndex
	case a.SelectedIndex >= end:
		a.ScrollPos = n - a.SelectedIndex - 1
	}
	a.ScrollPos = max(0, min(a.ScrollPos, n-a.VisibleCount))
}

func (a *AlertList) Selected() *domain.Alert {
	if a.SelectedIndex >= 0 && a.SelectedIndex < len(a.Alerts) {
		return a.Alerts[a.SelectedIndex]
	}
	return nil
}

func (a *AlertList) Render() string {
	if len(a.Alerts) == 0 {
		return styleDim.Italic(true).Render("  No alerts")
	}
	if a.SelectedIndex < 0 {
		a.SelectedIndex = len(a.Alerts) - 1
	}

	lines := []string{
		styleMuted.Bold(true).Render(fmt.Sprintf("  %-8s  %-3s  %-16s  %-12s  %-8s  %s",
			"TIME", "LVL", "KIND", "USER", "ACTION", "MESSAGE")),
		styleDim.Render("  " + strings.Repeat("─", max(0, a.Width-4))),
	}

	start, end := a.window()
	for i := end - 1; i >= start; i-- {
		al := a.Alerts[i]
		selected := i == a.SelectedIndex

		prefix := "  "
		timeStyle := styleDim
		if selected {
			prefix = "▶ "
			timeStyle = styleSelected
		}
		lvlStyle, lvl := ForLevel(al.Level)

		user := "-"
		switch {
		case al.UserID != "":
			user = sanitize.Identifier(al.UserID)
		case len(al.Users) > 0:
			user = fmt.Sprintf("%d users", len(al.Users))
		}

		action := "-"
		if al.Action != domain.ActionAllow {
			action = al.Action.String()
		}

		msg := shorten(sanitize.Terminal(al.Message), max(10, a.Width-62))

		lines = append(lines, fmt.Sprintf("%s%s  %s  %s  %s  %s  %s",
			prefix,
			timeStyle.Render(al.Timestamp.Format("15:04:05")),
			lvlStyle.Render(lvl),
			stylePrimary.Render(padRight(string(al.Kind), 16)),
			styleText.Render(padRight(shorten(user, 12), 12)),
			ForAction(al.Action).Render(padRight(action, 8)),
			styleMuted.Render(msg),
		))
	}

	if len(a.Alerts) > a.VisibleCount {
		lines = append(lines, styleDim.Render(fmt.Sprintf("  [%d-%d of %d]",
			a.ScrollPos+1, min(a.ScrollPos+a.VisibleCount, len(a.Alerts)), len(a.Alerts))))
	}
	return strings.Join(lines, "\n")
}
