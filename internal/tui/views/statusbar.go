package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

type Status struct {
	Width      int
	Metrics    domain.MetricsSnapshot
	Dropped    int64
	lastUpdate time.Time
	now        func() time.Time
}

func NewStatus(width int) *Status {
	return &Status{Width: width, now: time.Now}
}

func (s *Status) Update(metrics domain.MetricsSnapshot, dropped int64) {
	s.Metrics = metrics
	s.Dropped = dropped
	s.lastUpdate = s.now()
}

// threshold picks green, amber or red for v.
func threshold(v, warn, crit float64) lipgloss.Style {
	switch {
	case v >= crit:
		return styleRed
	case v >= warn:
		return styleAmber
	default:
		return styleGreen
	}
}

func (s *Status) Render() string {
	m := s.Metrics
	label := func(l string) string { return styleMuted.Render(l) + " " }

	items := []string{
		s.heartbeat(),
		label("RATE:") + styleGreen.Render(fmtRate(m.EventsPerSecond)+"/s"),
		label("EVT:") + styleGreen.Render(fmtLarge(m.EventsProcessed)),
		label("HITS:") + threshold(m.TriggerRate(), 0.05, 0.2).Render(fmtLarge(m.Violations)),
		label("ALRT:") + styleText.Render(fmtLarge(m.TotalAlerts)),
		label("RAID:") + threshold(float64(m.Raids), 1, 3).Render(fmtLarge(m.Raids)),
		label("COORD:") + threshold(float64(m.CoordinatedSpam), 1, 10).Render(fmtLarge(m.CoordinatedSpam)),
		label("WRK:") + styleText.Render(fmt.Sprintf("%d", m.ActiveWorkers)),
		label("MEM:") + threshold(m.MemoryUsageMB, 500, 1000).Render(fmt.Sprintf("%.0fM", m.MemoryUsageMB)),
		label("UP:") + styleGreen.Render(fmtUptime(m.Uptime)),
	}
	if s.Dropped > 0 {
		items = append(items, label("DROP:")+styleAmber.Render(fmtLarge(s.Dropped)))
	}

	sep := lipgloss.NewStyle().Foreground(colorGhost).Render(" │ ")
	return lipgloss.NewStyle().
		Width(s.Width).
		Padding(0, 1).
		Background(colorPanelBg).
		Render(strings.Join(items, sep))
}

func (s *Status) heartbeat() string {
	elapsed := s.now().Sub(s.lastUpdate)
	icon, style := "○", styleRed
	switch {
	case elapsed < 2*time.Second:
		icon, style = "●", styleGreen.Bold(true)
	case elapsed < 5*time.Second:
		icon, style = "○", styleAmber
	}
	return styleMuted.Render("SYS:") + " " + style.Render(icon)
}

func fmtLarge(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func fmtUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, sec)
}
