package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var signalChars = []rune{'⎽', '⎼', '─', '⎻', '⎺'}

// Throughput draws events per second as an oscilloscope trace, with the
// share of actioned messages tinting the trace.
type Throughput struct {
	Events []float64
	Width  int
	Action float64 // actioned share of the latest sample, 0..1
}

func NewThroughput(width int) *Throughput {
	if width <= 0 {
		width = 60
	}
	return &Throughput{Events: make([]float64, width), Width: width}
}

func (t *Throughput) Update(eventsPerSecond, actionShare float64) {
	t.Events = append(t.Events[1:], eventsPerSecond)
	t.Action = actionShare
}

func (t *Throughput) SetWidth(width int) {
	if width <= 0 || width == t.Width {
		return
	}
	old := t.Events
	t.Width = width
	t.Events = make([]float64, width)
	if len(old) > width {
		old = old[len(old)-width:]
	}
	copy(t.Events[width-len(old):], old)
}

func (t *Throughput) Render() string {
	ghost := lipgloss.NewStyle().Foreground(colorGhost)

	var current, peak float64
	for _, v := range t.Events {
		peak = max(peak, v)
	}
	if len(t.Events) > 0 {
		current = t.Events[len(t.Events)-1]
	}
	peak = max(peak, 10)

	color := styleGreen
	switch {
	case t.Action >= 0.2:
		color = styleRed
	case t.Action >= 0.05:
		color = styleAmber
	}

	var trace strings.Builder
	trace.WriteString(" ")
	for i, v := range t.Events {
		if i > 0 && i%10 == 0 {
			trace.WriteString(ghost.Render("│"))
			continue
		}
		if v <= 0 {
			trace.WriteString(styleDim.Render(string(signalChars[0])))
			continue
		}
		level := min(len(signalChars)-1, int(v/peak*float64(len(signalChars)-1)))
		trace.WriteString(color.Render(string(signalChars[level])))
	}

	trace.WriteString(color.Bold(true).Render(fmt.Sprintf(" ▶ %s/s", fmtRate(current))))
	trace.WriteString(styleMuted.Render(fmt.Sprintf("  %.1f%% actioned", t.Action*100)))
	return trace.String()
}

func fmtRate(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", v/1_000_000)
	case v >= 1000:
		return fmt.Sprintf("%.1fK", v/1000)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
