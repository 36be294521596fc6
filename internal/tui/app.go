// Package tui is the operator console: a live feed of moderation alerts,
// the top offenders and event throughput.
package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/tui/views"
)

const (
	maxAlertsPerTick = 50
	uiTickInterval   = 100 * time.Millisecond
)

// App is the bubbletea program. It implements ports.AlertSubscriber and
// ports.DecisionObserver so the service can feed it directly.
type App struct {
	model      *Model
	throughput *views.Throughput
	alerts     *views.AlertList
	offenders  *views.TopOffenders
	status     *views.Status
	inspector  *views.AlertInspector

	ready    bool
	quitting bool
	width    int
	height   int

	alertBuffer    []*domain.Alert
	alertBufferMu  sync.Mutex
	droppedAlerts  int64
	maxAlertBuffer int

	metricsChan chan domain.MetricsSnapshot
	lastMetrics domain.MetricsSnapshot

	source string
}

func NewApp() *App {
	return &App{
		model:          NewModel(),
		throughput:     views.NewThroughput(80),
		alerts:         views.NewAlertList(15),
		offenders:      views.NewTopOffenders(100),
		status:         views.NewStatus(100),
		inspector:      views.NewAlertInspector(),
		alertBuffer:    make([]*domain.Alert, 0, 100),
		maxAlertBuffer: 500,
		metricsChan:    make(chan domain.MetricsSnapshot, 10),
		source:         "DEMO",
	}
}

// SetSource labels the event source in the header.
func (a *App) SetSource(source string) { a.source = source }

type tickMsg time.Time
type metricsMsg domain.MetricsSnapshot

func (a *App) Init() tea.Cmd {
	return tea.Batch(tea.EnterAltScreen, a.tick(), a.listenForMetrics())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) listenForMetrics() tea.Cmd {
	return func() tea.Msg { return metricsMsg(<-a.metricsChan) }
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg.String())
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
	case tickMsg:
		a.processBatchedAlerts()
		return a, a.tick()
	case metricsMsg:
		a.lastMetrics = domain.MetricsSnapshot(msg)
		share := a.model.UpdateMetrics(a.lastMetrics)
		a.throughput.Update(a.lastMetrics.EventsPerSecond, share)
		a.status.Update(a.lastMetrics, a.DroppedAlerts())
		return a, a.listenForMetrics()
	}
	return a, nil
}

func (a *App) handleKey(key string) tea.Cmd {
	if a.inspector.Visible {
		switch key {
		case "esc", "q":
			a.inspector.Close()
		case "up", "k":
			a.inspector.ScrollUp()
		case "down", "j":
			a.inspector.ScrollDown()
		}
		return nil
	}

	switch key {
	case "q", "ctrl+c":
		a.quitting = true
		return tea.Quit
	case "tab":
		a.model.NextView()
	case "up", "k":
		a.alerts.ScrollUp()
	case "down", "j":
		a.alerts.ScrollDown()
	case "enter":
		if selected := a.alerts.Selected(); selected != nil {
			a.inspector.SetAlert(selected)
		}
	}
	return nil
}

func (a *App) resize(width, height int) {
	a.width, a.height = width, height
	a.ready = true
	a.model.SetDimensions(width, height)
	a.alerts.Width = width - 4
	a.offenders.Width = width - 4
	a.status.Width = width
	a.throughput.SetWidth(width - 30)

	contentHeight := max(5, height-12)
	a.alerts.VisibleCount = contentHeight
	a.offenders.VisibleCount = contentHeight
	a.inspector.SetDimensions(width-4, height-2)
}

func (a *App) processBatchedAlerts() {
	a.offenders.Update(toViewOffenders(a.model.TopOffenders()))

	a.alertBufferMu.Lock()
	defer a.alertBufferMu.Unlock()
	if len(a.alertBuffer) == 0 {
		return
	}
	count := min(len(a.alertBuffer), maxAlertsPerTick)
	for _, alert := range a.alertBuffer[:count] {
		a.model.AddAlert(alert)
	}
	a.alertBuffer = a.alertBuffer[count:]
	a.alerts.Update(a.model.GetAlerts())
}

func toViewOffenders(entries []OffenderEntry) []*views.Offender {
	out := make([]*views.Offender, len(entries))
	for i, e := range entries {
		out[i] = &views.Offender{
			UserID:     e.UserID,
			GuildID:    e.GuildID,
			Violations: e.Violations,
			LastAction: e.LastAction,
			LastSeen:   e.LastSeen.Format("15:04:05"),
			Rules:      e.Rules,
		}
	}
	return out
}

func (a *App) View() string {
	if a.quitting {
		return "\n  Session terminated.\n\n"
	}
	if !a.ready {
		return "\n  Initializing...\n\n"
	}
	if a.inspector.Visible {
		return a.inspector.Render()
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(TextDim.Render(strings.Repeat(HLine, a.width)))
	b.WriteString("\n")
	b.WriteString(a.throughput.Render())
	b.WriteString("\n\n")

	viewName, content := "ALERTS", a.alerts.Render()
	if a.model.ActiveView == 1 {
		viewName, content = "TOP OFFENDERS", a.offenders.Render()
	}
	b.WriteString(TextMuted.Render("  " + viewName))
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(a.status.Render())
	b.WriteString("\n")
	b.WriteString(a.renderHelp())
	return b.String()
}

func (a *App) renderHeader() string {
	title := HeaderStyle.Render("AXION")

	state := TextGreen.Render("WATCHING")
	switch {
	case a.lastMetrics.Raids > 0:
		state = TextRed.Bold(true).Render("RAID DETECTED")
	case a.lastMetrics.CoordinatedSpam > 0:
		state = TextAmber.Render("COORDINATED SPAM")
	}

	allowed, actioned := a.model.Decisions()
	return fmt.Sprintf("  %s  %s  %s %s  %s %d/%d",
		title, state,
		TextDim.Render("SRC:"), a.source,
		TextDim.Render("ALLOW/ACT:"), allowed, actioned)
}

func (a *App) renderHelp() string {
	key := lipgloss.NewStyle().Foreground(ColorPrimaryDim)
	names := []string{"ALERTS", "OFFENDERS"}
	return TextDim.Render(fmt.Sprintf("  %s [%s]  %s scroll  %s inspect  %s quit",
		key.Render("TAB"), names[a.model.ActiveView], key.Render("↑↓"), key.Render("ENTER"), key.Render("q")))
}

// OnAlert buffers alert for the next UI tick. When the buffer is full the
// oldest tenth is discarded.
func (a *App) OnAlert(alert *domain.Alert) {
	a.alertBufferMu.Lock()
	defer a.alertBufferMu.Unlock()
	if len(a.alertBuffer) >= a.maxAlertBuffer {
		drop := a.maxAlertBuffer / 10
		a.droppedAlerts += int64(drop)
		a.alertBuffer = a.alertBuffer[drop:]
	}
	a.alertBuffer = append(a.alertBuffer, alert)
}

func (a *App) OnDecision(mctx *domain.ModerationContext, d *domain.ModerationDecision) {
	a.model.OnDecision(mctx, d)
}

func (a *App) SendMetrics(metrics domain.MetricsSnapshot) {
	select {
	case a.metricsChan <- metrics:
	default:
	}
}

func (a *App) Model() *Model { return a.model }

func (a *App) DroppedAlerts() int64 {
	a.alertBufferMu.Lock()
	defer a.alertBufferMu.Unlock()
	return a.droppedAlerts
}

func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
