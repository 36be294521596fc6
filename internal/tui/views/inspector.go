package views

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/sanitize"
)

// AlertInspector is the full-screen detail view of one alert.
type AlertInspector struct {
	Alert   *domain.Alert
	Width   int
	Height  int
	ScrollY int
	Visible bool
}

func NewAlertInspector() *AlertInspector {
	return &AlertInspector{Width: 80, Height: 24}
}

func (p *AlertInspector) SetAlert(alert *domain.Alert) {
	p.Alert = alert
	p.ScrollY = 0
	p.Visible = alert != nil
}

func (p *AlertInspector) SetDimensions(width, height int) {
	p.Width = width
	p.Height = height
}

func (p *AlertInspector) ScrollUp() {
	if p.ScrollY > 0 {
		p.ScrollY--
	}
}

func (p *AlertInspector) ScrollDown() { p.ScrollY++ }

func (p *AlertInspector) Close() {
	p.Alert = nil
	p.Visible = false
}

func (p *AlertInspector) Render() string {
	if p.Alert == nil {
		return ""
	}
	al := p.Alert
	width := max(20, p.Width-4)

	header := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	label := lipgloss.NewStyle().Foreground(colorAmber).Width(13)
	code := lipgloss.NewStyle().Foreground(colorText).Background(colorPanelBg)
	rule := styleDim.Render(strings.Repeat("─", width))
	field := func(name, value string) string {
		return label.Render(name) + " " + styleText.Render(value)
	}
	section := func(title string) []string {
		return []string{"", rule, header.Render("▶ " + title)}
	}

	lvlStyle, _ := ForLevel(al.Level)
	lines := []string{
		header.Render("═══ ALERT " + sanitize.Identifier(al.ID) + " ═══"),
		rule,
		field("Time:", al.Timestamp.Format("2006-01-02 15:04:05.000")),
		field("Kind:", string(al.Kind)),
		label.Render("Level:") + " " + lvlStyle.Render(string(al.Level)),
		label.Render("Action:") + " " + ForAction(al.Action).Render(al.Action.String()),
		field("Confidence:", fmt.Sprintf("%.2f", al.Confidence)),
		field("Guild:", sanitize.Identifier(al.GuildID)),
	}
	if al.UserID != "" {
		lines = append(lines, field("User:", sanitize.Identifier(al.UserID)))
	}
	if al.ChannelID != "" {
		lines = append(lines, field("Channel:", sanitize.Identifier(al.ChannelID)))
	}
	lines = append(lines, field("Message:", sanitize.String(al.Message, width-14)))

	if al.Content != "" {
		lines = append(lines, section("CONTENT")...)
		content := []rune(sanitize.Terminal(al.Content))
		for len(content) > 0 {
			n := min(len(content), width)
			lines = append(lines, code.Render(string(content[:n])))
			content = content[n:]
		}
	}

	if len(al.Users) > 0 {
		lines = append(lines, section(fmt.Sprintf("USERS (%d)", len(al.Users)))...)
		ids := make([]string, len(al.Users))
		for i, u := range al.Users {
			ids[i] = sanitize.Identifier(u)
		}
		lines = append(lines, styleText.Render(sanitize.Truncate(strings.Join(ids, " "), width*3)))
	}

	if len(al.Metadata) > 0 {
		lines = append(lines, section("DETAILS")...)
		keys := make([]string, 0, len(al.Metadata))
		for k := range al.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			lines = append(lines, field(sanitize.Identifier(k)+":", sanitize.String(al.Metadata[k], width-14)))
		}
	}

	lines = append(lines, "", rule, styleDim.Render("[ESC] Close   [↑/↓] Scroll"))

	if p.ScrollY > 0 && p.ScrollY < len(lines) {
		lines = lines[p.ScrollY:]
	}
	if limit := p.Height - 2; limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}

	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(colorPrimary).
		Padding(0, 1).
		Width(p.Width).
		Height(p.Height).
		Render(strings.Join(lines, "\n"))
}
