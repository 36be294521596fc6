package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/HolyFlex-tecjh/axion/pkg/sanitize"
)

type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "INFO"
	AlertLevelWarning  AlertLevel = "WARNING"
	AlertLevelCritical AlertLevel = "CRITICAL"
)

type AlertKind string

const (
	AlertKindDecision        AlertKind = "MODERATION"
	AlertKindRaid            AlertKind = "RAID"
	AlertKindCoordinatedSpam AlertKind = "COORDINATED_SPAM"
	AlertKindPattern         AlertKind = "PATTERN"
	AlertKindSuspiciousJoin  AlertKind = "SUSPICIOUS_JOIN"
)

// Alert is the notification emitted for every non-allow decision and every
// guild-level detection.
type Alert struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       AlertKind         `json:"kind"`
	Level      AlertLevel        `json:"level"`
	GuildID    string            `json:"guild_id"`
	UserID     string            `json:"user_id,omitempty"`
	ChannelID  string            `json:"channel_id,omitempty"`
	Action     Action            `json:"action"`
	Confidence float64           `json:"confidence"`
	Content    string            `json:"content,omitempty"`
	Message    string            `json:"message"`
	Users      []string          `json:"users,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func NewAlert(kind AlertKind, level AlertLevel, guildID, message string) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Level:     level,
		GuildID:   guildID,
		Message:   message,
		Metadata:  make(map[string]string),
	}
}

// NewDecisionAlert builds the alert for a non-allow decision. Content is
// sanitized and mention-neutralized before it is stored.
func NewDecisionAlert(d *ModerationDecision, content string) *Alert {
	a := NewAlert(AlertKindDecision, levelForAction(d.Action), d.GuildID, decisionMessage(d))
	a.Timestamp = d.EvaluatedAt
	a.UserID = d.UserID
	a.ChannelID = d.ChannelID
	a.Action = d.Action
	a.Confidence = d.Confidence
	a.Content = sanitize.NeutralizeMentions(sanitize.Content(content, sanitize.DefaultMaxDisplayLength))
	a.AddMetadata("decision_id", d.ID)
	if d.Escalation != nil && d.Escalation.ShouldEscalate {
		a.AddMetadata("escalation_factor", fmt.Sprintf("%.2f", d.Escalation.Factor))
	}
	if d.Risk != nil {
		a.AddMetadata("risk_level", d.Risk.Level.String())
	}
	return a
}

func NewRaidAlert(r *RaidDetectionResult) *Alert {
	level := AlertLevelWarning
	if r.Response == ResponseLockdown {
		level = AlertLevelCritical
	}
	a := NewAlert(AlertKindRaid, level, r.GuildID, fmt.Sprintf(
		"Raid detected: %d joins, %s (new accounts %.0f%%, suspicious names %.0f%%)",
		r.JoinCount, r.Response, r.NewAccountRatio*100, r.SuspiciousNames*100))
	a.Timestamp = r.DetectedAt
	a.Confidence = r.Confidence
	a.Users = r.InvolvedUsers
	if r.Response == ResponseLockdown {
		a.Action = ActionKick
	}
	a.AddMetadata("raid_type", r.RaidType.String())
	return a
}

func NewCoordinatedSpamAlert(r *CoordinatedSpamResult) *Alert {
	a := NewAlert(AlertKindCoordinatedSpam, AlertLevelCritical, r.GuildID, fmt.Sprintf(
		"Coordinated spam: %d identical messages from %d users", r.MessageCount, len(r.InvolvedUsers)))
	a.Timestamp = r.DetectedAt
	a.Action = ActionTimeout
	a.Confidence = 1
	a.Content = sanitize.NeutralizeMentions(sanitize.Content(r.Content, sanitize.DefaultMaxDisplayLength))
	a.Users = r.InvolvedUsers
	a.AddMetadata("fingerprint", fmt.Sprintf("%016x", r.Fingerprint))
	return a
}

func NewPatternAlert(p *CoordinatedPattern) *Alert {
	a := NewAlert(AlertKindPattern, AlertLevelInfo, p.GuildID, fmt.Sprintf(
		"%s pattern across %d users", p.Type, len(p.Users)))
	a.Timestamp = p.DetectedAt
	a.Confidence = p.Confidence
	a.Users = p.Users
	a.AddMetadata("pattern_id", p.ID)
	for k, v := range p.Evidence {
		a.AddMetadata(k, v)
	}
	return a
}

func NewSuspiciousJoinAlert(j JoinEvent, assessment *JoinAssessment) *Alert {
	level := AlertLevelInfo
	if assessment.Action >= ActionKick {
		level = AlertLevelWarning
	}
	a := NewAlert(AlertKindSuspiciousJoin, level, j.GuildID, fmt.Sprintf(
		"Suspicious account joined (score %d): %s", assessment.SuspicionScore, strings.Join(assessment.Reasons, ", ")))
	a.Timestamp = j.At
	a.UserID = j.UserID
	a.Action = assessment.Action
	a.AddMetadata("username", sanitize.Identifier(j.Username))
	return a
}

func (a *Alert) ToJSON() ([]byte, error) {
	return json.Marshal(a)
}

func (a *Alert) ToJSONPretty() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

func (a *Alert) AddMetadata(key, value string) {
	if a.Metadata == nil {
		a.Metadata = make(map[string]string)
	}
	a.Metadata[key] = value
}

func levelForAction(action Action) AlertLevel {
	switch action {
	case ActionKick, ActionBan:
		return AlertLevelCritical
	case ActionTimeout:
		return AlertLevelWarning
	default:
		return AlertLevelInfo
	}
}

func decisionMessage(d *ModerationDecision) string {
	if len(d.TriggeredRules) == 0 {
		return fmt.Sprintf("%s (confidence %.2f)", d.Action, d.Confidence)
	}
	ids := make([]string, len(d.TriggeredRules))
	for i, t := range d.TriggeredRules {
		ids[i] = t.RuleID
	}
	return fmt.Sprintf("%s: %s (confidence %.2f)", d.Action, strings.Join(ids, ", "), d.Confidence)
}
