package domain

import (
	"fmt"
	"strings"
)

// Action is the moderation verdict handed back to the platform layer.
type Action int

const (
	ActionAllow Action = iota
	ActionWarn
	ActionTimeout
	ActionKick
	ActionBan
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionTimeout:
		return "timeout"
	case ActionKick:
		return "kick"
	case ActionBan:
		return "ban"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "":
		return ActionAllow, nil
	case "warn":
		return ActionWarn, nil
	case "timeout", "mute":
		return ActionTimeout, nil
	case "kick":
		return ActionKick, nil
	case "ban":
		return ActionBan, nil
	}
	return ActionAllow, fmt.Errorf("unknown action %q", s)
}

// Severity ranks how serious a rule match is.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// DefaultAction maps a severity to the action taken when a rule has no
// explicit override.
func (s Severity) DefaultAction() Action {
	switch s {
	case SeverityLow:
		return ActionWarn
	case SeverityMedium:
		return ActionTimeout
	case SeverityHigh:
		return ActionKick
	case SeverityCritical:
		return ActionBan
	default:
		return ActionAllow
	}
}

// PenaltyScale is the multiplier applied to trust and reputation penalties.
func (s Severity) PenaltyScale() float64 {
	switch s {
	case SeverityMedium:
		return 1.5
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

func MaxAction(a, b Action) Action {
	if b > a {
		return b
	}
	return a
}
