package domain

import "time"

type ViolationEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	GuildID    string    `json:"guild_id"`
	ChannelID  string    `json:"channel_id"`
	Confidence float64   `json:"confidence"`
	Severity   Severity  `json:"severity"`
	RuleIDs    []string  `json:"rule_ids,omitempty"`
}

// EscalationResult describes how a user's history raised a violation's
// confidence. Factor is the unclamped product of every applied multiplier.
type EscalationResult struct {
	ShouldEscalate      bool     `json:"should_escalate"`
	BaseConfidence      float64  `json:"base_confidence"`
	EscalatedConfidence float64  `json:"escalated_confidence"`
	Factor              float64  `json:"factor"`
	Factors             []string `json:"factors,omitempty"`
	ViolationCount      int      `json:"violation_count"`
	RepeatOffenses      int      `json:"repeat_offenses"` // violations at or beyond the threshold; 0 below it
}
