package domain

import (
	"time"
)

// ConditionResult is the output of one evaluator for one message.
type ConditionResult struct {
	Match      bool          `json:"match"`
	Confidence float64       `json:"confidence"`
	Reasons    []string      `json:"reasons,omitempty"`
	Patterns   []PatternType `json:"patterns,omitempty"`
	Error      error         `json:"-"`
}

// Trigger records one triggered sub-check, keeping the maximum confidence.
func (r *ConditionResult) Trigger(confidence float64, pattern PatternType, reason string) {
	r.Match = true
	r.Confidence = max(r.Confidence, confidence)
	r.Reasons = append(r.Reasons, reason)
	r.Patterns = append(r.Patterns, pattern)
}

func NoMatch() ConditionResult {
	return ConditionResult{}
}

// FailedCondition wraps an evaluator failure. It never matches.
func FailedCondition(evaluator string, err error) ConditionResult {
	return ConditionResult{Error: &EvaluationError{Evaluator: evaluator, Err: err}}
}

// TriggeredRule records one rule that fired.
type TriggeredRule struct {
	RuleID     string   `json:"rule_id"`
	Name       string   `json:"name"`
	Severity   Severity `json:"severity"`
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
}

// RuleEvaluationResult aggregates every rule for one message.
type RuleEvaluationResult struct {
	Triggered  []TriggeredRule `json:"triggered,omitempty"`
	Confidence float64         `json:"confidence"`
	Severity   Severity        `json:"severity,omitempty"`
	Primary    *TriggeredRule  `json:"primary,omitempty"`
	Patterns   []PatternType   `json:"patterns,omitempty"`
	Errors     []error         `json:"-"`
}

func (r *RuleEvaluationResult) Matched() bool {
	return len(r.Triggered) > 0
}

func (r *RuleEvaluationResult) RuleIDs() []string {
	ids := make([]string, len(r.Triggered))
	for i, t := range r.Triggered {
		ids[i] = t.RuleID
	}
	return ids
}

func (r *RuleEvaluationResult) Reasons() []string {
	var out []string
	for _, t := range r.Triggered {
		out = append(out, t.Reasons...)
	}
	return out
}

// ModerationDecision is the verdict returned for one message.
type ModerationDecision struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	GuildID         string                 `json:"guild_id"`
	ChannelID       string                 `json:"channel_id,omitempty"`
	MessageID       string                 `json:"message_id,omitempty"`
	Allowed         bool                   `json:"allowed"`
	Action          Action                 `json:"action"`
	Severity        Severity               `json:"severity,omitempty"`
	Confidence      float64                `json:"confidence"`
	TriggeredRules  []TriggeredRule        `json:"triggered_rules,omitempty"`
	Reasons         []string               `json:"reasons,omitempty"`
	Escalation      *EscalationResult      `json:"escalation,omitempty"`
	Risk            *RiskAssessment        `json:"risk,omitempty"`
	Coordinated     *CoordinatedSpamResult `json:"coordinated,omitempty"`
	TimeoutDuration time.Duration          `json:"timeout_duration,omitempty"`
	Errors          []string               `json:"errors,omitempty"`
	EvaluatedAt     time.Time              `json:"evaluated_at"`
	Latency         time.Duration          `json:"latency"`
}

// AllowDecision is the fail-open verdict.
func AllowDecision(id string, mctx *ModerationContext) ModerationDecision {
	return ModerationDecision{
		ID:          id,
		UserID:      mctx.UserID,
		GuildID:     mctx.GuildID,
		ChannelID:   mctx.ChannelID,
		MessageID:   mctx.MessageID,
		Allowed:     true,
		Action:      ActionAllow,
		EvaluatedAt: time.Now().UTC(),
	}
}
