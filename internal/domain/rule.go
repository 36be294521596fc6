package domain

import (
	"fmt"
	"slices"
	"strings"
)

type ConditionType int

const (
	ConditionContent ConditionType = iota
	ConditionBehavior
	ConditionContext
	ConditionCustom
)

func (c ConditionType) String() string {
	switch c {
	case ConditionContent:
		return "content"
	case ConditionBehavior:
		return "behavior"
	case ConditionContext:
		return "context"
	case ConditionCustom:
		return "custom"
	default:
		return fmt.Sprintf("condition(%d)", int(c))
	}
}

func ParseConditionType(s string) (ConditionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "content":
		return ConditionContent, nil
	case "behavior", "behaviour":
		return ConditionBehavior, nil
	case "context":
		return ConditionContext, nil
	case "custom":
		return ConditionCustom, nil
	}
	return 0, fmt.Errorf("unknown condition type %q", s)
}

// Condition is one typed check inside a rule. Custom conditions name the
// registered evaluator they run.
type Condition struct {
	Type          ConditionType `json:"type"`
	Evaluator     string        `json:"evaluator,omitempty"`
	MinConfidence float64       `json:"min_confidence"`
}

// Key identifies the evaluator a condition runs. Two conditions with the same
// key share one evaluation per message.
func (c Condition) Key() string {
	if c.Type == ConditionCustom {
		return "custom:" + c.Evaluator
	}
	return c.Type.String()
}

func ContentCondition(minConfidence float64) Condition {
	return Condition{Type: ConditionContent, MinConfidence: minConfidence}
}

func BehaviorCondition(minConfidence float64) Condition {
	return Condition{Type: ConditionBehavior, MinConfidence: minConfidence}
}

func ContextCondition(minConfidence float64) Condition {
	return Condition{Type: ConditionContext, MinConfidence: minConfidence}
}

func CustomCondition(evaluator string, minConfidence float64) Condition {
	return Condition{Type: ConditionCustom, Evaluator: evaluator, MinConfidence: minConfidence}
}

// Scope restricts a rule to some guilds, channels or roles. An empty list
// places no restriction on that dimension.
type Scope struct {
	GuildIDs   []string `json:"guild_ids,omitempty"`
	ChannelIDs []string `json:"channel_ids,omitempty"`
	RoleIDs    []string `json:"role_ids,omitempty"`
}

func (s Scope) Matches(mctx *ModerationContext) bool {
	if len(s.GuildIDs) > 0 && !slices.Contains(s.GuildIDs, mctx.GuildID) {
		return false
	}
	if len(s.ChannelIDs) > 0 && !slices.Contains(s.ChannelIDs, mctx.ChannelID) {
		return false
	}
	if len(s.RoleIDs) > 0 && !slices.ContainsFunc(mctx.Roles, func(r string) bool {
		return slices.Contains(s.RoleIDs, r)
	}) {
		return false
	}
	return true
}

// ModerationRule is a weighted set of conditions. Build it with
// NewModerationRule; the condition list is fixed after construction.
type ModerationRule struct {
	ID          string
	Name        string
	Description string
	Severity    Severity
	Weight      float64
	Priority    int
	Scope       Scope
	Action      Action // Overrides Severity.DefaultAction unless ActionAllow
	RequireAll  bool

	conditions []Condition
	enabled    bool
}

// NewModerationRule returns an enabled rule with the given conditions in
// order.
func NewModerationRule(id, name string, severity Severity, weight float64, conditions ...Condition) *ModerationRule {
	return &ModerationRule{
		ID:         id,
		Name:       name,
		Severity:   severity,
		Weight:     weight,
		conditions: slices.Clone(conditions),
		enabled:    true,
	}
}

// Conditions returns a copy of the rule's conditions in construction order.
func (r *ModerationRule) Conditions() []Condition {
	return slices.Clone(r.conditions)
}

func (r *ModerationRule) Enabled() bool { return r.enabled }

func (r *ModerationRule) Enable() { r.enabled = true }

func (r *ModerationRule) Disable() { r.enabled = false }

// EffectiveAction is the override action or the severity default.
func (r *ModerationRule) EffectiveAction() Action {
	if r.Action != ActionAllow {
		return r.Action
	}
	return r.Severity.DefaultAction()
}

// Clone returns an independent copy.
func (r *ModerationRule) Clone() *ModerationRule {
	c := *r
	c.conditions = slices.Clone(r.conditions)
	c.Scope = Scope{
		GuildIDs:   slices.Clone(r.Scope.GuildIDs),
		ChannelIDs: slices.Clone(r.Scope.ChannelIDs),
		RoleIDs:    slices.Clone(r.Scope.RoleIDs),
	}
	return &c
}

func (r *ModerationRule) Validate() error {
	if r.ID == "" {
		return &ConfigValidationError{Field: "rule.id", Value: "", Reason: "must not be empty"}
	}
	if r.Weight <= 0 || r.Weight > 1 {
		return &ConfigValidationError{Field: "rule." + r.ID + ".weight", Value: fmt.Sprint(r.Weight), Reason: "must be in (0,1]"}
	}
	if r.Severity < SeverityLow || r.Severity > SeverityCritical {
		return &ConfigValidationError{Field: "rule." + r.ID + ".severity", Value: r.Severity.String(), Reason: "must be low, medium, high or critical"}
	}
	if len(r.conditions) == 0 {
		return &ConfigValidationError{Field: "rule." + r.ID + ".conditions", Value: "[]", Reason: "at least one condition is required"}
	}
	for i, c := range r.conditions {
		if c.MinConfidence < 0 || c.MinConfidence > 1 {
			return &ConfigValidationError{
				Field:  fmt.Sprintf("rule.%s.conditions[%d].min_confidence", r.ID, i),
				Value:  fmt.Sprint(c.MinConfidence),
				Reason: "must be in [0,1]",
			}
		}
		if c.Type == ConditionCustom && c.Evaluator == "" {
			return &ConfigValidationError{
				Field:  fmt.Sprintf("rule.%s.conditions[%d].evaluator", r.ID, i),
				Value:  "",
				Reason: "custom conditions must name an evaluator",
			}
		}
	}
	return nil
}
