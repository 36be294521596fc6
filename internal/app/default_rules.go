package app

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/detection"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Built-in rule IDs.
const (
	RuleContentSpam  = "content-spam"
	RuleBehaviorSpam = "behavior-spam"
	RuleBlockedTerms = "blocked-terms"
	RuleKnownSpam    = "known-spam"
)

// DefaultRules returns the built-in rule set. Every rule carries a context
// condition so channel, role and time of day modulate its confidence.
func DefaultRules() []*domain.ModerationRule {
	content := domain.NewModerationRule(RuleContentSpam, "Content spam", domain.SeverityMedium, 0.8,
		domain.ContentCondition(0.5),
		domain.ContextCondition(0),
	)
	content.Description = "Excessive caps, links, mentions or repeated text in a single message"
	content.Priority = 100

	behavior := domain.NewModerationRule(RuleBehaviorSpam, "Behavior spam", domain.SeverityMedium, 0.9,
		domain.BehaviorCondition(0.5),
		domain.ContextCondition(0),
	)
	behavior.Description = "Message frequency, duplicates, bursts or channel flooding"
	behavior.Priority = 90

	blocked := domain.NewModerationRule(RuleBlockedTerms, "Blocked terms", domain.SeverityHigh, 1.0,
		domain.CustomCondition(detection.BlockedTermsEvaluatorName, 0),
		domain.ContextCondition(0),
	)
	blocked.Description = "Message contains a term on the guild blocklist"
	blocked.Priority = 200

	known := domain.NewModerationRule(RuleKnownSpam, "Known spam", domain.SeverityHigh, 1.0,
		domain.CustomCondition(detection.KnownSpamEvaluatorName, 0),
		domain.ContextCondition(0),
	)
	known.Description = "Message matches previously confirmed coordinated spam"
	known.Priority = 150

	return []*domain.ModerationRule{blocked, known, content, behavior}
}

// ScopeConfig mirrors domain.Scope with configuration keys.
type ScopeConfig struct {
	GuildIDs   []string `mapstructure:"guild_ids"`
	ChannelIDs []string `mapstructure:"channel_ids"`
	RoleIDs    []string `mapstructure:"role_ids"`
}

type ConditionConfig struct {
	Type          string  `mapstructure:"type" validate:"required,oneof=content behavior behaviour context custom"`
	Evaluator     string  `mapstructure:"evaluator" validate:"required_if=Type custom"`
	MinConfidence float64 `mapstructure:"min_confidence" validate:"gte=0,lte=1"`
}

// RuleConfig defines an operator rule in the configuration file.
//
// Example:
//
//	rules:
//	  custom:
//	    - id: invite-links
//	      severity: high
//	      weight: 0.9
//	      conditions:
//	        - type: custom
//	          evaluator: blocked-terms
//	        - type: context
type RuleConfig struct {
	ID          string            `mapstructure:"id" validate:"required"`
	Name        string            `mapstructure:"name"`
	Description string            `mapstructure:"description"`
	Severity    string            `mapstructure:"severity" validate:"required,oneof=low medium high critical"`
	Weight      float64           `mapstructure:"weight" validate:"gt=0,lte=1"`
	Priority    int               `mapstructure:"priority"`
	Action      string            `mapstructure:"action" validate:"omitempty,oneof=allow warn timeout mute kick ban"`
	RequireAll  bool              `mapstructure:"require_all"`
	Disabled    bool              `mapstructure:"disabled"`
	Scope       ScopeConfig       `mapstructure:"scope"`
	Conditions  []ConditionConfig `mapstructure:"conditions" validate:"min=1,dive"`
}

// Build converts the definition into a rule.
func (c RuleConfig) Build() (*domain.ModerationRule, error) {
	severity, err := domain.ParseSeverity(c.Severity)
	if err != nil {
		return nil, &domain.ConfigValidationError{Field: "rules.custom." + c.ID + ".severity", Value: c.Severity, Reason: err.Error()}
	}

	conditions := make([]domain.Condition, 0, len(c.Conditions))
	for i, cc := range c.Conditions {
		typ, err := domain.ParseConditionType(cc.Type)
		if err != nil {
			return nil, &domain.ConfigValidationError{
				Field:  fmt.Sprintf("rules.custom.%s.conditions[%d].type", c.ID, i),
				Value:  cc.Type,
				Reason: err.Error(),
			}
		}
		conditions = append(conditions, domain.Condition{Type: typ, Evaluator: cc.Evaluator, MinConfidence: cc.MinConfidence})
	}

	name := c.Name
	if name == "" {
		name = c.ID
	}
	rule := domain.NewModerationRule(c.ID, name, severity, c.Weight, conditions...)
	rule.Description = c.Description
	rule.Priority = c.Priority
	rule.RequireAll = c.RequireAll
	rule.Scope = domain.Scope{
		GuildIDs:   c.Scope.GuildIDs,
		ChannelIDs: c.Scope.ChannelIDs,
		RoleIDs:    c.Scope.RoleIDs,
	}
	if c.Action != "" {
		if rule.Action, err = domain.ParseAction(c.Action); err != nil {
			return nil, &domain.ConfigValidationError{Field: "rules.custom." + c.ID + ".action", Value: c.Action, Reason: err.Error()}
		}
	}
	if c.Disabled {
		rule.Disable()
	}
	return rule, rule.Validate()
}

// BuildRules assembles the configured rule set: the defaults when enabled,
// then the custom rules, then the disabled list.
func BuildRules(cfg RulesConfig) ([]*domain.ModerationRule, error) {
	var rules []*domain.ModerationRule
	if cfg.Defaults {
		rules = DefaultRules()
	}
	for _, rc := range cfg.Custom {
		rule, err := rc.Build()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	ids := lo.Map(rules, func(r *domain.ModerationRule, _ int) string { return r.ID })
	if dup := lo.FindDuplicates(ids); len(dup) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateRule, dup[0])
	}
	for _, id := range cfg.Disabled {
		rule, ok := lo.Find(rules, func(r *domain.ModerationRule) bool { return r.ID == id })
		if !ok {
			return nil, &domain.ConfigValidationError{Field: "rules.disabled", Value: id, Reason: domain.ErrUnknownRule.Error()}
		}
		rule.Disable()
	}
	return rules, nil
}
