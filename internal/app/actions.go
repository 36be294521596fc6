package app

import (
	"fmt"
	"time"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// ActionConfig maps decision confidence to action tiers.
type ActionConfig struct {
	WarnThreshold    float64       `mapstructure:"warn_threshold" validate:"gte=0,lte=1"`    // Below this nothing is actioned (default: 0.3)
	TimeoutThreshold float64       `mapstructure:"timeout_threshold" validate:"gte=0,lte=1"` // (default: 0.6)
	KickThreshold    float64       `mapstructure:"kick_threshold" validate:"gte=0,lte=1"`    // (default: 0.8)
	BanThreshold     float64       `mapstructure:"ban_threshold" validate:"gte=0,lte=1"`     // (default: 0.95)
	BaseTimeout      time.Duration `mapstructure:"base_timeout" validate:"gt=0"`             // Scaled by the escalation factor (default: 10m)
	MaxTimeout       time.Duration `mapstructure:"max_timeout" validate:"gt=0"`              // Platform limit (default: 28 days)
}

func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		WarnThreshold:    0.3,
		TimeoutThreshold: 0.6,
		KickThreshold:    0.8,
		BanThreshold:     0.95,
		BaseTimeout:      10 * time.Minute,
		MaxTimeout:       28 * 24 * time.Hour,
	}
}

// validate checks the ordering the struct tags cannot express.
func (c ActionConfig) validate() error {
	tiers := []struct {
		field string
		value float64
	}{
		{"actions.warn_threshold", c.WarnThreshold},
		{"actions.timeout_threshold", c.TimeoutThreshold},
		{"actions.kick_threshold", c.KickThreshold},
		{"actions.ban_threshold", c.BanThreshold},
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].value <= tiers[i-1].value {
			return &domain.ConfigValidationError{
				Field:  tiers[i].field,
				Value:  fmt.Sprint(tiers[i].value),
				Reason: "must be greater than " + tiers[i-1].field,
			}
		}
	}
	if c.BaseTimeout > c.MaxTimeout {
		return &domain.ConfigValidationError{
			Field:  "actions.base_timeout",
			Value:  c.BaseTimeout.String(),
			Reason: "must not exceed actions.max_timeout",
		}
	}
	return nil
}

// Tier returns the strongest action whose threshold confidence reaches.
func (c ActionConfig) Tier(confidence float64) domain.Action {
	switch {
	case confidence >= c.BanThreshold:
		return domain.ActionBan
	case confidence >= c.KickThreshold:
		return domain.ActionKick
	case confidence >= c.TimeoutThreshold:
		return domain.ActionTimeout
	case confidence >= c.WarnThreshold:
		return domain.ActionWarn
	}
	return domain.ActionAllow
}

// EscalatedTier returns the tier reached by an escalated confidence, at most
// steps tiers above base. Escalation always allows one step.
func (c ActionConfig) EscalatedTier(base domain.Action, confidence float64, steps int) domain.Action {
	ceiling := min(base+domain.Action(max(steps, 1)), domain.ActionBan)
	return domain.MaxAction(base, min(c.Tier(confidence), ceiling))
}

// TimeoutFor scales the base timeout by an escalation factor, capped at
// MaxTimeout.
func (c ActionConfig) TimeoutFor(factor float64) time.Duration {
	factor = max(factor, 1)
	scaled := float64(c.BaseTimeout) * factor
	if scaled >= float64(c.MaxTimeout) {
		return c.MaxTimeout
	}
	return time.Duration(scaled)
}
