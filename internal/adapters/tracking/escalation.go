// Package tracking holds the long-lived, per-user and per-guild state of the
// moderation core: violation histories and escalation, raid and coordinated
// behavior detection, account suspicion, and behavior profiles.
//
// All trackers key their state in concurrent maps with per-entry locks and
// prune themselves by time and length. Nothing is persisted.
package tracking

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/window"
)

// Escalation multipliers applied after the repeat-offense factor.
const (
	TrendFactor      = 1.2
	CrossGuildFactor = 1.3
	SameChannelBurst = 1.1

	burstWindow = time.Hour
	trendLength = 3
)

// Multiplier presets.
const (
	PresetLenient  = "lenient"
	PresetBalanced = "balanced"
	PresetStrict   = "strict"
)

// PresetMultiplier returns the repeat-offense multiplier of a named preset.
func PresetMultiplier(preset string) (float64, error) {
	switch strings.ToLower(preset) {
	case PresetLenient:
		return 1.5, nil
	case PresetBalanced, "":
		return 2.0, nil
	case PresetStrict:
		return 2.5, nil
	}
	return 0, &domain.ConfigValidationError{
		Field:  "escalation.preset",
		Value:  preset,
		Reason: "must be lenient, balanced or strict",
	}
}

type EscalationConfig struct {
	Window        time.Duration    `mapstructure:"window" validate:"gt=0"`
	Threshold     int              `mapstructure:"threshold" validate:"gt=0"`
	Multiplier    float64          `mapstructure:"multiplier" validate:"eq=0|gte=1"`
	MaxHistory    int              `mapstructure:"max_history" validate:"gt=0"`
	SweepInterval time.Duration    `mapstructure:"sweep_interval" validate:"gt=0"`
	Now           func() time.Time `mapstructure:"-" json:"-"`
}

func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		Window:        7 * 24 * time.Hour,
		Threshold:     3,
		Multiplier:    2.0,
		MaxHistory:    100,
		SweepInterval: time.Hour,
	}
}

// EscalationEngine raises the confidence of a violation based on the user's
// recent violation history.
//
// Escalation Steps (each clamped to 1.0, composed multiplicatively):
//  1. Repeat offense: history >= Threshold multiplies by
//     Multiplier^(size-Threshold+1)
//  2. Trend: at least three violations whose confidences strictly increase
//     across the whole window, x1.2
//  3. Cross-guild: violations in more than one guild, x1.3
//  4. Burst: the last three violations within an hour in one channel, x1.1
//
// History is keyed by user id alone so that cross-guild behavior is visible.
//
// Thread Safety: safe for concurrent use. Two violations recorded for the
// same user at the same instant may both see the other in their history.
type EscalationEngine struct {
	config  EscalationConfig
	history *window.Store[domain.ViolationEvent]
}

// NewEscalationEngine creates an engine. Zero config fields fall back to
// DefaultEscalationConfig values.
func NewEscalationEngine(config EscalationConfig) *EscalationEngine {
	d := DefaultEscalationConfig()
	if config.Window <= 0 {
		config.Window = d.Window
	}
	if config.Threshold <= 0 {
		config.Threshold = d.Threshold
	}
	if config.Multiplier < 1 {
		config.Multiplier = d.Multiplier
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = d.MaxHistory
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = d.SweepInterval
	}

	return &EscalationEngine{
		config: config,
		history: window.New[domain.ViolationEvent](window.Config{
			Retention:     config.Window,
			MaxLen:        config.MaxHistory,
			SweepInterval: config.SweepInterval,
			Now:           config.Now,
		}),
	}
}

// RecordViolation appends ev to the user's history and computes the
// escalated confidence.
//
// Parameters:
//   - userID: Offending user
//   - ev: Violation; a zero Timestamp means now
//
// Returns:
//   - EscalationResult; EscalatedConfidence is never below ev.Confidence
//     (for confidences in [0,1])
func (e *EscalationEngine) RecordViolation(userID string, ev domain.ViolationEvent) domain.EscalationResult {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	ev.RuleIDs = slices.Clone(ev.RuleIDs)
	events := e.history.Observe(userID, ev, ev.Timestamp, e.config.Window)
	return e.escalate(ev.Confidence, events)
}

func (e *EscalationEngine) escalate(base float64, events []window.Event[domain.ViolationEvent]) domain.EscalationResult {
	result := domain.EscalationResult{
		BaseConfidence:      base,
		EscalatedConfidence: base,
		Factor:              1,
		ViolationCount:      len(events),
	}
	apply := func(f float64, reason string) {
		result.Factor *= f
		result.EscalatedConfidence = math.Min(1, result.EscalatedConfidence*f)
		result.Factors = append(result.Factors, reason)
		result.ShouldEscalate = true
	}

	n := len(events)
	if n >= e.config.Threshold {
		exp := n - e.config.Threshold + 1
		result.RepeatOffenses = exp
		apply(math.Pow(e.config.Multiplier, float64(exp)),
			fmt.Sprintf("%d violations in %s", n, e.config.Window))
	}

	if n >= trendLength && increasing(events) {
		apply(TrendFactor, "increasing severity trend")
	}

	guilds := make(map[string]struct{}, 2)
	for _, ev := range events {
		guilds[ev.Value.GuildID] = struct{}{}
	}
	if len(guilds) > 1 {
		apply(CrossGuildFactor, fmt.Sprintf("violations in %d guilds", len(guilds)))
	}

	if n >= trendLength {
		tail := events[n-trendLength:]
		sameChannel := true
		for _, ev := range tail[1:] {
			if ev.Value.ChannelID != tail[0].Value.ChannelID {
				sameChannel = false
				break
			}
		}
		if sameChannel && tail[len(tail)-1].At.Sub(tail[0].At) <= burstWindow {
			apply(SameChannelBurst, "violation burst in one channel")
		}
	}

	return result
}

func increasing(events []window.Event[domain.ViolationEvent]) bool {
	for i := 1; i < len(events); i++ {
		if events[i].Value.Confidence <= events[i-1].Value.Confidence {
			return false
		}
	}
	return true
}

// History returns the retained violations of userID, oldest first.
func (e *EscalationEngine) History(userID string) []domain.ViolationEvent {
	events := e.history.RecentSince(userID, time.Time{})
	out := make([]domain.ViolationEvent, len(events))
	for i, ev := range events {
		out[i] = ev.Value
	}
	return out
}

func (e *EscalationEngine) ViolationCount(userID string) int {
	return e.history.Len(userID)
}

// Reset forgets userID's history.
func (e *EscalationEngine) Reset(userID string) {
	e.history.Delete(userID)
}

func (e *EscalationEngine) TrackedUsers() int {
	return e.history.Keys()
}

func (e *EscalationEngine) Sweep() int {
	return e.history.Sweep()
}

func (e *EscalationEngine) StartSweeper(ctx context.Context) {
	e.history.StartSweeper(ctx)
}

func (e *EscalationEngine) Stop() {
	e.history.Stop()
}

func (e *EscalationEngine) now() time.Time {
	if e.config.Now != nil {
		return e.config.Now()
	}
	return time.Now()
}
