package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/window"
)

// Confidence of each behavior sub-check.
const (
	FrequencyConfidence = 0.9
	DuplicateConfidence = 0.85
	RapidConfidence     = 0.8
	FloodingConfidence  = 0.75
)

// BehaviorConfig configures the behavior evaluator.
type BehaviorConfig struct {
	Window                 time.Duration `mapstructure:"window" validate:"gt=0"`                   // Analysis window per user (default: 60s)
	SpamFrequencyThreshold int           `mapstructure:"spam_frequency_threshold" validate:"gt=0"` // Window size that must be exceeded (default: 10)
	DuplicateThreshold     int           `mapstructure:"duplicate_threshold" validate:"gt=0"`      // Identical normalized messages that trigger (default: 3)
	RapidCount             int           `mapstructure:"rapid_count" validate:"gte=2"`             // Trailing messages checked for bursts (default: 3)
	RapidSpan              time.Duration `mapstructure:"rapid_span" validate:"gt=0"`               // Burst span that must not be reached (default: 10s)
	FloodRatio             float64       `mapstructure:"flood_ratio" validate:"gt=0,lte=1"`        // Single-channel share that must be exceeded (default: 0.70)
	FloodMinMessages       int           `mapstructure:"flood_min_messages" validate:"gt=0"`       // Window size that must be exceeded for flooding (default: 5)
	MaxMessagesPerUser     int           `mapstructure:"max_messages_per_user" validate:"gt=0"`    // Per-user cap inside the window (default: 256)
	SweepInterval          time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`           // Idle user reclamation (default: 1h)
}

// DefaultBehaviorConfig returns the standard thresholds.
func DefaultBehaviorConfig() BehaviorConfig {
	return BehaviorConfig{
		Window:                 60 * time.Second,
		SpamFrequencyThreshold: 10,
		DuplicateThreshold:     3,
		RapidCount:             3,
		RapidSpan:              10 * time.Second,
		FloodRatio:             0.70,
		FloodMinMessages:       5,
		MaxMessagesPerUser:     256,
		SweepInterval:          time.Hour,
	}
}

type messageRecord struct {
	channelID   string
	fingerprint uint64
	blank       bool // no text after normalization, e.g. attachment-only
}

// BehaviorEvaluator analyzes each user's recent messages.
//
// Detection Strategy:
//  1. Append the message to the user's window and prune expired entries
//  2. Frequency: more than SpamFrequencyThreshold messages in the window
//  3. Duplicates: DuplicateThreshold messages with identical normalized content;
//     messages with no text never count as duplicates
//  4. Rapid posting: the last RapidCount messages span less than RapidSpan
//  5. Channel flooding: one channel holds more than FloodRatio of the window
//
// The event timestamp is used as the window reference, so replayed traffic
// is judged by its own clock.
//
// Thread Safety: safe for concurrent use; each user has its own lock in the
// underlying window store.
type BehaviorEvaluator struct {
	config BehaviorConfig
	store  *window.Store[messageRecord]
}

// NewBehaviorEvaluator creates a behavior evaluator. Zero config fields fall
// back to DefaultBehaviorConfig values.
//
// Note: call StartSweeper to reclaim idle users in the background.
func NewBehaviorEvaluator(config BehaviorConfig) *BehaviorEvaluator {
	d := DefaultBehaviorConfig()
	if config.Window <= 0 {
		config.Window = d.Window
	}
	if config.SpamFrequencyThreshold <= 0 {
		config.SpamFrequencyThreshold = d.SpamFrequencyThreshold
	}
	if config.DuplicateThreshold <= 0 {
		config.DuplicateThreshold = d.DuplicateThreshold
	}
	if config.RapidCount <= 1 {
		config.RapidCount = d.RapidCount
	}
	if config.RapidSpan <= 0 {
		config.RapidSpan = d.RapidSpan
	}
	if config.FloodRatio <= 0 {
		config.FloodRatio = d.FloodRatio
	}
	if config.FloodMinMessages <= 0 {
		config.FloodMinMessages = d.FloodMinMessages
	}
	if config.MaxMessagesPerUser <= 0 {
		config.MaxMessagesPerUser = d.MaxMessagesPerUser
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = d.SweepInterval
	}

	return &BehaviorEvaluator{
		config: config,
		store: window.New[messageRecord](window.Config{
			Retention:     config.Window,
			MaxLen:        config.MaxMessagesPerUser,
			SweepInterval: config.SweepInterval,
		}),
	}
}

func (e *BehaviorEvaluator) Name() string {
	return domain.ConditionBehavior.String()
}

// Evaluate records the message and checks the user's window.
//
// Parameters:
//   - ctx: Unused; evaluation is bounded and does no I/O
//   - mctx: Message under evaluation
//
// Returns:
//   - ConditionResult with the maximum triggered confidence and every reason
func (e *BehaviorEvaluator) Evaluate(_ context.Context, mctx *domain.ModerationContext) domain.ConditionResult {
	if mctx.UserID == "" {
		return domain.NoMatch()
	}

	normalized := Normalize(mctx.Content)
	rec := messageRecord{
		channelID:   mctx.ChannelID,
		fingerprint: hashNormalized(normalized),
		blank:       normalized == "",
	}
	events := e.store.Observe(mctx.UserID, rec, mctx.At(), e.config.Window)
	return e.analyze(events)
}

func (e *BehaviorEvaluator) analyze(events []window.Event[messageRecord]) domain.ConditionResult {
	var result domain.ConditionResult
	n := len(events)

	if n > e.config.SpamFrequencyThreshold {
		result.Trigger(FrequencyConfidence, domain.PatternSpam,
			fmt.Sprintf("%d messages in %s", n, e.config.Window))
	}

	texts := lo.Reject(events, func(ev window.Event[messageRecord], _ int) bool { return ev.Value.blank })
	dupes := lo.CountValuesBy(texts, func(ev window.Event[messageRecord]) uint64 { return ev.Value.fingerprint })
	if top := maxCount(dupes); top >= e.config.DuplicateThreshold {
		result.Trigger(DuplicateConfidence, domain.PatternDuplicateContent,
			fmt.Sprintf("%d duplicate messages", top))
	}

	if rc := e.config.RapidCount; n >= rc {
		if span := events[n-1].At.Sub(events[n-rc].At); span < e.config.RapidSpan {
			result.Trigger(RapidConfidence, domain.PatternRapidPosting,
				fmt.Sprintf("%d messages in %s", rc, span.Round(time.Millisecond)))
		}
	}

	if n > e.config.FloodMinMessages {
		channels := lo.CountValuesBy(events, func(ev window.Event[messageRecord]) string { return ev.Value.channelID })
		if top := maxCount(channels); float64(top)/float64(n) > e.config.FloodRatio {
			result.Trigger(FloodingConfidence, domain.PatternFlooding,
				fmt.Sprintf("%d of %d messages in one channel", top, n))
		}
	}

	return result
}

func maxCount[K comparable](counts map[K]int) int {
	top := 0
	for _, c := range counts {
		top = max(top, c)
	}
	return top
}

// WindowSize returns the number of retained messages for userID.
func (e *BehaviorEvaluator) WindowSize(userID string) int {
	return e.store.Len(userID)
}

// TrackedUsers returns the number of users with a window.
func (e *BehaviorEvaluator) TrackedUsers() int {
	return e.store.Keys()
}

// Reset forgets userID's window.
func (e *BehaviorEvaluator) Reset(userID string) {
	e.store.Delete(userID)
}

// Sweep prunes every window and reclaims idle users.
func (e *BehaviorEvaluator) Sweep() int {
	return e.store.Sweep()
}

// StartSweeper reclaims idle users every SweepInterval until ctx is done.
func (e *BehaviorEvaluator) StartSweeper(ctx context.Context) {
	e.store.StartSweeper(ctx)
}

// Stop halts the sweeper. Idempotent.
func (e *BehaviorEvaluator) Stop() {
	e.store.Stop()
}
