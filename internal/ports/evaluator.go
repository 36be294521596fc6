package ports

import (
	"context"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// ConditionEvaluator scores one message for one kind of rule condition.
//
// Implementations:
//   - ContentEvaluator: caps, links, mentions, repetition
//   - BehaviorEvaluator: per-user sliding window analysis
//   - ContextEvaluator: channel, role and time-of-day modifiers
//   - BlockedTermsEvaluator, KnownSpamEvaluator: custom evaluators
//
// Contract:
//   - MUST be safe for concurrent calls
//   - MUST NOT modify mctx
//   - MUST NOT panic on malformed input; failures are reported through
//     ConditionResult.Error and treated as no match
//   - Stateful evaluators record the message as a side effect; the rules
//     engine calls each evaluator at most once per message
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, mctx *domain.ModerationContext) domain.ConditionResult

	// Name is the evaluator key referenced by rule conditions: "content",
	// "behavior", "context", or the custom evaluator name.
	Name() string
}

// FingerprintStore remembers the content of confirmed coordinated spam.
//
// Thread Safety: all methods MUST be safe for concurrent access.
type FingerprintStore interface {
	// Add records content as known spam. Normalization is the store's
	// responsibility.
	Add(content string) error

	// Contains reports whether content matches a known spam fingerprint.
	Contains(content string) bool

	// Count returns the number of stored fingerprints.
	Count() int
}
