package ports

import "github.com/HolyFlex-tecjh/axion/internal/domain"

// DecisionObserver sees every decision, including allows. Used by the
// operator console for throughput and top-offender views.
//
// Thread Safety: implementations MUST be safe for concurrent calls.
type DecisionObserver interface {
	OnDecision(mctx *domain.ModerationContext, decision *domain.ModerationDecision)
}

// ProcessingObserver classifies every processed event ("allowed",
// "actioned", "join", "reaction", "error").
type ProcessingObserver interface {
	IncrementEventsByResult(result string)
}
