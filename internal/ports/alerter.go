// Package ports defines the interfaces between the moderation core and its
// adapters.
//
// Evaluators, event sources and alert sinks live in internal/adapters and are
// wired together in internal/app. The core only depends on these contracts.
package ports

import (
	"context"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Alerter dispatches moderation alerts to an output.
//
// Implementations:
//   - JSONAlerter: JSON lines to a file or stdout
//   - MemoryAlerter: ring buffer for the operator console
//   - RedisAlerter: pub/sub channel for log-channel and notification services
//   - ThrottledAlerter: per-guild rate limit in front of another Alerter
//
// Thread Safety: implementations MUST be safe for concurrent Send calls.
type Alerter interface {
	// Send dispatches an alert.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - alert: Alert to dispatch; must not be modified
	//
	// Returns:
	//   - nil on success
	//   - Error if dispatch fails (caller logs and continues)
	Send(ctx context.Context, alert *domain.Alert) error

	// Flush forces buffered alerts out. Called during shutdown.
	Flush() error

	// Close flushes and releases resources.
	Close() error
}

// AlertSubscriber is notified synchronously for every alert. It must return
// quickly.
type AlertSubscriber interface {
	OnAlert(alert *domain.Alert)
}

// MetricsCollector records observability metrics.
//
// Thread Safety: all methods MUST be safe for concurrent calls.
type MetricsCollector interface {
	// IncrementEvents counts one processed platform event by kind.
	IncrementEvents(kind domain.EventKind)

	// IncrementDecisions counts one moderation decision by action.
	IncrementDecisions(action domain.Action)

	// IncrementRuleTriggers counts one rule firing.
	IncrementRuleTriggers(ruleID string)

	// IncrementRaids counts one raid detection by response.
	IncrementRaids(response domain.RaidResponse)

	// IncrementPatterns counts one coordinated pattern by type.
	IncrementPatterns(pattern domain.PatternType)

	// ObserveEvaluationTime records the duration of one Evaluate call.
	ObserveEvaluationTime(seconds float64)

	// SetActiveWorkers updates the worker gauge.
	SetActiveWorkers(count int)
}
