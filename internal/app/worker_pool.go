// Package app wires the moderation core: the rules engine, the Moderator
// entry point, the worker pool that feeds it platform events, configuration
// and the service lifecycle.
package app

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

// ModerationHandler is what the pool runs for each event. *Moderator
// implements it.
type ModerationHandler interface {
	Evaluate(ctx context.Context, mctx *domain.ModerationContext) domain.ModerationDecision
	RecordJoin(ev domain.JoinEvent) domain.JoinAssessment
	RecordReaction(ev domain.ReactionEvent) *domain.CoordinatedPattern
}

// Processing results reported to ProcessingObservers.
const (
	ResultAllowed  = "allowed"
	ResultActioned = "actioned"
	ResultJoin     = "join"
	ResultReaction = "reaction"
	ResultUnknown  = "unknown"
)

// ToxicEvent represents an event that caused a worker panic.
// Used for Dead Letter Queue (DLQ) processing and forensic analysis.
type ToxicEvent struct {
	Event     *domain.PlatformEvent // Clone of the problematic event
	PanicErr  any                   // The panic value
	Timestamp time.Time             // When the panic occurred
	WorkerID  int                   // Which worker crashed
}

// WorkerPool runs platform events through a ModerationHandler on a fixed set
// of goroutines and dispatches the resulting alerts.
//
// Alerts:
//   - Every non-allow decision
//   - First detection of coordinated spam
//   - Newly activated raids and suspicious joins
//   - Reaction bursts
//
// Features:
//   - Fixed worker count for predictable resource usage
//   - Backpressure with configurable timeouts
//   - Dead Letter Queue for toxic event handling
//   - Overflow to disk when channels saturate
//   - Quarantine for events causing panics
//   - Automatic worker restart on panic
//
// Thread Safety: All public methods are safe for concurrent access.
type WorkerPool struct {
	workerCount int                       // Number of worker goroutines
	inputChan   chan *domain.PlatformEvent // Buffered input channel
	outputChan  chan *domain.Alert        // Buffered alert output
	handler     ModerationHandler         // Moderation entry point
	alerters    []ports.Alerter           // Alert output destinations
	subscribers []ports.AlertSubscriber   // Alert notification callbacks
	decisions   []ports.DecisionObserver  // Notified of every decision
	processing  []ports.ProcessingObserver
	collector   ports.MetricsCollector // Optional external metrics
	metrics     *domain.EngineMetrics  // Runtime metrics collector
	bufferSize  int                    // Channel buffer size

	submitTimeout   time.Duration // Max wait for channel space
	useBackpressure bool          // Enable timeout-based backpressure

	dlqChan    chan *ToxicEvent // Dead Letter Queue channel
	dlqEnabled bool             // DLQ feature flag

	overflow       *OverflowWriter // Overflow file writer
	overflowEvents atomic.Int64    // Events written to overflow
	overflowAlerts atomic.Int64    // Alerts written to overflow

	quarantine *QuarantineWriter // Quarantine for toxic events

	wg       sync.WaitGroup // Tracks worker goroutines
	stopOnce sync.Once      // Ensures single shutdown
	stopChan chan struct{}  // Shutdown signal
	running  bool           // Running state
	mu       sync.RWMutex   // Protects running state and observers
}

// WorkerPoolConfig defines worker pool configuration options.
type WorkerPoolConfig struct {
	WorkerCount    int           `mapstructure:"count" validate:"gte=0,lte=1000"` // Number of worker goroutines (default: 16)
	BufferSize     int           `mapstructure:"buffer_size" validate:"gte=0"`    // Input/output channel buffer (default: 10000)
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout" validate:"gte=0"` // Backpressure timeout (default: 100ms)
	EnableDLQ      bool          `mapstructure:"dlq"`                             // Enable Dead Letter Queue (default: true)
	DLQSize        int           `mapstructure:"dlq_size" validate:"gte=0"`       // DLQ channel buffer (default: 1000)
	OverflowPath   string        `mapstructure:"overflow_path"`                   // Path for overflow file (empty disables)
	QuarantinePath string        `mapstructure:"quarantine_path"`                 // Path for quarantine file (empty disables)
}

// DefaultWorkerPoolConfig returns production-ready default configuration.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:   16,
		BufferSize:    10000,
		SubmitTimeout: 100 * time.Millisecond,
		EnableDLQ:     true,
		DLQSize:       1000,
	}
}

// NewWorkerPool creates a configured worker pool.
//
// Parameters:
//   - config: Pool configuration options
//   - handler: Moderation entry point applied to each event
//   - alerters: Alert output destinations
//   - metrics: Runtime metrics collector (may be nil)
//
// Returns:
//   - Configured WorkerPool ready for Start()
func NewWorkerPool(config WorkerPoolConfig, handler ModerationHandler, alerters []ports.Alerter, metrics *domain.EngineMetrics) *WorkerPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.DLQSize <= 0 {
		config.DLQSize = 100
	}

	wp := &WorkerPool{
		workerCount:     config.WorkerCount,
		inputChan:       make(chan *domain.PlatformEvent, config.BufferSize),
		outputChan:      make(chan *domain.Alert, config.BufferSize),
		handler:         handler,
		alerters:        alerters,
		metrics:         metrics,
		bufferSize:      config.BufferSize,
		submitTimeout:   config.SubmitTimeout,
		useBackpressure: config.SubmitTimeout > 0,
		dlqEnabled:      config.EnableDLQ,
		stopChan:        make(chan struct{}),
	}

	if config.EnableDLQ {
		wp.dlqChan = make(chan *ToxicEvent, config.DLQSize)
	}

	if config.OverflowPath != "" {
		overflow, err := NewOverflowWriter(config.OverflowPath)
		if err != nil {
			log.Error().Err(err).Str("path", config.OverflowPath).Msg("Failed to create overflow writer")
		} else {
			wp.overflow = overflow
		}
	}

	if config.QuarantinePath != "" {
		quarantine, err := NewQuarantineWriter(config.QuarantinePath)
		if err != nil {
			log.Error().Err(err).Str("path", config.QuarantinePath).Msg("Failed to create quarantine writer")
		} else {
			wp.quarantine = quarantine
		}
	}

	return wp
}

// Start launches worker goroutines and the alert dispatcher. Idempotent.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = true
	wp.mu.Unlock()

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.wg.Add(1)
	go wp.alertDispatcher(ctx)

	wp.setActiveWorkers(wp.workerCount)

	log.Info().
		Int("workers", wp.workerCount).
		Bool("backpressure", wp.useBackpressure).
		Bool("dlq", wp.dlqEnabled).
		Msg("Worker pool started")
}

func (wp *WorkerPool) setActiveWorkers(n int) {
	if wp.metrics != nil {
		wp.metrics.SetActiveWorkers(n)
	}
	if wp.collector != nil {
		wp.collector.SetActiveWorkers(n)
	}
}

// worker is the processing loop for a single worker goroutine. A panic
// quarantines the current event and restarts the worker.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	var current *domain.PlatformEvent

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int("worker_id", id).
				Msg("Worker panic recovered")

			if wp.quarantine != nil && wp.quarantine.Enabled() {
				if err := wp.quarantine.WriteToxicEvent(id, r, debug.Stack(), current); err != nil {
					log.Error().Err(err).Int("worker_id", id).Msg("Failed to quarantine toxic event")
				}
			}

			if wp.dlqEnabled && current != nil {
				select {
				case wp.dlqChan <- &ToxicEvent{
					Event:     current.Clone(),
					PanicErr:  r,
					Timestamp: time.Now(),
					WorkerID:  id,
				}:
					log.Debug().Int("worker_id", id).Msg("Toxic event sent to DLQ")
				default:
					log.Warn().Int("worker_id", id).Msg("DLQ full, toxic event only in quarantine file")
				}
			}
			wp.notifyProcessing("error")

			wp.wg.Add(1)
			go wp.worker(ctx, id)
		}
	}()

	log.Debug().Int("worker_id", id).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker stopped (context cancelled)")
			return
		case <-wp.stopChan:
			log.Debug().Int("worker_id", id).Msg("Worker stopped (stop signal)")
			return
		case ev, ok := <-wp.inputChan:
			if !ok {
				log.Debug().Int("worker_id", id).Msg("Worker stopped (input channel closed)")
				return
			}

			current = ev
			result := wp.process(ctx, ev)
			wp.notifyProcessing(result)
			if wp.metrics != nil {
				wp.metrics.IncrementEvents()
			}
			if wp.collector != nil {
				wp.collector.IncrementEvents(ev.Kind)
			}

			current = nil
			domain.ReleasePlatformEvent(ev)
		}
	}
}

// process runs one event through the handler and emits its alerts.
func (wp *WorkerPool) process(ctx context.Context, ev *domain.PlatformEvent) string {
	switch ev.Kind {
	case domain.EventMessage:
		mctx := ev.ModerationContext()
		decision := wp.handler.Evaluate(ctx, mctx)
		if wp.metrics != nil {
			wp.metrics.IncrementEvaluations()
		}

		wp.mu.RLock()
		for _, obs := range wp.decisions {
			obs.OnDecision(mctx, &decision)
		}
		wp.mu.RUnlock()

		if c := decision.Coordinated; c != nil && c.FirstDetection {
			if wp.metrics != nil {
				wp.metrics.IncrementCoordinated()
			}
			wp.emit(domain.NewCoordinatedSpamAlert(c))
		}
		if decision.Allowed {
			return ResultAllowed
		}
		if wp.metrics != nil {
			wp.metrics.IncrementViolations()
		}
		alert := domain.NewDecisionAlert(&decision, ev.Content)
		if ev.Truncated {
			alert.AddMetadata("truncated", "true")
		}
		wp.emit(alert)
		return ResultActioned

	case domain.EventJoin:
		join := ev.JoinEvent()
		assessment := wp.handler.RecordJoin(join)
		if raid := assessment.Raid; raid != nil && raid.NewlyActivated {
			if wp.metrics != nil {
				wp.metrics.IncrementRaids()
			}
			wp.emit(domain.NewRaidAlert(raid))
		}
		if assessment.Suspicious {
			wp.emit(domain.NewSuspiciousJoinAlert(join, &assessment))
		}
		return ResultJoin

	case domain.EventReaction:
		if pattern := wp.handler.RecordReaction(ev.ReactionEvent()); pattern != nil {
			if wp.metrics != nil {
				wp.metrics.IncrementCoordinated()
			}
			wp.emit(domain.NewPatternAlert(pattern))
		}
		return ResultReaction
	}

	log.Debug().Str("kind", ev.Kind.String()).Msg("Skipping event of unknown kind")
	return ResultUnknown
}

func (wp *WorkerPool) emit(alert *domain.Alert) {
	if wp.sendAlert(alert) && wp.metrics != nil {
		wp.metrics.IncrementAlerts()
	}
}

func (wp *WorkerPool) notifyProcessing(result string) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	for _, obs := range wp.processing {
		obs.IncrementEventsByResult(result)
	}
}

// sendAlert attempts to send an alert to the output channel.
// Uses backpressure with timeout, falling back to overflow file.
func (wp *WorkerPool) sendAlert(alert *domain.Alert) bool {
	select {
	case wp.outputChan <- alert:
		return true
	default:
	}

	if wp.useBackpressure {
		timer := time.NewTimer(wp.submitTimeout)
		select {
		case wp.outputChan <- alert:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}

	if wp.overflow != nil && wp.overflow.Enabled() {
		if err := wp.overflow.WriteAlert(alert); err != nil {
			log.Error().Err(err).Msg("Failed to write alert to overflow")
			return false
		}
		wp.overflowAlerts.Add(1)
		return true
	}
	return false
}

// alertDispatcher reads from the output channel and sends to alerters and
// subscribers.
func (wp *WorkerPool) alertDispatcher(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.stopChan:
			return
		case alert, ok := <-wp.outputChan:
			if !ok {
				return
			}
			wp.dispatch(ctx, alert)
		}
	}
}

func (wp *WorkerPool) dispatch(ctx context.Context, alert *domain.Alert) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	for _, alerter := range wp.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Alert send failed")
		}
	}
	for _, sub := range wp.subscribers {
		sub.OnAlert(alert)
	}
}

// Submit attempts non-blocking submission with backpressure fallback.
//
// Returns:
//   - true if submitted (channel, backpressure wait, or overflow)
//   - false if pool not running or all fallbacks failed
func (wp *WorkerPool) Submit(ev *domain.PlatformEvent) bool {
	wp.mu.RLock()
	running := wp.running
	wp.mu.RUnlock()

	if !running {
		return false
	}

	select {
	case wp.inputChan <- ev:
		return true
	default:
	}

	if wp.useBackpressure {
		timer := time.NewTimer(wp.submitTimeout)
		select {
		case wp.inputChan <- ev:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}

	if wp.overflow != nil && wp.overflow.Enabled() {
		if err := wp.overflow.WriteEvent(ev); err != nil {
			log.Error().Err(err).Msg("Failed to write event to overflow")
			return false
		}
		wp.overflowEvents.Add(1)
		domain.ReleasePlatformEvent(ev)
		return true
	}
	return false
}

// SubmitBlocking blocks until the event is queued or ctx is cancelled.
func (wp *WorkerPool) SubmitBlocking(ctx context.Context, ev *domain.PlatformEvent) bool {
	select {
	case <-wp.stopChan:
		return false
	default:
	}
	select {
	case wp.inputChan <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-wp.stopChan:
		return false
	}
}

// Alerts returns the read-only alert output channel.
func (wp *WorkerPool) Alerts() <-chan *domain.Alert {
	return wp.outputChan
}

// DLQ returns the Dead Letter Queue channel.
func (wp *WorkerPool) DLQ() <-chan *ToxicEvent {
	return wp.dlqChan
}

func (wp *WorkerPool) OverflowEvents() int64 {
	return wp.overflowEvents.Load()
}

func (wp *WorkerPool) OverflowAlerts() int64 {
	return wp.overflowAlerts.Load()
}

// Stop performs graceful shutdown of the worker pool.
// Idempotent via sync.Once protection.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.running = false
		wp.mu.Unlock()

		close(wp.stopChan)
		wp.wg.Wait()

		// Deliver what the workers already produced.
		for drained := false; !drained; {
			select {
			case alert := <-wp.outputChan:
				wp.dispatch(context.Background(), alert)
			default:
				drained = true
			}
		}
		if wp.dlqChan != nil {
			close(wp.dlqChan)
		}

		if wp.overflow != nil {
			if err := wp.overflow.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close overflow writer")
			}
		}
		if wp.quarantine != nil {
			if err := wp.quarantine.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close quarantine writer")
			}
		}

		wp.setActiveWorkers(0)

		if overflowed := wp.overflowEvents.Load() + wp.overflowAlerts.Load(); overflowed > 0 {
			log.Warn().
				Int64("overflow_events", wp.overflowEvents.Load()).
				Int64("overflow_alerts", wp.overflowAlerts.Load()).
				Msg("Worker pool stopped with items in overflow file")
		} else {
			log.Info().Msg("Worker pool stopped")
		}
	})
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

// QueueLength returns current events waiting in the input channel.
func (wp *WorkerPool) QueueLength() int {
	return len(wp.inputChan)
}

func (wp *WorkerPool) QueueCapacity() int {
	return wp.bufferSize
}

// QueueUtilization returns percentage of input channel capacity in use.
func (wp *WorkerPool) QueueUtilization() float64 {
	if wp.bufferSize == 0 {
		return 0
	}
	return float64(len(wp.inputChan)) / float64(wp.bufferSize) * 100
}

func (wp *WorkerPool) AddAlerter(alerter ports.Alerter) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.alerters = append(wp.alerters, alerter)
}

// AddSubscriber registers an alert notification callback.
func (wp *WorkerPool) AddSubscriber(sub ports.AlertSubscriber) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.subscribers = append(wp.subscribers, sub)
}

func (wp *WorkerPool) AddDecisionObserver(obs ports.DecisionObserver) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.decisions = append(wp.decisions, obs)
}

func (wp *WorkerPool) AddProcessingObserver(obs ports.ProcessingObserver) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.processing = append(wp.processing, obs)
}

// SetCollector installs an external metrics collector. Call before Start.
func (wp *WorkerPool) SetCollector(c ports.MetricsCollector) {
	wp.collector = c
}
