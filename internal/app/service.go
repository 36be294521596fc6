package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

// Service connects an EventSource to the worker pool and owns the lifecycle
// of the Moderator's background sweepers.
type Service struct {
	source     ports.EventSource
	moderator  *Moderator
	workerPool *WorkerPool
	metrics    *domain.EngineMetrics

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	lastEvents int64
	lastCheck  time.Time
}

// NewService creates a service that feeds events from source through
// moderator. The worker pool is built from cfg.
func NewService(source ports.EventSource, moderator *Moderator, alerters []ports.Alerter, cfg WorkerPoolConfig) *Service {
	metrics := domain.NewEngineMetrics()
	return &Service{
		source:     source,
		moderator:  moderator,
		workerPool: NewWorkerPool(cfg, moderator, alerters, metrics),
		metrics:    metrics,
		lastCheck:  time.Now(),
	}
}

func (s *Service) AddAlertSubscriber(sub ports.AlertSubscriber) {
	s.workerPool.AddSubscriber(sub)
}

func (s *Service) AddDecisionObserver(obs ports.DecisionObserver) {
	s.workerPool.AddDecisionObserver(obs)
}

func (s *Service) AddProcessingObserver(obs ports.ProcessingObserver) {
	s.workerPool.AddProcessingObserver(obs)
}

// SetMetricsCollector installs collector on both the moderator and the pool.
// Call before Start.
func (s *Service) SetMetricsCollector(collector ports.MetricsCollector) {
	s.moderator.SetMetrics(collector)
	s.workerPool.SetCollector(collector)
}

// Start launches the moderator sweepers, the worker pool, the event pump and
// the metrics updater. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.moderator.Start(s.ctx)
	s.workerPool.Start(s.ctx)

	events, errs := s.source.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(events, errs)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.updateMetrics()
	}()

	log.Info().Msg("Moderation service started")
	return nil
}

func (s *Service) pump(events <-chan *domain.PlatformEvent, errs <-chan error) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error().Err(err).Msg("Error reading events")
		case ev, ok := <-events:
			if !ok {
				log.Info().Msg("Event channel closed")
				return
			}
			if !s.workerPool.SubmitBlocking(s.ctx, ev) {
				log.Warn().Str("kind", ev.Kind.String()).Msg("Failed to submit event to worker pool")
				domain.ReleasePlatformEvent(ev)
			}
		}
	}
}

func (s *Service) updateMetrics() {
	ticker := time.NewTicker(time.Second)
	memTicker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	defer memTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-memTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			s.metrics.SetMemoryUsage(float64(m.Alloc) / 1024 / 1024)
		case now := <-ticker.C:
			elapsed := now.Sub(s.lastCheck).Seconds()
			if elapsed >= 1.0 {
				current := s.metrics.EventsProcessed()
				s.metrics.SetEventsPerSecond(float64(current-s.lastEvents) / elapsed)
				s.lastEvents = current
				s.lastCheck = now
			}
		}
	}
}

// Stop cancels the source, drains the pool and stops the sweepers.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Info().Msg("Stopping moderation service gracefully...")

	if s.cancel != nil {
		s.cancel()
	}
	if err := s.source.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping event source")
	}

	s.workerPool.Stop()
	s.wg.Wait()
	s.moderator.Stop()

	log.Info().Msg("Moderation service stopped")
}

func (s *Service) Metrics() domain.MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Service) InternalMetrics() *domain.EngineMetrics {
	return s.metrics
}

func (s *Service) Moderator() *Moderator {
	return s.moderator
}

func (s *Service) WorkerPool() *WorkerPool {
	return s.workerPool
}

func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// WaitForSignal blocks until SIGINT or SIGTERM, then stops the service.
func (s *Service) WaitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	s.Stop()
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.WaitForSignal()
	return nil
}
