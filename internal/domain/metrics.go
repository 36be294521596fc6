package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	EventsProcessed int64
	Evaluations     int64
	Violations      int64
	TotalAlerts     int64
	Raids           int64
	CoordinatedSpam int64
	EventsPerSecond float64
	ActiveWorkers   int
	MemoryUsageMB   float64
	Uptime          time.Duration
	StartTime       time.Time
}

// TriggerRate is the fraction of evaluations that produced a violation.
func (s MetricsSnapshot) TriggerRate() float64 {
	if s.Evaluations == 0 {
		return 0
	}
	return float64(s.Violations) / float64(s.Evaluations)
}

// EngineMetrics holds process-wide counters shown by the console and health
// endpoint.
type EngineMetrics struct {
	eventsProcessed atomic.Int64
	evaluations     atomic.Int64
	violations      atomic.Int64
	totalAlerts     atomic.Int64
	raids           atomic.Int64
	coordinated     atomic.Int64

	mu              sync.RWMutex
	eventsPerSecond float64
	activeWorkers   int
	memoryUsageMB   float64
	startTime       time.Time
}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{startTime: time.Now()}
}

func (m *EngineMetrics) IncrementEvents()      { m.eventsProcessed.Add(1) }
func (m *EngineMetrics) IncrementEvaluations() { m.evaluations.Add(1) }
func (m *EngineMetrics) IncrementViolations()  { m.violations.Add(1) }
func (m *EngineMetrics) IncrementAlerts()      { m.totalAlerts.Add(1) }
func (m *EngineMetrics) IncrementRaids()       { m.raids.Add(1) }
func (m *EngineMetrics) IncrementCoordinated() { m.coordinated.Add(1) }

func (m *EngineMetrics) EventsProcessed() int64 {
	return m.eventsProcessed.Load()
}

func (m *EngineMetrics) SetEventsPerSecond(eps float64) {
	m.mu.Lock()
	m.eventsPerSecond = eps
	m.mu.Unlock()
}

func (m *EngineMetrics) SetActiveWorkers(n int) {
	m.mu.Lock()
	m.activeWorkers = n
	m.mu.Unlock()
}

func (m *EngineMetrics) SetMemoryUsage(mb float64) {
	m.mu.Lock()
	m.memoryUsageMB = mb
	m.mu.Unlock()
}

func (m *EngineMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		EventsProcessed: m.eventsProcessed.Load(),
		Evaluations:     m.evaluations.Load(),
		Violations:      m.violations.Load(),
		TotalAlerts:     m.totalAlerts.Load(),
		Raids:           m.raids.Load(),
		CoordinatedSpam: m.coordinated.Load(),
		EventsPerSecond: m.eventsPerSecond,
		ActiveWorkers:   m.activeWorkers,
		MemoryUsageMB:   m.memoryUsageMB,
		Uptime:          time.Since(m.startTime),
		StartTime:       m.startTime,
	}
}
