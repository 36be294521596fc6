package tui

import (
	"container/heap"
	"slices"
	"sync"
	"time"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Model is the console state shared between the worker goroutines that feed
// it and the bubbletea loop that renders it.
type Model struct {
	Width  int
	Height int

	ActiveView int

	Alerts    []*domain.Alert
	Metrics   domain.MetricsSnapshot
	Sparkline []float64

	offenders    map[string]*OffenderEntry
	offenderHeap *offenderMaxHeap

	allowed      int64
	actioned     int64
	windowAllow  int64
	windowAction int64
	byAction     map[domain.Action]int64

	MaxAlerts      int
	MaxTopOffender int
	MaxTracked     int
	SparklineWidth int

	mu sync.RWMutex
}

// OffenderEntry aggregates the non-allow decisions of one user in one guild.
type OffenderEntry struct {
	UserID     string
	GuildID    string
	Violations int
	LastAction domain.Action
	LastSeen   time.Time
	Rules      []string
	heapIndex  int
}

type offenderMaxHeap []*OffenderEntry

func (h offenderMaxHeap) Len() int           { return len(h) }
func (h offenderMaxHeap) Less(i, j int) bool { return h[i].Violations > h[j].Violations }
func (h offenderMaxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *offenderMaxHeap) Push(x any) {
	item := x.(*OffenderEntry)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *offenderMaxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}

func NewModel() *Model {
	h := &offenderMaxHeap{}
	heap.Init(h)
	return &Model{
		Width:          120,
		Height:         40,
		Alerts:         make([]*domain.Alert, 0, 100),
		Sparkline:      make([]float64, 60),
		offenders:      make(map[string]*OffenderEntry),
		offenderHeap:   h,
		byAction:       make(map[domain.Action]int64),
		MaxAlerts:      200,
		MaxTopOffender: 25,
		MaxTracked:     10000,
		SparklineWidth: 60,
	}
}

// OnDecision implements ports.DecisionObserver.
func (m *Model) OnDecision(mctx *domain.ModerationContext, d *domain.ModerationDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byAction[d.Action]++
	if d.Allowed {
		m.allowed++
		m.windowAllow++
		return
	}
	m.actioned++
	m.windowAction++
	m.recordOffender(d)
}

func (m *Model) recordOffender(d *domain.ModerationDecision) {
	key := d.GuildID + "/" + d.UserID
	entry, exists := m.offenders[key]
	if !exists {
		if len(m.offenders) >= m.MaxTracked {
			m.evictSmallest()
		}
		entry = &OffenderEntry{UserID: d.UserID, GuildID: d.GuildID}
		m.offenders[key] = entry
		heap.Push(m.offenderHeap, entry)
	}

	entry.Violations++
	entry.LastAction = d.Action
	entry.LastSeen = d.EvaluatedAt
	for _, t := range d.TriggeredRules {
		if !slices.Contains(entry.Rules, t.RuleID) && len(entry.Rules) < 5 {
			entry.Rules = append(entry.Rules, t.RuleID)
		}
	}
	heap.Fix(m.offenderHeap, entry.heapIndex)
}

// evictSmallest drops the offender with the fewest violations. The max-heap
// keeps small entries in its leaves, so only the second half is scanned.
func (m *Model) evictSmallest() {
	h := *m.offenderHeap
	if len(h) == 0 {
		return
	}
	minIdx := len(h) / 2
	for i := minIdx + 1; i < len(h); i++ {
		if h[i].Violations < h[minIdx].Violations {
			minIdx = i
		}
	}
	old := heap.Remove(m.offenderHeap, minIdx).(*OffenderEntry)
	delete(m.offenders, old.GuildID+"/"+old.UserID)
}

func (m *Model) AddAlert(alert *domain.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Alerts) >= m.MaxAlerts {
		copy(m.Alerts, m.Alerts[1:])
		m.Alerts = m.Alerts[:len(m.Alerts)-1]
	}
	m.Alerts = append(m.Alerts, alert)
}

// UpdateMetrics stores a snapshot, advances the sparkline and returns the
// actioned share of the decisions seen since the previous update.
func (m *Model) UpdateMetrics(metrics domain.MetricsSnapshot) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Metrics = metrics
	m.Sparkline = append(m.Sparkline[1:], metrics.EventsPerSecond)

	total := m.windowAllow + m.windowAction
	share := 0.0
	if total > 0 {
		share = float64(m.windowAction) / float64(total)
	}
	m.windowAllow, m.windowAction = 0, 0
	return share
}

func (m *Model) GetAlerts() []*domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.Alerts)
}

// TopOffenders returns copies of the offenders with the most violations,
// highest first.
func (m *Model) TopOffenders() []OffenderEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(m.MaxTopOffender, m.offenderHeap.Len())
	// Heap order is partial; sort a copy.
	all := make([]OffenderEntry, len(*m.offenderHeap))
	for i, e := range *m.offenderHeap {
		all[i] = *e
		all[i].Rules = slices.Clone(e.Rules)
	}
	slices.SortStableFunc(all, func(a, b OffenderEntry) int {
		if a.Violations != b.Violations {
			return b.Violations - a.Violations
		}
		return b.LastSeen.Compare(a.LastSeen)
	})
	return all[:n]
}

func (m *Model) GetSparkline() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.Sparkline)
}

func (m *Model) GetMetrics() domain.MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Metrics
}

// Decisions returns the allowed and actioned totals.
func (m *Model) Decisions() (allowed, actioned int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowed, m.actioned
}

func (m *Model) ActionCount(action domain.Action) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byAction[action]
}

func (m *Model) TrackedOffenders() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.offenders)
}

func (m *Model) OnAlert(alert *domain.Alert) {
	m.AddAlert(alert)
}

func (m *Model) SetDimensions(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Width = width
	m.Height = height
}

func (m *Model) NextView() {
	m.ActiveView = (m.ActiveView + 1) % 2
}
