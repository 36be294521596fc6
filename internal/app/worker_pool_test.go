package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

type mockHandler struct {
	action      domain.Action
	shouldPanic atomic.Bool
	coordinated bool
	raid        bool
	evaluations atomic.Int64
	joins       atomic.Int64
	reactions   atomic.Int64
}

func (m *mockHandler) Evaluate(ctx context.Context, mctx *domain.ModerationContext) domain.ModerationDecision {
	m.evaluations.Add(1)
	if m.shouldPanic.Load() {
		panic("intentional panic for testing")
	}
	d := domain.AllowDecision("d-1", mctx)
	if m.action != domain.ActionAllow {
		d.Allowed = false
		d.Action = m.action
		d.Confidence = 0.9
	}
	if m.coordinated {
		d.Coordinated = &domain.CoordinatedSpamResult{
			GuildID:        mctx.GuildID,
			InvolvedUsers:  []string{"u1", "u2", "u3"},
			FirstDetection: true,
		}
	}
	return d
}

func (m *mockHandler) RecordJoin(ev domain.JoinEvent) domain.JoinAssessment {
	m.joins.Add(1)
	if m.raid {
		return domain.JoinAssessment{
			Raid:           &domain.RaidDetectionResult{GuildID: ev.GuildID, NewlyActivated: true},
			GuildUnderRaid: true,
		}
	}
	return domain.JoinAssessment{}
}

func (m *mockHandler) RecordReaction(ev domain.ReactionEvent) *domain.CoordinatedPattern {
	m.reactions.Add(1)
	return nil
}

type mockAlerter struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

func (m *mockAlerter) Send(ctx context.Context, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockAlerter) Flush() error { return nil }
func (m *mockAlerter) Close() error { return nil }

func (m *mockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func (m *mockAlerter) kinds() map[domain.AlertKind]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.AlertKind]int)
	for _, a := range m.alerts {
		out[a.Kind]++
	}
	return out
}

type mockObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *mockObserver) IncrementEventsByResult(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]int)
	}
	m.results[result]++
}

func (m *mockObserver) get(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[result]
}

func messageEvent(user string) *domain.PlatformEvent {
	ev := domain.AcquirePlatformEvent()
	ev.Kind = domain.EventMessage
	ev.GuildID = "g1"
	ev.UserID = user
	ev.ChannelID = "c1"
	ev.Content = "hello"
	return ev
}

func newTestPool(t *testing.T, cfg WorkerPoolConfig, h ModerationHandler, alerters ...ports.Alerter) (*WorkerPool, context.Context) {
	t.Helper()
	pool := NewWorkerPool(cfg, h, alerters, domain.NewEngineMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)
	return pool, ctx
}

func TestWorkerPool_Basic(t *testing.T) {
	h := &mockHandler{}
	alerter := &mockAlerter{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 4, BufferSize: 100}, h, alerter)

	for i := 0; i < 10; i++ {
		require.True(t, pool.SubmitBlocking(ctx, messageEvent("u1")))
	}

	require.Eventually(t, func() bool { return h.evaluations.Load() == 10 }, 2*time.Second, 10*time.Millisecond)
	pool.Stop()

	assert.Zero(t, alerter.count(), "allowed messages produce no alerts")
	assert.Equal(t, int64(10), pool.metrics.Snapshot().Evaluations)
}

func TestWorkerPool_DecisionAlerts(t *testing.T) {
	h := &mockHandler{action: domain.ActionTimeout}
	alerter := &mockAlerter{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 2, BufferSize: 100}, h, alerter)

	for i := 0; i < 5; i++ {
		pool.SubmitBlocking(ctx, messageEvent("u1"))
	}

	require.Eventually(t, func() bool { return h.evaluations.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	pool.Stop()

	assert.Equal(t, 5, alerter.kinds()[domain.AlertKindDecision])
	assert.Equal(t, int64(5), pool.metrics.Snapshot().Violations)
}

func TestWorkerPool_CoordinatedAndRaidAlerts(t *testing.T) {
	h := &mockHandler{coordinated: true, raid: true}
	alerter := &mockAlerter{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 2, BufferSize: 100}, h, alerter)

	pool.SubmitBlocking(ctx, messageEvent("u1"))
	join := domain.AcquirePlatformEvent()
	join.Kind = domain.EventJoin
	join.GuildID = "g1"
	join.UserID = "u9"
	pool.SubmitBlocking(ctx, join)

	require.Eventually(t, func() bool {
		return h.evaluations.Load() == 1 && h.joins.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	pool.Stop()

	kinds := alerter.kinds()
	assert.Equal(t, 1, kinds[domain.AlertKindCoordinatedSpam])
	assert.Equal(t, 1, kinds[domain.AlertKindRaid])
	assert.Zero(t, kinds[domain.AlertKindDecision])

	snap := pool.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Raids)
	assert.Equal(t, int64(1), snap.CoordinatedSpam)
}

func TestWorkerPool_ReactionEvents(t *testing.T) {
	h := &mockHandler{}
	observer := &mockObserver{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 1, BufferSize: 10}, h)
	pool.AddProcessingObserver(observer)

	ev := domain.AcquirePlatformEvent()
	ev.Kind = domain.EventReaction
	ev.GuildID = "g1"
	ev.UserID = "u1"
	ev.Emoji = "🔥"
	pool.SubmitBlocking(ctx, ev)

	require.Eventually(t, func() bool { return observer.get(ResultReaction) == 1 }, 2*time.Second, 10*time.Millisecond)
	pool.Stop()
	assert.Equal(t, int64(1), h.reactions.Load())
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	dir := t.TempDir()
	quarantinePath := filepath.Join(dir, "quarantine.jsonl")

	h := &mockHandler{}
	h.shouldPanic.Store(true)
	observer := &mockObserver{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{
		WorkerCount:    2,
		BufferSize:     100,
		EnableDLQ:      true,
		DLQSize:        10,
		QuarantinePath: quarantinePath,
	}, h)
	pool.AddProcessingObserver(observer)

	ev := messageEvent("u1")
	ev.Content = "poison"
	pool.SubmitBlocking(ctx, ev)

	var toxic *ToxicEvent
	select {
	case toxic = <-pool.DLQ():
	case <-time.After(2 * time.Second):
		t.Fatal("expected toxic event in DLQ")
	}
	require.NotNil(t, toxic.Event)
	assert.Equal(t, "poison", toxic.Event.Content)
	assert.Equal(t, "intentional panic for testing", toxic.PanicErr)

	assert.True(t, pool.IsRunning(), "worker pool should still be running after panic")

	h.shouldPanic.Store(false)
	pool.SubmitBlocking(ctx, messageEvent("u2"))
	require.Eventually(t, func() bool { return observer.get(ResultAllowed) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, observer.get("error"))

	pool.Stop()

	data, err := os.ReadFile(quarantinePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "intentional panic for testing")
	assert.Contains(t, string(data), "poison")
}

func TestWorkerPool_GracefulShutdown(t *testing.T) {
	h := &mockHandler{}
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 4, BufferSize: 100}, h, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 50; i++ {
		pool.Submit(messageEvent("u1"))
	}

	done := make(chan struct{})
	go func() {
		cancel()
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown took too long")
	}

	assert.False(t, pool.IsRunning())
	assert.False(t, pool.Submit(messageEvent("u1")), "submit after stop is rejected")
	pool.Stop()
}

func TestWorkerPool_ConcurrentSubmit(t *testing.T) {
	h := &mockHandler{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 8, BufferSize: 1000}, h)

	const goroutines, perGoroutine = 10, 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				pool.SubmitBlocking(ctx, messageEvent("u1"))
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return h.evaluations.Load() == goroutines*perGoroutine
	}, 5*time.Second, 10*time.Millisecond)
	pool.Stop()
}

func TestWorkerPool_OverflowOnSaturation(t *testing.T) {
	dir := t.TempDir()
	overflowPath := filepath.Join(dir, "overflow.jsonl")

	h := &mockHandler{}
	pool := NewWorkerPool(WorkerPoolConfig{
		WorkerCount:  1,
		BufferSize:   1,
		OverflowPath: overflowPath,
	}, h, nil, nil)

	// Not started: workers never drain, so the second submit overflows.
	pool.mu.Lock()
	pool.running = true
	pool.mu.Unlock()

	require.True(t, pool.Submit(messageEvent("u1")))
	require.True(t, pool.Submit(messageEvent("u2")))
	assert.Equal(t, int64(1), pool.OverflowEvents())
	assert.Equal(t, 1, pool.QueueLength())
	assert.InDelta(t, 100.0, pool.QueueUtilization(), 0.001)

	pool.Stop()

	data, err := os.ReadFile(overflowPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"type":"event"`)
	assert.Contains(t, lines[0], `"user_id":"u2"`)
}

func TestWorkerPool_ProcessingObserver(t *testing.T) {
	observer := &mockObserver{}
	cfg := WorkerPoolConfig{WorkerCount: 2, BufferSize: 100}

	clean := &mockHandler{}
	pool, ctx := newTestPool(t, cfg, clean)
	pool.AddProcessingObserver(observer)
	for i := 0; i < 10; i++ {
		pool.SubmitBlocking(ctx, messageEvent("u1"))
	}
	require.Eventually(t, func() bool { return observer.get(ResultAllowed) == 10 }, 2*time.Second, 10*time.Millisecond)
	pool.Stop()

	// Stop closes the DLQ, so the second phase needs a new pool.
	actioned := &mockHandler{action: domain.ActionWarn}
	pool2, ctx2 := newTestPool(t, cfg, actioned)
	pool2.AddProcessingObserver(observer)
	for i := 0; i < 5; i++ {
		pool2.SubmitBlocking(ctx2, messageEvent("u1"))
	}
	require.Eventually(t, func() bool { return observer.get(ResultActioned) == 5 }, 2*time.Second, 10*time.Millisecond)
	pool2.Stop()

	assert.Equal(t, 10, observer.get(ResultAllowed))
}

type recordingDecisions struct {
	count atomic.Int64
}

func (r *recordingDecisions) OnDecision(mctx *domain.ModerationContext, d *domain.ModerationDecision) {
	r.count.Add(1)
}

func TestWorkerPool_DecisionObserverSeesAllows(t *testing.T) {
	obs := &recordingDecisions{}
	pool, ctx := newTestPool(t, WorkerPoolConfig{WorkerCount: 2, BufferSize: 10}, &mockHandler{})
	pool.AddDecisionObserver(obs)

	for i := 0; i < 3; i++ {
		pool.SubmitBlocking(ctx, messageEvent("u1"))
	}
	require.Eventually(t, func() bool { return obs.count.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	pool.Stop()
}
