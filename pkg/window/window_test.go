package window

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, retention time.Duration, maxLen int) (*Store[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := New[string](Config{Retention: retention, MaxLen: maxLen, Now: clock.Now})
	t.Cleanup(s.Stop)
	return s, clock
}

func TestStore_RecentReturnsOldestFirst(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	s.Record("u1", "a", base.Add(-30*time.Second))
	s.Record("u1", "b", base.Add(-20*time.Second))
	s.Record("u1", "c", base.Add(-10*time.Second))

	events := s.Recent("u1", time.Minute)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Value)
	assert.Equal(t, "c", events[2].Value)
}

func TestStore_WindowBoundaryIsInclusive(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	s.Record("u1", "edge", base.Add(-time.Minute))
	s.Record("u1", "old", base.Add(-time.Minute-time.Nanosecond))

	events := s.Recent("u1", time.Minute)
	require.Len(t, events, 1)
	assert.Equal(t, "edge", events[0].Value)
}

func TestStore_OutOfOrderInsert(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	s.Record("u1", "late", base.Add(-5*time.Second))
	s.Record("u1", "early", base.Add(-50*time.Second))
	s.Record("u1", "middle", base.Add(-20*time.Second))

	events := s.Recent("u1", time.Minute)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"early", "middle", "late"}, []string{events[0].Value, events[1].Value, events[2].Value})
}

func TestStore_PrunesOnWrite(t *testing.T) {
	s, clock := newTestStore(t, time.Minute, 0)
	base := clock.Now()

	s.Record("u1", "old", base.Add(-2*time.Minute))
	s.Record("u1", "new", base)

	assert.Equal(t, 1, s.Len("u1"))
}

func TestStore_MaxLenDropsOldest(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 3)
	base := clock.Now()

	for i, v := range []string{"a", "b", "c", "d", "e"} {
		s.Record("u1", v, base.Add(time.Duration(i)*time.Second))
	}

	events := s.RecentSince("u1", time.Time{})
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].Value)
	assert.Equal(t, "e", events[2].Value)
}

func TestStore_ObserveReturnsWindowIncludingNewEvent(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	s.Record("u1", "outside", base.Add(-2*time.Minute))
	s.Record("u1", "inside", base.Add(-30*time.Second))

	events := s.Observe("u1", "now", base, time.Minute)
	require.Len(t, events, 2)
	assert.Equal(t, "inside", events[0].Value)
	assert.Equal(t, "now", events[1].Value)
	assert.Equal(t, 3, s.Len("u1"), "retention, not the query window, bounds storage")
}

func TestStore_ReturnedSliceIsCopy(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	s.Record("u1", "a", clock.Now())

	events := s.Recent("u1", time.Minute)
	events[0].Value = "mutated"

	assert.Equal(t, "a", s.Recent("u1", time.Minute)[0].Value)
}

func TestStore_PruneAndDelete(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	s.Record("u1", "a", base.Add(-10*time.Minute))
	s.Record("u1", "b", base)
	s.Prune("u1", 5*time.Minute)
	assert.Equal(t, 1, s.Len("u1"))

	s.Delete("u1")
	assert.Equal(t, 0, s.Len("u1"))
	assert.Nil(t, s.Recent("u1", time.Hour))
}

func TestStore_SweepReclaimsIdleKeys(t *testing.T) {
	s, clock := newTestStore(t, time.Minute, 0)
	base := clock.Now()

	s.Record("idle", "a", base)
	s.Record("busy", "a", base)
	clock.Advance(2 * time.Minute)
	s.Record("busy", "b", clock.Now())

	reclaimed := s.Sweep()
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 1, s.Keys())
	assert.Equal(t, 1, s.Len("busy"))
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, clock := newTestStore(t, time.Hour, 0)
	base := clock.Now()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Record("shared", "x", base)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, s.Len("shared"))
}

func BenchmarkStore_Observe(b *testing.B) {
	s := New[int](Config{Retention: time.Minute, MaxLen: 512})
	defer s.Stop()
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Observe("user", i, now, time.Minute)
	}
}
