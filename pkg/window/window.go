// Package window implements a keyed, append-only store of timestamped events
// with expiry-based pruning.
//
// Every key (a user id, a guild id) owns an ordered series of events. Writes
// prune expired entries while inserting, so the steady-state cost of a key is
// bounded by its retention. A background sweeper reclaims keys that have gone
// idle.
//
// Thread Safety: all methods are safe for concurrent use. Each key has its own
// mutex; there is no store-wide lock. Reads return copies, but a read that
// follows a write on the same key from another goroutine may or may not
// observe it.
package window

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Event is a single stored value with its timestamp.
type Event[T any] struct {
	At    time.Time
	Value T
}

// series holds the events of one key, oldest first.
//
// Thread Safety: NOT thread-safe. Caller must hold mu.
type series[T any] struct {
	mu     sync.Mutex
	events []Event[T]
}

// insert appends an event, keeping the series ordered by timestamp.
// Out-of-order events are placed by binary search.
func (s *series[T]) insert(ev Event[T]) {
	n := len(s.events)
	if n == 0 || !ev.At.Before(s.events[n-1].At) {
		s.events = append(s.events, ev)
		return
	}
	idx := sort.Search(n, func(i int) bool { return s.events[i].At.After(ev.At) })
	s.events = append(s.events, Event[T]{})
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// pruneBefore drops events strictly older than cutoff.
func (s *series[T]) pruneBefore(cutoff time.Time) {
	idx := sort.Search(len(s.events), func(i int) bool { return !s.events[i].At.Before(cutoff) })
	if idx == 0 {
		return
	}
	remaining := copy(s.events, s.events[idx:])
	clear(s.events[remaining:])
	s.events = s.events[:remaining]
}

// trim keeps at most maxLen of the newest events.
func (s *series[T]) trim(maxLen int) {
	if maxLen <= 0 || len(s.events) <= maxLen {
		return
	}
	drop := len(s.events) - maxLen
	remaining := copy(s.events, s.events[drop:])
	clear(s.events[remaining:])
	s.events = s.events[:remaining]
}

// since returns a copy of the events with At >= cutoff.
func (s *series[T]) since(cutoff time.Time) []Event[T] {
	idx := sort.Search(len(s.events), func(i int) bool { return !s.events[i].At.Before(cutoff) })
	out := make([]Event[T], len(s.events)-idx)
	copy(out, s.events[idx:])
	return out
}

// Config configures a Store.
type Config struct {
	Retention     time.Duration    // Maximum event age kept on write (default: 1h)
	MaxLen        int              // Per-key cap, oldest dropped first (0 = unbounded)
	SweepInterval time.Duration    // Background sweep period (default: 1h)
	Now           func() time.Time // Clock (default: time.Now)
}

// DefaultConfig returns a one hour retention with an hourly sweep.
func DefaultConfig() Config {
	return Config{
		Retention:     time.Hour,
		SweepInterval: time.Hour,
		Now:           time.Now,
	}
}

// Store is a concurrent map of key to time-ordered event series.
type Store[T any] struct {
	keys *xsync.MapOf[string, *series[T]]

	retention     time.Duration
	maxLen        int
	sweepInterval time.Duration
	now           func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New creates a Store. Zero config fields fall back to DefaultConfig values.
func New[T any](config Config) *Store[T] {
	defaults := DefaultConfig()
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	return &Store[T]{
		keys:          xsync.NewMapOf[string, *series[T]](),
		retention:     config.Retention,
		maxLen:        config.MaxLen,
		sweepInterval: config.SweepInterval,
		now:           config.Now,
		stopSweep:     make(chan struct{}),
	}
}

func (s *Store[T]) seriesFor(key string) *series[T] {
	sr, _ := s.keys.LoadOrCompute(key, func() *series[T] { return &series[T]{} })
	return sr
}

// Record appends value for key at the given time and prunes anything older
// than at minus the retention.
func (s *Store[T]) Record(key string, value T, at time.Time) {
	sr := s.seriesFor(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.insert(Event[T]{At: at, Value: value})
	sr.pruneBefore(at.Add(-s.retention))
	sr.trim(s.maxLen)
}

// Observe records value and returns the key's events inside
// [at-window, at], oldest first, under a single lock acquisition.
func (s *Store[T]) Observe(key string, value T, at time.Time, window time.Duration) []Event[T] {
	sr := s.seriesFor(key)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.insert(Event[T]{At: at, Value: value})
	sr.pruneBefore(at.Add(-s.retention))
	sr.trim(s.maxLen)
	return sr.since(at.Add(-window))
}

// Recent returns the events of key with timestamp >= now-window, oldest first.
func (s *Store[T]) Recent(key string, window time.Duration) []Event[T] {
	return s.RecentSince(key, s.now().Add(-window))
}

// RecentSince returns the events of key with timestamp >= cutoff, oldest first.
func (s *Store[T]) RecentSince(key string, cutoff time.Time) []Event[T] {
	sr, ok := s.keys.Load(key)
	if !ok {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.since(cutoff)
}

// Len returns the number of retained events for key.
func (s *Store[T]) Len(key string) int {
	sr, ok := s.keys.Load(key)
	if !ok {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.events)
}

// Prune drops the events of key older than now-maxAge.
func (s *Store[T]) Prune(key string, maxAge time.Duration) {
	sr, ok := s.keys.Load(key)
	if !ok {
		return
	}
	sr.mu.Lock()
	sr.pruneBefore(s.now().Add(-maxAge))
	sr.mu.Unlock()
}

// Delete forgets key entirely.
func (s *Store[T]) Delete(key string) {
	s.keys.Delete(key)
}

// Keys returns the number of tracked keys.
func (s *Store[T]) Keys() int {
	return s.keys.Size()
}

// Sweep prunes every key to the retention and removes keys left empty.
// Returns the number of keys reclaimed.
func (s *Store[T]) Sweep() int {
	cutoff := s.now().Add(-s.retention)
	reclaimed := 0
	s.keys.Range(func(key string, sr *series[T]) bool {
		sr.mu.Lock()
		sr.pruneBefore(cutoff)
		empty := len(sr.events) == 0
		sr.mu.Unlock()
		if empty {
			// A writer may have re-populated the series between the unlock and
			// the delete; Compute re-checks under the map's bucket lock.
			s.keys.Compute(key, func(old *series[T], loaded bool) (*series[T], bool) {
				if !loaded {
					return old, true
				}
				old.mu.Lock()
				defer old.mu.Unlock()
				if len(old.events) == 0 {
					reclaimed++
					return old, true
				}
				return old, false
			})
		}
		return true
	})
	return reclaimed
}

// StartSweeper runs Sweep every SweepInterval until ctx is done or Stop is
// called.
func (s *Store[T]) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopSweep:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Debug().Int("reclaimed", n).Int("keys", s.keys.Size()).Msg("Window sweep completed")
				}
			}
		}
	}()
}

// Stop halts the background sweeper. Idempotent.
func (s *Store[T]) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
}
