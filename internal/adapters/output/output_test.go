package output

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func testAlert(guild string, level domain.AlertLevel) *domain.Alert {
	a := domain.NewAlert(domain.AlertKindDecision, level, guild, "timeout: spam-links (confidence 0.90)")
	a.UserID = "u1"
	a.Action = domain.ActionTimeout
	a.Content = "<b>free</b> nitro"
	return a
}

func TestJSONAlerter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	alerter, err := NewJSONAlerter(JSONAlerterConfig{FilePath: path})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, alerter.Send(context.Background(), testAlert("g1", domain.AlertLevelWarning)))
	}
	assert.Equal(t, int64(3), alerter.Written())
	require.NoError(t, alerter.Close())
	require.NoError(t, alerter.Close(), "close is idempotent")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		assert.Equal(t, "g1", decoded["guild_id"])
		assert.Equal(t, "timeout", decoded["action"])
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestJSONAlerter_WriterNoHTMLEscape(t *testing.T) {
	var buf bytes.Buffer
	alerter, err := NewJSONAlerter(JSONAlerterConfig{Writer: &buf, Pretty: true})
	require.NoError(t, err)

	require.NoError(t, alerter.Send(context.Background(), testAlert("g1", domain.AlertLevelInfo)))
	require.NoError(t, alerter.Flush())
	require.NoError(t, alerter.Close())

	out := buf.String()
	assert.Contains(t, out, "<b>free</b>")
	assert.Contains(t, out, "\n  \"guild_id\"")
}

func TestMemoryAlerter(t *testing.T) {
	m := NewMemoryAlerter(3)
	ctx := context.Background()

	assert.Empty(t, m.Alerts())

	guilds := []string{"g1", "g2", "g1", "g2", "g1"}
	for _, g := range guilds {
		require.NoError(t, m.Send(ctx, testAlert(g, domain.AlertLevelInfo)))
	}

	all := m.Alerts()
	require.Len(t, all, 3)
	assert.Equal(t, []string{"g1", "g2", "g1"}, []string{all[0].GuildID, all[1].GuildID, all[2].GuildID})

	latest := m.Latest(2)
	require.Len(t, latest, 2)
	assert.Same(t, all[1], latest[0])
	assert.Same(t, all[2], latest[1])

	assert.Len(t, m.ForGuild("g1"), 2)
	assert.Equal(t, int64(5), m.KindCounts()[domain.AlertKindDecision])

	m.OnAlert(testAlert("g3", domain.AlertLevelInfo))
	assert.Equal(t, "g3", m.Latest(1)[0].GuildID)

	m.Clear()
	assert.Zero(t, m.Count())
	assert.Empty(t, m.KindCounts())
}

func TestMemoryAlerter_Concurrent(t *testing.T) {
	m := NewMemoryAlerter(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.OnAlert(testAlert("g1", domain.AlertLevelInfo))
				_ = m.Latest(10)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Count())
	assert.Equal(t, int64(800), m.KindCounts()[domain.AlertKindDecision])
}

func TestPrometheusMetrics(t *testing.T) {
	profiles := 7
	m := NewPrometheusMetrics("test", GaugeSources{Profiles: func() int { return profiles }})

	m.IncrementEvents(domain.EventMessage)
	m.IncrementEvents(domain.EventMessage)
	m.IncrementEvents(domain.EventJoin)
	m.IncrementEventsByResult("actioned")
	m.IncrementDecisions(domain.ActionTimeout)
	m.IncrementRuleTriggers("spam-links")
	m.IncrementRaids(domain.ResponseLockdown)
	m.IncrementPatterns(domain.PatternCoordinatedSpam)
	m.ObserveEvaluationTime(0.002)
	m.SetActiveWorkers(4)
	m.OnAlert(testAlert("g1", domain.AlertLevelCritical))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleTriggers.WithLabelValues("spam-links")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues(string(domain.AlertKindDecision), "CRITICAL")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.activeWorkers))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "test_profile_cache_size 7")
	assert.Contains(t, body, "test_queue_length 0")
	assert.Contains(t, body, "test_evaluation_duration_seconds_count 1")

	// Two collectors never collide: each has its own registry.
	assert.NotPanics(t, func() { NewPrometheusMetrics("test", GaugeSources{}) })
}

type fakePool struct {
	running     bool
	length      int
	capacity    int
	overflowEvs int64
}

func (p *fakePool) IsRunning() bool    { return p.running }
func (p *fakePool) QueueLength() int   { return p.length }
func (p *fakePool) QueueCapacity() int { return p.capacity }
func (p *fakePool) QueueUtilization() float64 {
	return float64(p.length) / float64(p.capacity) * 100
}
func (p *fakePool) OverflowEvents() int64 { return p.overflowEvs }
func (p *fakePool) OverflowAlerts() int64 { return 0 }

func TestHealthChecker(t *testing.T) {
	pool := &fakePool{capacity: 100}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthChecker(pool, HealthCheckerConfig{CheckInterval: time.Second})
	h.now = func() time.Time { return now }
	h.startTime = now

	check := func() HealthStatus {
		now = now.Add(2 * time.Second)
		return h.Check(context.Background())
	}

	assert.Equal(t, "OFFLINE", check().Status)

	pool.running = true
	status := check()
	assert.True(t, status.Healthy)
	assert.Equal(t, "HEALTHY", status.Status)

	pool.length = 85
	status = check()
	assert.True(t, status.Healthy)
	assert.Equal(t, "DEGRADED", status.Status)

	pool.length = 96
	status = check()
	assert.False(t, status.Healthy)
	assert.Equal(t, "SATURATED", status.Status)

	pool.length = 10
	pool.overflowEvs = 5
	status = check()
	assert.False(t, status.Healthy)
	assert.Equal(t, "OVERFLOWING", status.Status)
	assert.Equal(t, int64(5), status.OverflowGrowth)

	status = check()
	assert.True(t, status.Healthy, "recovers once the spill stops")

	// Cached within the interval.
	pool.running = false
	assert.True(t, h.Check(context.Background()).Healthy)
}

func TestHealthChecker_ServeHTTP(t *testing.T) {
	h := NewHealthChecker(&fakePool{}, DefaultHealthCheckerConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "OFFLINE", status.Status)
	assert.Equal(t, "worker pool not running", status.Reason)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
	closed   bool
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][][]byte)
	}
	p.messages[channel] = append(p.messages[channel], message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestRedisAlerter(t *testing.T) {
	pub := &fakePublisher{}
	a := NewRedisAlerterWithClient(pub, "mod", 0)

	require.NoError(t, a.Send(context.Background(), testAlert("g1", domain.AlertLevelWarning)))
	require.Len(t, pub.messages["mod"], 1)
	require.Len(t, pub.messages["mod:g1"], 1)

	var decoded domain.Alert
	require.NoError(t, json.Unmarshal(pub.messages["mod"][0], &decoded))
	assert.Equal(t, domain.ActionTimeout, decoded.Action)

	pub.err = errors.New("connection refused")
	err := a.Send(context.Background(), testAlert("g1", domain.AlertLevelWarning))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))

	published, failed := a.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(1), failed)

	require.NoError(t, a.Close())
	assert.True(t, pub.closed)
}

func TestThrottledAlerter(t *testing.T) {
	mem := NewMemoryAlerter(100)
	th := NewThrottledAlerter(mem, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, th.Send(ctx, testAlert("g1", domain.AlertLevelWarning)))
	}
	require.NoError(t, th.Send(ctx, testAlert("g2", domain.AlertLevelWarning)))
	require.NoError(t, th.Send(ctx, testAlert("g1", domain.AlertLevelCritical)))

	assert.Len(t, mem.ForGuild("g1"), 4, "three within the limit plus the critical one")
	assert.Len(t, mem.ForGuild("g2"), 1, "guilds are limited independently")
	assert.Equal(t, int64(7), th.Dropped("g1"))
	assert.Zero(t, th.Dropped("g2"))

	require.NoError(t, th.Close())
}

func TestThrottledAlerter_Disabled(t *testing.T) {
	mem := NewMemoryAlerter(100)
	th := NewThrottledAlerter(mem, 0, 0)
	for i := 0; i < 20; i++ {
		require.NoError(t, th.Send(context.Background(), testAlert("g1", domain.AlertLevelInfo)))
	}
	assert.Equal(t, 20, mem.Count())
}
