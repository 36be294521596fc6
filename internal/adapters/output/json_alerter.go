// Package output provides the alert sinks and observability endpoints of the
// moderation core.
//
// Alerters:
//   - JSONAlerter: buffered JSON lines to a file or stdout
//   - MemoryAlerter: bounded ring buffer read by the operator console
//   - RedisAlerter: pub/sub publisher for log-channel and notification services
//   - ThrottledAlerter: per-guild sliding-window limit in front of another alerter
//
// Observability:
//   - PrometheusMetrics: ports.MetricsCollector backed by client_golang
//   - HealthChecker: /ready endpoint reporting worker pool saturation
//
// Thread Safety: every alerter is safe for concurrent Send calls.
package output

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// JSONAlerter writes one JSON document per alert.
//
// Features:
//   - 64KB write buffer flushed every second
//   - File sync on flush for durability
//   - Optional pretty-printing
type JSONAlerter struct {
	bufWriter *bufio.Writer
	file      *os.File // nil for stdout and discard
	mu        sync.Mutex
	encoder   *json.Encoder
	stopFlush chan struct{}
	closeOnce sync.Once
	written   int64
}

// JSONAlerterConfig configures JSON alert output.
type JSONAlerterConfig struct {
	FilePath string // Output file path
	Stdout   bool   // Write to stdout instead of FilePath
	Pretty   bool   // Indent each document
	Writer   io.Writer
}

// NewJSONAlerter creates a JSON alert output.
//
// Output Priority:
//  1. config.Writer if set
//  2. Stdout if config.Stdout is true
//  3. File if config.FilePath is set (created 0600, appended)
//  4. io.Discard otherwise
func NewJSONAlerter(config JSONAlerterConfig) (*JSONAlerter, error) {
	var writer io.Writer
	var file *os.File

	switch {
	case config.Writer != nil:
		writer = config.Writer
	case config.Stdout:
		writer = os.Stdout
	case config.FilePath != "":
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		writer = file
	default:
		writer = io.Discard
	}

	bufWriter := bufio.NewWriterSize(writer, 64*1024)
	a := &JSONAlerter{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}
	a.encoder.SetEscapeHTML(false)
	if config.Pretty {
		a.encoder.SetIndent("", "  ")
	}

	go a.periodicFlush()
	return a, nil
}

func (a *JSONAlerter) periodicFlush() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = a.Flush()
		case <-a.stopFlush:
			return
		}
	}
}

func (a *JSONAlerter) Send(_ context.Context, alert *domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.encoder.Encode(alert); err != nil {
		return err
	}
	a.written++
	return nil
}

// Written returns the number of alerts encoded so far.
func (a *JSONAlerter) Written() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

func (a *JSONAlerter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.bufWriter.Flush(); err != nil {
		return err
	}
	if a.file != nil {
		return a.file.Sync()
	}
	return nil
}

func (a *JSONAlerter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stopFlush)

		a.mu.Lock()
		defer a.mu.Unlock()

		if err = a.bufWriter.Flush(); err != nil {
			return
		}
		if a.file != nil {
			if err = a.file.Sync(); err != nil {
				return
			}
			err = a.file.Close()
		}
	})
	return err
}

// MemoryAlerter keeps the most recent alerts in a fixed-size ring buffer for
// the operator console.
type MemoryAlerter struct {
	alerts    []*domain.Alert
	head      int
	count     int
	maxAlerts int
	byKind    map[domain.AlertKind]int64
	mu        sync.RWMutex
}

// NewMemoryAlerter creates a ring buffer of maxAlerts entries (default:
// 1000).
func NewMemoryAlerter(maxAlerts int) *MemoryAlerter {
	if maxAlerts <= 0 {
		maxAlerts = 1000
	}
	return &MemoryAlerter{
		alerts:    make([]*domain.Alert, maxAlerts),
		maxAlerts: maxAlerts,
		byKind:    make(map[domain.AlertKind]int64),
	}
}

// Send stores alert, overwriting the oldest entry when full.
func (a *MemoryAlerter) Send(_ context.Context, alert *domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.alerts[a.head] = alert
	a.head = (a.head + 1) % a.maxAlerts
	if a.count < a.maxAlerts {
		a.count++
	}
	a.byKind[alert.Kind]++
	return nil
}

func (a *MemoryAlerter) Flush() error { return nil }
func (a *MemoryAlerter) Close() error { return nil }

// Alerts returns every stored alert, oldest first.
func (a *MemoryAlerter) Alerts() []*domain.Alert {
	return a.Latest(0)
}

// Latest returns the n most recent alerts, oldest first. n <= 0 returns all
// of them.
func (a *MemoryAlerter) Latest(n int) []*domain.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || n > a.count {
		n = a.count
	}
	result := make([]*domain.Alert, n)
	for i := 0; i < n; i++ {
		result[i] = a.alerts[(a.head-n+i+a.maxAlerts)%a.maxAlerts]
	}
	return result
}

// ForGuild returns the stored alerts of one guild, oldest first.
func (a *MemoryAlerter) ForGuild(guildID string) []*domain.Alert {
	var out []*domain.Alert
	for _, alert := range a.Alerts() {
		if alert.GuildID == guildID {
			out = append(out, alert)
		}
	}
	return out
}

// KindCounts returns how many alerts of each kind were ever received,
// including ones already evicted from the buffer.
func (a *MemoryAlerter) KindCounts() map[domain.AlertKind]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[domain.AlertKind]int64, len(a.byKind))
	for k, v := range a.byKind {
		out[k] = v
	}
	return out
}

func (a *MemoryAlerter) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.count
}

func (a *MemoryAlerter) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.head = 0
	a.count = 0
	clear(a.alerts)
	clear(a.byKind)
}

// OnAlert implements ports.AlertSubscriber.
func (a *MemoryAlerter) OnAlert(alert *domain.Alert) {
	_ = a.Send(context.Background(), alert)
}
