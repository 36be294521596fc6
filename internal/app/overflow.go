package app

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// spool is an append-only JSON lines file. A spool with no file is disabled
// and accepts every write as a no-op.
type spool struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	path    string
	records atomic.Int64
}

func openSpool(path string, bufSize int) (*spool, error) {
	if path == "" {
		return &spool{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &spool{file: f, buf: bufio.NewWriterSize(f, bufSize), path: path}, nil
}

func (s *spool) enabled() bool { return s.file != nil }

// append writes v as one line. Every syncEvery records (1 syncs each one)
// the buffer is flushed and fsynced.
func (s *spool) append(v any, syncEvery int64) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.buf.Write(append(line, '\n')); err != nil {
		return err
	}
	if s.records.Add(1)%syncEvery == 0 {
		return s.syncLocked()
	}
	return nil
}

func (s *spool) syncLocked() error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *spool) flush() error {
	if !s.enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *spool) close() error {
	if !s.enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// OverflowWriter keeps events and alerts the pool could not queue, one
// OverflowRecord per line.
type OverflowWriter struct {
	spool *spool
}

// OverflowRecord is one line of the overflow file.
type OverflowRecord struct {
	Type      string          `json:"type"` // event | alert
	GuildID   string          `json:"guild_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewOverflowWriter opens path for appending. An empty path disables it.
func NewOverflowWriter(path string) (*OverflowWriter, error) {
	s, err := openSpool(path, 64*1024)
	if err != nil {
		return nil, err
	}
	if s.enabled() {
		log.Info().Str("path", path).Msg("Overflow spool opened")
	}
	return &OverflowWriter{spool: s}, nil
}

func (w *OverflowWriter) WriteEvent(ev *domain.PlatformEvent) error {
	return w.write("event", ev.GuildID, ev)
}

func (w *OverflowWriter) WriteAlert(alert *domain.Alert) error {
	return w.write("alert", alert.GuildID, alert)
}

func (w *OverflowWriter) write(typ, guildID string, payload any) error {
	if !w.spool.enabled() {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	// A crash loses at most 100 records.
	return w.spool.append(OverflowRecord{
		Type:      typ,
		GuildID:   guildID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, 100)
}

func (w *OverflowWriter) Flush() error {
	return w.spool.flush()
}

func (w *OverflowWriter) Close() error {
	if n := w.Count(); n > 0 {
		log.Warn().
			Int64("records", n).
			Str("path", w.spool.path).
			Msg("Overflow spool holds events that were never moderated")
	}
	return w.spool.close()
}

func (w *OverflowWriter) Count() int64 { return w.spool.records.Load() }

func (w *OverflowWriter) Enabled() bool { return w.spool.enabled() }

// QuarantineWriter records events whose evaluation panicked, together with
// the panic value and stack, so a poisonous message can be studied offline.
type QuarantineWriter struct {
	spool *spool
}

type QuarantineRecord struct {
	Timestamp  time.Time       `json:"timestamp"`
	WorkerID   int             `json:"worker_id"`
	GuildID    string          `json:"guild_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	PanicError string          `json:"panic_error"`
	StackTrace string          `json:"stack_trace,omitempty"`
	Event      json.RawMessage `json:"event"`
	RawLine    string          `json:"raw_line,omitempty"`
}

func NewQuarantineWriter(path string) (*QuarantineWriter, error) {
	s, err := openSpool(path, 16*1024)
	if err != nil {
		return nil, err
	}
	if s.enabled() {
		log.Info().Str("path", path).Msg("Quarantine spool opened")
	}
	return &QuarantineWriter{spool: s}, nil
}

// WriteToxicEvent appends one record and syncs it before returning. ev may
// be nil when the panic happened outside an evaluation.
func (w *QuarantineWriter) WriteToxicEvent(workerID int, panicErr any, stack []byte, ev *domain.PlatformEvent) error {
	if !w.spool.enabled() {
		return nil
	}

	rec := QuarantineRecord{
		Timestamp:  time.Now().UTC(),
		WorkerID:   workerID,
		PanicError: panicString(panicErr),
		StackTrace: string(stack),
		Event:      json.RawMessage(`null`),
	}
	if ev != nil {
		rec.GuildID = ev.GuildID
		rec.UserID = ev.UserID
		rec.RawLine = ev.RawLine
		if data, err := json.Marshal(ev); err == nil {
			rec.Event = data
		} else {
			rec.Event = json.RawMessage(`{"error":"unserializable event"}`)
		}
	}

	if err := w.spool.append(rec, 1); err != nil {
		return err
	}
	log.Warn().
		Int("worker_id", workerID).
		Str("guild", rec.GuildID).
		Str("panic", rec.PanicError).
		Int64("quarantined", w.Count()).
		Msg("Event quarantined after evaluation panic")
	return nil
}

func panicString(v any) string {
	switch p := v.(type) {
	case nil:
		return "unknown panic"
	case error:
		return p.Error()
	case string:
		return p
	default:
		return fmt.Sprint(p)
	}
}

func (w *QuarantineWriter) Close() error {
	if n := w.Count(); n > 0 {
		log.Warn().
			Int64("records", n).
			Str("path", w.spool.path).
			Msg("Quarantine spool holds events that crashed a worker")
	}
	return w.spool.close()
}

func (w *QuarantineWriter) Count() int64 { return w.spool.records.Load() }

func (w *QuarantineWriter) Enabled() bool { return w.spool.enabled() }
