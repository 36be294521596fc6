package input

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

// FileTailer follows a JSON lines file of platform events, surviving
// rotation. Lines that do not parse are counted and skipped.
type FileTailer struct {
	filepath      string
	parser        ports.EventParser
	tail          *tail.Tail
	bufferSize    int
	fromBeginning bool
	follow        bool
	mu            sync.Mutex
	running       bool
	stopChan      chan struct{}

	lines       atomic.Int64
	parseErrors atomic.Int64
	skipped     atomic.Int64
}

func NewFileTailer(filepath string, parser ports.EventParser, bufferSize int) *FileTailer {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if parser == nil {
		parser = NewAutoDetectParser()
	}
	return &FileTailer{
		filepath:   filepath,
		parser:     parser,
		bufferSize: bufferSize,
		follow:     true,
		stopChan:   make(chan struct{}),
	}
}

// SetFromBeginning replays the existing file before following it.
func (t *FileTailer) SetFromBeginning(fromBeginning bool) {
	t.fromBeginning = fromBeginning
}

// SetFollow controls whether the tailer waits for new lines at EOF. With
// follow disabled the event channel closes once the file has been read,
// which is how the evaluate command replays a capture.
func (t *FileTailer) SetFollow(follow bool) {
	t.follow = follow
}

func (t *FileTailer) Start(ctx context.Context) (<-chan *domain.PlatformEvent, <-chan error) {
	eventChan := make(chan *domain.PlatformEvent, t.bufferSize)
	errChan := make(chan error, 10)

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		close(eventChan)
		close(errChan)
		return eventChan, errChan
	}
	t.running = true
	t.stopChan = make(chan struct{})
	stopChan := t.stopChan

	whence := 2
	if t.fromBeginning || !t.follow {
		whence = 0
	}
	tl, err := tail.TailFile(t.filepath, tail.Config{
		Follow:    t.follow,
		ReOpen:    t.follow,
		MustExist: !t.follow,
		Poll:      false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		t.running = false
		t.mu.Unlock()
		log.Error().Err(err).Str("file", t.filepath).Msg("Failed to tail file")
		errChan <- err
		close(eventChan)
		close(errChan)
		return eventChan, errChan
	}
	t.tail = tl
	t.mu.Unlock()

	go func() {
		defer close(eventChan)
		defer close(errChan)
		defer t.markStopped(tl)

		log.Info().
			Str("file", t.filepath).
			Str("format", t.parser.Format()).
			Bool("follow", t.follow).
			Msg("Started tailing event file")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Context cancelled, stopping tailer")
				return
			case <-stopChan:
				log.Info().Msg("Stop signal received, stopping tailer")
				return
			case line, ok := <-tl.Lines:
				if !ok {
					log.Info().
						Int64("lines", t.lines.Load()).
						Int64("parse_errors", t.parseErrors.Load()).
						Msg("Tail channel closed")
					return
				}
				if line.Err != nil {
					log.Warn().Err(line.Err).Msg("Error reading line")
					select {
					case errChan <- line.Err:
					default:
					}
					continue
				}
				if line.Text == "" {
					continue
				}
				t.lines.Add(1)

				ev, err := t.parser.Parse(line.Text)
				if err != nil {
					t.recordParseError(err, line.Text)
					continue
				}

				select {
				case eventChan <- ev:
				case <-ctx.Done():
					domain.ReleasePlatformEvent(ev)
					return
				case <-stopChan:
					domain.ReleasePlatformEvent(ev)
					return
				}
			}
		}
	}()

	return eventChan, errChan
}

func (t *FileTailer) recordParseError(err error, line string) {
	if errors.Is(err, ErrUnsupportedEvent) {
		t.skipped.Add(1)
		return
	}
	t.parseErrors.Add(1)
	if errors.Is(err, ErrLineTooLong) {
		log.Warn().Int("size", len(line)).Msg("Dropped oversized event line")
		return
	}
	log.Debug().Err(err).Str("line", truncateLine(line, 256)).Msg("Failed to parse event line")
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (t *FileTailer) markStopped(tl *tail.Tail) {
	t.mu.Lock()
	wasRunning := t.running
	t.running = false
	t.mu.Unlock()
	if wasRunning {
		_ = tl.Stop()
		tl.Cleanup()
	}
}

func (t *FileTailer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}

	close(t.stopChan)
	t.running = false

	if t.tail != nil {
		err := t.tail.Stop()
		t.tail.Cleanup()
		return err
	}
	return nil
}

func (t *FileTailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stats returns the lines read, the lines that failed to parse, and the
// gateway events skipped as unsupported.
func (t *FileTailer) Stats() (lines, parseErrors, skipped int64) {
	return t.lines.Load(), t.parseErrors.Load(), t.skipped.Load()
}
