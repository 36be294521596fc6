package input

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func collect(t *testing.T, events <-chan *domain.PlatformEvent, want int) []*domain.PlatformEvent {
	t.Helper()
	var got []*domain.PlatformEvent
	timeout := time.After(5 * time.Second)
	for len(got) < want {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out with %d of %d events", len(got), want)
		}
	}
	return got
}

func TestFileTailer_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	lines := []string{
		`{"kind":"message","guild_id":"g1","user_id":"u1","content":"one"}`,
		`not json`,
		`{"t":"TYPING_START","d":{}}`,
		``,
		`{"t":"GUILD_MEMBER_ADD","d":{"guild_id":"g1","user":{"id":"u2"}}}`,
		`{"kind":"reaction","guild_id":"g1","user_id":"u3","emoji":"👍"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	tailer := NewFileTailer(path, nil, 10)
	tailer.SetFollow(false)

	events, _ := tailer.Start(context.Background())
	got := collect(t, events, 10)

	require.Len(t, got, 3)
	assert.Equal(t, domain.EventMessage, got[0].Kind)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, domain.EventJoin, got[1].Kind)
	assert.Equal(t, domain.EventReaction, got[2].Kind)

	read, parseErrors, skipped := tailer.Stats()
	assert.Equal(t, int64(5), read)
	assert.Equal(t, int64(1), parseErrors)
	assert.Equal(t, int64(1), skipped)
	assert.False(t, tailer.IsRunning())
}

func TestFileTailer_Follow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"guild_id":"g1","user_id":"old","content":"before start"}`+"\n"), 0o644))

	tailer := NewFileTailer(path, NewJSONEventParser(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := tailer.Start(ctx)
	assert.True(t, tailer.IsRunning())

	// Give the watcher time to register before appending.
	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"guild_id":"g1","user_id":"new","content":"after start"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := collect(t, events, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].UserID)

	require.NoError(t, tailer.Stop())
	assert.False(t, tailer.IsRunning())
	assert.NoError(t, tailer.Stop(), "second stop is a no-op")
}

func TestFileTailer_MissingFile(t *testing.T) {
	tailer := NewFileTailer(filepath.Join(t.TempDir(), "absent.jsonl"), nil, 1)
	tailer.SetFollow(false)

	events, errs := tailer.Start(context.Background())
	_, ok := <-events
	assert.False(t, ok)
	assert.Error(t, <-errs)
	assert.False(t, tailer.IsRunning())
}
