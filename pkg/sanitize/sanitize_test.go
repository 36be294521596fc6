package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTerminal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"clean", "Hello World", "Hello World"},
		{"ansi color", "\x1b[31mRed\x1b[0m", "[ESC]Red[ESC]"},
		{"tab and newline", "a\tb\nc", "a b c"},
		{"carriage return", "a\rb", "a[CR]b"},
		{"control", "a\x01b", "a[CTRL]b"},
		{"delete", "a\x7Fb", "a[DEL]b"},
		{"screen clear payload", "\x1b[2J\x1b[H\x1b[31mPWNED\x1b[0m", "[ESC][ESC][ESC]PWNED[ESC]"},
		{"trailing escape", "oops\x1b", "oops[ESC]"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Terminal(tc.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello", Truncate("hello", 0))
	assert.Equal(t, "hel...", Truncate("hello world", 6))
	assert.Equal(t, "he", Truncate("hello", 2))

	cut := Truncate(strings.Repeat("ö", 20), 8)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, 8, utf8.RuneCountInString(cut))
}

func TestContent(t *testing.T) {
	assert.Equal(t, "line one line two", Content("line one\nline two", 0))
	assert.Equal(t, "hidden", Content("hid\u200bden", 0))
	assert.Equal(t, "bad", Content("b\xffad", 0))
	assert.Equal(t, "abc", Content("a\x00b\x07c", 0))

	long := Content(strings.Repeat("x", 1000), 0)
	assert.Equal(t, DefaultMaxDisplayLength, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestNeutralizeMentions(t *testing.T) {
	out := NeutralizeMentions("hey @everyone and @here look <@123> <@&456>")

	assert.NotContains(t, out, "@everyone")
	assert.NotContains(t, out, "@here")
	assert.NotContains(t, out, "<@1")
	assert.NotContains(t, out, "<@&")
	assert.Equal(t, "no mentions", NeutralizeMentions("no mentions"))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "123456789012345678", Identifier("123456789012345678"))
	assert.Equal(t, "user_1", Identifier("user_1\x1b;"))
	assert.Equal(t, "[INVALID]", Identifier("\x1b"))
}

func FuzzContent(f *testing.F) {
	f.Add("plain")
	f.Add("\x1b[31m\xff\u200b@everyone")
	f.Fuzz(func(t *testing.T, s string) {
		out := Content(s, 64)
		if !utf8.ValidString(out) {
			t.Fatalf("invalid utf8 from %q", s)
		}
		if utf8.RuneCountInString(out) > 64 {
			t.Fatalf("too long: %d", utf8.RuneCountInString(out))
		}
	})
}

func BenchmarkTerminal_Clean(b *testing.B) {
	s := "a perfectly normal chat message with no control characters"
	for i := 0; i < b.N; i++ {
		Terminal(s)
	}
}
