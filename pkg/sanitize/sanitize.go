// Package sanitize makes user-supplied chat content safe to print, log and
// re-broadcast.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxDisplayLength bounds content copied into alerts and logs.
const DefaultMaxDisplayLength = 256

const ellipsis = "..."

// Terminal replaces control characters and ANSI escape sequences so that
// content cannot move the cursor or recolor the operator console.
func Terminal(s string) string {
	if s == "" {
		return s
	}

	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x20 || c == 0x7F {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if c == 0x1B {
			i++
			if i < len(s) && s[i] == '[' {
				i++
				for i < len(s) && !isCSIFinal(s[i]) {
					i++
				}
				if i < len(s) {
					i++
				}
			}
			b.WriteString("[ESC]")
			continue
		}

		switch {
		case c == '\t' || c == '\n':
			b.WriteByte(' ')
		case c == '\r':
			b.WriteString("[CR]")
		case c < 0x20:
			b.WriteString("[CTRL]")
		case c == 0x7F:
			b.WriteString("[DEL]")
		default:
			b.WriteByte(c)
		}
		i++
	}
	return b.String()
}

func isCSIFinal(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '@' || c == '`'
}

// Truncate shortens s to at most maxRunes runes, ending with "..." when cut.
// It never splits a multi-byte rune. maxRunes <= 0 disables truncation.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	keep := maxRunes - len(ellipsis)
	if keep <= 0 {
		return string([]rune(s)[:maxRunes])
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}

// String sanitizes for the terminal and truncates.
func String(s string, maxRunes int) string {
	return Truncate(Terminal(s), maxRunes)
}

// Content prepares message content for structured logs and alert payloads:
// invalid UTF-8 is dropped, invisible format characters are removed,
// newlines and tabs become spaces and other control characters vanish.
// maxRunes <= 0 uses DefaultMaxDisplayLength.
func Content(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxDisplayLength
	}

	var b strings.Builder
	b.Grow(min(len(s), maxRunes*utf8.UTFMax))
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		default:
			b.WriteRune(r)
		}
	}
	return Truncate(b.String(), maxRunes)
}

// NeutralizeMentions breaks @everyone, @here and user/role mention tokens
// with a zero-width space so that re-posting content into a log channel
// cannot ping anyone.
func NeutralizeMentions(s string) string {
	if !strings.Contains(s, "@") {
		return s
	}
	r := strings.NewReplacer(
		"@everyone", "@\u200beveryone",
		"@here", "@\u200bhere",
		"<@", "<@\u200b",
	)
	return r.Replace(s)
}

// Identifier keeps only characters valid in platform snowflake ids and
// short handles, returning "[INVALID]" when nothing remains.
func Identifier(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "[INVALID]"
	}
	return b.String()
}
