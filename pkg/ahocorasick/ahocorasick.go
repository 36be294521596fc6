// Package ahocorasick implements Aho-Corasick multi-pattern matching over
// runes, case-insensitively.
//
// Axion compiles the configured blocked-term list into one automaton so that
// a message is scanned once regardless of how many terms are configured:
// O(n + z) per message for n runes and z matches.
//
// Thread Safety: a Matcher is immutable after New and safe for concurrent use.
package ahocorasick

import (
	"unicode"
	"unicode/utf8"
)

// Match is one occurrence of a pattern in a text.
type Match struct {
	Pattern int // Index into the pattern list given to New
	Start   int // Byte offset of the first rune
	End     int // Byte offset just past the last rune
}

// Options tune matching.
type Options struct {
	// WholeWord rejects matches that are glued to a letter or digit on
	// either side ("ass" does not match "class").
	WholeWord bool
}

// Matcher is a compiled automaton.
type Matcher struct {
	nodes    []node
	patterns []string
	lengths  []int // Pattern length in runes
	opts     Options
}

type node struct {
	next   map[rune]int32
	fail   int32
	output []int32
}

// New compiles patterns with default options. Empty patterns are ignored.
func New(patterns []string) *Matcher {
	return NewWithOptions(patterns, Options{})
}

// NewWithOptions compiles patterns.
//
// Parameters:
//   - patterns: Terms to search for, matched case-insensitively
//   - opts: Matching options
//
// Returns:
//   - Matcher ready for Contains/Find/MatchAll
func NewWithOptions(patterns []string, opts Options) *Matcher {
	m := &Matcher{
		nodes:    []node{{next: map[rune]int32{}}},
		patterns: patterns,
		lengths:  make([]int, len(patterns)),
		opts:     opts,
	}
	for i, p := range patterns {
		m.insert(p, i)
	}
	m.link()
	return m
}

func (m *Matcher) insert(pattern string, index int) {
	if pattern == "" {
		return
	}
	cur := int32(0)
	n := 0
	for _, r := range pattern {
		r = unicode.ToLower(r)
		nxt, ok := m.nodes[cur].next[r]
		if !ok {
			m.nodes = append(m.nodes, node{next: map[rune]int32{}})
			nxt = int32(len(m.nodes) - 1)
			m.nodes[cur].next[r] = nxt
		}
		cur = nxt
		n++
	}
	m.lengths[index] = n
	m.nodes[cur].output = append(m.nodes[cur].output, int32(index))
}

// link computes failure links breadth-first and merges outputs along them.
func (m *Matcher) link() {
	queue := make([]int32, 0, len(m.nodes))
	for _, child := range m.nodes[0].next {
		m.nodes[child].fail = 0
		queue = append(queue, child)
	}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for r, child := range m.nodes[cur].next {
			queue = append(queue, child)
			f := m.nodes[cur].fail
			for {
				if nxt, ok := m.nodes[f].next[r]; ok && nxt != child {
					m.nodes[child].fail = nxt
					break
				}
				if f == 0 {
					m.nodes[child].fail = 0
					break
				}
				f = m.nodes[f].fail
			}
			m.nodes[child].output = append(m.nodes[child].output, m.nodes[m.nodes[child].fail].output...)
		}
	}
}

func (m *Matcher) step(cur int32, r rune) int32 {
	for {
		if nxt, ok := m.nodes[cur].next[r]; ok {
			return nxt
		}
		if cur == 0 {
			return 0
		}
		cur = m.nodes[cur].fail
	}
}

// Find returns every occurrence in text, ordered by end offset.
func (m *Matcher) Find(text string) []Match {
	if len(m.nodes) == 1 {
		return nil
	}

	var (
		matches []Match
		starts  []int // Byte offset of each rune seen so far
		cur     int32
	)
	for off, r := range text {
		starts = append(starts, off)
		cur = m.step(cur, unicode.ToLower(r))
		if len(m.nodes[cur].output) == 0 {
			continue
		}
		_, size := utf8.DecodeRuneInString(text[off:])
		end := off + size
		for _, idx := range m.nodes[cur].output {
			first := len(starts) - m.lengths[idx]
			match := Match{Pattern: int(idx), Start: starts[first], End: end}
			if m.opts.WholeWord && !isBoundary(text, match) {
				continue
			}
			matches = append(matches, match)
		}
	}
	return matches
}

// Contains reports whether any pattern occurs in text.
func (m *Matcher) Contains(text string) bool {
	if !m.opts.WholeWord {
		if len(m.nodes) == 1 {
			return false
		}
		var cur int32
		for _, r := range text {
			cur = m.step(cur, unicode.ToLower(r))
			if len(m.nodes[cur].output) > 0 {
				return true
			}
		}
		return false
	}
	return len(m.Find(text)) > 0
}

// MatchAll returns the distinct patterns found in text, in order of first
// occurrence.
func (m *Matcher) MatchAll(text string) []string {
	var out []string
	seen := make(map[int]struct{})
	for _, match := range m.Find(text) {
		if _, dup := seen[match.Pattern]; dup {
			continue
		}
		seen[match.Pattern] = struct{}{}
		out = append(out, m.patterns[match.Pattern])
	}
	return out
}

// PatternCount returns the number of patterns given to New.
func (m *Matcher) PatternCount() int {
	return len(m.patterns)
}

func isBoundary(text string, match Match) bool {
	if prev, _ := utf8.DecodeLastRuneInString(text[:match.Start]); match.Start > 0 && isWordRune(prev) {
		return false
	}
	if next, _ := utf8.DecodeRuneInString(text[match.End:]); match.End < len(text) && isWordRune(next) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
