package detection

import (
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// cases.Caser is stateful and must not be shared between goroutines.
var casers = sync.Pool{
	New: func() any {
		c := cases.Lower(language.Und)
		return &c
	},
}

// Normalize lowercases s and collapses every run of whitespace into a single
// space. Two messages are duplicates when their normalized forms are equal.
// Lowercasing keeps the rune set intact, so "ß" and "ss" stay distinct.
func Normalize(s string) string {
	c := casers.Get().(*cases.Caser)
	lowered := c.String(s)
	casers.Put(c)
	return strings.Join(strings.Fields(lowered), " ")
}

// Fingerprint is the 64-bit murmur3 hash of the normalized content.
func Fingerprint(s string) uint64 {
	return hashNormalized(Normalize(s))
}

func hashNormalized(normalized string) uint64 {
	return murmur3.Sum64([]byte(normalized))
}

// lowerWords returns the whitespace separated words of s in lower case.
func lowerWords(s string) []string {
	return strings.Fields(cases.Lower(language.Und).String(s))
}
