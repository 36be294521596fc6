package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func TestSuspicionScorer_Score(t *testing.T) {
	tests := []struct {
		name       string
		ev         domain.JoinEvent
		score      int
		reasons    int
		suspicious bool
	}{
		{
			name:    "established account",
			ev:      domain.JoinEvent{UserID: "a", Username: "marigold", AccountAge: 90 * 24 * time.Hour, HasAvatar: true},
			score:   0,
			reasons: 0,
		},
		{
			name:    "unknown age is not new",
			ev:      domain.JoinEvent{UserID: "b", Username: "marigold", HasAvatar: true},
			score:   0,
			reasons: 0,
		},
		{
			name:    "new account with avatar",
			ev:      domain.JoinEvent{UserID: "c", Username: "marigold", AccountAge: 24 * time.Hour, HasAvatar: true},
			score:   2,
			reasons: 1,
		},
		{
			name:       "new account without avatar",
			ev:         domain.JoinEvent{UserID: "d", Username: "marigold", AccountAge: 24 * time.Hour},
			score:      3,
			reasons:    2,
			suspicious: true,
		},
		{
			name:       "everything",
			ev:         domain.JoinEvent{UserID: "e", Username: "qq", AccountAge: time.Minute},
			score:      4,
			reasons:    3,
			suspicious: true,
		},
		{
			name:    "old account without avatar and odd name",
			ev:      domain.JoinEvent{UserID: "f", Username: "user1234"},
			score:   2,
			reasons: 2,
		},
	}

	s := NewSuspicionScorer(DefaultSuspicionConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Score(tc.ev)
			assert.Equal(t, tc.score, got.Score)
			assert.Equal(t, tc.suspicious, got.Suspicious)
			assert.Len(t, got.Reasons, tc.reasons)
		})
	}
}

func TestSuspicionScorer_CachesPerUser(t *testing.T) {
	s := NewSuspicionScorer(DefaultSuspicionConfig())

	first := s.Score(domain.JoinEvent{UserID: "u1", Username: "zz", AccountAge: time.Hour})
	assert.True(t, first.Suspicious)

	// A rejoin with different details reuses the cached verdict.
	again := s.Score(domain.JoinEvent{UserID: "u1", Username: "marigold", AccountAge: 365 * 24 * time.Hour, HasAvatar: true})
	assert.Equal(t, first, again)

	cached, ok := s.Lookup("u1")
	assert.True(t, ok)
	assert.Equal(t, first, cached)
	assert.Equal(t, 1, s.CacheLen())

	s.Forget("u1")
	_, ok = s.Lookup("u1")
	assert.False(t, ok)
	assert.Zero(t, s.Score(domain.JoinEvent{UserID: "u1", Username: "marigold", AccountAge: 365 * 24 * time.Hour, HasAvatar: true}).Score)
}

func TestSuspicionScorer_AnonymousJoinsAreNotCached(t *testing.T) {
	s := NewSuspicionScorer(DefaultSuspicionConfig())
	s.Score(domain.JoinEvent{Username: "marigold"})
	assert.Zero(t, s.CacheLen())
}

func TestIsSuspiciousName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", true},
		{"ab", true},
		{"abc", false},
		{"rose", false},
		{"agent007", false},
		{"agent0070", true},
		{"1234", true},
		{"12a34", false},
		{"ΔΔΔ", false},
		{"user٠١٢٣", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, IsSuspiciousName(tc.name), tc.name)
	}
}
