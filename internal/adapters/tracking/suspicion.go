package tracking

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Account suspicion points.
const (
	NewAccountPoints      = 2
	NoAvatarPoints        = 1
	SuspiciousNamePoints  = 1
	SuspicionThreshold    = 3
	suspiciousDigitRun    = 4
	suspiciousNameMinimum = 3
)

type SuspicionConfig struct {
	NewAccountAge time.Duration `mapstructure:"new_account_age" validate:"gte=0"`
	CacheSize     int           `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

func DefaultSuspicionConfig() SuspicionConfig {
	return SuspicionConfig{
		NewAccountAge: 7 * 24 * time.Hour,
		CacheSize:     10000,
		CacheTTL:      time.Hour,
	}
}

// Suspicion is the scored account of one join.
type Suspicion struct {
	Score      int
	Suspicious bool
	Reasons    []string
}

// SuspicionScorer rates joining accounts. Results are cached per user for
// CacheTTL so rejoin storms do not rescore the same account.
type SuspicionScorer struct {
	config SuspicionConfig
	cache  *expirable.LRU[string, Suspicion]
}

func NewSuspicionScorer(config SuspicionConfig) *SuspicionScorer {
	d := DefaultSuspicionConfig()
	if config.NewAccountAge <= 0 {
		config.NewAccountAge = d.NewAccountAge
	}
	if config.CacheSize <= 0 {
		config.CacheSize = d.CacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = d.CacheTTL
	}
	return &SuspicionScorer{
		config: config,
		cache:  expirable.NewLRU[string, Suspicion](config.CacheSize, nil, config.CacheTTL),
	}
}

// Score rates the account behind a join: new account +2, no avatar +1,
// suspicious name +1. Three points or more is suspicious.
func (s *SuspicionScorer) Score(ev domain.JoinEvent) Suspicion {
	if cached, ok := s.cache.Get(ev.UserID); ok {
		return cached
	}

	var sus Suspicion
	if s.IsNewAccount(ev.AccountAge) {
		sus.Score += NewAccountPoints
		sus.Reasons = append(sus.Reasons, fmt.Sprintf("account age %s", ev.AccountAge.Round(time.Hour)))
	}
	if !ev.HasAvatar {
		sus.Score += NoAvatarPoints
		sus.Reasons = append(sus.Reasons, "no avatar")
	}
	if IsSuspiciousName(ev.Username) {
		sus.Score += SuspiciousNamePoints
		sus.Reasons = append(sus.Reasons, "suspicious username")
	}
	sus.Suspicious = sus.Score >= SuspicionThreshold

	if ev.UserID != "" {
		s.cache.Add(ev.UserID, sus)
	}
	return sus
}

// Lookup returns the cached score of userID, if any.
func (s *SuspicionScorer) Lookup(userID string) (Suspicion, bool) {
	return s.cache.Peek(userID)
}

// IsNewAccount reports whether an account of the given age counts as new.
// A zero age means unknown and is not new.
func (s *SuspicionScorer) IsNewAccount(age time.Duration) bool {
	return age > 0 && age < s.config.NewAccountAge
}

func (s *SuspicionScorer) Forget(userID string) {
	s.cache.Remove(userID)
}

func (s *SuspicionScorer) CacheLen() int {
	return s.cache.Len()
}

// IsSuspiciousName reports names shorter than three characters or holding
// a run of four or more digits.
func IsSuspiciousName(name string) bool {
	if utf8.RuneCountInString(name) < suspiciousNameMinimum {
		return true
	}
	run := 0
	for _, r := range name {
		if unicode.IsDigit(r) {
			run++
			if run >= suspiciousDigitRun {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
