package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/lru"
)

type ProfileConfig struct {
	Capacity        int              `mapstructure:"capacity" validate:"gt=0"`
	DecayInterval   time.Duration    `mapstructure:"decay_interval" validate:"gt=0"`
	DecayFactor     float64          `mapstructure:"decay_factor" validate:"gt=0,lte=1"`
	IdleBeforeDecay time.Duration    `mapstructure:"idle_before_decay" validate:"gt=0"`
	Now             func() time.Time `mapstructure:"-" json:"-"`
}

func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		Capacity:        50000,
		DecayInterval:   6 * time.Hour,
		DecayFactor:     0.9,
		IdleBeforeDecay: 6 * time.Hour,
	}
}

// ProfileTracker owns the behavior profile of every (user, guild) pair seen.
//
// Profiles are created lazily and held in an LRU. Profiles that require
// monitoring are pinned so they survive eviction until their risk drops.
//
// Thread Safety: safe for concurrent use. The LRU lock guards membership;
// each profile has its own lock.
type ProfileTracker struct {
	config   ProfileConfig
	profiles *lru.Cache[string, *domain.UserBehaviorProfile]

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewProfileTracker creates a tracker. Zero config fields fall back to
// DefaultProfileConfig values.
func NewProfileTracker(config ProfileConfig) *ProfileTracker {
	d := DefaultProfileConfig()
	if config.Capacity <= 0 {
		config.Capacity = d.Capacity
	}
	if config.DecayInterval <= 0 {
		config.DecayInterval = d.DecayInterval
	}
	if config.DecayFactor <= 0 || config.DecayFactor > 1 {
		config.DecayFactor = d.DecayFactor
	}
	if config.IdleBeforeDecay <= 0 {
		config.IdleBeforeDecay = d.IdleBeforeDecay
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &ProfileTracker{
		config: config,
		profiles: lru.NewWithEvict(config.Capacity, func(key string, p *domain.UserBehaviorProfile) {
			log.Debug().Str("user_id", p.UserID).Str("guild_id", p.GuildID).Msg("Profile evicted")
		}),
		stopCh: make(chan struct{}),
	}
}

func (t *ProfileTracker) profile(userID, guildID string, at time.Time) *domain.UserBehaviorProfile {
	return t.profiles.GetOrCreate(domain.UserKey(userID, guildID), func() *domain.UserBehaviorProfile {
		return domain.NewUserBehaviorProfile(userID, guildID, at)
	})
}

// RecordActivity updates the profile of (userID, guildID), creating it on
// first use. A zero activity time means now.
func (t *ProfileTracker) RecordActivity(userID, guildID string, a domain.Activity) {
	if a.At.IsZero() {
		a.At = t.config.Now()
	}
	t.profile(userID, guildID, a.At).RecordActivity(a)
}

// RecordViolation applies a severity-scaled trust and reputation penalty.
func (t *ProfileTracker) RecordViolation(userID, guildID string, severity domain.Severity, content string) {
	t.profile(userID, guildID, t.config.Now()).RecordViolation(severity, content)
}

func (t *ProfileTracker) RecordPattern(userID, guildID string, pattern domain.PatternType) {
	t.profile(userID, guildID, t.config.Now()).RecordPattern(pattern)
}

// Assess computes the current risk of (userID, guildID) and pins or unpins
// the profile according to RequiresMonitoring. Unknown users are assessed
// on a fresh profile that is not stored.
func (t *ProfileTracker) Assess(userID, guildID string) domain.RiskAssessment {
	now := t.config.Now()
	key := domain.UserKey(userID, guildID)

	p, ok := t.profiles.Get(key)
	if !ok {
		return domain.NewUserBehaviorProfile(userID, guildID, now).Assess(now)
	}

	assessment := p.Assess(now)
	if assessment.RequiresMonitoring != p.Monitored() {
		p.SetMonitored(assessment.RequiresMonitoring)
		t.profiles.SetSticky(key, assessment.RequiresMonitoring)
		if assessment.RequiresMonitoring {
			log.Info().
				Str("user_id", userID).
				Str("guild_id", guildID).
				Str("risk_level", assessment.Level.String()).
				Float64("score", assessment.Score).
				Msg("Profile placed under monitoring")
		}
	}
	return assessment
}

// Snapshot returns a read-only copy of the profile.
func (t *ProfileTracker) Snapshot(userID, guildID string) (domain.ProfileSnapshot, bool) {
	p, ok := t.profiles.Peek(domain.UserKey(userID, guildID))
	if !ok {
		return domain.ProfileSnapshot{}, false
	}
	return p.Snapshot(), true
}

// Reset clears the pattern and violation state of one profile.
func (t *ProfileTracker) Reset(userID, guildID string) bool {
	key := domain.UserKey(userID, guildID)
	p, ok := t.profiles.Peek(key)
	if !ok {
		return false
	}
	p.Reset()
	p.SetMonitored(false)
	t.profiles.SetSticky(key, false)
	return true
}

// Decay relaxes every profile idle for at least IdleBeforeDecay. Returns
// the number of profiles decayed.
func (t *ProfileTracker) Decay() int {
	cutoff := t.config.Now().Add(-t.config.IdleBeforeDecay)
	var idle []*domain.UserBehaviorProfile
	t.profiles.Range(func(_ string, p *domain.UserBehaviorProfile) bool {
		if !p.LastActivity().After(cutoff) {
			idle = append(idle, p)
		}
		return true
	})
	for _, p := range idle {
		p.Decay(t.config.DecayFactor)
	}
	return len(idle)
}

func (t *ProfileTracker) Len() int {
	return t.profiles.Len()
}

// Monitored returns the number of pinned profiles.
func (t *ProfileTracker) Monitored() int {
	return t.profiles.StickyCount()
}

// StartMaintenance runs Decay every DecayInterval until ctx is done or Stop
// is called.
func (t *ProfileTracker) StartMaintenance(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.config.DecayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				n := t.Decay()
				log.Debug().Int("decayed", n).Int("profiles", t.profiles.Len()).Msg("Profile maintenance completed")
			}
		}
	}()
}

// Stop halts maintenance. Idempotent.
func (t *ProfileTracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}
