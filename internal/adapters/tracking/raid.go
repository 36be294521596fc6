package tracking

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/detection"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
	"github.com/HolyFlex-tecjh/axion/pkg/window"
)

// GuildSettings overrides the raid thresholds of one guild.
type GuildSettings struct {
	JoinThreshold int           `json:"join_threshold" mapstructure:"join_threshold"`
	RaidWindow    time.Duration `json:"raid_window" mapstructure:"raid_window"`
}

type RaidConfig struct {
	JoinThreshold               int              `mapstructure:"join_threshold" validate:"gte=2"`
	RaidWindow                  time.Duration    `mapstructure:"raid_window" validate:"gt=0"`
	JoinRetention               time.Duration    `mapstructure:"join_retention" validate:"gt=0"`
	MessageRetention            time.Duration    `mapstructure:"message_retention" validate:"gt=0"`
	ReactionRetention           time.Duration    `mapstructure:"reaction_retention" validate:"gt=0"`
	MaxEventsPerGuild           int              `mapstructure:"max_events_per_guild" validate:"gt=0"`
	NewAccountRatio             float64          `mapstructure:"new_account_ratio" validate:"gt=0,lte=1"`
	SuspiciousNameRatio         float64          `mapstructure:"suspicious_name_ratio" validate:"gt=0,lte=1"`
	LockdownNewAccountRatio     float64          `mapstructure:"lockdown_new_account_ratio" validate:"gt=0,lte=1"`
	VerificationNameRatio       float64          `mapstructure:"verification_name_ratio" validate:"gt=0,lte=1"`
	RaidExpiry                  time.Duration    `mapstructure:"raid_expiry" validate:"gt=0"`
	CoordinationWindow          time.Duration    `mapstructure:"coordination_window" validate:"gt=0"`
	CoordinatedMessageThreshold int              `mapstructure:"coordinated_message_threshold" validate:"gt=0"`
	MinDistinctUsers            int              `mapstructure:"min_distinct_users" validate:"gt=0"`
	ReactionWindow              time.Duration    `mapstructure:"reaction_window" validate:"gt=0"`
	ReactionBurstThreshold      int              `mapstructure:"reaction_burst_threshold" validate:"gt=0"`
	PatternRetention            time.Duration    `mapstructure:"pattern_retention" validate:"gt=0"`
	MaxPatternsPerGuild         int              `mapstructure:"max_patterns_per_guild" validate:"gt=0"`
	SweepInterval               time.Duration    `mapstructure:"sweep_interval" validate:"gt=0"`
	Suspicion                   SuspicionConfig  `mapstructure:"suspicion"`
	Now                         func() time.Time `mapstructure:"-" json:"-"`
}

func DefaultRaidConfig() RaidConfig {
	return RaidConfig{
		JoinThreshold:               5,
		RaidWindow:                  5 * time.Minute,
		JoinRetention:               24 * time.Hour,
		MessageRetention:            time.Hour,
		ReactionRetention:           time.Hour,
		MaxEventsPerGuild:           10000,
		NewAccountRatio:             0.7,
		SuspiciousNameRatio:         0.5,
		LockdownNewAccountRatio:     0.8,
		VerificationNameRatio:       0.6,
		RaidExpiry:                  30 * time.Minute,
		CoordinationWindow:          2 * time.Minute,
		CoordinatedMessageThreshold: 5,
		MinDistinctUsers:            3,
		ReactionWindow:              time.Minute,
		ReactionBurstThreshold:      10,
		PatternRetention:            time.Hour,
		MaxPatternsPerGuild:         50,
		SweepInterval:               time.Hour,
		Suspicion:                   DefaultSuspicionConfig(),
	}
}

type guildMessage struct {
	domain.MessageEvent
	fingerprint uint64
}

// RaidStats is a point-in-time view of the detector's state.
type RaidStats struct {
	TrackedGuilds  int `json:"tracked_guilds"`
	ActiveRaids    int `json:"active_raids"`
	RecentPatterns int `json:"recent_patterns"`
	SuspicionCache int `json:"suspicion_cache"`
}

// RaidDetector tracks joins, messages and reactions per guild and detects
// multi-user attacks.
//
// Guild State Machine:
//
//	Inactive -> Active(Monitor | EnhancedVerification | Lockdown) -> Inactive
//
// A raid becomes active on its first detection and expires RaidExpiry after
// its start time, or when deactivated. Later detections while active merge
// their users and may raise the response.
//
// Detection Strategy:
//   - Joins: count in the guild raid window against the join threshold, then
//     classify the cohort by new-account and suspicious-name ratios
//   - Messages: group the coordination window by content fingerprint;
//     enough copies from enough distinct users is coordinated spam
//   - Reactions: many distinct users reacting to one message in a minute is a
//     reaction burst (monitor only)
//
// Event timestamps drive the windows and expiry checks made while recording;
// the injected clock drives queries and sweeps.
//
// Thread Safety: safe for concurrent use. Status and pattern updates are
// atomic per guild; window reads may miss a concurrent write.
type RaidDetector struct {
	config    RaidConfig
	joins     *window.Store[domain.JoinEvent]
	messages  *window.Store[guildMessage]
	reactions *window.Store[domain.ReactionEvent]
	statuses  *xsync.MapOf[string, *domain.RaidStatus]
	settings  *xsync.MapOf[string, GuildSettings]
	patterns  *xsync.MapOf[string, []domain.CoordinatedPattern]
	suspicion *SuspicionScorer
	spam      ports.FingerprintStore

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRaidDetector creates a detector. Zero config fields fall back to
// DefaultRaidConfig values.
//
// Parameters:
//   - config: Thresholds and retention
//   - spam: Optional store receiving fingerprints of confirmed coordinated
//     spam (nil disables recording)
func NewRaidDetector(config RaidConfig, spam ports.FingerprintStore) *RaidDetector {
	config = withRaidDefaults(config)

	store := func(retention time.Duration) window.Config {
		return window.Config{
			Retention:     retention,
			MaxLen:        config.MaxEventsPerGuild,
			SweepInterval: config.SweepInterval,
			Now:           config.Now,
		}
	}

	return &RaidDetector{
		config:    config,
		joins:     window.New[domain.JoinEvent](store(config.JoinRetention)),
		messages:  window.New[guildMessage](store(config.MessageRetention)),
		reactions: window.New[domain.ReactionEvent](store(config.ReactionRetention)),
		statuses:  xsync.NewMapOf[string, *domain.RaidStatus](),
		settings:  xsync.NewMapOf[string, GuildSettings](),
		patterns:  xsync.NewMapOf[string, []domain.CoordinatedPattern](),
		suspicion: NewSuspicionScorer(config.Suspicion),
		spam:      spam,
		stopCh:    make(chan struct{}),
	}
}

func withRaidDefaults(config RaidConfig) RaidConfig {
	d := DefaultRaidConfig()
	if config.JoinThreshold <= 0 {
		config.JoinThreshold = d.JoinThreshold
	}
	if config.RaidWindow <= 0 {
		config.RaidWindow = d.RaidWindow
	}
	if config.JoinRetention <= 0 {
		config.JoinRetention = d.JoinRetention
	}
	if config.MessageRetention <= 0 {
		config.MessageRetention = d.MessageRetention
	}
	if config.ReactionRetention <= 0 {
		config.ReactionRetention = d.ReactionRetention
	}
	if config.MaxEventsPerGuild <= 0 {
		config.MaxEventsPerGuild = d.MaxEventsPerGuild
	}
	if config.NewAccountRatio <= 0 {
		config.NewAccountRatio = d.NewAccountRatio
	}
	if config.SuspiciousNameRatio <= 0 {
		config.SuspiciousNameRatio = d.SuspiciousNameRatio
	}
	if config.LockdownNewAccountRatio <= 0 {
		config.LockdownNewAccountRatio = d.LockdownNewAccountRatio
	}
	if config.VerificationNameRatio <= 0 {
		config.VerificationNameRatio = d.VerificationNameRatio
	}
	if config.RaidExpiry <= 0 {
		config.RaidExpiry = d.RaidExpiry
	}
	if config.CoordinationWindow <= 0 {
		config.CoordinationWindow = d.CoordinationWindow
	}
	if config.CoordinatedMessageThreshold <= 0 {
		config.CoordinatedMessageThreshold = d.CoordinatedMessageThreshold
	}
	if config.MinDistinctUsers <= 0 {
		config.MinDistinctUsers = d.MinDistinctUsers
	}
	if config.ReactionWindow <= 0 {
		config.ReactionWindow = d.ReactionWindow
	}
	if config.ReactionBurstThreshold <= 0 {
		config.ReactionBurstThreshold = d.ReactionBurstThreshold
	}
	if config.PatternRetention <= 0 {
		config.PatternRetention = d.PatternRetention
	}
	if config.MaxPatternsPerGuild <= 0 {
		config.MaxPatternsPerGuild = d.MaxPatternsPerGuild
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = d.SweepInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return config
}

func (d *RaidDetector) now() time.Time {
	return d.config.Now()
}

func (d *RaidDetector) eventTime(at time.Time) time.Time {
	if at.IsZero() {
		return d.now()
	}
	return at
}

// SetGuildSettings overrides the join threshold and raid window of a guild.
func (d *RaidDetector) SetGuildSettings(guildID string, s GuildSettings) error {
	if s.JoinThreshold < 2 {
		return &domain.ConfigValidationError{
			Field:  "raid.guilds." + guildID + ".join_threshold",
			Value:  fmt.Sprint(s.JoinThreshold),
			Reason: "must be at least 2",
		}
	}
	if s.RaidWindow <= 0 || s.RaidWindow > d.config.JoinRetention {
		return &domain.ConfigValidationError{
			Field:  "raid.guilds." + guildID + ".raid_window",
			Value:  s.RaidWindow.String(),
			Reason: fmt.Sprintf("must be in (0, %s]", d.config.JoinRetention),
		}
	}
	d.settings.Store(guildID, s)
	return nil
}

// GuildSettings returns the effective settings of a guild.
func (d *RaidDetector) GuildSettings(guildID string) GuildSettings {
	if s, ok := d.settings.Load(guildID); ok {
		return s
	}
	return GuildSettings{JoinThreshold: d.config.JoinThreshold, RaidWindow: d.config.RaidWindow}
}

// RecordJoin records a member join and checks for a raid.
//
// Returns:
//   - JoinAssessment; Raid is nil unless the guild's join threshold is met.
//     Suspicious accounts joining a guild under raid alert get ActionKick.
func (d *RaidDetector) RecordJoin(ev domain.JoinEvent) domain.JoinAssessment {
	at := d.eventTime(ev.At)
	ev.At = at
	d.joins.Record(ev.GuildID, ev, at)

	settings := d.GuildSettings(ev.GuildID)
	recent := d.joins.RecentSince(ev.GuildID, at.Add(-settings.RaidWindow))

	sus := d.suspicion.Score(ev)
	assessment := domain.JoinAssessment{
		SuspicionScore: sus.Score,
		Suspicious:     sus.Suspicious,
		Reasons:        slices.Clone(sus.Reasons),
	}

	if len(recent) >= settings.JoinThreshold {
		raid := d.analyzeCohort(ev.GuildID, recent, at)
		raid.NewlyActivated = d.activate(raid, at)
		assessment.Raid = raid
		if raid.Response == domain.ResponseLockdown {
			assessment.Action = domain.ActionKick
		}
		if raid.NewlyActivated {
			log.Warn().
				Str("guild_id", ev.GuildID).
				Str("raid_type", raid.RaidType.String()).
				Str("response", raid.Response.String()).
				Int("joins", raid.JoinCount).
				Msg("Raid detected")
		}
	}

	assessment.GuildUnderRaid = d.underRaidAt(ev.GuildID, at)
	if assessment.Suspicious && assessment.GuildUnderRaid {
		assessment.Action = domain.ActionKick
		assessment.Reasons = append(assessment.Reasons, "suspicious join during raid")
	}
	return assessment
}

func (d *RaidDetector) analyzeCohort(guildID string, recent []window.Event[domain.JoinEvent], at time.Time) *domain.RaidDetectionResult {
	users := make([]string, 0, len(recent))
	newAccounts, badNames := 0, 0
	for _, j := range recent {
		users = append(users, j.Value.UserID)
		if d.suspicion.IsNewAccount(j.Value.AccountAge) {
			newAccounts++
		}
		if IsSuspiciousName(j.Value.Username) {
			badNames++
		}
	}

	n := float64(len(recent))
	newRatio := float64(newAccounts) / n
	nameRatio := float64(badNames) / n
	suspicious := newRatio > d.config.NewAccountRatio || nameRatio > d.config.SuspiciousNameRatio

	result := &domain.RaidDetectionResult{
		GuildID:         guildID,
		JoinCount:       len(recent),
		NewAccountRatio: newRatio,
		SuspiciousNames: nameRatio,
		Suspicious:      suspicious,
		Confidence:      math.Min(1, 0.5+0.3*newRatio+0.2*nameRatio),
		InvolvedUsers:   lo.Uniq(users),
		DetectedAt:      at,
	}

	switch {
	case newRatio > d.config.LockdownNewAccountRatio && suspicious:
		result.RaidType = domain.RaidNewAccountWave
		result.Response = domain.ResponseLockdown
		result.UsersToKick = slices.Clone(result.InvolvedUsers)
	case nameRatio > d.config.VerificationNameRatio:
		result.RaidType = domain.RaidSuspiciousNames
		result.Response = domain.ResponseEnhancedVerification
	case newRatio > d.config.NewAccountRatio:
		result.RaidType = domain.RaidNewAccountWave
		result.Response = domain.ResponseMonitor
	default:
		result.RaidType = domain.RaidJoinFlood
		result.Response = domain.ResponseMonitor
	}
	return result
}

func applyResponse(s *domain.RaidStatus, r domain.RaidResponse) {
	s.Response = r
	s.Lockdown = r == domain.ResponseLockdown
	s.EnhancedVerification = r >= domain.ResponseEnhancedVerification
}

// activate starts or updates the guild's raid and reports whether it was
// newly started.
func (d *RaidDetector) activate(raid *domain.RaidDetectionResult, at time.Time) bool {
	newly := false
	reason := fmt.Sprintf("%d joins in %s", raid.JoinCount, d.GuildSettings(raid.GuildID).RaidWindow)

	d.statuses.Compute(raid.GuildID, func(old *domain.RaidStatus, loaded bool) (*domain.RaidStatus, bool) {
		if loaded && old.ActiveAt(at, d.config.RaidExpiry) {
			next := old.Clone()
			next.InvolvedUsers = lo.Union(next.InvolvedUsers, raid.InvolvedUsers)
			if raid.Response > next.Response {
				applyResponse(&next, raid.Response)
				next.RaidType = raid.RaidType
				next.Reason = reason
			}
			return &next, false
		}

		newly = true
		status := &domain.RaidStatus{
			GuildID:       raid.GuildID,
			Active:        true,
			StartTime:     at,
			RaidType:      raid.RaidType,
			Reason:        reason,
			InvolvedUsers: slices.Clone(raid.InvolvedUsers),
		}
		applyResponse(status, raid.Response)
		return status, false
	})
	return newly
}

func (d *RaidDetector) underRaidAt(guildID string, at time.Time) bool {
	s, ok := d.statuses.Load(guildID)
	return ok && s.ActiveAt(at, d.config.RaidExpiry)
}

// IsGuildUnderRaidAlert reports whether the guild has an unexpired raid.
func (d *RaidDetector) IsGuildUnderRaidAlert(guildID string) bool {
	return d.underRaidAt(guildID, d.now())
}

// RaidStatus returns a snapshot of the guild's raid. The second result is
// false when no raid is active.
func (d *RaidDetector) RaidStatus(guildID string) (domain.RaidStatus, bool) {
	s, ok := d.statuses.Load(guildID)
	if !ok || !s.ActiveAt(d.now(), d.config.RaidExpiry) {
		return domain.RaidStatus{GuildID: guildID}, false
	}
	return s.Clone(), true
}

// DeactivateRaidMode ends the guild's raid. Returns false if none was
// active.
func (d *RaidDetector) DeactivateRaidMode(guildID string) bool {
	now := d.now()
	ended := false
	d.statuses.Compute(guildID, func(old *domain.RaidStatus, loaded bool) (*domain.RaidStatus, bool) {
		ended = loaded && old.ActiveAt(now, d.config.RaidExpiry)
		return old, true
	})
	if ended {
		log.Info().Str("guild_id", guildID).Msg("Raid mode deactivated")
	}
	return ended
}

// ActivateLockdown puts the guild into manual lockdown, replacing any active
// raid and restarting the expiry clock.
func (d *RaidDetector) ActivateLockdown(guildID, reason string) domain.RaidStatus {
	now := d.now()
	var out domain.RaidStatus
	d.statuses.Compute(guildID, func(old *domain.RaidStatus, loaded bool) (*domain.RaidStatus, bool) {
		status := &domain.RaidStatus{
			GuildID:   guildID,
			Active:    true,
			StartTime: now,
			RaidType:  domain.RaidManual,
			Reason:    reason,
		}
		if loaded && old.ActiveAt(now, d.config.RaidExpiry) {
			status.InvolvedUsers = slices.Clone(old.InvolvedUsers)
		}
		applyResponse(status, domain.ResponseLockdown)
		out = status.Clone()
		return status, false
	})
	log.Warn().Str("guild_id", guildID).Str("reason", reason).Msg("Lockdown activated")
	return out
}

// ExtendRaidMode restarts the expiry clock of an active raid. Returns false
// if none was active.
func (d *RaidDetector) ExtendRaidMode(guildID string) bool {
	now := d.now()
	extended := false
	d.statuses.Compute(guildID, func(old *domain.RaidStatus, loaded bool) (*domain.RaidStatus, bool) {
		if !loaded {
			return old, true
		}
		if !old.ActiveAt(now, d.config.RaidExpiry) {
			return old, false
		}
		next := old.Clone()
		next.StartTime = now
		extended = true
		return &next, false
	})
	return extended
}

// ActiveRaids returns the number of guilds with an unexpired raid.
func (d *RaidDetector) ActiveRaids() int {
	now := d.now()
	n := 0
	d.statuses.Range(func(_ string, s *domain.RaidStatus) bool {
		if s.ActiveAt(now, d.config.RaidExpiry) {
			n++
		}
		return true
	})
	return n
}

// RecordMessageForRaid records a guild message and checks the coordination
// window for the same content posted by several users.
//
// Returns:
//   - CoordinatedSpamResult when at least CoordinatedMessageThreshold copies
//     from MinDistinctUsers users fall inside the window, nil otherwise.
//     Every author in the group is recommended for timeout.
func (d *RaidDetector) RecordMessageForRaid(ev domain.MessageEvent) *domain.CoordinatedSpamResult {
	if strings.TrimSpace(ev.Content) == "" || ev.GuildID == "" {
		return nil
	}
	at := d.eventTime(ev.At)
	ev.At = at
	fp := detection.Fingerprint(ev.Content)

	recent := d.messages.Observe(ev.GuildID, guildMessage{MessageEvent: ev, fingerprint: fp}, at, d.config.CoordinationWindow)
	groups := lo.GroupBy(recent, func(m window.Event[guildMessage]) uint64 { return m.Value.fingerprint })
	group := groups[fp]
	if len(group) < d.config.CoordinatedMessageThreshold {
		return nil
	}

	users := lo.Uniq(lo.Map(group, func(m window.Event[guildMessage], _ int) string { return m.Value.UserID }))
	if len(users) < d.config.MinDistinctUsers {
		return nil
	}
	channels := lo.Uniq(lo.Map(group, func(m window.Event[guildMessage], _ int) string { return m.Value.ChannelID }))

	strength := math.Min(1, float64(len(group))/float64(2*d.config.CoordinatedMessageThreshold))
	pattern, first := d.recordPattern(domain.CoordinatedPattern{
		ID:         uuid.NewString(),
		Type:       domain.PatternCoordinatedSpam,
		GuildID:    ev.GuildID,
		Users:      users,
		Strength:   strength,
		Confidence: math.Min(1, 0.7+0.1*float64(len(users)-d.config.MinDistinctUsers)),
		Evidence: map[string]string{
			"fingerprint": fmt.Sprintf("%016x", fp),
			"messages":    fmt.Sprint(len(group)),
			"channels":    fmt.Sprint(len(channels)),
		},
		DetectedAt: at,
	}, "fingerprint")

	if first {
		log.Info().
			Str("guild_id", ev.GuildID).
			Int("users", len(users)).
			Int("messages", len(group)).
			Msg("Coordinated spam detected")
		if d.spam != nil {
			if err := d.spam.Add(ev.Content); err != nil {
				log.Warn().Err(err).Str("guild_id", ev.GuildID).Msg("Failed to record spam fingerprint")
			}
		}
	}

	return &domain.CoordinatedSpamResult{
		GuildID:        ev.GuildID,
		Content:        ev.Content,
		Fingerprint:    fp,
		MessageCount:   len(group),
		InvolvedUsers:  users,
		Channels:       channels,
		UsersToTimeout: slices.Clone(users),
		Pattern:        &pattern,
		FirstDetection: first,
		DetectedAt:     at,
	}
}

// RecordReaction records a reaction and checks for a burst on the same
// message.
//
// Returns:
//   - The reaction-burst pattern the first time ReactionBurstThreshold
//     distinct users react within ReactionWindow, nil otherwise
func (d *RaidDetector) RecordReaction(ev domain.ReactionEvent) *domain.CoordinatedPattern {
	if ev.GuildID == "" || ev.MessageID == "" {
		return nil
	}
	at := d.eventTime(ev.At)
	ev.At = at

	recent := d.reactions.Observe(ev.GuildID+"/"+ev.MessageID, ev, at, d.config.ReactionWindow)
	users := lo.Uniq(lo.Map(recent, func(r window.Event[domain.ReactionEvent], _ int) string { return r.Value.UserID }))
	if len(users) < d.config.ReactionBurstThreshold {
		return nil
	}

	strength := math.Min(1, float64(len(users))/float64(2*d.config.ReactionBurstThreshold))
	pattern, first := d.recordPattern(domain.CoordinatedPattern{
		ID:         uuid.NewString(),
		Type:       domain.PatternReactionBurst,
		GuildID:    ev.GuildID,
		Users:      users,
		Strength:   strength,
		Confidence: 0.6 + 0.4*strength,
		Evidence: map[string]string{
			"message_id": ev.MessageID,
			"channel_id": ev.ChannelID,
			"reactions":  fmt.Sprint(len(recent)),
		},
		DetectedAt: at,
	}, "message_id")
	if !first {
		return nil
	}
	return &pattern
}

// recordPattern stores p in the guild's recent patterns. A pattern of the
// same type sharing the evidence key is the same incident: it is replaced,
// keeping its ID. Reports whether p is a new incident.
func (d *RaidDetector) recordPattern(p domain.CoordinatedPattern, key string) (domain.CoordinatedPattern, bool) {
	first := true
	cutoff := p.DetectedAt.Add(-d.config.PatternRetention)

	d.patterns.Compute(p.GuildID, func(old []domain.CoordinatedPattern, _ bool) ([]domain.CoordinatedPattern, bool) {
		next := make([]domain.CoordinatedPattern, 0, len(old)+1)
		for _, q := range old {
			if q.DetectedAt.Before(cutoff) {
				continue
			}
			if first && q.Type == p.Type && q.Evidence[key] == p.Evidence[key] {
				p.ID = q.ID
				first = false
				continue
			}
			next = append(next, q)
		}
		next = append(next, p)
		if over := len(next) - d.config.MaxPatternsPerGuild; over > 0 {
			next = slices.Delete(next, 0, over)
		}
		return next, false
	})
	return p, first
}

// RecentPatterns returns the guild's patterns from the last PatternRetention,
// oldest first.
func (d *RaidDetector) RecentPatterns(guildID string) []domain.CoordinatedPattern {
	stored, ok := d.patterns.Load(guildID)
	if !ok {
		return nil
	}
	cutoff := d.now().Add(-d.config.PatternRetention)
	return lo.Filter(stored, func(p domain.CoordinatedPattern, _ int) bool {
		return !p.DetectedAt.Before(cutoff)
	})
}

// ThreatAssessment synthesizes the guild's raid state, join pressure and
// recent coordination into a threat level.
func (d *RaidDetector) ThreatAssessment(guildID string) domain.ThreatAssessment {
	now := d.now()
	var score float64
	var factors []string

	if status, ok := d.RaidStatus(guildID); ok {
		score += 50
		factors = append(factors, fmt.Sprintf("active raid: %s (%s)", status.RaidType, status.Response))
		if status.Lockdown {
			score += 20
		}
	}

	settings := d.GuildSettings(guildID)
	if joins := len(d.joins.RecentSince(guildID, now.Add(-settings.RaidWindow))); joins > 0 {
		score += math.Min(20, 20*float64(joins)/float64(settings.JoinThreshold))
		factors = append(factors, fmt.Sprintf("%d joins in %s", joins, settings.RaidWindow))
	}

	if patterns := d.RecentPatterns(guildID); len(patterns) > 0 {
		score += math.Min(30, 10*float64(len(patterns)))
		counts := lo.CountValuesBy(patterns, func(p domain.CoordinatedPattern) domain.PatternType { return p.Type })
		for _, t := range []domain.PatternType{domain.PatternCoordinatedSpam, domain.PatternReactionBurst} {
			if n := counts[t]; n > 0 {
				factors = append(factors, fmt.Sprintf("%d %s patterns", n, t))
			}
		}
	}

	score = math.Min(100, score)
	level := threatLevelForScore(score)
	return domain.ThreatAssessment{
		GuildID:        guildID,
		Level:          level,
		Score:          score,
		Factors:        factors,
		Recommendation: threatRecommendation(level),
		Timestamp:      now,
	}
}

func threatLevelForScore(score float64) domain.ThreatLevel {
	switch {
	case score >= 80:
		return domain.ThreatCritical
	case score >= 60:
		return domain.ThreatHigh
	case score >= 35:
		return domain.ThreatElevated
	case score >= 10:
		return domain.ThreatLow
	default:
		return domain.ThreatNone
	}
}

func threatRecommendation(level domain.ThreatLevel) string {
	switch level {
	case domain.ThreatCritical:
		return "keep lockdown; remove the raid cohort"
	case domain.ThreatHigh:
		return "enable enhanced verification and review new joins"
	case domain.ThreatElevated:
		return "watch joins and repeated content closely"
	case domain.ThreatLow:
		return "no action; keep observing"
	default:
		return "no action"
	}
}

// Suspicion returns the account scorer used for joins.
func (d *RaidDetector) Suspicion() *SuspicionScorer {
	return d.suspicion
}

func (d *RaidDetector) Stats() RaidStats {
	patterns := 0
	d.patterns.Range(func(_ string, p []domain.CoordinatedPattern) bool {
		patterns += len(p)
		return true
	})
	return RaidStats{
		TrackedGuilds:  d.joins.Keys(),
		ActiveRaids:    d.ActiveRaids(),
		RecentPatterns: patterns,
		SuspicionCache: d.suspicion.CacheLen(),
	}
}

// Sweep prunes every buffer, drops expired raids and old patterns. Returns
// the number of reclaimed entries.
func (d *RaidDetector) Sweep() int {
	reclaimed := d.joins.Sweep() + d.messages.Sweep() + d.reactions.Sweep()

	now := d.now()
	d.statuses.Range(func(guildID string, _ *domain.RaidStatus) bool {
		d.statuses.Compute(guildID, func(old *domain.RaidStatus, loaded bool) (*domain.RaidStatus, bool) {
			if loaded && old.ActiveAt(now, d.config.RaidExpiry) {
				return old, false
			}
			reclaimed++
			return old, true
		})
		return true
	})

	cutoff := now.Add(-d.config.PatternRetention)
	d.patterns.Range(func(guildID string, _ []domain.CoordinatedPattern) bool {
		d.patterns.Compute(guildID, func(old []domain.CoordinatedPattern, _ bool) ([]domain.CoordinatedPattern, bool) {
			kept := lo.Filter(old, func(p domain.CoordinatedPattern, _ int) bool { return !p.DetectedAt.Before(cutoff) })
			reclaimed += len(old) - len(kept)
			return kept, len(kept) == 0
		})
		return true
	})
	return reclaimed
}

// StartSweeper runs Sweep every SweepInterval until ctx is done or Stop is
// called.
func (d *RaidDetector) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				if n := d.Sweep(); n > 0 {
					log.Debug().Int("reclaimed", n).Msg("Raid tracker sweep completed")
				}
			}
		}
	}()
}

// Stop halts the sweeper. Idempotent.
func (d *RaidDetector) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}
