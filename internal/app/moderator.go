package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/detection"
	"github.com/HolyFlex-tecjh/axion/internal/adapters/tracking"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

// Metadata keys set by upstream classifiers on a ModerationContext.
const (
	MetaFlaggedToxic = "flagged_toxic"
	MetaFlaggedSpam  = "flagged_spam"
)

// Moderator is the entry point of the moderation core. It owns every
// evaluator and tracker and turns one message into one decision.
//
// Evaluation Flow:
//  1. Run the rules engine and the coordinated-spam check concurrently
//  2. On a rule match, record a violation and apply escalation
//  3. Pick the action from the primary rule, the escalated confidence tier
//     and coordinated spam involvement; escalation climbs one tier per
//     repeat offense
//  4. Record the message on the author's profile with the verdict's spam
//     and toxicity flags
//  5. On a non-allow action, update the profile and fold in its risk
//
// Evaluate performs no I/O. Alerts for its decisions are built by the
// caller (see WorkerPool).
//
// Thread Safety: safe for concurrent use. Reload swaps the rule set and the
// action table atomically; tracker state is kept across reloads.
type Moderator struct {
	content    *detection.ContentEvaluator
	behavior   *detection.BehaviorEvaluator
	contextual *detection.ContextEvaluator
	blocked    *detection.BlockedTermsEvaluator
	known      *detection.FingerprintStore

	escalation *tracking.EscalationEngine
	raids      *tracking.RaidDetector
	profiles   *tracking.ProfileTracker

	engine  atomic.Pointer[RulesEngine]
	actions atomic.Pointer[ActionConfig]

	metrics ports.MetricsCollector

	evaluations atomic.Int64
	triggered   atomic.Int64
	actioned    atomic.Int64
	panics      atomic.Int64
	joins       atomic.Int64
	raidsSeen   atomic.Int64
	patterns    atomic.Int64

	stopOnce sync.Once
}

// ModeratorStats is a point-in-time view of the moderator counters and
// cache sizes.
type ModeratorStats struct {
	Evaluations        int64              `json:"evaluations"`
	Triggered          int64              `json:"triggered"`
	Actioned           int64              `json:"actioned"`
	TriggerRate        float64            `json:"trigger_rate"`
	DetectionRate      float64            `json:"detection_rate"`
	Panics             int64              `json:"panics"`
	Joins              int64              `json:"joins"`
	RaidsDetected      int64              `json:"raids_detected"`
	CoordinatedPattern int64              `json:"coordinated_patterns"`
	Raid               tracking.RaidStats `json:"raid"`
	Profiles           int                `json:"profiles"`
	MonitoredProfiles  int                `json:"monitored_profiles"`
	EscalationUsers    int                `json:"escalation_users"`
	BehaviorUsers      int                `json:"behavior_users"`
	KnownSpam          int                `json:"known_spam"`
	BlockedTerms       int                `json:"blocked_terms"`
	Rules              int                `json:"rules"`
}

// NewModerator validates cfg and builds every component.
//
// Returns:
//   - *domain.ConfigValidationError for rejected settings
//   - Error if the known-spam store or file cannot be opened
func NewModerator(cfg *Config) (*Moderator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := *cfg
	c.withClock()

	escCfg, err := c.Escalation.EngineConfig()
	if err != nil {
		return nil, err
	}
	escCfg.Now = c.Clock

	known, err := detection.NewFingerprintStore(c.Rules.KnownSpam)
	if err != nil {
		return nil, fmt.Errorf("opening known-spam store: %w", err)
	}
	if c.Rules.KnownSpamFile != "" {
		if err := known.LoadFromFile(context.Background(), c.Rules.KnownSpamFile); err != nil {
			_ = known.Close()
			return nil, fmt.Errorf("loading known-spam file: %w", err)
		}
	}

	m := &Moderator{
		content:    detection.NewContentEvaluator(c.Content),
		behavior:   detection.NewBehaviorEvaluator(c.Behavior),
		contextual: detection.NewContextEvaluator(c.Context),
		blocked:    detection.NewBlockedTermsEvaluator(c.Rules.BlockedTerms),
		known:      known,
		escalation: tracking.NewEscalationEngine(escCfg),
		raids:      tracking.NewRaidDetector(c.Raid, known),
		profiles:   tracking.NewProfileTracker(c.Profile),
	}

	engine, err := m.buildEngine(c.Rules)
	if err != nil {
		_ = known.Close()
		return nil, err
	}
	m.engine.Store(engine)
	actions := c.Actions
	m.actions.Store(&actions)

	log.Debug().
		Int("rules", engine.Len()).
		Int("blocked_terms", m.blocked.TermCount()).
		Int("known_spam", known.Count()).
		Msg("Moderator initialized")
	return m, nil
}

func (m *Moderator) buildEngine(cfg RulesConfig) (*RulesEngine, error) {
	engine := NewRulesEngine(cfg.DecisionThreshold,
		m.content,
		m.behavior,
		m.contextual,
		m.blocked,
		detection.NewKnownSpamEvaluator(m.known),
	)
	rules, err := BuildRules(cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		if err := engine.AddRule(r); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// SetMetrics installs a metrics collector. Call before processing starts.
func (m *Moderator) SetMetrics(metrics ports.MetricsCollector) {
	m.metrics = metrics
}

// Start launches the background sweeps of every tracker.
func (m *Moderator) Start(ctx context.Context) {
	m.behavior.StartSweeper(ctx)
	m.escalation.StartSweeper(ctx)
	m.raids.StartSweeper(ctx)
	m.profiles.StartMaintenance(ctx)
}

// Stop ends the background sweeps and closes the known-spam store.
func (m *Moderator) Stop() {
	m.stopOnce.Do(func() {
		m.behavior.Stop()
		m.escalation.Stop()
		m.raids.Stop()
		m.profiles.Stop()
		if err := m.known.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close known-spam store")
		}
	})
}

// Reload applies a new rule set, blocked-term list and action table.
// Evaluator thresholds and tracker state are kept.
func (m *Moderator) Reload(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine, err := m.buildEngine(cfg.Rules)
	if err != nil {
		return err
	}
	m.blocked.Update(cfg.Rules.BlockedTerms)
	actions := cfg.Actions
	m.actions.Store(&actions)
	m.engine.Store(engine)
	log.Info().Int("rules", engine.Len()).Int("blocked_terms", m.blocked.TermCount()).Msg("Moderation rules reloaded")
	return nil
}

func flagged(mctx *domain.ModerationContext, key string) bool {
	v, ok := mctx.Metadata[key]
	return ok && (v == "true" || v == "1")
}

// Evaluate decides what to do with one message. It never panics and never
// returns an error: internal failures produce an Allow decision with the
// failure listed in Errors.
func (m *Moderator) Evaluate(ctx context.Context, mctx *domain.ModerationContext) (decision domain.ModerationDecision) {
	start := time.Now()
	id := uuid.NewString()
	if mctx == nil {
		mctx = &domain.ModerationContext{}
	}

	defer func() {
		if r := recover(); r != nil {
			m.panics.Add(1)
			log.Error().
				Interface("panic", r).
				Str("user_id", mctx.UserID).
				Str("guild_id", mctx.GuildID).
				Msg("Evaluation panic recovered, allowing message")
			decision = domain.AllowDecision(id, mctx)
			decision.Errors = []string{fmt.Sprintf("panic: %v", r)}
		}
		decision.Latency = time.Since(start)
		m.observe(&decision)
	}()

	m.evaluations.Add(1)
	at := mctx.At()

	var (
		result      domain.RuleEvaluationResult
		coordinated *domain.CoordinatedSpamResult
		panicked    atomic.Value
	)
	guard := func(fn func()) func() error {
		return func() error {
			defer func() {
				if r := recover(); r != nil {
					panicked.Store(fmt.Sprint(r))
				}
			}()
			fn()
			return nil
		}
	}
	engine := m.engine.Load()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() { result = engine.Evaluate(gctx, mctx) }))
	g.Go(guard(func() {
		coordinated = m.raids.RecordMessageForRaid(domain.MessageEvent{
			GuildID:   mctx.GuildID,
			UserID:    mctx.UserID,
			ChannelID: mctx.ChannelID,
			Content:   mctx.Content,
			At:        at,
		})
	}))
	_ = g.Wait()
	if p := panicked.Load(); p != nil {
		panic(p)
	}

	decision = domain.AllowDecision(id, mctx)
	decision.Errors = lo.Map(result.Errors, func(err error, _ int) string { return err.Error() })
	if coordinated != nil {
		if coordinated.FirstDetection {
			m.patterns.Add(1)
			if m.metrics != nil {
				m.metrics.IncrementPatterns(domain.PatternCoordinatedSpam)
			}
		}
		if coordinated.Involves(mctx.UserID) {
			decision.Coordinated = coordinated
		}
	}

	actions := m.actions.Load()
	action := domain.ActionAllow
	severity := result.Severity
	confidence := result.Confidence
	factor := 1.0

	if result.Matched() {
		m.triggered.Add(1)
		decision.TriggeredRules = result.Triggered
		decision.Reasons = result.Reasons()
		action = result.Primary.Action

		esc := m.escalation.RecordViolation(mctx.UserID, domain.ViolationEvent{
			Timestamp:  at,
			GuildID:    mctx.GuildID,
			ChannelID:  mctx.ChannelID,
			Confidence: result.Confidence,
			Severity:   result.Severity,
			RuleIDs:    result.RuleIDs(),
		})
		decision.Escalation = &esc
		if esc.ShouldEscalate {
			confidence = esc.EscalatedConfidence
			factor = esc.Factor
			action = actions.EscalatedTier(action, confidence, esc.RepeatOffenses)
			decision.Reasons = append(decision.Reasons, esc.Factors...)
		}
		if confidence < actions.WarnThreshold {
			action = domain.ActionAllow
		}
	}

	if decision.Coordinated != nil {
		action = domain.MaxAction(action, domain.ActionTimeout)
		severity = max(severity, domain.SeverityMedium)
		if p := decision.Coordinated.Pattern; p != nil {
			confidence = max(confidence, p.Confidence)
		}
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("coordinated spam across %d users", len(decision.Coordinated.InvolvedUsers)))
	}

	decision.Confidence = confidence
	m.recordMessageActivity(mctx, at, &result, decision.Coordinated != nil)
	if action == domain.ActionAllow {
		return decision
	}

	m.profiles.RecordViolation(mctx.UserID, mctx.GuildID, severity, mctx.Content)
	patterns := result.Patterns
	if decision.Coordinated != nil {
		patterns = append(patterns, domain.PatternCoordinatedSpam)
	}
	for _, p := range lo.Uniq(patterns) {
		m.profiles.RecordPattern(mctx.UserID, mctx.GuildID, p)
	}

	risk := m.profiles.Assess(mctx.UserID, mctx.GuildID)
	decision.Risk = &risk
	if risk.Level == domain.RiskCritical && action == domain.ActionWarn {
		action = domain.ActionTimeout
		decision.Reasons = append(decision.Reasons, "critical user risk")
	}

	decision.Allowed = false
	decision.Action = action
	decision.Severity = severity
	if action == domain.ActionTimeout {
		decision.TimeoutDuration = actions.TimeoutFor(factor)
	}
	m.actioned.Add(1)

	log.Debug().
		Str("decision_id", decision.ID).
		Str("user_id", decision.UserID).
		Str("guild_id", decision.GuildID).
		Str("action", action.String()).
		Float64("confidence", confidence).
		Strs("rules", result.RuleIDs()).
		Msg("Message actioned")
	return decision
}

// recordMessageActivity updates the author's profile once the verdict is
// known. Spam and toxicity come from the triggered patterns or from caller
// flags; any triggered rule withholds the clean-activity bonus.
func (m *Moderator) recordMessageActivity(mctx *domain.ModerationContext, at time.Time, result *domain.RuleEvaluationResult, coordinated bool) {
	activity := domain.Activity{
		Type:      domain.ActivityMessage,
		At:        at,
		ChannelID: mctx.ChannelID,
		Content:   mctx.Content,
		Toxic:     flagged(mctx, MetaFlaggedToxic),
		Spam:      flagged(mctx, MetaFlaggedSpam) || coordinated,
		Flagged:   result.Matched() || coordinated,
	}
	for _, p := range result.Patterns {
		activity.Toxic = activity.Toxic || p.IsToxic()
		activity.Spam = activity.Spam || p.IsSpam()
	}
	m.profiles.RecordActivity(mctx.UserID, mctx.GuildID, activity)
}

func (m *Moderator) observe(d *domain.ModerationDecision) {
	if m.metrics == nil {
		return
	}
	m.metrics.IncrementDecisions(d.Action)
	for _, t := range d.TriggeredRules {
		m.metrics.IncrementRuleTriggers(t.RuleID)
	}
	m.metrics.ObserveEvaluationTime(d.Latency.Seconds())
}

// RecordJoin feeds a member join to the raid detector and the joiner's
// profile.
func (m *Moderator) RecordJoin(ev domain.JoinEvent) domain.JoinAssessment {
	m.joins.Add(1)
	m.profiles.RecordActivity(ev.UserID, ev.GuildID, domain.Activity{Type: domain.ActivityJoin, At: ev.At})

	assessment := m.raids.RecordJoin(ev)
	if assessment.Suspicious {
		m.profiles.RecordPattern(ev.UserID, ev.GuildID, domain.PatternSuspiciousAccount)
	}
	if assessment.Raid != nil {
		m.profiles.RecordPattern(ev.UserID, ev.GuildID, domain.PatternRaidJoin)
		if assessment.Raid.NewlyActivated {
			m.raidsSeen.Add(1)
			if m.metrics != nil {
				m.metrics.IncrementRaids(assessment.Raid.Response)
			}
		}
	}
	return assessment
}

// RecordMessageForRaid runs only the coordinated-spam check. Evaluate already
// does this for every message it sees.
func (m *Moderator) RecordMessageForRaid(ev domain.MessageEvent) *domain.CoordinatedSpamResult {
	result := m.raids.RecordMessageForRaid(ev)
	if result != nil && result.FirstDetection {
		m.patterns.Add(1)
		if m.metrics != nil {
			m.metrics.IncrementPatterns(domain.PatternCoordinatedSpam)
		}
	}
	return result
}

// RecordReaction feeds a reaction to the reaction-burst check. The reacting
// users of a new burst get the pattern on their profiles.
func (m *Moderator) RecordReaction(ev domain.ReactionEvent) *domain.CoordinatedPattern {
	m.profiles.RecordActivity(ev.UserID, ev.GuildID, domain.Activity{Type: domain.ActivityReaction, At: ev.At, ChannelID: ev.ChannelID})

	pattern := m.raids.RecordReaction(ev)
	if pattern == nil {
		return nil
	}
	m.patterns.Add(1)
	for _, u := range pattern.Users {
		m.profiles.RecordPattern(u, ev.GuildID, domain.PatternReactionBurst)
	}
	if m.metrics != nil {
		m.metrics.IncrementPatterns(domain.PatternReactionBurst)
	}
	return pattern
}

func (m *Moderator) GetRiskAssessment(userID, guildID string) domain.RiskAssessment {
	return m.profiles.Assess(userID, guildID)
}

func (m *Moderator) IsGuildUnderRaidAlert(guildID string) bool {
	return m.raids.IsGuildUnderRaidAlert(guildID)
}

func (m *Moderator) DeactivateRaidMode(guildID string) bool {
	return m.raids.DeactivateRaidMode(guildID)
}

func (m *Moderator) ActivateLockdown(guildID, reason string) domain.RaidStatus {
	return m.raids.ActivateLockdown(guildID, reason)
}

func (m *Moderator) ExtendRaidMode(guildID string) bool {
	return m.raids.ExtendRaidMode(guildID)
}

func (m *Moderator) SetGuildSettings(guildID string, s tracking.GuildSettings) error {
	return m.raids.SetGuildSettings(guildID, s)
}

func (m *Moderator) ThreatAssessment(guildID string) domain.ThreatAssessment {
	return m.raids.ThreatAssessment(guildID)
}

func (m *Moderator) RaidStatus(guildID string) (domain.RaidStatus, bool) {
	return m.raids.RaidStatus(guildID)
}

func (m *Moderator) ProfileSnapshot(userID, guildID string) (domain.ProfileSnapshot, bool) {
	return m.profiles.Snapshot(userID, guildID)
}

// ForgiveUser clears a user's profile, violation history and message window,
// for example after a successful appeal.
func (m *Moderator) ForgiveUser(userID, guildID string) {
	m.profiles.Reset(userID, guildID)
	m.escalation.Reset(userID)
	m.behavior.Reset(userID)
}

// Rules returns copies of the active rules in evaluation order.
func (m *Moderator) Rules() []*domain.ModerationRule {
	return m.engine.Load().Rules()
}

// RulesEngine exposes the live engine for runtime rule changes. A Reload
// replaces it.
func (m *Moderator) RulesEngine() *RulesEngine {
	return m.engine.Load()
}

// AddKnownSpam records content as confirmed spam for the known-spam rule.
func (m *Moderator) AddKnownSpam(content string) error {
	return m.known.Add(content)
}

func (m *Moderator) Stats() ModeratorStats {
	evaluations := m.evaluations.Load()
	triggered := m.triggered.Load()
	actioned := m.actioned.Load()
	stats := ModeratorStats{
		Evaluations:        evaluations,
		Triggered:          triggered,
		Actioned:           actioned,
		Panics:             m.panics.Load(),
		Joins:              m.joins.Load(),
		RaidsDetected:      m.raidsSeen.Load(),
		CoordinatedPattern: m.patterns.Load(),
		Raid:               m.raids.Stats(),
		Profiles:           m.profiles.Len(),
		MonitoredProfiles:  m.profiles.Monitored(),
		EscalationUsers:    m.escalation.TrackedUsers(),
		BehaviorUsers:      m.behavior.TrackedUsers(),
		KnownSpam:          m.known.Count(),
		BlockedTerms:       m.blocked.TermCount(),
		Rules:              m.engine.Load().Len(),
	}
	if evaluations > 0 {
		stats.TriggerRate = float64(triggered) / float64(evaluations)
		stats.DetectionRate = float64(actioned) / float64(evaluations)
	}
	return stats
}
