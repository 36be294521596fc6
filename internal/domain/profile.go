package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	MaxActivityHistory = 50
	MaxFlaggedContent  = 100

	InitialTrust      = 50.0
	InitialReputation = 50.0

	emaAlpha = 0.1
)

type RiskLevel int

const (
	RiskMinimal RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskMinimal:
		return "minimal"
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskLow
	default:
		return RiskMinimal
	}
}

type PatternType int

const (
	PatternSpam PatternType = iota
	PatternFlooding
	PatternDuplicateContent
	PatternRapidPosting
	PatternExcessiveCaps
	PatternLinkSpam
	PatternMassMention
	PatternToxicity
	PatternCoordinatedSpam
	PatternRaidJoin
	PatternReactionBurst
	PatternSuspiciousAccount
)

var patternNames = [...]string{
	PatternSpam:              "spam",
	PatternFlooding:          "flooding",
	PatternDuplicateContent:  "duplicate_content",
	PatternRapidPosting:      "rapid_posting",
	PatternExcessiveCaps:     "excessive_caps",
	PatternLinkSpam:          "link_spam",
	PatternMassMention:       "mass_mention",
	PatternToxicity:          "toxicity",
	PatternCoordinatedSpam:   "coordinated_spam",
	PatternRaidJoin:          "raid_join",
	PatternReactionBurst:     "reaction_burst",
	PatternSuspiciousAccount: "suspicious_account",
}

func (p PatternType) String() string {
	if p >= 0 && int(p) < len(patternNames) {
		return patternNames[p]
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

// IsSpam reports whether the pattern is a form of spam for the spam
// average of a profile.
func (p PatternType) IsSpam() bool {
	switch p {
	case PatternSpam, PatternFlooding, PatternDuplicateContent, PatternRapidPosting,
		PatternExcessiveCaps, PatternLinkSpam, PatternMassMention, PatternCoordinatedSpam:
		return true
	default:
		return false
	}
}

func (p PatternType) IsToxic() bool {
	return p == PatternToxicity
}

func (p PatternType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type ActivityType int

const (
	ActivityMessage ActivityType = iota
	ActivityJoin
	ActivityReaction
	ActivityEdit
	ActivityVoice
)

func (a ActivityType) String() string {
	switch a {
	case ActivityMessage:
		return "message"
	case ActivityJoin:
		return "join"
	case ActivityReaction:
		return "reaction"
	case ActivityEdit:
		return "edit"
	case ActivityVoice:
		return "voice"
	default:
		return fmt.Sprintf("activity(%d)", int(a))
	}
}

func (a ActivityType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Activity is one thing a user did. Toxic and Spam carry upstream detector
// verdicts and feed the profile's moving averages.
type Activity struct {
	Type      ActivityType
	At        time.Time
	ChannelID string
	Content   string
	Toxic     bool
	Spam      bool
	Flagged   bool // a rule fired; no clean-activity bonus
}

// UserBehaviorProfile is the long-lived state of one user in one guild.
//
// Thread Safety: all methods lock the profile.
type UserBehaviorProfile struct {
	UserID    string
	GuildID   string
	CreatedAt time.Time

	mu            sync.Mutex
	trust         float64
	reputation    float64
	patterns      map[PatternType]int
	activityCount map[ActivityType]int
	history       map[ActivityType][]time.Time
	flagged       []string
	flaggedSet    map[string]struct{}
	toxicityEMA   float64
	spamEMA       float64
	violations    int
	intervalN     int
	intervalMean  float64
	intervalM2    float64
	lastMessage   time.Time
	lastActivity  time.Time
	riskLevel     RiskLevel
	monitored     bool
}

func NewUserBehaviorProfile(userID, guildID string, now time.Time) *UserBehaviorProfile {
	return &UserBehaviorProfile{
		UserID:        userID,
		GuildID:       guildID,
		CreatedAt:     now,
		trust:         InitialTrust,
		reputation:    InitialReputation,
		patterns:      make(map[PatternType]int),
		activityCount: make(map[ActivityType]int),
		history:       make(map[ActivityType][]time.Time),
		flaggedSet:    make(map[string]struct{}),
		lastActivity:  now,
	}
}

// RecordActivity updates counters, history, message cadence and the
// toxicity/spam averages. Unflagged activity nudges trust and reputation up.
func (p *UserBehaviorProfile) RecordActivity(a Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.activityCount[a.Type]++
	h := append(p.history[a.Type], a.At)
	if len(h) > MaxActivityHistory {
		h = slices.Delete(h, 0, len(h)-MaxActivityHistory)
	}
	p.history[a.Type] = h
	if a.At.After(p.lastActivity) {
		p.lastActivity = a.At
	}

	if a.Type == ActivityMessage {
		if !p.lastMessage.IsZero() && a.At.After(p.lastMessage) {
			// Welford's streaming mean/variance over inter-message gaps.
			gap := a.At.Sub(p.lastMessage).Seconds()
			p.intervalN++
			delta := gap - p.intervalMean
			p.intervalMean += delta / float64(p.intervalN)
			p.intervalM2 += delta * (gap - p.intervalMean)
		}
		if a.At.After(p.lastMessage) {
			p.lastMessage = a.At
		}
	}

	if a.Toxic {
		p.toxicityEMA = ema(p.toxicityEMA, 100)
	}
	if a.Spam {
		p.spamEMA = ema(p.spamEMA, 100)
	}
	if !a.Toxic && !a.Spam && !a.Flagged {
		p.trust = clampScore(p.trust + 0.1)
		p.reputation = clampScore(p.reputation + 0.05)
	}
}

// RecordViolation applies the severity-scaled trust and reputation penalty
// and remembers the offending content.
func (p *UserBehaviorProfile) RecordViolation(severity Severity, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	scale := severity.PenaltyScale()
	p.trust = clampScore(p.trust - 5*scale)
	p.reputation = clampScore(p.reputation - 3*scale)
	p.violations++

	if content == "" {
		return
	}
	if _, ok := p.flaggedSet[content]; ok {
		return
	}
	p.flagged = append(p.flagged, content)
	p.flaggedSet[content] = struct{}{}
	if len(p.flagged) > MaxFlaggedContent {
		delete(p.flaggedSet, p.flagged[0])
		p.flagged = slices.Delete(p.flagged, 0, 1)
	}
}

func (p *UserBehaviorProfile) RecordPattern(pattern PatternType) {
	p.mu.Lock()
	p.patterns[pattern]++
	p.mu.Unlock()
}

// Decay pulls the averages toward zero and trust/reputation one point toward
// their initial value. Pattern counters are not touched.
func (p *UserBehaviorProfile) Decay(factor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.toxicityEMA *= factor
	p.spamEMA *= factor
	p.trust = towards(p.trust, InitialTrust, 1)
	p.reputation = towards(p.reputation, InitialReputation, 1)
}

// Reset clears pattern counters and violation state.
func (p *UserBehaviorProfile) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.patterns)
	p.violations = 0
	p.flagged = nil
	clear(p.flaggedSet)
	p.toxicityEMA = 0
	p.spamEMA = 0
	p.trust = InitialTrust
	p.reputation = InitialReputation
	p.riskLevel = RiskMinimal
}

// Assess computes the current risk and stores the resulting level.
func (p *UserBehaviorProfile) Assess(now time.Time) RiskAssessment {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, n := range p.patterns {
		total += n
	}

	patternScore := math.Min(100, float64(total)*5)
	score := p.toxicityEMA*0.3 +
		p.spamEMA*0.25 +
		(100-p.trust)*0.2 +
		(100-p.reputation)*0.15 +
		patternScore*0.1
	score = clampScore(score)
	level := RiskLevelForScore(score)
	p.riskLevel = level

	var factors []string
	if p.toxicityEMA >= 10 {
		factors = append(factors, fmt.Sprintf("toxicity average %.1f", p.toxicityEMA))
	}
	if p.spamEMA >= 10 {
		factors = append(factors, fmt.Sprintf("spam average %.1f", p.spamEMA))
	}
	if p.trust < InitialTrust {
		factors = append(factors, fmt.Sprintf("trust %.1f", p.trust))
	}
	if p.reputation < InitialReputation {
		factors = append(factors, fmt.Sprintf("reputation %.1f", p.reputation))
	}
	if total > 0 {
		factors = append(factors, fmt.Sprintf("%d detected patterns", total))
	}

	return RiskAssessment{
		UserID:             p.UserID,
		GuildID:            p.GuildID,
		Level:              level,
		Score:              score,
		Factors:            factors,
		Recommendation:     level.Recommendation(),
		RequiresMonitoring: level >= RiskHigh || p.trust < 20 || total > 15,
		Timestamp:          now,
	}
}

func (p *UserBehaviorProfile) SetMonitored(v bool) {
	p.mu.Lock()
	p.monitored = v
	p.mu.Unlock()
}

func (p *UserBehaviorProfile) Monitored() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.monitored
}

func (p *UserBehaviorProfile) LastActivity() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActivity
}

// Snapshot returns a detached copy for read-only consumers.
func (p *UserBehaviorProfile) Snapshot() ProfileSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	history := make(map[ActivityType][]time.Time, len(p.history))
	for k, v := range p.history {
		history[k] = slices.Clone(v)
	}
	variance := 0.0
	if p.intervalN > 1 {
		variance = p.intervalM2 / float64(p.intervalN-1)
	}

	return ProfileSnapshot{
		UserID:           p.UserID,
		GuildID:          p.GuildID,
		CreatedAt:        p.CreatedAt,
		Trust:            p.trust,
		Reputation:       p.reputation,
		Patterns:         maps.Clone(p.patterns),
		ActivityCounts:   maps.Clone(p.activityCount),
		ActivityHistory:  history,
		FlaggedContent:   slices.Clone(p.flagged),
		ToxicityAverage:  p.toxicityEMA,
		SpamAverage:      p.spamEMA,
		Violations:       p.violations,
		IntervalMean:     p.intervalMean,
		IntervalVariance: variance,
		LastActivity:     p.lastActivity,
		RiskLevel:        p.riskLevel,
		Monitored:        p.monitored,
	}
}

// ProfileSnapshot is a point-in-time copy of a UserBehaviorProfile.
type ProfileSnapshot struct {
	UserID           string                       `json:"user_id"`
	GuildID          string                       `json:"guild_id"`
	CreatedAt        time.Time                    `json:"created_at"`
	Trust            float64                      `json:"trust"`
	Reputation       float64                      `json:"reputation"`
	Patterns         map[PatternType]int          `json:"patterns,omitempty"`
	ActivityCounts   map[ActivityType]int         `json:"activity_counts,omitempty"`
	ActivityHistory  map[ActivityType][]time.Time `json:"-"`
	FlaggedContent   []string                     `json:"flagged_content,omitempty"`
	ToxicityAverage  float64                      `json:"toxicity_average"`
	SpamAverage      float64                      `json:"spam_average"`
	Violations       int                          `json:"violations"`
	IntervalMean     float64                      `json:"interval_mean_seconds"`
	IntervalVariance float64                      `json:"interval_variance"`
	LastActivity     time.Time                    `json:"last_activity"`
	RiskLevel        RiskLevel                    `json:"risk_level"`
	Monitored        bool                         `json:"monitored"`
}

func (s ProfileSnapshot) TotalPatterns() int {
	total := 0
	for _, n := range s.Patterns {
		total += n
	}
	return total
}

// RiskAssessment is a point-in-time risk synthesis for one profile.
type RiskAssessment struct {
	UserID             string    `json:"user_id"`
	GuildID            string    `json:"guild_id"`
	Level              RiskLevel `json:"level"`
	Score              float64   `json:"score"`
	Factors            []string  `json:"factors,omitempty"`
	Recommendation     string    `json:"recommendation"`
	RequiresMonitoring bool      `json:"requires_monitoring"`
	Timestamp          time.Time `json:"timestamp"`
}

func (r RiskLevel) Recommendation() string {
	switch r {
	case RiskCritical:
		return "immediate moderator review; restrict the account"
	case RiskHigh:
		return "monitor closely and apply stricter limits"
	case RiskMedium:
		return "watch for further violations"
	case RiskLow:
		return "no action; keep observing"
	default:
		return "no action"
	}
}

func ema(prev, sample float64) float64 {
	return prev*(1-emaAlpha) + sample*emaAlpha
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func towards(v, target, step float64) float64 {
	switch {
	case v < target:
		return math.Min(target, v+step)
	case v > target:
		return math.Max(target, v-step)
	default:
		return v
	}
}
