package domain

import (
	"fmt"
	"slices"
	"time"
)

type JoinEvent struct {
	GuildID    string        `json:"guild_id"`
	UserID     string        `json:"user_id"`
	Username   string        `json:"username"`
	AccountAge time.Duration `json:"account_age"`
	HasAvatar  bool          `json:"has_avatar"`
	At         time.Time     `json:"at"`
}

type MessageEvent struct {
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	At        time.Time `json:"at"`
}

type ReactionEvent struct {
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Emoji     string    `json:"emoji"`
	At        time.Time `json:"at"`
}

type RaidType int

const (
	RaidJoinFlood RaidType = iota
	RaidNewAccountWave
	RaidSuspiciousNames
	RaidCoordinatedSpam
	RaidManual
)

func (r RaidType) String() string {
	switch r {
	case RaidJoinFlood:
		return "join_flood"
	case RaidNewAccountWave:
		return "new_account_wave"
	case RaidSuspiciousNames:
		return "suspicious_names"
	case RaidCoordinatedSpam:
		return "coordinated_spam"
	case RaidManual:
		return "manual"
	default:
		return fmt.Sprintf("raid(%d)", int(r))
	}
}

func (r RaidType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type RaidResponse int

const (
	ResponseMonitor RaidResponse = iota
	ResponseEnhancedVerification
	ResponseLockdown
)

func (r RaidResponse) String() string {
	switch r {
	case ResponseMonitor:
		return "monitor"
	case ResponseEnhancedVerification:
		return "enhanced_verification"
	case ResponseLockdown:
		return "lockdown"
	default:
		return fmt.Sprintf("response(%d)", int(r))
	}
}

func (r RaidResponse) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RaidStatus is the raid state of one guild.
type RaidStatus struct {
	GuildID              string       `json:"guild_id"`
	Active               bool         `json:"active"`
	EnhancedVerification bool         `json:"enhanced_verification"`
	Lockdown             bool         `json:"lockdown"`
	StartTime            time.Time    `json:"start_time"`
	RaidType             RaidType     `json:"raid_type"`
	Response             RaidResponse `json:"response"`
	Reason               string       `json:"reason,omitempty"`
	InvolvedUsers        []string     `json:"involved_users,omitempty"`
}

// ActiveAt reports whether the raid is still active at now given the
// auto-expiry duration.
func (s *RaidStatus) ActiveAt(now time.Time, expiry time.Duration) bool {
	return s != nil && s.Active && now.Sub(s.StartTime) < expiry
}

func (s RaidStatus) Clone() RaidStatus {
	s.InvolvedUsers = slices.Clone(s.InvolvedUsers)
	return s
}

type RaidDetectionResult struct {
	GuildID         string       `json:"guild_id"`
	RaidType        RaidType     `json:"raid_type"`
	Response        RaidResponse `json:"response"`
	JoinCount       int          `json:"join_count"`
	NewAccountRatio float64      `json:"new_account_ratio"`
	SuspiciousNames float64      `json:"suspicious_name_ratio"`
	Suspicious      bool         `json:"suspicious"`
	Confidence      float64      `json:"confidence"`
	InvolvedUsers   []string     `json:"involved_users"`
	UsersToKick     []string     `json:"users_to_kick,omitempty"`
	NewlyActivated  bool         `json:"newly_activated"`
	DetectedAt      time.Time    `json:"detected_at"`
}

type CoordinatedSpamResult struct {
	GuildID        string              `json:"guild_id"`
	Content        string              `json:"content"`
	Fingerprint    uint64              `json:"fingerprint"`
	MessageCount   int                 `json:"message_count"`
	InvolvedUsers  []string            `json:"involved_users"`
	Channels       []string            `json:"channels"`
	UsersToTimeout []string            `json:"users_to_timeout"`
	Pattern        *CoordinatedPattern `json:"pattern,omitempty"`
	FirstDetection bool                `json:"first_detection"`
	DetectedAt     time.Time           `json:"detected_at"`
}

func (r *CoordinatedSpamResult) Involves(userID string) bool {
	return r != nil && slices.Contains(r.InvolvedUsers, userID)
}

// CoordinatedPattern is an immutable record of correlated activity across
// users.
type CoordinatedPattern struct {
	ID         string            `json:"id"`
	Type       PatternType       `json:"type"`
	GuildID    string            `json:"guild_id"`
	Users      []string          `json:"users"`
	Strength   float64           `json:"strength"`
	Confidence float64           `json:"confidence"`
	Evidence   map[string]string `json:"evidence,omitempty"`
	DetectedAt time.Time         `json:"detected_at"`
}

// JoinAssessment is everything the raid detector concluded about one join.
type JoinAssessment struct {
	Raid           *RaidDetectionResult `json:"raid,omitempty"`
	SuspicionScore int                  `json:"suspicion_score"`
	Suspicious     bool                 `json:"suspicious"`
	Reasons        []string             `json:"reasons,omitempty"`
	Action         Action               `json:"action"`
	GuildUnderRaid bool                 `json:"guild_under_raid"`
}

type ThreatLevel int

const (
	ThreatNone ThreatLevel = iota
	ThreatLow
	ThreatElevated
	ThreatHigh
	ThreatCritical
)

func (t ThreatLevel) String() string {
	switch t {
	case ThreatNone:
		return "none"
	case ThreatLow:
		return "low"
	case ThreatElevated:
		return "elevated"
	case ThreatHigh:
		return "high"
	case ThreatCritical:
		return "critical"
	default:
		return fmt.Sprintf("threat(%d)", int(t))
	}
}

func (t ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ThreatAssessment is the guild-level counterpart of RiskAssessment.
type ThreatAssessment struct {
	GuildID        string      `json:"guild_id"`
	Level          ThreatLevel `json:"level"`
	Score          float64     `json:"score"`
	Factors        []string    `json:"factors,omitempty"`
	Recommendation string      `json:"recommendation"`
	Timestamp      time.Time   `json:"timestamp"`
}
