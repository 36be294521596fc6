package detection

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Context factor weights.
const (
	PublicChannelFactor = 0.5
	VoiceChannelFactor  = 0.3
	AnnouncementFactor  = 0.8
	NewMemberFactor     = 0.7
	MutedFactor         = 0.9
	NightHoursFactor    = 0.6
	PeakHoursFactor     = 0.4
	StaffFactor         = 0.2
)

type ContextConfig struct {
	StaffRoles           []string `mapstructure:"staff_roles"`
	NewMemberRoles       []string `mapstructure:"new_member_roles"`
	MutedRoles           []string `mapstructure:"muted_roles"`
	AnnouncementKeywords []string `mapstructure:"announcement_keywords"`
	NightStartHour       int      `mapstructure:"night_start_hour" validate:"gte=0,lte=23"`
	NightEndHour         int      `mapstructure:"night_end_hour" validate:"gte=0,lte=23"`
	PeakStartHour        int      `mapstructure:"peak_start_hour" validate:"gte=0,lte=23"`
	PeakEndHour          int      `mapstructure:"peak_end_hour" validate:"gte=0,lte=23"`
}

func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		StaffRoles:           []string{"admin", "moderator", "staff"},
		NewMemberRoles:       []string{"new member", "newcomer"},
		MutedRoles:           []string{"muted"},
		AnnouncementKeywords: []string{"announcement", "announcements", "news"},
		NightStartHour:       23,
		NightEndHour:         6,
		PeakStartHour:        18,
		PeakEndHour:          22,
	}
}

// ContextEvaluator weighs where, when and by whom a message was posted.
// Factors do not accumulate: the result is the largest triggered factor, or
// StaffFactor for staff regardless of the others.
//
// Thread Safety: safe for concurrent use. Loaded time zones are cached.
type ContextEvaluator struct {
	config    ContextConfig
	locations *xsync.MapOf[string, *time.Location]
}

// NewContextEvaluator creates a context evaluator. Nil role and keyword sets
// fall back to DefaultContextConfig; hours are taken as given.
func NewContextEvaluator(config ContextConfig) *ContextEvaluator {
	d := DefaultContextConfig()
	if config.StaffRoles == nil {
		config.StaffRoles = d.StaffRoles
	}
	if config.NewMemberRoles == nil {
		config.NewMemberRoles = d.NewMemberRoles
	}
	if config.MutedRoles == nil {
		config.MutedRoles = d.MutedRoles
	}
	if config.AnnouncementKeywords == nil {
		config.AnnouncementKeywords = d.AnnouncementKeywords
	}
	if config.NightStartHour == 0 && config.NightEndHour == 0 && config.PeakStartHour == 0 && config.PeakEndHour == 0 {
		config.NightStartHour, config.NightEndHour = d.NightStartHour, d.NightEndHour
		config.PeakStartHour, config.PeakEndHour = d.PeakStartHour, d.PeakEndHour
	}

	return &ContextEvaluator{
		config:    config,
		locations: xsync.NewMapOf[string, *time.Location](),
	}
}

func (e *ContextEvaluator) Name() string {
	return domain.ConditionContext.String()
}

// Evaluate scores the message context.
//
// Returns:
//   - ConditionResult matching whenever any factor applies
//   - FailedCondition when the user's time zone cannot be loaded
func (e *ContextEvaluator) Evaluate(_ context.Context, mctx *domain.ModerationContext) domain.ConditionResult {
	loc, err := e.location(mctx.Timezone)
	if err != nil {
		return domain.FailedCondition(e.Name(), err)
	}

	if mctx.HasRole(e.config.StaffRoles...) {
		return domain.ConditionResult{
			Match:      true,
			Confidence: StaffFactor,
			Reasons:    []string{"staff member"},
		}
	}

	var result domain.ConditionResult
	add := func(factor float64, reason string) {
		result.Match = true
		result.Confidence = max(result.Confidence, factor)
		result.Reasons = append(result.Reasons, reason)
	}

	switch mctx.ChannelType {
	case domain.ChannelText, domain.ChannelThread, domain.ChannelForum:
		add(PublicChannelFactor, "public channel")
	case domain.ChannelVoice:
		add(VoiceChannelFactor, "voice channel")
	case domain.ChannelAnnouncement:
		add(AnnouncementFactor, "announcement channel")
	case domain.ChannelDirect:
	}
	if mctx.ChannelType != domain.ChannelAnnouncement && e.isAnnouncementName(mctx.ChannelName) {
		add(AnnouncementFactor, fmt.Sprintf("announcement channel #%s", mctx.ChannelName))
	}

	if mctx.HasRole(e.config.NewMemberRoles...) {
		add(NewMemberFactor, "new member")
	}
	if mctx.HasRole(e.config.MutedRoles...) {
		add(MutedFactor, "muted member")
	}

	hour := mctx.At().In(loc).Hour()
	if inHours(hour, e.config.NightStartHour, e.config.NightEndHour) {
		add(NightHoursFactor, fmt.Sprintf("night hours (%02d:00 local)", hour))
	} else if inHours(hour, e.config.PeakStartHour, e.config.PeakEndHour) {
		add(PeakHoursFactor, fmt.Sprintf("peak hours (%02d:00 local)", hour))
	}

	return result
}

func (e *ContextEvaluator) isAnnouncementName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range e.config.AnnouncementKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *ContextEvaluator) location(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	if loc, ok := e.locations.Load(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	e.locations.Store(name, loc)
	return loc, nil
}

// inHours reports whether hour falls in [start, end), wrapping past midnight
// when start > end.
func inHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
