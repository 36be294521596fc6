package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func TestContextEvaluator_Factors(t *testing.T) {
	e := NewContextEvaluator(DefaultContextConfig())
	noon := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		mctx     domain.ModerationContext
		wantConf float64
	}{
		{
			name:     "public text channel at noon",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelText, Timestamp: noon},
			wantConf: PublicChannelFactor,
		},
		{
			name:     "voice channel",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelVoice, Timestamp: noon},
			wantConf: VoiceChannelFactor,
		},
		{
			name:     "announcement by name",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelText, ChannelName: "server-announcements", Timestamp: noon},
			wantConf: AnnouncementFactor,
		},
		{
			name:     "new member",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelText, Roles: []string{"New Member"}, Timestamp: noon},
			wantConf: NewMemberFactor,
		},
		{
			name:     "muted member",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelText, Roles: []string{"muted", "new member"}, Timestamp: noon},
			wantConf: MutedFactor,
		},
		{
			name:     "night hours in voice",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelVoice, Timestamp: time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)},
			wantConf: NightHoursFactor,
		},
		{
			name:     "peak hours in voice",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelVoice, Timestamp: time.Date(2024, 5, 1, 19, 30, 0, 0, time.UTC)},
			wantConf: PeakHoursFactor,
		},
		{
			name:     "staff overrides everything",
			mctx:     domain.ModerationContext{ChannelType: domain.ChannelAnnouncement, Roles: []string{"muted", "Moderator"}, Timestamp: noon},
			wantConf: StaffFactor,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := e.Evaluate(context.Background(), &tc.mctx)
			require.NoError(t, result.Error)
			assert.True(t, result.Match)
			assert.Equal(t, tc.wantConf, result.Confidence)
			assert.NotEmpty(t, result.Reasons)
		})
	}
}

func TestContextEvaluator_DirectMessageDaytime(t *testing.T) {
	e := NewContextEvaluator(DefaultContextConfig())

	result := e.Evaluate(context.Background(), &domain.ModerationContext{
		ChannelType: domain.ChannelDirect,
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	assert.False(t, result.Match)
}

func TestContextEvaluator_LocalTimezone(t *testing.T) {
	e := NewContextEvaluator(DefaultContextConfig())

	// 04:00 UTC is 23:00 the previous evening in New York (EST, UTC-5).
	mctx := &domain.ModerationContext{
		ChannelType: domain.ChannelVoice,
		Timezone:    "America/New_York",
		Timestamp:   time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC),
	}
	result := e.Evaluate(context.Background(), mctx)
	require.NoError(t, result.Error)
	assert.Equal(t, NightHoursFactor, result.Confidence)

	// 01:00 UTC is 20:00 in New York.
	mctx.Timestamp = time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC)
	result = e.Evaluate(context.Background(), mctx)
	assert.Equal(t, PeakHoursFactor, result.Confidence)
}

func TestContextEvaluator_InvalidTimezone(t *testing.T) {
	e := NewContextEvaluator(DefaultContextConfig())

	result := e.Evaluate(context.Background(), &domain.ModerationContext{
		ChannelType: domain.ChannelText,
		Timezone:    "Mars/Olympus_Mons",
	})
	assert.False(t, result.Match)
	require.Error(t, result.Error)

	var evalErr *domain.EvaluationError
	require.True(t, errors.As(result.Error, &evalErr))
	assert.Equal(t, "context", evalErr.Evaluator)
}

func TestInHours(t *testing.T) {
	assert.True(t, inHours(23, 23, 6))
	assert.True(t, inHours(0, 23, 6))
	assert.True(t, inHours(5, 23, 6))
	assert.False(t, inHours(6, 23, 6))
	assert.True(t, inHours(18, 18, 22))
	assert.False(t, inHours(22, 18, 22))
	assert.False(t, inHours(10, 10, 10))
}
