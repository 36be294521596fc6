package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func timedMessage(user, channel, content string, at time.Time) *domain.ModerationContext {
	return &domain.ModerationContext{
		UserID:    user,
		GuildID:   "g1",
		ChannelID: channel,
		Content:   content,
		Timestamp: at,
	}
}

func TestBehaviorEvaluator_DuplicateScenario(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var result domain.ConditionResult
	for i := 0; i < 6; i++ {
		result = e.Evaluate(ctx, timedMessage("u1", "c1", "Join my server", base.Add(time.Duration(i)*time.Second)))
	}

	require.True(t, result.Match)
	assert.Equal(t, DuplicateConfidence, result.Confidence)
	assert.Contains(t, result.Patterns, domain.PatternDuplicateContent)
	assert.Contains(t, result.Patterns, domain.PatternRapidPosting)
	assert.Contains(t, result.Patterns, domain.PatternFlooding)
	assert.NotContains(t, result.Patterns, domain.PatternSpam)
	assert.Equal(t, 6, e.WindowSize("u1"))
}

func TestBehaviorEvaluator_BlankMessagesAreNotDuplicates(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, content := range []string{"", "   ", "\n\t", ""} {
		result := e.Evaluate(ctx, timedMessage("u1", "c1", content, base.Add(time.Duration(i)*20*time.Second)))
		assert.False(t, result.Match, "message %d", i+1)
	}
	assert.Equal(t, 4, e.WindowSize("u1"), "blank messages still count toward the window")
}

func TestBehaviorEvaluator_Frequency(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var result domain.ConditionResult
	for i := 0; i < 10; i++ {
		channel := fmt.Sprintf("c%d", i%4)
		result = e.Evaluate(ctx, timedMessage("u1", channel, fmt.Sprintf("message %d", i), base.Add(time.Duration(i)*5*time.Second)))
		assert.NotContains(t, result.Patterns, domain.PatternSpam, "message %d", i+1)
	}

	result = e.Evaluate(ctx, timedMessage("u1", "c3", "one more", base.Add(50*time.Second)))
	require.True(t, result.Match)
	assert.Equal(t, FrequencyConfidence, result.Confidence)
	assert.Contains(t, result.Patterns, domain.PatternSpam)
}

func TestBehaviorEvaluator_RapidPostingSpan(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	e.Evaluate(ctx, timedMessage("u1", "c1", "first", base))
	e.Evaluate(ctx, timedMessage("u1", "c1", "second", base.Add(5*time.Second)))
	result := e.Evaluate(ctx, timedMessage("u1", "c1", "third", base.Add(10*time.Second)))
	assert.False(t, result.Match, "a 10s span is not rapid")

	result = e.Evaluate(ctx, timedMessage("u1", "c1", "fourth", base.Add(14*time.Second)))
	require.True(t, result.Match)
	assert.Equal(t, RapidConfidence, result.Confidence)
}

func TestBehaviorEvaluator_WindowExpiry(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e.Evaluate(ctx, timedMessage("u1", "c1", "same", base.Add(time.Duration(i)*20*time.Second)))
	}
	assert.Equal(t, 3, e.WindowSize("u1"))

	result := e.Evaluate(ctx, timedMessage("u1", "c1", "same", base.Add(2*time.Minute)))
	assert.False(t, result.Match)
	assert.Equal(t, 1, e.WindowSize("u1"))
}

func TestBehaviorEvaluator_UsersAreIsolated(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		user := fmt.Sprintf("u%d", i)
		result := e.Evaluate(ctx, timedMessage(user, "c1", "same text", base.Add(time.Duration(i)*time.Second)))
		assert.False(t, result.Match)
	}
	assert.Equal(t, 3, e.TrackedUsers())

	e.Reset("u0")
	assert.Equal(t, 2, e.TrackedUsers())
	assert.Equal(t, 0, e.WindowSize("u0"))
}

func TestBehaviorEvaluator_ConcurrentAccess(t *testing.T) {
	e := NewBehaviorEvaluator(DefaultBehaviorConfig())
	defer e.Stop()

	ctx := context.Background()
	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				e.Evaluate(ctx, timedMessage(fmt.Sprintf("u%d", i%5), "c1", "hi", time.Now()))
			}
		}(w)
	}
	for w := 0; w < 8; w++ {
		<-done
	}
	assert.Equal(t, 5, e.TrackedUsers())
}
