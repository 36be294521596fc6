package tracking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func violation(guild, channel string, conf float64, at time.Time) domain.ViolationEvent {
	return domain.ViolationEvent{
		Timestamp:  at,
		GuildID:    guild,
		ChannelID:  channel,
		Confidence: conf,
		Severity:   domain.SeverityMedium,
		RuleIDs:    []string{"content-spam"},
	}
}

func TestEscalationEngine_BelowThreshold(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	r := e.RecordViolation("u1", violation("g1", "c1", 0.4, t0))
	assert.False(t, r.ShouldEscalate)
	assert.Equal(t, 0.4, r.EscalatedConfidence)
	assert.Equal(t, 1, r.ViolationCount)

	r = e.RecordViolation("u1", violation("g1", "c2", 0.4, t0.Add(2*time.Hour)))
	assert.False(t, r.ShouldEscalate)
	assert.Equal(t, 2, r.ViolationCount)
}

func TestEscalationEngine_RepeatOffense(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	// Spread over channels and hours so only the repeat factor applies.
	e.RecordViolation("u1", violation("g1", "c1", 0.2, t0))
	e.RecordViolation("u1", violation("g1", "c2", 0.2, t0.Add(2*time.Hour)))
	r := e.RecordViolation("u1", violation("g1", "c3", 0.2, t0.Add(4*time.Hour)))

	require.True(t, r.ShouldEscalate)
	assert.InDelta(t, 2.0, r.Factor, 1e-9)
	assert.InDelta(t, 0.4, r.EscalatedConfidence, 1e-9)
	assert.Len(t, r.Factors, 1)
	assert.Equal(t, 1, r.RepeatOffenses)

	r = e.RecordViolation("u1", violation("g1", "c4", 0.2, t0.Add(6*time.Hour)))
	assert.InDelta(t, 4.0, r.Factor, 1e-9)
	assert.InDelta(t, 0.8, r.EscalatedConfidence, 1e-9)
	assert.Equal(t, 2, r.RepeatOffenses)
}

func TestEscalationEngine_Presets(t *testing.T) {
	for preset, want := range map[string]float64{
		PresetLenient:  1.5,
		PresetBalanced: 2.0,
		PresetStrict:   2.5,
	} {
		m, err := PresetMultiplier(preset)
		require.NoError(t, err)
		assert.Equal(t, want, m, preset)
	}

	_, err := PresetMultiplier("draconian")
	var cfgErr *domain.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "escalation.preset", cfgErr.Field)
}

func TestEscalationEngine_IncreasingTrend(t *testing.T) {
	e := NewEscalationEngine(EscalationConfig{Threshold: 10})

	e.RecordViolation("u1", violation("g1", "c1", 0.2, t0))
	e.RecordViolation("u1", violation("g1", "c2", 0.3, t0.Add(2*time.Hour)))
	r := e.RecordViolation("u1", violation("g1", "c3", 0.4, t0.Add(4*time.Hour)))

	require.True(t, r.ShouldEscalate)
	assert.InDelta(t, TrendFactor, r.Factor, 1e-9)
	assert.InDelta(t, 0.48, r.EscalatedConfidence, 1e-9)

	// Equal confidences are not strictly increasing.
	e.Reset("u1")
	e.RecordViolation("u1", violation("g1", "c1", 0.3, t0))
	e.RecordViolation("u1", violation("g1", "c2", 0.3, t0.Add(2*time.Hour)))
	r = e.RecordViolation("u1", violation("g1", "c3", 0.3, t0.Add(4*time.Hour)))
	assert.False(t, r.ShouldEscalate)

	// An older, stronger violation breaks the trend even when the latest
	// three increase.
	e.Reset("u1")
	for i, c := range []float64{0.9, 0.5, 0.6, 0.7} {
		r = e.RecordViolation("u1", violation("g1", fmt.Sprintf("c%d", i), c, t0.Add(time.Duration(i)*2*time.Hour)))
	}
	assert.False(t, r.ShouldEscalate)
	assert.InDelta(t, 1.0, r.Factor, 1e-9)
	assert.Equal(t, 4, r.ViolationCount)
}

func TestEscalationEngine_CrossGuild(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	e.RecordViolation("u1", violation("g1", "c1", 0.5, t0))
	r := e.RecordViolation("u1", violation("g2", "c9", 0.5, t0.Add(time.Minute)))

	require.True(t, r.ShouldEscalate)
	assert.InDelta(t, CrossGuildFactor, r.Factor, 1e-9)
	assert.InDelta(t, 0.65, r.EscalatedConfidence, 1e-9)
}

func TestEscalationEngine_SameChannelBurst(t *testing.T) {
	e := NewEscalationEngine(EscalationConfig{Threshold: 10})

	e.RecordViolation("u1", violation("g1", "c1", 0.5, t0))
	e.RecordViolation("u1", violation("g1", "c1", 0.5, t0.Add(10*time.Minute)))
	r := e.RecordViolation("u1", violation("g1", "c1", 0.5, t0.Add(20*time.Minute)))

	require.True(t, r.ShouldEscalate)
	assert.InDelta(t, SameChannelBurst, r.Factor, 1e-9)
	assert.InDelta(t, 0.55, r.EscalatedConfidence, 1e-9)
}

func TestEscalationEngine_ClampedAtOne(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	var r domain.EscalationResult
	for i := 0; i < 6; i++ {
		r = e.RecordViolation("u1", violation("g1", "c1", 0.3+0.1*float64(i), t0.Add(time.Duration(i)*time.Minute)))
	}
	assert.Equal(t, 1.0, r.EscalatedConfidence)
	assert.Greater(t, r.Factor, 1.0)
}

func TestEscalationEngine_Monotonic(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	guilds := []string{"g1", "g2"}
	for i := 0; i < 40; i++ {
		base := float64(i%10) / 10
		ev := violation(guilds[i%2], "c1", base, t0.Add(time.Duration(i)*7*time.Minute))
		r := e.RecordViolation("u1", ev)
		assert.GreaterOrEqual(t, r.EscalatedConfidence, base)
		assert.LessOrEqual(t, r.EscalatedConfidence, 1.0)
	}
}

func TestEscalationEngine_WindowAndHistory(t *testing.T) {
	e := NewEscalationEngine(DefaultEscalationConfig())

	e.RecordViolation("u1", violation("g1", "c1", 0.5, t0))
	e.RecordViolation("u1", violation("g1", "c2", 0.5, t0.Add(24*time.Hour)))
	r := e.RecordViolation("u1", violation("g1", "c3", 0.5, t0.Add(8*24*time.Hour)))

	// The first violation fell out of the 7 day window.
	assert.Equal(t, 2, r.ViolationCount)
	assert.False(t, r.ShouldEscalate)

	history := e.History("u1")
	require.Len(t, history, 2)
	assert.Equal(t, "c2", history[0].ChannelID)
	assert.Equal(t, 1, e.TrackedUsers())

	e.Reset("u1")
	assert.Equal(t, 0, e.ViolationCount("u1"))
}

func TestEscalationEngine_MaxHistory(t *testing.T) {
	e := NewEscalationEngine(EscalationConfig{MaxHistory: 5, Threshold: 100})

	for i := 0; i < 20; i++ {
		e.RecordViolation("u1", violation("g1", "c1", 0.5, t0.Add(time.Duration(i)*2*time.Hour)))
	}
	assert.Equal(t, 5, e.ViolationCount("u1"))
}
