package app

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func TestActionConfig_Tier(t *testing.T) {
	cfg := DefaultActionConfig()

	tests := []struct {
		confidence float64
		want       domain.Action
	}{
		{0, domain.ActionAllow},
		{0.29, domain.ActionAllow},
		{0.3, domain.ActionWarn},
		{0.59, domain.ActionWarn},
		{0.6, domain.ActionTimeout},
		{0.8, domain.ActionKick},
		{0.94, domain.ActionKick},
		{0.95, domain.ActionBan},
		{1, domain.ActionBan},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.Tier(tt.confidence), "confidence %.2f", tt.confidence)
	}
}

func TestActionConfig_EscalatedTier(t *testing.T) {
	cfg := DefaultActionConfig()

	tests := []struct {
		name       string
		base       domain.Action
		confidence float64
		steps      int
		want       domain.Action
	}{
		{"first repeat climbs one tier", domain.ActionTimeout, 1, 1, domain.ActionKick},
		{"below threshold still allows one", domain.ActionWarn, 1, 0, domain.ActionTimeout},
		{"second repeat reaches ban", domain.ActionTimeout, 1, 2, domain.ActionBan},
		{"tier below ceiling wins", domain.ActionWarn, 0.65, 3, domain.ActionTimeout},
		{"never below base", domain.ActionKick, 0.3, 1, domain.ActionKick},
		{"ban is the ceiling", domain.ActionBan, 1, 5, domain.ActionBan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.EscalatedTier(tt.base, tt.confidence, tt.steps))
		})
	}
}

func TestActionConfig_TimeoutFor(t *testing.T) {
	cfg := DefaultActionConfig()

	assert.Equal(t, 10*time.Minute, cfg.TimeoutFor(0), "factors below 1 use the base timeout")
	assert.Equal(t, 10*time.Minute, cfg.TimeoutFor(1))
	assert.Equal(t, 30*time.Minute, cfg.TimeoutFor(3))
	assert.Equal(t, cfg.MaxTimeout, cfg.TimeoutFor(1e6))
	assert.Equal(t, cfg.MaxTimeout, cfg.TimeoutFor(math.Inf(1)))
}

func TestActionConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultActionConfig().validate())

	cfg := DefaultActionConfig()
	cfg.KickThreshold = 0.5
	var cfgErr *domain.ConfigValidationError
	require.ErrorAs(t, cfg.validate(), &cfgErr)
	assert.Equal(t, "actions.kick_threshold", cfgErr.Field)

	cfg = DefaultActionConfig()
	cfg.BaseTimeout = 30 * 24 * time.Hour
	require.ErrorAs(t, cfg.validate(), &cfgErr)
	assert.Equal(t, "actions.base_timeout", cfgErr.Field)
}
