package detection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func TestBlockedTermsEvaluator(t *testing.T) {
	e := NewBlockedTermsEvaluator([]string{"free nitro", "scam", "  "})
	assert.Equal(t, 2, e.TermCount())

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"exact phrase", "get FREE NITRO here", true},
		{"single word", "this is a scam", true},
		{"inside another word", "scampi for dinner", false},
		{"clean", "hello there", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := e.Evaluate(context.Background(), message(tc.content))
			assert.Equal(t, tc.want, result.Match)
			if tc.want {
				assert.Equal(t, BlockedTermsConfidence, result.Confidence)
				assert.Equal(t, []domain.PatternType{domain.PatternToxicity}, result.Patterns)
			}
		})
	}
}

func TestBlockedTermsEvaluator_Update(t *testing.T) {
	e := NewBlockedTermsEvaluator(nil)
	assert.False(t, e.Evaluate(context.Background(), message("buy gold")).Match)

	e.Update([]string{"gold"})
	result := e.Evaluate(context.Background(), message("buy gold"))
	require.True(t, result.Match)
	assert.Contains(t, result.Reasons[0], "gold")
	assert.Equal(t, BlockedTermsEvaluatorName, e.Name())
}
