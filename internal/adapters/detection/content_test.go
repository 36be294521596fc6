package detection

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func message(content string) *domain.ModerationContext {
	return &domain.ModerationContext{
		UserID:    "u1",
		GuildID:   "g1",
		ChannelID: "c1",
		Content:   content,
	}
}

func TestContentEvaluator_CapsBoundary(t *testing.T) {
	e := NewContentEvaluator(DefaultContentConfig())
	ctx := context.Background()

	// 7 of 10 letters upper case sits exactly on the threshold.
	result := e.Evaluate(ctx, message("ABCDEFGhij"))
	assert.False(t, result.Match)

	result = e.Evaluate(ctx, message("ABCDEFGHij"))
	require.True(t, result.Match)
	assert.Equal(t, CapsConfidence, result.Confidence)
	assert.Equal(t, []domain.PatternType{domain.PatternExcessiveCaps}, result.Patterns)
}

func TestContentEvaluator_ShortShoutingIgnored(t *testing.T) {
	e := NewContentEvaluator(DefaultContentConfig())

	result := e.Evaluate(context.Background(), message("OK"))
	assert.False(t, result.Match)
}

func TestContentEvaluator_SubChecks(t *testing.T) {
	e := NewContentEvaluator(DefaultContentConfig())

	tests := []struct {
		name       string
		content    string
		wantMatch  bool
		wantConf   float64
		wantReason string
	}{
		{
			name:      "plain message",
			content:   "see you at the meeting tomorrow",
			wantMatch: false,
		},
		{
			name:      "two links allowed",
			content:   "docs https://example.com and https://example.org",
			wantMatch: false,
		},
		{
			name:       "three links",
			content:    "https://a.example https://b.example www.c.example",
			wantMatch:  true,
			wantConf:   LinksConfidence,
			wantReason: "too many links",
		},
		{
			name:       "six mentions",
			content:    "<@1> <@!2> <@&3> @everyone @here <@4>",
			wantMatch:  true,
			wantConf:   MentionsConfidence,
			wantReason: "too many mentions",
		},
		{
			name:       "repeated unit",
			content:    "hahahaha",
			wantMatch:  true,
			wantConf:   SpamConfidence,
			wantReason: "repeated sequence",
		},
		{
			name:       "dominant word",
			content:    "buy buy buy now buy",
			wantMatch:  true,
			wantConf:   SpamConfidence,
			wantReason: `word "buy"`,
		},
		{
			name:      "dominant word needs more than three words",
			content:   "go go go",
			wantMatch: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := e.Evaluate(context.Background(), message(tc.content))
			assert.Equal(t, tc.wantMatch, result.Match)
			if !tc.wantMatch {
				return
			}
			assert.Equal(t, tc.wantConf, result.Confidence)
			assert.Contains(t, strings.Join(result.Reasons, "; "), tc.wantReason)
		})
	}
}

func TestContentEvaluator_ConfidenceIsMaxNotSum(t *testing.T) {
	e := NewContentEvaluator(DefaultContentConfig())

	content := "FREE NITRO HTTPS://A.EXAMPLE HTTPS://B.EXAMPLE HTTPS://C.EXAMPLE"
	result := e.Evaluate(context.Background(), message(content))

	require.True(t, result.Match)
	assert.Len(t, result.Reasons, 2)
	assert.Equal(t, LinksConfidence, result.Confidence)
}

func TestRepeatedUnit_SkipsWhitespace(t *testing.T) {
	_, ok := repeatedUnit([]rune("a          b"), 4)
	assert.False(t, ok)

	unit, ok := repeatedUnit([]rune("xx!?!?!?!?"), 4)
	assert.True(t, ok)
	assert.Equal(t, "!?", unit)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "buy cheap nitro", Normalize("  BUY   cheap\tNitro "))
	assert.Equal(t, Fingerprint("Hello  World"), Fingerprint("hello world"))
	assert.NotEqual(t, Fingerprint("hello world"), Fingerprint("hello there"))
	assert.Equal(t, "straße", Normalize("STRAßE"))
	assert.NotEqual(t, Fingerprint("strasse"), Fingerprint("Straße"))
}

func BenchmarkContentEvaluator(b *testing.B) {
	e := NewContentEvaluator(DefaultContentConfig())
	mctx := message("Check out my new server at https://example.com, everyone is welcome!")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Evaluate(ctx, mctx)
	}
}
