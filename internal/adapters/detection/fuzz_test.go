package detection_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/detection"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

func FuzzContentEvaluator(f *testing.F) {
	e := detection.NewContentEvaluator(detection.DefaultContentConfig())

	seeds := []string{
		"",
		" ",
		"hello world",
		"AAAAAAAAAAAAAAAAAAAA",
		"hahahahahahaha",
		"<@1> <@!2> <@&3> @everyone @here",
		"https://a.example https://b.example https://c.example",
		"discord.gg/abcdef discord.com/invite/xyz",
		"\x00\x01\x02\x03",
		"\xff\xfe\xfd",
		"ＦＲＥＥ ＮＩＴＲＯ",
		"ǅǈǋ ß ﬁ",
		strings.Repeat("spam ", 2000),
		strings.Repeat("\u200b", 500),
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		result := e.Evaluate(context.Background(), &domain.ModerationContext{Content: data})
		if result.Confidence < 0 || result.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", result.Confidence)
		}
		if result.Match != (len(result.Reasons) > 0) {
			t.Fatalf("match=%v with %d reasons", result.Match, len(result.Reasons))
		}
	})
}

func FuzzBlockedTerms(f *testing.F) {
	e := detection.NewBlockedTermsEvaluator([]string{"scam", "free nitro", "ß"})

	for _, seed := range []string{"", "scam", "SCAM!", "free\tnitro", "strasse", "\xff\xfe"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		result := e.Evaluate(context.Background(), &domain.ModerationContext{Content: data})
		if result.Match && result.Confidence != detection.BlockedTermsConfidence {
			t.Fatalf("unexpected confidence %v", result.Confidence)
		}
	})
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{"", "  a  b ", "ÀÉÎ", "\t\n", "\xff"} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		n := detection.Normalize(data)
		if detection.Normalize(n) != n {
			t.Fatalf("normalize not idempotent for %q", data)
		}
		if strings.HasPrefix(n, " ") || strings.HasSuffix(n, " ") {
			t.Fatalf("untrimmed output %q", n)
		}
	})
}

func BenchmarkBehaviorEvaluator(b *testing.B) {
	e := detection.NewBehaviorEvaluator(detection.DefaultBehaviorConfig())
	defer e.Stop()
	ctx := context.Background()
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Evaluate(ctx, &domain.ModerationContext{
			UserID:    "u1",
			ChannelID: "c1",
			Content:   "hello there",
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
	}
}
