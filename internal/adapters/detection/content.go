package detection

import (
	"context"
	"fmt"
	"regexp"
	"unicode"

	"github.com/samber/lo"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

// Confidence of each content sub-check.
const (
	CapsConfidence     = 0.8
	LinksConfidence    = 0.9
	SpamConfidence     = 0.85
	MentionsConfidence = 0.7
)

var (
	linkRegex    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>]+|\bdiscord(?:\.gg|app\.com/invite|\.com/invite)/[a-z0-9-]+`)
	mentionRegex = regexp.MustCompile(`<@!?\d+>|<@&\d+>|@everyone|@here`)
)

// ContentConfig configures the content evaluator.
type ContentConfig struct {
	CapsThreshold  float64 `mapstructure:"caps_threshold" validate:"gt=0,lte=1"` // Uppercase/letters ratio that must be exceeded (default: 0.70)
	CapsMinLetters int     `mapstructure:"caps_min_letters" validate:"gt=0"`     // Letters required before caps is checked (default: 5)
	MaxLinks       int     `mapstructure:"max_links" validate:"gte=0"`           // Links allowed per message (default: 2)
	MaxMentions    int     `mapstructure:"max_mentions" validate:"gt=0"`         // Mentions allowed per message (default: 5)
	RepeatRun      int     `mapstructure:"repeat_run" validate:"gte=2"`          // Contiguous repeats of a 2-rune unit that count as spam (default: 4)
	MinWords       int     `mapstructure:"min_words" validate:"gt=0"`            // Word count that must be exceeded for the dominant-word check (default: 3)
}

// DefaultContentConfig returns the standard thresholds.
func DefaultContentConfig() ContentConfig {
	return ContentConfig{
		CapsThreshold:  0.70,
		CapsMinLetters: 5,
		MaxLinks:       2,
		MaxMentions:    5,
		RepeatRun:      4,
		MinWords:       3,
	}
}

// ContentEvaluator scores a single message body. It keeps no state.
//
// Sub-checks are independent and the result confidence is the maximum of
// the triggered ones, never their sum.
type ContentEvaluator struct {
	config ContentConfig
}

// NewContentEvaluator creates a content evaluator. Zero config fields fall
// back to DefaultContentConfig values.
func NewContentEvaluator(config ContentConfig) *ContentEvaluator {
	d := DefaultContentConfig()
	if config.CapsThreshold <= 0 {
		config.CapsThreshold = d.CapsThreshold
	}
	if config.CapsMinLetters <= 0 {
		config.CapsMinLetters = d.CapsMinLetters
	}
	if config.MaxLinks < 0 {
		config.MaxLinks = d.MaxLinks
	}
	if config.MaxMentions <= 0 {
		config.MaxMentions = d.MaxMentions
	}
	if config.RepeatRun <= 1 {
		config.RepeatRun = d.RepeatRun
	}
	if config.MinWords <= 0 {
		config.MinWords = d.MinWords
	}
	return &ContentEvaluator{config: config}
}

func (e *ContentEvaluator) Name() string {
	return domain.ConditionContent.String()
}

// Evaluate runs every content sub-check on mctx.Content.
func (e *ContentEvaluator) Evaluate(_ context.Context, mctx *domain.ModerationContext) domain.ConditionResult {
	var result domain.ConditionResult
	content := mctx.Content
	if content == "" {
		return result
	}

	if letters, ratio := capsRatio(content); letters >= e.config.CapsMinLetters && ratio > e.config.CapsThreshold {
		result.Trigger(CapsConfidence, domain.PatternExcessiveCaps,
			fmt.Sprintf("excessive caps (%.0f%% of %d letters)", ratio*100, letters))
	}

	if links := len(linkRegex.FindAllStringIndex(content, -1)); links > e.config.MaxLinks {
		result.Trigger(LinksConfidence, domain.PatternLinkSpam,
			fmt.Sprintf("too many links (%d > %d)", links, e.config.MaxLinks))
	}

	if mentions := len(mentionRegex.FindAllStringIndex(content, -1)); mentions > e.config.MaxMentions {
		result.Trigger(MentionsConfidence, domain.PatternMassMention,
			fmt.Sprintf("too many mentions (%d > %d)", mentions, e.config.MaxMentions))
	}

	if reason, ok := e.spamPattern(content); ok {
		result.Trigger(SpamConfidence, domain.PatternSpam, reason)
	}

	return result
}

// capsRatio returns the number of cased letters and the fraction of them
// that are upper case.
func capsRatio(s string) (int, float64) {
	letters, upper := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return letters, float64(upper) / float64(letters)
}

func (e *ContentEvaluator) spamPattern(s string) (string, bool) {
	if unit, ok := repeatedUnit([]rune(s), e.config.RepeatRun); ok {
		return fmt.Sprintf("repeated sequence %q", unit), true
	}

	words := lowerWords(s)
	if len(words) <= e.config.MinWords {
		return "", false
	}
	counts := lo.CountValues(words)
	word, n := "", 0
	for w, c := range counts {
		if c > n || (c == n && w < word) {
			word, n = w, c
		}
	}
	if n*2 > len(words) {
		return fmt.Sprintf("word %q is %d of %d words", word, n, len(words)), true
	}
	return "", false
}

// repeatedUnit finds a 2-rune unit repeated at least run times back to back.
// Units made only of whitespace are ignored.
func repeatedUnit(r []rune, run int) (string, bool) {
	span := 2 * run
	for i := 0; i+span <= len(r); i++ {
		a, b := r[i], r[i+1]
		if unicode.IsSpace(a) && unicode.IsSpace(b) {
			continue
		}
		ok := true
		for k := 1; k < run; k++ {
			if r[i+2*k] != a || r[i+2*k+1] != b {
				ok = false
				break
			}
		}
		if ok {
			return string([]rune{a, b}), true
		}
	}
	return "", false
}
