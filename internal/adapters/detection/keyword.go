package detection

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/pkg/ahocorasick"
)

const (
	BlockedTermsEvaluatorName = "blocked-terms"
	BlockedTermsConfidence    = 0.95
)

// BlockedTermsEvaluator matches whole words from a configurable term list in
// a single pass over the message.
//
// Detection Strategy:
//  1. Build an Aho-Corasick automaton over the lowercased terms
//  2. Scan the message once, accepting only matches on word boundaries
//  3. Report every distinct term found
//
// Thread Safety: Update swaps the automaton atomically; concurrent Evaluate
// calls see either the old or the new list.
type BlockedTermsEvaluator struct {
	matcher atomic.Pointer[ahocorasick.Matcher]
}

func NewBlockedTermsEvaluator(terms []string) *BlockedTermsEvaluator {
	e := &BlockedTermsEvaluator{}
	e.Update(terms)
	return e
}

func (e *BlockedTermsEvaluator) Name() string {
	return BlockedTermsEvaluatorName
}

// Update replaces the term list. Blank entries are ignored.
func (e *BlockedTermsEvaluator) Update(terms []string) {
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	e.matcher.Store(ahocorasick.NewWithOptions(clean, ahocorasick.Options{WholeWord: true}))
}

func (e *BlockedTermsEvaluator) TermCount() int {
	return e.matcher.Load().PatternCount()
}

func (e *BlockedTermsEvaluator) Evaluate(_ context.Context, mctx *domain.ModerationContext) domain.ConditionResult {
	m := e.matcher.Load()
	if m.PatternCount() == 0 || mctx.Content == "" {
		return domain.NoMatch()
	}

	found := m.MatchAll(mctx.Content)
	if len(found) == 0 {
		return domain.NoMatch()
	}

	var result domain.ConditionResult
	result.Trigger(BlockedTermsConfidence, domain.PatternToxicity,
		fmt.Sprintf("blocked terms: %s", strings.Join(found, ", ")))
	return result
}
