package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
)

// ErrNoEvaluator is recorded when a rule references an evaluator that was
// never registered.
var ErrNoEvaluator = errors.New("no evaluator registered")

const (
	initialEffectiveness = 0.5
	effectivenessStep    = 0.01
	customKeyPrefix      = "custom:"
)

// RulesEngine aggregates the verdicts of condition evaluators into weighted
// rule matches.
//
// Aggregation:
//   - A condition matches when its evaluator matched with confidence at least
//     MinConfidence
//   - Context conditions never trigger a rule on their own; when one matches
//     it scales the rule confidence by (0.5 + context confidence)
//   - A rule fires when any non-context condition matches (all of them when
//     RequireAll is set); its score is min(1, confidence) x Weight
//   - The result confidence is the mean score of the fired rules; the primary
//     rule is the most severe one, ties going to the higher score
//
// Every evaluator runs at most once per Evaluate call, concurrently with the
// others, so stateful evaluators record each message exactly once.
//
// Thread Safety: safe for concurrent use. Rule updates are copy-on-write;
// an Evaluate call sees the rule set as it was when the call started.
type RulesEngine struct {
	rules         atomic.Pointer[[]*domain.ModerationRule]
	evaluators    *xsync.MapOf[string, ports.ConditionEvaluator]
	effectiveness *xsync.MapOf[string, float64]
	threshold     float64

	mu sync.Mutex // serializes rule writers
}

// NewRulesEngine creates an engine with no rules. threshold is the score at
// or above which a firing counts as effective.
func NewRulesEngine(threshold float64, evaluators ...ports.ConditionEvaluator) *RulesEngine {
	e := &RulesEngine{
		evaluators:    xsync.NewMapOf[string, ports.ConditionEvaluator](),
		effectiveness: xsync.NewMapOf[string, float64](),
		threshold:     threshold,
	}
	empty := []*domain.ModerationRule{}
	e.rules.Store(&empty)
	for _, ev := range evaluators {
		e.RegisterEvaluator(ev)
	}
	return e
}

// evaluatorKey maps an evaluator name to the condition key it serves.
func evaluatorKey(name string) string {
	switch name {
	case domain.ConditionContent.String(), domain.ConditionBehavior.String(), domain.ConditionContext.String():
		return name
	}
	return customKeyPrefix + name
}

// RegisterEvaluator installs ev for the conditions that reference its name,
// replacing any evaluator previously registered under that name.
func (e *RulesEngine) RegisterEvaluator(ev ports.ConditionEvaluator) {
	e.evaluators.Store(evaluatorKey(ev.Name()), ev)
}

func (e *RulesEngine) snapshot() []*domain.ModerationRule {
	return *e.rules.Load()
}

func sortRules(rules []*domain.ModerationRule) {
	slices.SortFunc(rules, func(a, b *domain.ModerationRule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// AddRule validates and stores a copy of rule.
//
// Returns:
//   - ConfigValidationError if the rule is malformed
//   - ErrDuplicateRule if a rule with the same ID exists
func (e *RulesEngine) AddRule(rule *domain.ModerationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snapshot()
	if slices.ContainsFunc(current, func(r *domain.ModerationRule) bool { return r.ID == rule.ID }) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRule, rule.ID)
	}
	next := append(slices.Clone(current), rule.Clone())
	sortRules(next)
	e.rules.Store(&next)
	e.effectiveness.Store(rule.ID, initialEffectiveness)
	return nil
}

func (e *RulesEngine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snapshot()
	idx := slices.IndexFunc(current, func(r *domain.ModerationRule) bool { return r.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	e.rules.Store(&next)
	e.effectiveness.Delete(id)
	return nil
}

// SetRuleEnabled toggles one rule. Other rules are not touched.
func (e *RulesEngine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.snapshot()
	idx := slices.IndexFunc(current, func(r *domain.ModerationRule) bool { return r.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRule, id)
	}
	updated := current[idx].Clone()
	if enabled {
		updated.Enable()
	} else {
		updated.Disable()
	}
	next := slices.Clone(current)
	next[idx] = updated
	e.rules.Store(&next)
	return nil
}

// Rules returns copies of the rules in evaluation order.
func (e *RulesEngine) Rules() []*domain.ModerationRule {
	current := e.snapshot()
	out := make([]*domain.ModerationRule, len(current))
	for i, r := range current {
		out[i] = r.Clone()
	}
	return out
}

func (e *RulesEngine) Rule(id string) (*domain.ModerationRule, bool) {
	for _, r := range e.snapshot() {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return nil, false
}

func (e *RulesEngine) Len() int {
	return len(e.snapshot())
}

// Effectiveness returns the running effectiveness estimate of a rule.
func (e *RulesEngine) Effectiveness(id string) (float64, bool) {
	return e.effectiveness.Load(id)
}

// Evaluate runs every evaluator referenced by an enabled, in-scope rule and
// aggregates the fired rules.
//
// Parameters:
//   - ctx: Passed to evaluators
//   - mctx: Message under evaluation; not modified
//
// Returns:
//   - RuleEvaluationResult; evaluator failures are listed in Errors and
//     count as non-matching conditions
func (e *RulesEngine) Evaluate(ctx context.Context, mctx *domain.ModerationContext) domain.RuleEvaluationResult {
	var result domain.RuleEvaluationResult

	active := lo.Filter(e.snapshot(), func(r *domain.ModerationRule, _ int) bool {
		return r.Enabled() && r.Scope.Matches(mctx)
	})
	if len(active) == 0 {
		return result
	}

	var keys []string
	for _, r := range active {
		for _, c := range r.Conditions() {
			keys = append(keys, c.Key())
		}
	}
	verdicts := e.runEvaluators(ctx, mctx, lo.Uniq(keys))

	// Each failing evaluator is reported once, tagged with the first rule
	// that used it.
	reported := make(map[string]bool)
	for _, r := range active {
		for _, c := range r.Conditions() {
			key := c.Key()
			if v := verdicts[key]; v.Error != nil && !reported[key] {
				reported[key] = true
				result.Errors = append(result.Errors, withRuleID(v.Error, r.ID))
			}
		}
	}

	for _, r := range active {
		triggered, patterns := e.applyRule(r, verdicts)
		if triggered == nil {
			continue
		}
		result.Triggered = append(result.Triggered, *triggered)
		result.Patterns = append(result.Patterns, patterns...)
	}
	if len(result.Triggered) == 0 {
		return result
	}
	result.Patterns = lo.Uniq(result.Patterns)

	sum := 0.0
	primary := 0
	for i, t := range result.Triggered {
		sum += t.Score
		p := result.Triggered[primary]
		if t.Severity > p.Severity || (t.Severity == p.Severity && t.Score > p.Score) {
			primary = i
		}
		result.Severity = max(result.Severity, t.Severity)
		e.updateEffectiveness(t.RuleID, t.Score)
	}
	result.Confidence = min(1, max(0, sum/float64(len(result.Triggered))))
	result.Primary = &result.Triggered[primary]
	return result
}

func (e *RulesEngine) runEvaluators(ctx context.Context, mctx *domain.ModerationContext, keys []string) map[string]domain.ConditionResult {
	results := make([]domain.ConditionResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = e.runEvaluator(gctx, key, mctx)
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make(map[string]domain.ConditionResult, len(keys))
	for i, key := range keys {
		if err := results[i].Error; err != nil {
			log.Warn().Err(err).Str("evaluator", key).Str("user_id", mctx.UserID).Msg("Evaluator failed")
		}
		verdicts[key] = results[i]
	}
	return verdicts
}

// runEvaluator calls one evaluator, converting a panic into a failed
// condition.
func (e *RulesEngine) runEvaluator(ctx context.Context, key string, mctx *domain.ModerationContext) (result domain.ConditionResult) {
	name := strings.TrimPrefix(key, customKeyPrefix)
	ev, ok := e.evaluators.Load(key)
	if !ok {
		return domain.FailedCondition(name, ErrNoEvaluator)
	}
	defer func() {
		if r := recover(); r != nil {
			result = domain.FailedCondition(name, fmt.Errorf("panic: %v", r))
		}
	}()
	return ev.Evaluate(ctx, mctx)
}

// applyRule decides whether r fires given the evaluator verdicts.
func (e *RulesEngine) applyRule(r *domain.ModerationRule, verdicts map[string]domain.ConditionResult) (*domain.TriggeredRule, []domain.PatternType) {
	var (
		confidence     float64
		contextFactor  float64
		contextMatched bool
		matched, total int
		reasons        []string
		contextReasons []string
		patterns       []domain.PatternType
	)

	for _, c := range r.Conditions() {
		v := verdicts[c.Key()]
		ok := v.Error == nil && v.Match && v.Confidence >= c.MinConfidence

		if c.Type == domain.ConditionContext {
			if ok {
				contextMatched = true
				contextFactor = max(contextFactor, v.Confidence)
				contextReasons = append(contextReasons, v.Reasons...)
			}
			continue
		}

		total++
		if !ok {
			continue
		}
		matched++
		confidence = max(confidence, v.Confidence)
		reasons = append(reasons, v.Reasons...)
		patterns = append(patterns, v.Patterns...)
	}

	if matched == 0 || (r.RequireAll && matched < total) {
		return nil, nil
	}
	if contextMatched {
		confidence *= 0.5 + contextFactor
		reasons = append(reasons, contextReasons...)
	}
	confidence = min(1, confidence)

	return &domain.TriggeredRule{
		RuleID:     r.ID,
		Name:       r.Name,
		Severity:   r.Severity,
		Action:     r.EffectiveAction(),
		Confidence: confidence,
		Score:      confidence * r.Weight,
		Reasons:    reasons,
	}, patterns
}

func withRuleID(err error, ruleID string) error {
	var evalErr *domain.EvaluationError
	if errors.As(err, &evalErr) {
		tagged := *evalErr
		tagged.RuleID = ruleID
		return &tagged
	}
	return &domain.EvaluationError{Evaluator: "unknown", RuleID: ruleID, Err: err}
}

func (e *RulesEngine) updateEffectiveness(ruleID string, score float64) {
	e.effectiveness.Compute(ruleID, func(old float64, loaded bool) (float64, bool) {
		if !loaded {
			old = initialEffectiveness
		}
		if score >= e.threshold {
			return old + effectivenessStep*(1-old), false
		}
		return old - effectivenessStep*old, false
	})
}
