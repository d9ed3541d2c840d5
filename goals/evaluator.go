package goals

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/affiliate/domain"
	"github.com/liamcoop/affiliate/rules"
)

// Policy decides what a not-applicable rule does to the decision
type Policy int

const (
	// PolicyLenient skips rules whose checker cannot interpret the subject
	PolicyLenient Policy = iota
	// PolicyStrict marks the goal ineligible when a rule is skipped before
	// any rule matched; a later matching rule makes it eligible again.
	PolicyStrict
)

// ParsePolicy converts "lenient" or "strict" to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lenient":
		return PolicyLenient, nil
	case "strict":
		return PolicyStrict, nil
	default:
		return PolicyLenient, fmt.Errorf("unknown eligibility policy: %s", s)
	}
}

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "lenient"
}

// Reason explains a decision
type Reason string

const (
	ReasonEligible          Reason = "eligible"
	ReasonNotStarted        Reason = "not_started"
	ReasonExpired           Reason = "expired"
	ReasonUsageLimitReached Reason = "usage_limit_reached"
	ReasonRuleRejected      Reason = "rule_rejected"
	ReasonNoApplicableRule  Reason = "no_applicable_rule"
)

// RuleResult records the outcome of one rule, in evaluation order
type RuleResult struct {
	Index   int           `json:"index"`
	Type    string        `json:"type"`
	Outcome rules.Outcome `json:"outcome"`
}

// Decision is the full result of evaluating a goal
type Decision struct {
	GoalID         string       `json:"goalId"`
	Eligible       bool         `json:"eligible"`
	Reason         Reason       `json:"reason"`
	AnyRuleMatched bool         `json:"anyRuleMatched"`
	RuleResults    []RuleResult `json:"ruleResults,omitempty"`
	EvaluatedAt    time.Time    `json:"evaluatedAt"`
}

// Evaluator decides whether a goal should be credited for a subject.
// It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	registry *rules.Registry
	clock    Clock
	policy   Policy
	metrics  *Metrics
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(e *Evaluator) { e.clock = clock }
}

// WithPolicy sets the not-applicable policy
func WithPolicy(policy Policy) Option {
	return func(e *Evaluator) { e.policy = policy }
}

// WithMetrics records decisions in m
func WithMetrics(m *Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an evaluator resolving checkers from registry
func NewEvaluator(registry *rules.Registry, opts ...Option) *Evaluator {
	e := &Evaluator{
		registry: registry,
		clock:    SystemClock{},
		policy:   PolicyLenient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsEligible reports whether goal should be credited for subject.
// The only error it returns is a rule configuration problem, most notably
// an unknown rule type (rules.ErrUnknownRuleType).
func (e *Evaluator) IsEligible(goal *Goal, affiliate *domain.Affiliate, subject any) (bool, error) {
	decision, err := e.Evaluate(goal, affiliate, subject)
	if err != nil {
		return false, err
	}
	return decision.Eligible, nil
}

// Evaluate runs the date window, usage limit and rule checks in that order,
// stopping at the first one that rejects the goal.
//
// The affiliate restriction is not part of this decision; callers that need
// it use IsEligibleToAffiliate.
func (e *Evaluator) Evaluate(goal *Goal, affiliate *domain.Affiliate, subject any) (Decision, error) {
	start := time.Now()
	now := e.clock.Now()

	decision, err := e.evaluate(goal, subject, now)
	if err != nil {
		e.metrics.IncrementError()
		return Decision{}, err
	}

	e.metrics.IncrementOutcome(decision.Reason)
	e.metrics.ObserveEvaluateLatency(time.Since(start))
	return decision, nil
}

func (e *Evaluator) evaluate(goal *Goal, subject any, now time.Time) (Decision, error) {
	decision := Decision{
		GoalID:      goal.ID,
		EvaluatedAt: now,
	}

	if goal.StartsAt != nil && now.Before(*goal.StartsAt) {
		decision.Reason = ReasonNotStarted
		return decision, nil
	}
	if goal.EndsAt != nil && now.After(*goal.EndsAt) {
		decision.Reason = ReasonExpired
		return decision, nil
	}

	if goal.UsageLimit != nil && goal.Used >= *goal.UsageLimit {
		decision.Reason = ReasonUsageLimitReached
		return decision, nil
	}

	eligible := true
	for i, rule := range goal.Rules {
		outcome, err := e.checkRule(rule, subject)
		if err != nil {
			return Decision{}, fmt.Errorf("goal %s rule %d: %w", goal.ID, i, err)
		}
		decision.RuleResults = append(decision.RuleResults, RuleResult{Index: i, Type: rule.Type, Outcome: outcome})

		switch outcome {
		case rules.Ineligible:
			decision.Reason = ReasonRuleRejected
			return decision, nil
		case rules.Eligible:
			decision.AnyRuleMatched = true
		case rules.NotApplicable:
			if e.policy == PolicyStrict && !decision.AnyRuleMatched {
				eligible = false
			}
		default:
			return Decision{}, fmt.Errorf("goal %s rule %d: %w: checker %s returned outcome %d",
				goal.ID, i, rules.ErrInvalidConfiguration, rule.Type, int(outcome))
		}
	}

	decision.Eligible = eligible || decision.AnyRuleMatched
	if decision.Eligible {
		decision.Reason = ReasonEligible
	} else {
		decision.Reason = ReasonNoApplicableRule
	}
	return decision, nil
}

// checkRule resolves the rule's checker and folds the Supports pre-check and
// the checker's own unsupported-subject signal into NotApplicable.
func (e *Evaluator) checkRule(rule rules.Rule, subject any) (rules.Outcome, error) {
	checker, err := e.registry.Get(rule.Type)
	if err != nil {
		return rules.NotApplicable, err
	}

	if !checker.Supports(subject) {
		return rules.NotApplicable, nil
	}

	outcome, err := checker.IsEligible(subject, rule.Configuration)
	if errors.Is(err, rules.ErrUnsupportedSubject) {
		return rules.NotApplicable, nil
	}
	if err != nil {
		return rules.NotApplicable, fmt.Errorf("%s: %w", rule.Type, err)
	}
	return outcome, nil
}

// IsEligibleToAffiliate reports whether the goal is restricted to, and
// open for, the given affiliate: true on the first rule that accepts the
// affiliate as subject, false when none does. Rules that do not apply to
// affiliates are skipped.
//
// IsEligible does not call this.
func (e *Evaluator) IsEligibleToAffiliate(goal *Goal, affiliate *domain.Affiliate) (bool, error) {
	for i, rule := range goal.Rules {
		outcome, err := e.checkRule(rule, affiliate)
		if err != nil {
			return false, fmt.Errorf("goal %s rule %d: %w", goal.ID, i, err)
		}
		if outcome == rules.Eligible {
			return true, nil
		}
	}
	return false, nil
}
