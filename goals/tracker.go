package goals

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/liamcoop/affiliate/domain"
	"github.com/liamcoop/affiliate/internal/logger"
	"github.com/liamcoop/affiliate/rules"
)

// Tracker manages goals and credits the ones a subject satisfies.
// Goal mutations go through the tracker so the active-goals cache stays
// coherent with the store.
type Tracker struct {
	store     GoalStore
	cache     GoalsCache
	evaluator *Evaluator
	registry  *rules.Registry
	metrics   *Metrics
	loads     singleflight.Group
}

// TrackerOption configures a Tracker
type TrackerOption func(*Tracker)

// WithCache replaces the default in-memory cache
func WithCache(cache GoalsCache) TrackerOption {
	return func(t *Tracker) { t.cache = cache }
}

// WithTrackerMetrics records credited goals in m
func WithTrackerMetrics(m *Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker over store. The registry is used to validate
// goal rule sets and should be the one the evaluator resolves checkers from.
func NewTracker(store GoalStore, evaluator *Evaluator, registry *rules.Registry, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:     store,
		cache:     NewInMemoryGoalsCache(DefaultCacheConfig()),
		evaluator: evaluator,
		registry:  registry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddGoal validates and stores a new goal, assigning an ID when empty
func (t *Tracker) AddGoal(ctx context.Context, goal *Goal) error {
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	goal.Used = 0

	if err := t.validate(goal); err != nil {
		return err
	}

	if err := t.store.Add(ctx, goal); err != nil {
		return err
	}

	t.cache.Invalidate()
	return nil
}

// UpdateGoal validates and replaces an existing goal
func (t *Tracker) UpdateGoal(ctx context.Context, goal *Goal) error {
	if err := t.validate(goal); err != nil {
		return err
	}

	if err := t.store.Update(ctx, goal); err != nil {
		return err
	}

	t.cache.Invalidate()
	return nil
}

// DeleteGoal removes a goal
func (t *Tracker) DeleteGoal(ctx context.Context, id string) error {
	if err := t.store.Delete(ctx, id); err != nil {
		return err
	}

	t.cache.Invalidate()
	return nil
}

// GetGoal reads a goal straight from the store
func (t *Tracker) GetGoal(ctx context.Context, id string) (*Goal, error) {
	return t.store.Get(ctx, id)
}

// ActiveGoals returns the active goals, from cache when possible.
// Concurrent misses share one store read.
func (t *Tracker) ActiveGoals(ctx context.Context) ([]*Goal, error) {
	if goals := t.cache.Get(); goals != nil {
		return goals, nil
	}

	v, err, _ := t.loads.Do("active", func() (any, error) {
		goals, err := t.store.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		t.cache.Set(goals)
		return goals, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Goal), nil
}

// EvaluateGoal loads one goal and evaluates it for the subject without
// crediting it.
func (t *Tracker) EvaluateGoal(ctx context.Context, goalID string, affiliate *domain.Affiliate, subject any) (Decision, error) {
	goal, err := t.store.Get(ctx, goalID)
	if err != nil {
		return Decision{}, err
	}
	return t.evaluator.Evaluate(goal, affiliate, subject)
}

// Track evaluates every active goal for the subject and credits the
// eligible ones to the affiliate.
//
// All goals are evaluated before any is credited, so a misconfigured goal
// (unknown rule type) aborts tracking without partial credits. A goal whose
// usage increment is refused by the store has reached its limit since it
// was cached and is skipped.
//
// Eligible goals are credited independently. When the store fails for some
// of them, Track still returns the credits it committed together with the
// joined errors, so callers never lose track of a recorded credit.
func (t *Tracker) Track(ctx context.Context, affiliate *domain.Affiliate, subject any) ([]Credit, error) {
	if affiliate == nil {
		return nil, fmt.Errorf("an affiliate is required to track a subject")
	}

	goals, err := t.ActiveGoals(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []*Goal
	for _, goal := range goals {
		ok, err := t.evaluator.IsEligible(goal, affiliate, subject)
		if err != nil {
			logger.Error("goal evaluation failed", "goal_id", goal.ID, "error", err)
			return nil, err
		}
		if ok {
			eligible = append(eligible, goal)
		}
	}

	credits := make([]Credit, 0, len(eligible))
	var failures []error
	stale := false
	for _, goal := range eligible {
		credit, err := t.store.CreditGoal(ctx, goal.ID, affiliate.ID)
		if err != nil {
			logger.Error("failed to credit goal", "goal_id", goal.ID, "affiliate_id", affiliate.ID, "error", err)
			failures = append(failures, fmt.Errorf("failed to credit goal %s: %w", goal.ID, err))
			stale = true
			continue
		}
		if credit == nil {
			stale = true
			continue
		}

		t.metrics.IncrementCredited()
		logger.Debug("goal credited", "goal_id", goal.ID, "affiliate_id", affiliate.ID)
		credits = append(credits, *credit)
	}

	// cached Used counters lag behind the store; refresh once a limit was hit
	if stale {
		t.cache.Invalidate()
	}

	return credits, errors.Join(failures...)
}

// Credits lists the goals credited to affiliateID, newest first
func (t *Tracker) Credits(ctx context.Context, affiliateID string) ([]Credit, error) {
	return t.store.ListCredits(ctx, affiliateID)
}

// CountCredits returns how many goals were credited to affiliateID
func (t *Tracker) CountCredits(ctx context.Context, affiliateID string) (int, error) {
	return t.store.CountCredits(ctx, affiliateID)
}

func (t *Tracker) validate(goal *Goal) error {
	var problems []string

	if strings.TrimSpace(goal.Name) == "" {
		problems = append(problems, "name is required")
	}
	if goal.StartsAt != nil && goal.EndsAt != nil && goal.EndsAt.Before(*goal.StartsAt) {
		problems = append(problems, "endsAt is before startsAt")
	}
	if goal.UsageLimit != nil && *goal.UsageLimit < 0 {
		problems = append(problems, "usageLimit must not be negative")
	}
	if err := rules.ValidateRules(t.registry, goal.Rules); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidGoal, strings.Join(problems, "; "))
	}
	return nil
}
