package goals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// GoalStore manages goal persistence and retrieval
type GoalStore interface {
	// Add a new goal
	Add(ctx context.Context, goal *Goal) error

	// Get a goal by ID
	Get(ctx context.Context, id string) (*Goal, error)

	// ListActive returns active goals, oldest first
	ListActive(ctx context.Context) ([]*Goal, error)

	// Update an existing goal. The stored Used counter is kept; it only
	// changes through IncrementUsage.
	Update(ctx context.Context, goal *Goal) error

	// Delete a goal
	Delete(ctx context.Context, id string) error

	// IncrementUsage atomically bumps the goal's Used counter unless its
	// usage limit has been reached, and reports whether it did. This is
	// the only guard against crediting a goal past its limit when several
	// subjects are tracked concurrently.
	IncrementUsage(ctx context.Context, id string) (bool, error)

	// CreditGoal increments usage like IncrementUsage and, when it does,
	// records the credit for affiliateID in the same step. A nil credit
	// with a nil error means the usage limit was reached.
	CreditGoal(ctx context.Context, goalID, affiliateID string) (*Credit, error)

	// ListCredits returns the credits earned by affiliateID, newest first
	ListCredits(ctx context.Context, affiliateID string) ([]Credit, error)

	CountCredits(ctx context.Context, affiliateID string) (int, error)
}

// InMemoryGoalStore implements GoalStore using an in-memory map.
// Goals are copied on the way in and out.
type InMemoryGoalStore struct {
	goals        map[string]*Goal
	credits      []Credit
	nextCreditID int64
	mu           sync.RWMutex
}

// NewInMemoryGoalStore creates a new in-memory goal store
func NewInMemoryGoalStore() *InMemoryGoalStore {
	return &InMemoryGoalStore{
		goals: make(map[string]*Goal),
	}
}

// Add adds a new goal and sets its timestamps
func (s *InMemoryGoalStore) Add(_ context.Context, goal *Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.goals[goal.ID]; exists {
		return fmt.Errorf("%w: %s", ErrGoalExists, goal.ID)
	}

	now := time.Now()
	goal.CreatedAt = now
	goal.UpdatedAt = now
	s.goals[goal.ID] = goal.clone()
	return nil
}

// Get retrieves a goal by ID
func (s *InMemoryGoalStore) Get(_ context.Context, id string) (*Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, exists := s.goals[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	return goal.clone(), nil
}

// ListActive returns all active goals ordered by creation time
func (s *InMemoryGoalStore) ListActive(_ context.Context) ([]*Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Goal
	for _, goal := range s.goals {
		if goal.Active {
			active = append(active, goal.clone())
		}
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Update replaces an existing goal, preserving CreatedAt and Used
func (s *InMemoryGoalStore) Update(_ context.Context, goal *Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.goals[goal.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrGoalNotFound, goal.ID)
	}

	goal.CreatedAt = existing.CreatedAt
	goal.Used = existing.Used
	goal.UpdatedAt = time.Now()
	s.goals[goal.ID] = goal.clone()
	return nil
}

// Delete removes a goal from the store
func (s *InMemoryGoalStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.goals[id]; !exists {
		return fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}

	delete(s.goals, id)
	return nil
}

// IncrementUsage bumps Used under the write lock when below the limit
func (s *InMemoryGoalStore) IncrementUsage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.incrementLocked(id)
	if errors.Is(err, errLimitReached) {
		return false, nil
	}
	return err == nil, err
}

// CreditGoal increments usage and appends the credit under one lock
func (s *InMemoryGoalStore) CreditGoal(_ context.Context, goalID, affiliateID string) (*Credit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, err := s.incrementLocked(goalID)
	if errors.Is(err, errLimitReached) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.nextCreditID++
	credit := Credit{
		ID:          s.nextCreditID,
		GoalID:      goal.ID,
		GoalName:    goal.Name,
		AffiliateID: affiliateID,
		CreditedAt:  time.Now(),
	}
	s.credits = append(s.credits, credit)
	return &credit, nil
}

// ListCredits walks the ledger backwards, so the newest credit comes first
func (s *InMemoryGoalStore) ListCredits(_ context.Context, affiliateID string) ([]Credit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credits []Credit
	for i := len(s.credits) - 1; i >= 0; i-- {
		if s.credits[i].AffiliateID == affiliateID {
			credits = append(credits, s.credits[i])
		}
	}
	return credits, nil
}

func (s *InMemoryGoalStore) CountCredits(ctx context.Context, affiliateID string) (int, error) {
	credits, err := s.ListCredits(ctx, affiliateID)
	if err != nil {
		return 0, err
	}
	return len(credits), nil
}

var errLimitReached = errors.New("usage limit reached")

// incrementLocked must be called with the write lock held
func (s *InMemoryGoalStore) incrementLocked(id string) (*Goal, error) {
	goal, exists := s.goals[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}

	if goal.UsageLimit != nil && goal.Used >= *goal.UsageLimit {
		return nil, errLimitReached
	}

	goal.Used++
	return goal, nil
}
