package goals

import "errors"

var (
	// ErrGoalNotFound indicates no goal exists with the requested ID
	ErrGoalNotFound = errors.New("goal not found")

	// ErrGoalExists indicates a goal with the same ID was already stored
	ErrGoalExists = errors.New("goal already exists")
)

// ErrInvalidGoal indicates a goal definition failed validation
var ErrInvalidGoal = errors.New("invalid goal")
