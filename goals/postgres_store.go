package goals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/affiliate/rules"
)

// PostgresGoalStore implements GoalStore backed by PostgreSQL.
// Rules are stored as a JSONB array in rule order.
type PostgresGoalStore struct {
	db *sql.DB
}

// NewPostgresGoalStore creates a new PostgreSQL-backed GoalStore
func NewPostgresGoalStore(db *sql.DB) *PostgresGoalStore {
	return &PostgresGoalStore{db: db}
}

const goalColumns = `id, name, starts_at, ends_at, usage_limit, used, rules, active, created_at, updated_at`

// Add inserts a new goal
func (s *PostgresGoalStore) Add(ctx context.Context, goal *Goal) error {
	rulesJSON, err := marshalRules(goal.Rules)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, name, starts_at, ends_at, usage_limit, used, rules, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING
	`, goal.ID, goal.Name, goal.StartsAt, goal.EndsAt, nullableInt(goal.UsageLimit),
		goal.Used, rulesJSON, goal.Active, now)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %s", ErrGoalExists, goal.ID)
	}

	goal.CreatedAt = now
	goal.UpdatedAt = now
	return nil
}

// Get retrieves a goal by ID
func (s *PostgresGoalStore) Get(ctx context.Context, id string) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, id)

	goal, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}
	return goal, nil
}

// ListActive returns all active goals ordered by creation time
func (s *PostgresGoalStore) ListActive(ctx context.Context) ([]*Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goalColumns+`
		FROM goals
		WHERE active = true
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active goals: %w", err)
	}
	defer rows.Close()

	var goalList []*Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goalList = append(goalList, goal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}

	return goalList, nil
}

// Update modifies an existing goal. The used counter is left untouched.
func (s *PostgresGoalStore) Update(ctx context.Context, goal *Goal) error {
	rulesJSON, err := marshalRules(goal.Rules)
	if err != nil {
		return err
	}

	goal.UpdatedAt = time.Now().UTC()

	err = s.db.QueryRowContext(ctx, `
		UPDATE goals
		SET name = $1, starts_at = $2, ends_at = $3, usage_limit = $4, rules = $5, active = $6, updated_at = $7
		WHERE id = $8
		RETURNING used, created_at
	`, goal.Name, goal.StartsAt, goal.EndsAt, nullableInt(goal.UsageLimit), rulesJSON,
		goal.Active, goal.UpdatedAt, goal.ID).Scan(&goal.Used, &goal.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrGoalNotFound, goal.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	return nil
}

// Delete removes a goal from the database
func (s *PostgresGoalStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}

	return nil
}

// IncrementUsage performs a conditional update so concurrent credits can
// never push used past usage_limit.
func (s *PostgresGoalStore) IncrementUsage(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET used = used + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR used < usage_limit)
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to increment goal usage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return true, nil
	}

	// distinguish "limit reached" from "no such goal"
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM goals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check goal existence: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	return false, nil
}

// CreditGoal runs the conditional usage update and the credit insert in
// one transaction, so a credit row exists exactly when used was bumped.
func (s *PostgresGoalStore) CreditGoal(ctx context.Context, goalID, affiliateID string) (*Credit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	credit := Credit{GoalID: goalID, AffiliateID: affiliateID}
	err = tx.QueryRowContext(ctx, `
		UPDATE goals
		SET used = used + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR used < usage_limit)
		RETURNING name
	`, goalID).Scan(&credit.GoalName)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM goals WHERE id = $1)`, goalID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check goal existence: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment goal usage: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO credits (goal_id, goal_name, affiliate_id)
		VALUES ($1, $2, $3)
		RETURNING id, credited_at
	`, credit.GoalID, credit.GoalName, credit.AffiliateID).Scan(&credit.ID, &credit.CreditedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return &credit, nil
}

// ListCredits returns the credits of affiliateID, newest first
func (s *PostgresGoalStore) ListCredits(ctx context.Context, affiliateID string) ([]Credit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, goal_name, affiliate_id, credited_at
		FROM credits
		WHERE affiliate_id = $1
		ORDER BY id DESC
	`, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	var credits []Credit
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.GoalID, &c.GoalName, &c.AffiliateID, &c.CreditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		credits = append(credits, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credits: %w", err)
	}
	return credits, nil
}

func (s *PostgresGoalStore) CountCredits(ctx context.Context, affiliateID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credits WHERE affiliate_id = $1`, affiliateID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count credits: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*Goal, error) {
	var (
		goal       Goal
		startsAt   sql.NullTime
		endsAt     sql.NullTime
		usageLimit sql.NullInt64
		rulesJSON  []byte
	)

	err := row.Scan(&goal.ID, &goal.Name, &startsAt, &endsAt, &usageLimit, &goal.Used,
		&rulesJSON, &goal.Active, &goal.CreatedAt, &goal.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if startsAt.Valid {
		goal.StartsAt = &startsAt.Time
	}
	if endsAt.Valid {
		goal.EndsAt = &endsAt.Time
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		goal.UsageLimit = &limit
	}
	if err := json.Unmarshal(rulesJSON, &goal.Rules); err != nil {
		return nil, fmt.Errorf("invalid rules for goal %s: %w", goal.ID, err)
	}

	return &goal, nil
}

// marshalRules returns the JSONB text; lib/pq would send a []byte as bytea.
func marshalRules(ruleSet []rules.Rule) (string, error) {
	if ruleSet == nil {
		ruleSet = []rules.Rule{}
	}
	data, err := json.Marshal(ruleSet)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rules: %w", err)
	}
	return string(data), nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
