package affiliates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/affiliate/domain"
)

// pgUniqueViolation is the SQLSTATE for a unique constraint violation
const pgUniqueViolation = "23505"

// PostgresStore implements Store backed by the affiliates table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const affiliateColumns = `id, customer_id, referral_code, referrer_id, created_at, updated_at`

func (s *PostgresStore) Add(ctx context.Context, affiliate *domain.Affiliate) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO affiliates (id, customer_id, referral_code, referrer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, affiliate.ID, affiliate.CustomerID, affiliate.ReferralCode, affiliate.ReferrerID, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			switch pqErr.Constraint {
			case "affiliates_customer_id_key":
				return fmt.Errorf("%w: customer %s", ErrAlreadyAffiliate, affiliate.CustomerID)
			case "affiliates_referral_code_key":
				return fmt.Errorf("%w: %s", ErrReferralCodeTaken, affiliate.ReferralCode)
			}
		}
		return fmt.Errorf("failed to insert affiliate: %w", err)
	}

	affiliate.CreatedAt = now
	affiliate.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Affiliate, error) {
	return s.getOne(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetByCustomer(ctx context.Context, customerID string) (*domain.Affiliate, error) {
	return s.getOne(ctx, `customer_id = $1`, customerID)
}

func (s *PostgresStore) GetByReferralCode(ctx context.Context, code string) (*domain.Affiliate, error) {
	return s.getOne(ctx, `referral_code = $1`, code)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg string) (*domain.Affiliate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE `+where, arg)

	affiliate, err := scanAffiliate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAffiliateNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	return affiliate, nil
}

func (s *PostgresStore) ListReferrals(ctx context.Context, referrerID string) ([]*domain.Affiliate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+affiliateColumns+`
		FROM affiliates
		WHERE referrer_id = $1
		ORDER BY created_at ASC, id ASC
	`, referrerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var referrals []*domain.Affiliate
	for rows.Next() {
		affiliate, err := scanAffiliate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan affiliate: %w", err)
		}
		referrals = append(referrals, affiliate)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referrals: %w", err)
	}
	return referrals, nil
}

func (s *PostgresStore) CountReferrals(ctx context.Context, referrerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM affiliates WHERE referrer_id = $1`, referrerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count referrals: %w", err)
	}
	return count, nil
}

// AddInvitation relies on the unique e-mail constraint to skip addresses
// that were invited before
func (s *PostgresStore) AddInvitation(ctx context.Context, invitation *Invitation) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, affiliate_id, email, referral_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`, invitation.ID, invitation.AffiliateID, invitation.Email, invitation.ReferralCode, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert invitation: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	invitation.CreatedAt = now
	return true, nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, affiliateID string) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, affiliate_id, email, referral_code, created_at
		FROM invitations
		WHERE affiliate_id = $1
		ORDER BY created_at ASC, email ASC
	`, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.AffiliateID, &inv.Email, &inv.ReferralCode, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, &inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}
	return invitations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAffiliate(row rowScanner) (*domain.Affiliate, error) {
	var a domain.Affiliate
	var referrerID sql.NullString

	if err := row.Scan(&a.ID, &a.CustomerID, &a.ReferralCode, &referrerID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if referrerID.Valid {
		a.ReferrerID = &referrerID.String
	}
	return &a, nil
}
