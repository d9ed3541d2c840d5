// Package affiliates manages affiliate accounts: signup with referral codes,
// the referral tree built from them and the invitations affiliates send.
package affiliates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/liamcoop/affiliate/domain"
	"github.com/liamcoop/affiliate/internal/logger"
)

// referralCodeLength is the number of hex characters in a generated code
const referralCodeLength = 10

// maxCodeAttempts bounds retries when a generated code collides
const maxCodeAttempts = 5

// Summary is the account overview of one affiliate
type Summary struct {
	AffiliateID    string `json:"affiliateId"`
	ReferralCode   string `json:"referralCode"`
	ReferralsCount int    `json:"referralsCount"`
	CreditsCount   int    `json:"creditsCount"`
}

// CreditCounter counts the goals credited to an affiliate
type CreditCounter interface {
	CountCredits(ctx context.Context, affiliateID string) (int, error)
}

// Service implements affiliate signup and lookups over a Store
type Service struct {
	store      Store
	multiLevel bool
	newCode    func() string
	credits    CreditCounter
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithMultiLevel records the referrer of new affiliates signing up with a
// referral code. Disabled, referral codes are ignored at signup.
func WithMultiLevel(enabled bool) ServiceOption {
	return func(s *Service) { s.multiLevel = enabled }
}

// WithCodeGenerator replaces the referral code generator
func WithCodeGenerator(gen func() string) ServiceOption {
	return func(s *Service) { s.newCode = gen }
}

// WithCreditCounter lets Summary report the affiliate's credited goals
func WithCreditCounter(counter CreditCounter) ServiceOption {
	return func(s *Service) { s.credits = counter }
}

// NewService creates an affiliate service
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		newCode: GenerateReferralCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateReferralCode returns a random upper-case hex code
func GenerateReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:referralCodeLength])
}

// Signup turns a customer into an affiliate. referrerCode is optional.
func (s *Service) Signup(ctx context.Context, customerID, referrerCode string) (*domain.Affiliate, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer ID is required")
	}

	if _, err := s.store.GetByCustomer(ctx, customerID); err == nil {
		return nil, fmt.Errorf("%w: customer %s", ErrAlreadyAffiliate, customerID)
	} else if !errors.Is(err, ErrAffiliateNotFound) {
		return nil, err
	}

	affiliate := &domain.Affiliate{
		ID:         uuid.NewString(),
		CustomerID: customerID,
	}

	if s.multiLevel && referrerCode != "" {
		referrer, err := s.store.GetByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(referrerCode)))
		if errors.Is(err, ErrAffiliateNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReferralCode, referrerCode)
		}
		if err != nil {
			return nil, err
		}
		affiliate.ReferrerID = &referrer.ID
	}

	for attempt := 1; ; attempt++ {
		affiliate.ReferralCode = s.newCode()

		err := s.store.Add(ctx, affiliate)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrReferralCodeTaken) || attempt == maxCodeAttempts {
			return nil, err
		}
		logger.Warn("referral code collision, regenerating", "attempt", attempt)
	}

	logger.Info("affiliate signed up",
		"affiliate_id", affiliate.ID,
		"customer_id", affiliate.CustomerID,
		"referred", affiliate.ReferrerID != nil)
	return affiliate, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Affiliate, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByCustomer(ctx context.Context, customerID string) (*domain.Affiliate, error) {
	return s.store.GetByCustomer(ctx, customerID)
}

// Referrals lists the affiliates directly referred by id
func (s *Service) Referrals(ctx context.Context, id string) ([]*domain.Affiliate, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListReferrals(ctx, id)
}

// Summary returns the referral code, direct referral count and, when a
// CreditCounter is configured, credited goal count of id
func (s *Service) Summary(ctx context.Context, id string) (Summary, error) {
	affiliate, err := s.store.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	count, err := s.store.CountReferrals(ctx, id)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		AffiliateID:    affiliate.ID,
		ReferralCode:   affiliate.ReferralCode,
		ReferralsCount: count,
	}

	if s.credits != nil {
		summary.CreditsCount, err = s.credits.CountCredits(ctx, id)
		if err != nil {
			return Summary{}, err
		}
	}
	return summary, nil
}
