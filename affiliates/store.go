package affiliates

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/affiliate/domain"
)

// Store manages affiliate persistence
type Store interface {
	// Add stores a new affiliate. A customer can own one affiliate and
	// referral codes are unique.
	Add(ctx context.Context, affiliate *domain.Affiliate) error

	Get(ctx context.Context, id string) (*domain.Affiliate, error)

	GetByCustomer(ctx context.Context, customerID string) (*domain.Affiliate, error)

	GetByReferralCode(ctx context.Context, code string) (*domain.Affiliate, error)

	// ListReferrals returns the affiliates directly referred by referrerID,
	// oldest first
	ListReferrals(ctx context.Context, referrerID string) ([]*domain.Affiliate, error)

	CountReferrals(ctx context.Context, referrerID string) (int, error)

	// AddInvitation records an invitation unless its e-mail was invited
	// before, and reports whether it did
	AddInvitation(ctx context.Context, invitation *Invitation) (bool, error)

	// ListInvitations returns the invitations of affiliateID, oldest first
	ListInvitations(ctx context.Context, affiliateID string) ([]*Invitation, error)
}

// InMemoryStore implements Store with maps guarded by a RWMutex
type InMemoryStore struct {
	byID       map[string]*domain.Affiliate
	byCustomer map[string]string
	byCode     map[string]string
	invited    map[string]bool
	invites    []*Invitation
	mu         sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory affiliate store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[string]*domain.Affiliate),
		byCustomer: make(map[string]string),
		byCode:     make(map[string]string),
		invited:    make(map[string]bool),
	}
}

func (s *InMemoryStore) Add(_ context.Context, affiliate *domain.Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCustomer[affiliate.CustomerID]; exists {
		return fmt.Errorf("%w: customer %s", ErrAlreadyAffiliate, affiliate.CustomerID)
	}
	if _, exists := s.byCode[affiliate.ReferralCode]; exists {
		return fmt.Errorf("%w: %s", ErrReferralCodeTaken, affiliate.ReferralCode)
	}
	if _, exists := s.byID[affiliate.ID]; exists {
		return fmt.Errorf("affiliate %s already exists", affiliate.ID)
	}

	now := time.Now()
	affiliate.CreatedAt = now
	affiliate.UpdatedAt = now

	stored := clone(affiliate)
	s.byID[stored.ID] = stored
	s.byCustomer[stored.CustomerID] = stored.ID
	s.byCode[stored.ReferralCode] = stored.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*domain.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	affiliate, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAffiliateNotFound, id)
	}
	return clone(affiliate), nil
}

func (s *InMemoryStore) GetByCustomer(_ context.Context, customerID string) (*domain.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byCustomer[customerID]
	if !exists {
		return nil, fmt.Errorf("%w: customer %s", ErrAffiliateNotFound, customerID)
	}
	return clone(s.byID[id]), nil
}

func (s *InMemoryStore) GetByReferralCode(_ context.Context, code string) (*domain.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byCode[code]
	if !exists {
		return nil, fmt.Errorf("%w: code %s", ErrAffiliateNotFound, code)
	}
	return clone(s.byID[id]), nil
}

func (s *InMemoryStore) ListReferrals(_ context.Context, referrerID string) ([]*domain.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var referrals []*domain.Affiliate
	for _, a := range s.byID {
		if a.ReferrerID != nil && *a.ReferrerID == referrerID {
			referrals = append(referrals, clone(a))
		}
	}

	sort.Slice(referrals, func(i, j int) bool {
		if referrals[i].CreatedAt.Equal(referrals[j].CreatedAt) {
			return referrals[i].ID < referrals[j].ID
		}
		return referrals[i].CreatedAt.Before(referrals[j].CreatedAt)
	})
	return referrals, nil
}

func (s *InMemoryStore) CountReferrals(ctx context.Context, referrerID string) (int, error) {
	referrals, err := s.ListReferrals(ctx, referrerID)
	if err != nil {
		return 0, err
	}
	return len(referrals), nil
}

func (s *InMemoryStore) AddInvitation(_ context.Context, invitation *Invitation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.invited[invitation.Email] {
		return false, nil
	}

	invitation.CreatedAt = time.Now()
	stored := *invitation
	s.invited[stored.Email] = true
	s.invites = append(s.invites, &stored)
	return true, nil
}

func (s *InMemoryStore) ListInvitations(_ context.Context, affiliateID string) ([]*Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var invitations []*Invitation
	for _, inv := range s.invites {
		if inv.AffiliateID == affiliateID {
			c := *inv
			invitations = append(invitations, &c)
		}
	}
	return invitations, nil
}

func clone(a *domain.Affiliate) *domain.Affiliate {
	c := *a
	if a.ReferrerID != nil {
		id := *a.ReferrerID
		c.ReferrerID = &id
	}
	return &c
}
