package affiliates

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/affiliate/internal/logger"
)

// Invitation records that an affiliate invited an e-mail address with
// their referral code. An address is only ever invited once.
type Invitation struct {
	ID           string    `json:"id"`
	AffiliateID  string    `json:"affiliateId"`
	Email        string    `json:"email"`
	ReferralCode string    `json:"referralCode"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Invite records invitations from the affiliate to each address. Addresses
// are trimmed and lower-cased; blanks, repeats and addresses invited
// before are skipped. It returns the invitations created by this call.
func (s *Service) Invite(ctx context.Context, affiliateID string, emails []string) ([]*Invitation, error) {
	affiliate, err := s.store.Get(ctx, affiliateID)
	if err != nil {
		return nil, err
	}

	addresses, err := normalizeEmails(emails)
	if err != nil {
		return nil, err
	}

	created := make([]*Invitation, 0, len(addresses))
	for _, email := range addresses {
		invitation := &Invitation{
			ID:           uuid.NewString(),
			AffiliateID:  affiliate.ID,
			Email:        email,
			ReferralCode: affiliate.ReferralCode,
		}

		added, err := s.store.AddInvitation(ctx, invitation)
		if err != nil {
			return created, err
		}
		if added {
			created = append(created, invitation)
		}
	}

	logger.Info("invitations recorded",
		"affiliate_id", affiliate.ID,
		"requested", len(emails),
		"created", len(created))
	return created, nil
}

// Invitations lists the invitations sent by the affiliate, oldest first
func (s *Service) Invitations(ctx context.Context, affiliateID string) ([]*Invitation, error) {
	if _, err := s.store.Get(ctx, affiliateID); err != nil {
		return nil, err
	}
	return s.store.ListInvitations(ctx, affiliateID)
}

func normalizeEmails(emails []string) ([]string, error) {
	seen := make(map[string]bool, len(emails))
	var addresses []string

	for _, raw := range emails {
		email := strings.ToLower(strings.TrimSpace(raw))
		if email == "" || seen[email] {
			continue
		}

		parsed, err := mail.ParseAddress(email)
		if err != nil || parsed.Address != email {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
		}

		seen[email] = true
		addresses = append(addresses, email)
	}
	return addresses, nil
}
