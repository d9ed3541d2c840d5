package affiliates

import "errors"

var (
	// ErrAffiliateNotFound indicates no affiliate matches the lookup
	ErrAffiliateNotFound = errors.New("affiliate not found")

	// ErrAlreadyAffiliate indicates the customer already signed up
	ErrAlreadyAffiliate = errors.New("customer is already an affiliate")

	// ErrUnknownReferralCode indicates a signup named a referrer code that
	// belongs to no affiliate
	ErrUnknownReferralCode = errors.New("unknown referral code")

	// ErrReferralCodeTaken indicates a generated referral code collided
	// with an existing one
	ErrReferralCodeTaken = errors.New("referral code already in use")

	// ErrInvalidEmail indicates an invitation address is not an e-mail address
	ErrInvalidEmail = errors.New("invalid e-mail address")
)
