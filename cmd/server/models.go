package main

import (
	"time"

	"github.com/liamcoop/affiliate/affiliates"
	"github.com/liamcoop/affiliate/domain"
	"github.com/liamcoop/affiliate/goals"
	"github.com/liamcoop/affiliate/rules"
)

// API request and response models

// GoalRequest is the body for creating or replacing a goal
type GoalRequest struct {
	ID         string       `json:"id,omitempty"`
	Name       string       `json:"name"`
	StartsAt   *time.Time   `json:"startsAt,omitempty"`
	EndsAt     *time.Time   `json:"endsAt,omitempty"`
	UsageLimit *int         `json:"usageLimit,omitempty"`
	Rules      []rules.Rule `json:"rules"`
	Active     *bool        `json:"active,omitempty"`
}

// toGoal builds a goal from the request; active defaults to true
func (r GoalRequest) toGoal(id string) *goals.Goal {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &goals.Goal{
		ID:         id,
		Name:       r.Name,
		StartsAt:   r.StartsAt,
		EndsAt:     r.EndsAt,
		UsageLimit: r.UsageLimit,
		Rules:      r.Rules,
		Active:     active,
	}
}

// GoalsListResponse lists the active goals
type GoalsListResponse struct {
	Goals []*goals.Goal `json:"goals"`
}

// SubjectRequest is the body for evaluating or tracking a subject
type SubjectRequest struct {
	AffiliateID string                  `json:"affiliateId,omitempty"`
	Subject     *domain.SubjectEnvelope `json:"subject"`
}

// TrackResponse lists the goals credited for a subject. When crediting
// failed for some goals, Error and Details describe the failure and
// Credits still lists the credits that were recorded.
type TrackResponse struct {
	Credits []goals.Credit `json:"credits"`
	Error   string         `json:"error,omitempty"`
	Details string         `json:"details,omitempty"`
}

// SignupRequest is the body for creating an affiliate
type SignupRequest struct {
	CustomerID   string `json:"customerId"`
	ReferrerCode string `json:"referrerCode,omitempty"`
}

// AffiliateResponse is an affiliate with its referral summary
type AffiliateResponse struct {
	*domain.Affiliate
	ReferralsCount int `json:"referralsCount"`
	CreditsCount   int `json:"creditsCount"`
}

// ReferralsResponse lists direct referrals of an affiliate
type ReferralsResponse struct {
	Referrals []*domain.Affiliate `json:"referrals"`
}

// CreditsResponse lists the goals credited to an affiliate, newest first
type CreditsResponse struct {
	Credits []goals.Credit `json:"credits"`
}

// InviteRequest is the body for recording invitations
type InviteRequest struct {
	Emails []string `json:"emails"`
}

// InvitationsResponse lists invitations
type InvitationsResponse struct {
	Invitations []*affiliates.Invitation `json:"invitations"`
}

// RuleTypesResponse lists the registered rule types
type RuleTypesResponse struct {
	Types []string `json:"types"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
