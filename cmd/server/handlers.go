package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/affiliate/affiliates"
	"github.com/liamcoop/affiliate/domain"
	"github.com/liamcoop/affiliate/goals"
	"github.com/liamcoop/affiliate/internal/logger"
)

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := HealthResponse{Status: "healthy", Checks: map[string]string{}}

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			resp.Status = "unhealthy"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	respondJSON(w, status, resp)
}

func (s *Server) handleRuleTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RuleTypesResponse{Types: s.registry.Types()})
}

// List active goals handler
func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	active, err := s.tracker.ActiveGoals(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list goals", err)
		return
	}
	if active == nil {
		active = []*goals.Goal{}
	}

	respondJSON(w, http.StatusOK, GoalsListResponse{Goals: active})
}

// Create goal handler
func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	goal := req.toGoal(req.ID)
	if err := s.tracker.AddGoal(r.Context(), goal); err != nil {
		respondServiceError(w, "failed to create goal", err)
		return
	}

	logger.Info("goal created", "goal_id", goal.ID, "rules", len(goal.Rules))
	respondJSON(w, http.StatusCreated, goal)
}

// Get goal handler
func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.tracker.GetGoal(r.Context(), chi.URLParam(r, "goalId"))
	if err != nil {
		respondServiceError(w, "failed to get goal", err)
		return
	}

	respondJSON(w, http.StatusOK, goal)
}

// Update goal handler
func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	goalID := chi.URLParam(r, "goalId")

	var req GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	goal := req.toGoal(goalID)
	if err := s.tracker.UpdateGoal(r.Context(), goal); err != nil {
		respondServiceError(w, "failed to update goal", err)
		return
	}

	updated, err := s.tracker.GetGoal(r.Context(), goalID)
	if err != nil {
		respondServiceError(w, "failed to get goal", err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// Delete goal handler
func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteGoal(r.Context(), chi.URLParam(r, "goalId")); err != nil {
		respondServiceError(w, "failed to delete goal", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Eligibility handler evaluates one goal without crediting it
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	req, subject, ok := s.decodeSubjectRequest(w, r)
	if !ok {
		return
	}

	var affiliate *domain.Affiliate
	if req.AffiliateID != "" {
		var err error
		affiliate, err = s.affiliates.Get(r.Context(), req.AffiliateID)
		if err != nil {
			respondServiceError(w, "failed to resolve affiliate", err)
			return
		}
	}

	decision, err := s.tracker.EvaluateGoal(r.Context(), chi.URLParam(r, "goalId"), affiliate, subject)
	if err != nil {
		respondServiceError(w, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// Track handler credits every eligible goal to the affiliate
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	req, subject, ok := s.decodeSubjectRequest(w, r)
	if !ok {
		return
	}

	if req.AffiliateID == "" {
		respondError(w, http.StatusBadRequest, "affiliateId is required", nil)
		return
	}

	affiliate, err := s.affiliates.Get(r.Context(), req.AffiliateID)
	if err != nil {
		respondServiceError(w, "failed to resolve affiliate", err)
		return
	}

	credits, err := s.tracker.Track(r.Context(), affiliate, subject)
	if credits == nil {
		credits = []goals.Credit{}
	}
	if err != nil {
		// credits recorded before the failure stay in the body so a
		// client does not retry goals that were already credited
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("tracking failed", "affiliate_id", affiliate.ID, "credited", len(credits), "error", err)
		}
		respondJSON(w, status, TrackResponse{Credits: credits, Error: "tracking failed", Details: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, TrackResponse{Credits: credits})
}

// Signup handler
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.CustomerID == "" {
		respondError(w, http.StatusBadRequest, "customerId is required", nil)
		return
	}

	affiliate, err := s.affiliates.Signup(r.Context(), req.CustomerID, req.ReferrerCode)
	if err != nil {
		respondServiceError(w, "signup failed", err)
		return
	}

	respondJSON(w, http.StatusCreated, AffiliateResponse{Affiliate: affiliate})
}

// Get affiliate handler
func (s *Server) handleGetAffiliate(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliateId")

	affiliate, err := s.affiliates.Get(r.Context(), affiliateID)
	if err != nil {
		respondServiceError(w, "failed to get affiliate", err)
		return
	}

	summary, err := s.affiliates.Summary(r.Context(), affiliateID)
	if err != nil {
		respondServiceError(w, "failed to summarise affiliate", err)
		return
	}

	respondJSON(w, http.StatusOK, AffiliateResponse{
		Affiliate:      affiliate,
		ReferralsCount: summary.ReferralsCount,
		CreditsCount:   summary.CreditsCount,
	})
}

// List credits handler
func (s *Server) handleListCredits(w http.ResponseWriter, r *http.Request) {
	affiliateID := chi.URLParam(r, "affiliateId")

	if _, err := s.affiliates.Get(r.Context(), affiliateID); err != nil {
		respondServiceError(w, "failed to get affiliate", err)
		return
	}

	credits, err := s.tracker.Credits(r.Context(), affiliateID)
	if err != nil {
		respondServiceError(w, "failed to list credits", err)
		return
	}
	if credits == nil {
		credits = []goals.Credit{}
	}

	respondJSON(w, http.StatusOK, CreditsResponse{Credits: credits})
}

// Invite handler records invitations for new e-mail addresses
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Emails) == 0 {
		respondError(w, http.StatusBadRequest, "emails are required", nil)
		return
	}

	invitations, err := s.affiliates.Invite(r.Context(), chi.URLParam(r, "affiliateId"), req.Emails)
	if err != nil {
		respondServiceError(w, "failed to record invitations", err)
		return
	}

	respondJSON(w, http.StatusCreated, InvitationsResponse{Invitations: invitations})
}

// List invitations handler
func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	invitations, err := s.affiliates.Invitations(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		respondServiceError(w, "failed to list invitations", err)
		return
	}
	if invitations == nil {
		invitations = []*affiliates.Invitation{}
	}

	respondJSON(w, http.StatusOK, InvitationsResponse{Invitations: invitations})
}

// List referrals handler
func (s *Server) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	referrals, err := s.affiliates.Referrals(r.Context(), chi.URLParam(r, "affiliateId"))
	if err != nil {
		respondServiceError(w, "failed to list referrals", err)
		return
	}
	if referrals == nil {
		referrals = []*domain.Affiliate{}
	}

	respondJSON(w, http.StatusOK, ReferralsResponse{Referrals: referrals})
}

// decodeSubjectRequest reads a SubjectRequest and decodes its subject,
// writing a 400 and returning false on failure
func (s *Server) decodeSubjectRequest(w http.ResponseWriter, r *http.Request) (SubjectRequest, any, bool) {
	var req SubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return req, nil, false
	}

	if req.Subject == nil {
		respondError(w, http.StatusBadRequest, "subject is required", nil)
		return req, nil, false
	}

	subject, err := req.Subject.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subject", err)
		return req, nil, false
	}

	return req, subject, true
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondServiceError maps service sentinels to status codes. Anything
// unrecognised, including rule errors from a misconfigured stored goal,
// is a 500.
func respondServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, "error", err)
	}
	respondError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, goals.ErrGoalNotFound),
		errors.Is(err, affiliates.ErrAffiliateNotFound):
		return http.StatusNotFound
	case errors.Is(err, goals.ErrGoalExists),
		errors.Is(err, affiliates.ErrAlreadyAffiliate):
		return http.StatusConflict
	case errors.Is(err, goals.ErrInvalidGoal),
		errors.Is(err, affiliates.ErrUnknownReferralCode),
		errors.Is(err, affiliates.ErrInvalidEmail),
		errors.Is(err, domain.ErrUnknownSubjectKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
