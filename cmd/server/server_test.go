package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liamcoop/affiliate/affiliates"
	"github.com/liamcoop/affiliate/goals"
	"github.com/liamcoop/affiliate/internal/config"
	"github.com/liamcoop/affiliate/rules"
)

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	deps, cleanup, err := buildDeps(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildDeps() failed: %v", err)
	}
	t.Cleanup(cleanup)

	ts := httptest.NewServer(NewServer(deps))
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d; body: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func signup(t *testing.T, baseURL, customerID, code string) AffiliateResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/v1/affiliates", SignupRequest{CustomerID: customerID, ReferrerCode: code})
	expectStatus(t, resp, body, http.StatusCreated)
	return decode[AffiliateResponse](t, body)
}

func orderSubject(total float64, sequence int) map[string]any {
	return map[string]any{
		"type": "order",
		"data": map[string]any{"id": "o-1", "total": total, "sequence": sequence},
	}
}

func TestHealthAndRuleTypes(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", nil)
	expectStatus(t, resp, body, http.StatusOK)
	if health := decode[HealthResponse](t, body); health.Status != "healthy" {
		t.Errorf("health status = %s, want healthy", health.Status)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/rule-types", nil)
	expectStatus(t, resp, body, http.StatusOK)
	types := decode[RuleTypesResponse](t, body).Types
	want := []string{"affiliate", "customer_group", "expression", "min_order_total", "nth_order"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("rule types = %v, want %v", types, want)
	}
}

func TestGoalCRUD(t *testing.T) {
	ts := newTestServer(t, nil)
	base := ts.URL + "/api/v1/goals"

	create := GoalRequest{
		Name:  "Orders over 100",
		Rules: []rules.Rule{{Type: rules.TypeMinOrderTotal, Configuration: rules.Configuration{"amount": 100}}},
	}
	resp, body := doJSON(t, http.MethodPost, base, create)
	expectStatus(t, resp, body, http.StatusCreated)
	created := decode[goals.Goal](t, body)
	if created.ID == "" || !created.Active {
		t.Fatalf("created goal = %+v, want an active goal with an ID", created)
	}

	resp, body = doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = doJSON(t, http.MethodGet, base, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if list := decode[GoalsListResponse](t, body); len(list.Goals) != 1 {
		t.Errorf("listed %d goals, want 1", len(list.Goals))
	}

	inactive := false
	update := create
	update.Name = "Renamed"
	update.Active = &inactive
	resp, body = doJSON(t, http.MethodPut, base+"/"+created.ID, update)
	expectStatus(t, resp, body, http.StatusOK)
	if updated := decode[goals.Goal](t, body); updated.Name != "Renamed" || updated.Active {
		t.Errorf("updated goal = %+v", updated)
	}

	resp, body = doJSON(t, http.MethodGet, base, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if list := decode[GoalsListResponse](t, body); len(list.Goals) != 0 {
		t.Errorf("listed %d goals after deactivation, want 0", len(list.Goals))
	}

	resp, body = doJSON(t, http.MethodDelete, base+"/"+created.ID, nil)
	expectStatus(t, resp, body, http.StatusNoContent)

	resp, body = doJSON(t, http.MethodGet, base+"/"+created.ID, nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestCreateGoalValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	base := ts.URL + "/api/v1/goals"

	tests := []struct {
		name string
		body any
		want int
	}{
		{"unknown rule type", GoalRequest{Name: "x", Rules: []rules.Rule{{Type: "unknown_type"}}}, http.StatusBadRequest},
		{"missing name", GoalRequest{}, http.StatusBadRequest},
		{"bad expression", GoalRequest{Name: "x", Rules: []rules.Rule{{Type: rules.TypeExpression, Configuration: rules.Configuration{"expression": "order.total >"}}}}, http.StatusBadRequest},
		{"malformed json", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, base, tt.body)
			expectStatus(t, resp, body, tt.want)
		})
	}

	resp, body := doJSON(t, http.MethodPost, base, GoalRequest{ID: "dup", Name: "First"})
	expectStatus(t, resp, body, http.StatusCreated)
	resp, body = doJSON(t, http.MethodPost, base, GoalRequest{ID: "dup", Name: "Second"})
	expectStatus(t, resp, body, http.StatusConflict)
}

func TestEligibilityEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals", GoalRequest{
		ID:    "big-order",
		Name:  "Orders over 100",
		Rules: []rules.Rule{{Type: rules.TypeMinOrderTotal, Configuration: rules.Configuration{"amount": 100}}},
	})
	expectStatus(t, resp, body, http.StatusCreated)

	url := ts.URL + "/api/v1/goals/big-order/eligibility"

	resp, body = doJSON(t, http.MethodPost, url, subjectBody(orderSubject(50, 0)))
	expectStatus(t, resp, body, http.StatusOK)
	decision := decode[goals.Decision](t, body)
	if decision.Eligible || decision.Reason != goals.ReasonRuleRejected {
		t.Errorf("decision for small order = %+v, want rejected", decision)
	}
	if len(decision.RuleResults) != 1 || decision.RuleResults[0].Outcome != rules.Ineligible {
		t.Errorf("rule results = %+v, want one ineligible", decision.RuleResults)
	}

	resp, body = doJSON(t, http.MethodPost, url, subjectBody(orderSubject(150, 0)))
	expectStatus(t, resp, body, http.StatusOK)
	if decision := decode[goals.Decision](t, body); !decision.Eligible {
		t.Errorf("decision for large order = %+v, want eligible", decision)
	}

	resp, body = doJSON(t, http.MethodPost, url, map[string]any{"subject": map[string]any{"type": "invoice", "data": map[string]any{}}})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodPost, url, map[string]any{})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodPost, url, map[string]any{"affiliateId": "ghost", "subject": orderSubject(150, 0)})
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals/missing/eligibility", map[string]any{"subject": orderSubject(150, 0)})
	expectStatus(t, resp, body, http.StatusNotFound)
}

func subjectBody(subject map[string]any) map[string]any {
	return map[string]any{"subject": subject}
}

func TestTrackCreditsGoals(t *testing.T) {
	ts := newTestServer(t, nil)

	limit := 1
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals", GoalRequest{
		ID:         "second-order",
		Name:       "Second order",
		UsageLimit: &limit,
		Rules:      []rules.Rule{{Type: rules.TypeNthOrder, Configuration: rules.Configuration{"nth": 2}}},
	})
	expectStatus(t, resp, body, http.StatusCreated)

	affiliate := signup(t, ts.URL, "cust-1", "")
	track := func(sequence int) TrackResponse {
		t.Helper()
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/track", map[string]any{
			"affiliateId": affiliate.ID,
			"subject":     orderSubject(20, sequence),
		})
		expectStatus(t, resp, body, http.StatusOK)
		return decode[TrackResponse](t, body)
	}

	if got := track(1); len(got.Credits) != 0 {
		t.Errorf("first order credited %v, want nothing", got.Credits)
	}
	got := track(2)
	if len(got.Credits) != 1 || got.Credits[0].GoalID != "second-order" || got.Credits[0].AffiliateID != affiliate.ID {
		t.Errorf("second order credits = %+v, want second-order for %s", got.Credits, affiliate.ID)
	}
	if got := track(2); len(got.Credits) != 0 {
		t.Errorf("credits past usage limit = %v, want nothing", got.Credits)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/goals/second-order", nil)
	expectStatus(t, resp, body, http.StatusOK)
	if goal := decode[goals.Goal](t, body); goal.Used != 1 {
		t.Errorf("Used = %d, want 1", goal.Used)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/"+affiliate.ID+"/credits", nil)
	expectStatus(t, resp, body, http.StatusOK)
	history := decode[CreditsResponse](t, body).Credits
	if len(history) != 1 || history[0].GoalID != "second-order" || history[0].CreditedAt.IsZero() {
		t.Errorf("credit history = %+v, want one second-order credit", history)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/"+affiliate.ID, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if got := decode[AffiliateResponse](t, body); got.CreditsCount != 1 {
		t.Errorf("creditsCount = %d, want 1", got.CreditsCount)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/ghost/credits", nil)
	expectStatus(t, resp, body, http.StatusNotFound)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/track", map[string]any{"subject": orderSubject(20, 2)})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/track", map[string]any{"affiliateId": "ghost", "subject": orderSubject(20, 2)})
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestTrackMisconfiguredGoalIsServerError(t *testing.T) {
	store := goals.NewInMemoryGoalStore()
	if err := store.Add(context.Background(), &goals.Goal{ID: "broken", Name: "Broken", Active: true, Rules: []rules.Rule{{Type: "retired_type"}}}); err != nil {
		t.Fatalf("store.Add() failed: %v", err)
	}

	registry := rules.DefaultRegistry()
	service := affiliates.NewService(affiliates.NewInMemoryStore())
	ts := httptest.NewServer(NewServer(Deps{
		Tracker:    goals.NewTracker(store, goals.NewEvaluator(registry), registry),
		Affiliates: service,
		Registry:   registry,
	}))
	defer ts.Close()

	affiliate, err := service.Signup(context.Background(), "cust-1", "")
	if err != nil {
		t.Fatalf("Signup() failed: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/track", map[string]any{
		"affiliateId": affiliate.ID,
		"subject":     orderSubject(20, 1),
	})
	expectStatus(t, resp, body, http.StatusInternalServerError)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals/broken/eligibility", map[string]any{"subject": orderSubject(20, 1)})
	expectStatus(t, resp, body, http.StatusInternalServerError)
	if e := decode[ErrorResponse](t, body); !strings.Contains(e.Details, "unknown rule type") {
		t.Errorf("error details = %q, want an unknown rule type message", e.Details)
	}
}

func TestAffiliateEndpoints(t *testing.T) {
	cfg := config.Default()
	cfg.MultiLevelReferrals = true
	ts := newTestServer(t, cfg)

	root := signup(t, ts.URL, "cust-root", "")
	if root.ReferralCode == "" {
		t.Fatal("signup returned no referral code")
	}
	child := signup(t, ts.URL, "cust-child", root.ReferralCode)
	if child.ReferrerID == nil || *child.ReferrerID != root.ID {
		t.Errorf("child ReferrerID = %v, want %s", child.ReferrerID, root.ID)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/affiliates", SignupRequest{CustomerID: "cust-root"})
	expectStatus(t, resp, body, http.StatusConflict)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/affiliates", SignupRequest{CustomerID: "cust-x", ReferrerCode: "NOSUCHCODE"})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/affiliates", SignupRequest{})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/"+root.ID, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if got := decode[AffiliateResponse](t, body); got.ReferralsCount != 1 || got.CustomerID != "cust-root" {
		t.Errorf("affiliate = %+v, want cust-root with one referral", got)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/"+root.ID+"/referrals", nil)
	expectStatus(t, resp, body, http.StatusOK)
	referrals := decode[ReferralsResponse](t, body).Referrals
	if len(referrals) != 1 || referrals[0].ID != child.ID {
		t.Errorf("referrals = %+v, want [%s]", referrals, child.ID)
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/ghost", nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals", GoalRequest{ID: "open", Name: "Open goal"})
	expectStatus(t, resp, body, http.StatusCreated)
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals/open/eligibility", map[string]any{"subject": orderSubject(1, 1)})
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/metrics", nil)
	expectStatus(t, resp, body, http.StatusOK)

	text := string(body)
	for _, want := range []string{
		`affiliate_goal_decisions_total{reason="eligible"} 1`,
		`affiliate_http_requests_total{method="POST",route="/api/v1/goals/{goalId}/eligibility",status="200"} 1`,
		"affiliate_log_errors_total",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{goals.ErrGoalNotFound, http.StatusNotFound},
		{affiliates.ErrAffiliateNotFound, http.StatusNotFound},
		{goals.ErrGoalExists, http.StatusConflict},
		{affiliates.ErrAlreadyAffiliate, http.StatusConflict},
		{goals.ErrInvalidGoal, http.StatusBadRequest},
		{affiliates.ErrUnknownReferralCode, http.StatusBadRequest},
		{affiliates.ErrInvalidEmail, http.StatusBadRequest},
		{rules.ErrUnknownRuleType, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// unreachableGoalStore fails every credit for one goal
type unreachableGoalStore struct {
	*goals.InMemoryGoalStore
	failGoal string
}

func (s *unreachableGoalStore) CreditGoal(ctx context.Context, goalID, affiliateID string) (*goals.Credit, error) {
	if goalID == s.failGoal {
		return nil, errors.New("connection reset")
	}
	return s.InMemoryGoalStore.CreditGoal(ctx, goalID, affiliateID)
}

func TestTrackPartialFailureReportsRecordedCredits(t *testing.T) {
	store := &unreachableGoalStore{InMemoryGoalStore: goals.NewInMemoryGoalStore(), failGoal: "b"}
	registry := rules.DefaultRegistry()
	tracker := goals.NewTracker(store, goals.NewEvaluator(registry), registry)
	service := affiliates.NewService(affiliates.NewInMemoryStore())
	ts := httptest.NewServer(NewServer(Deps{Tracker: tracker, Affiliates: service, Registry: registry}))
	defer ts.Close()

	for _, id := range []string{"a", "b"} {
		resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/goals", GoalRequest{ID: id, Name: id})
		expectStatus(t, resp, body, http.StatusCreated)
	}
	affiliate := signup(t, ts.URL, "cust-1", "")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/track", map[string]any{
		"affiliateId": affiliate.ID,
		"subject":     orderSubject(20, 1),
	})
	expectStatus(t, resp, body, http.StatusInternalServerError)

	got := decode[TrackResponse](t, body)
	if len(got.Credits) != 1 || got.Credits[0].GoalID != "a" {
		t.Errorf("credits = %+v, want the recorded credit for a", got.Credits)
	}
	if !strings.Contains(got.Details, "goal b") {
		t.Errorf("details = %q, want the failure for goal b", got.Details)
	}
}

func TestInvitationEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	affiliate := signup(t, ts.URL, "cust-1", "")
	url := ts.URL + "/api/v1/affiliates/" + affiliate.ID + "/invitations"

	resp, body := doJSON(t, http.MethodPost, url, InviteRequest{Emails: []string{"a@example.com", "A@example.com", "b@example.com"}})
	expectStatus(t, resp, body, http.StatusCreated)
	created := decode[InvitationsResponse](t, body).Invitations
	if len(created) != 2 || created[0].ReferralCode != affiliate.ReferralCode {
		t.Errorf("created = %+v, want two invitations with %s", created, affiliate.ReferralCode)
	}

	resp, body = doJSON(t, http.MethodPost, url, InviteRequest{Emails: []string{"b@example.com"}})
	expectStatus(t, resp, body, http.StatusCreated)
	if again := decode[InvitationsResponse](t, body).Invitations; len(again) != 0 {
		t.Errorf("repeat invitation created %+v, want none", again)
	}

	resp, body = doJSON(t, http.MethodPost, url, InviteRequest{Emails: []string{"nope"}})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodPost, url, InviteRequest{})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = doJSON(t, http.MethodGet, url, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if listed := decode[InvitationsResponse](t, body).Invitations; len(listed) != 2 {
		t.Errorf("listed %d invitations, want 2", len(listed))
	}

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/affiliates/ghost/invitations", nil)
	expectStatus(t, resp, body, http.StatusNotFound)
}
