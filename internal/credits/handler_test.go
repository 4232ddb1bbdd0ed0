package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/models"
)

func newTestHandler(t *testing.T, free int) (*Handler, *fixture) {
	t.Helper()
	f := newFixture(t, free)
	return NewHandler(f.svc, f.subs, nil, nil), f
}

// serve runs h with the fixture's current account in context, as
// RequireAccount would.
func serve(t *testing.T, f *fixture, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req = req.WithContext(middleware.WithAccount(req.Context(), f.account(t)))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Status / Use
// ---------------------------------------------------------------------------

func TestHandler_Status(t *testing.T) {
	h, f := newTestHandler(t, 100)
	_, _ = f.svc.Deduct(context.Background(), email, 7, "op", nil)

	rec := serve(t, f, h.Status, http.MethodGet, "/api/credits/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalCreditsAvailable != 93 || got.FreeCreditsRemaining != 93 || got.CreditsUsedToday != 7 {
		t.Errorf("unexpected status %+v", got)
	}
	if got.SubscriptionStatus != models.SubscriptionFree {
		t.Errorf("expected free status, got %s", got.SubscriptionStatus)
	}
}

func TestHandler_Use(t *testing.T) {
	h, f := newTestHandler(t, 10)

	rec := serve(t, f, h.Use, http.MethodPost, "/api/credits/use",
		`{"credits_to_use":4,"operation":"pdf_text_analysis","metadata":{"pages":2}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message          string         `json:"message"`
		CreditsRemaining map[string]int `json:"credits_remaining"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.CreditsRemaining["total"] != 6 {
		t.Errorf("expected 6 remaining, got %+v", body.CreditsRemaining)
	}
	list := f.transactions(t)
	if len(list) != 1 || list[0].Metadata["pages"] != float64(2) {
		t.Errorf("expected one transaction with metadata, got %+v", list)
	}
}

func TestHandler_UseRejections(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected int
		contains string
	}{
		{"insufficient", `{"credits_to_use":11,"operation":"x"}`, http.StatusPaymentRequired, "Insufficient credits. Required: 11, Available: 10"},
		{"negative", `{"credits_to_use":-1,"operation":"x"}`, http.StatusBadRequest, "Validation failed"},
		{"missing operation", `{"credits_to_use":1}`, http.StatusBadRequest, "Validation failed"},
		{"bad json", `{`, http.StatusBadRequest, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, f := newTestHandler(t, 10)
			rec := serve(t, f, h.Use, http.MethodPost, "/api/credits/use", tc.body)
			if rec.Code != tc.expected {
				t.Fatalf("expected %d, got %d: %s", tc.expected, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.contains) {
				t.Errorf("expected %q in body, got %s", tc.contains, rec.Body.String())
			}
			if n := len(f.transactions(t)); n != 0 {
				t.Errorf("rejected request recorded %d transactions", n)
			}
		})
	}
}

func TestHandler_Transactions(t *testing.T) {
	h, f := newTestHandler(t, 100)
	for i := 0; i < 5; i++ {
		_, _ = f.svc.Deduct(context.Background(), email, 1, "op", nil)
	}

	rec := serve(t, f, h.Transactions, http.MethodGet, "/api/credits/transactions?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []models.Transaction
	_ = json.NewDecoder(rec.Body).Decode(&list)
	if len(list) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(list))
	}

	rec = serve(t, f, h.Transactions, http.MethodGet, "/api/credits/transactions?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Subscription
// ---------------------------------------------------------------------------

func TestHandler_SubscribeAndCancel(t *testing.T) {
	h, f := newTestHandler(t, 100)

	rec := serve(t, f, h.Subscribe, http.MethodPost, "/api/credits/subscribe", `{"plan_type":"yearly"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sub SubscriptionResponse
	_ = json.NewDecoder(rec.Body).Decode(&sub)
	if sub.Status != models.SubscriptionActive || sub.CreditsRemaining != 1000 || sub.PlanType != "yearly" {
		t.Errorf("unexpected subscription %+v", sub)
	}

	rec = serve(t, f, h.Subscription, http.MethodGet, "/api/credits/subscription", "")
	_ = json.NewDecoder(rec.Body).Decode(&sub)
	if sub.PlanType != "yearly" {
		t.Errorf("expected stored plan yearly, got %q", sub.PlanType)
	}

	rec = serve(t, f, h.CancelSubscription, http.MethodDelete, "/api/credits/subscription", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, f, h.CancelSubscription, http.MethodDelete, "/api/credits/subscription", "")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No active subscription to cancel") {
		t.Errorf("second cancel: expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_SubscribeDefaultsAndValidation(t *testing.T) {
	h, f := newTestHandler(t, 0)

	rec := serve(t, f, h.Subscribe, http.MethodPost, "/api/credits/subscribe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected monthly default to succeed, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, f, h.Subscribe, http.MethodPost, "/api/credits/subscribe", `{"plan_type":"weekly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown plan, got %d", rec.Code)
	}
}

func TestHandler_SubscriptionFreePlan(t *testing.T) {
	h, f := newTestHandler(t, 0)
	rec := serve(t, f, h.Subscription, http.MethodGet, "/api/credits/subscription", "")
	var sub SubscriptionResponse
	_ = json.NewDecoder(rec.Body).Decode(&sub)
	if sub.PlanType != models.PlanFree || sub.Status != models.SubscriptionFree {
		t.Errorf("unexpected %+v", sub)
	}
}
