package documents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/paperlens/backend/internal/credits"
	"github.com/paperlens/backend/internal/ledger/memory"
	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/models"
)

const email = "reader@example.com"

type fixture struct {
	h     *Handler
	store *memory.Store
}

func newFixture(t *testing.T, free int) *fixture {
	t.Helper()
	now := func() time.Time { return time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC) }
	store := memory.New(memory.WithClock(now))
	if err := store.CreateAccount(context.Background(), &models.Account{
		Email:                email,
		IsActive:             true,
		FreeCreditsRemaining: free,
		SubscriptionStatus:   models.SubscriptionFree,
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	h := NewHandler(credits.NewService(store, credits.WithClock(now)), v, nil)
	h.now = now
	return &fixture{h: h, store: store}
}

func (f *fixture) serve(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), email)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/x", strings.NewReader(body))
	req = req.WithContext(middleware.WithAccount(req.Context(), acc))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), email)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acc.TotalCredits()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestOperations_DeductAndRecord(t *testing.T) {
	tests := []struct {
		name    string
		handler func(h *Handler) http.HandlerFunc
		body    string
		op      Operation
		field   string
	}{
		{"analyze", func(h *Handler) http.HandlerFunc { return h.Analyze }, `{"text":"Some PDF text"}`, Analyze, "analysis"},
		{"ask", func(h *Handler) http.HandlerFunc { return h.Ask }, `{"question":"What is it?","context":"ctx"}`, Ask, "answer"},
		{"summarize", func(h *Handler) http.HandlerFunc { return h.Summarize }, `{"text":"Some PDF text","summary_type":"key_points"}`, Summarize, "summary"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 10)
			rec := f.serve(t, tc.handler(f.h), tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			body := decode(t, rec)
			if body["operation"] != tc.op.Tag || body["credits_used"] != float64(tc.op.Cost) {
				t.Errorf("unexpected body %+v", body)
			}
			if s, _ := body[tc.field].(string); s == "" {
				t.Errorf("missing %s in response", tc.field)
			}
			if body["timestamp"] != "2026-05-02T12:00:00Z" {
				t.Errorf("unexpected timestamp %v", body["timestamp"])
			}
			if got := f.balance(t); got != 10-tc.op.Cost {
				t.Errorf("expected balance %d, got %d", 10-tc.op.Cost, got)
			}
			list, _ := f.store.ListTransactions(context.Background(), email, 0)
			if len(list) != 1 || list[0].Operation != tc.op.Tag || list[0].Amount != tc.op.Cost {
				t.Errorf("unexpected ledger %+v", list)
			}
		})
	}
}

func TestAnalyze_Metadata(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.serve(t, f.h.Analyze, `{"text":"abcdef"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list, _ := f.store.ListTransactions(context.Background(), email, 0)
	if list[0].Metadata["text_length"] != 6 || list[0].Metadata["question"] != "Explain this text" {
		t.Errorf("unexpected metadata %+v", list[0].Metadata)
	}
}

func TestAsk_ConfidenceAndSources(t *testing.T) {
	f := newFixture(t, 10)
	body := decode(t, f.serve(t, f.h.Ask, `{"question":"Why?"}`))
	if body["confidence"] != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", body["confidence"])
	}
	if src, _ := body["sources"].([]any); len(src) != 1 {
		t.Errorf("expected one source, got %v", body["sources"])
	}
}

func TestSummarize_DefaultsToBrief(t *testing.T) {
	f := newFixture(t, 10)
	body := decode(t, f.serve(t, f.h.Summarize, `{"text":"hello"}`))
	if body["summary_type"] != "brief" {
		t.Errorf("expected brief, got %v", body["summary_type"])
	}
	if wc, _ := body["word_count"].(float64); wc <= 0 {
		t.Errorf("expected a positive word count, got %v", body["word_count"])
	}
}

// ---------------------------------------------------------------------------
// Rejections
// ---------------------------------------------------------------------------

func TestOperations_SchemaRejectionsCostNothing(t *testing.T) {
	tests := []struct {
		name    string
		handler func(h *Handler) http.HandlerFunc
		body    string
	}{
		{"analyze missing text", func(h *Handler) http.HandlerFunc { return h.Analyze }, `{}`},
		{"analyze empty text", func(h *Handler) http.HandlerFunc { return h.Analyze }, `{"text":""}`},
		{"ask unknown field", func(h *Handler) http.HandlerFunc { return h.Ask }, `{"question":"q","extra":1}`},
		{"summarize bad type", func(h *Handler) http.HandlerFunc { return h.Summarize }, `{"text":"t","summary_type":"haiku"}`},
		{"not json", func(h *Handler) http.HandlerFunc { return h.Analyze }, `text=abc`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 10)
			rec := f.serve(t, tc.handler(f.h), tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := f.balance(t); got != 10 {
				t.Errorf("rejected request must not deduct; balance %d", got)
			}
		})
	}
}

func TestOperations_InsufficientCredits(t *testing.T) {
	f := newFixture(t, 3)
	rec := f.serve(t, f.h.Summarize, `{"text":"hello"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if got := decode(t, rec)["detail"]; got != "Insufficient credits. Required: 4, Available: 3" {
		t.Errorf("unexpected detail %v", got)
	}
	if got := f.balance(t); got != 3 {
		t.Errorf("balance changed to %d", got)
	}
}

func TestOperations_NoAccount(t *testing.T) {
	f := newFixture(t, 10)
	req := httptest.NewRequest(http.MethodPost, "/api/pdf/analyze", strings.NewReader(`{"text":"x"}`))
	rec := httptest.NewRecorder()
	f.h.Analyze(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

func TestValidator_CompilesEveryOperation(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	for _, op := range Catalogue {
		if _, ok := v.inputSchemas[op.Name]; !ok {
			t.Errorf("no input schema for %s", op.Name)
		}
		if _, ok := v.outputSchemas[op.Name]; !ok {
			t.Errorf("no output schema for %s", op.Name)
		}
	}
}

func TestValidator_UnknownOperation(t *testing.T) {
	v, _ := NewValidator()
	err := v.ValidateInput("translate", []byte(`{}`))
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("expected a non-validation error for unknown operation, got %v", err)
	}
}

func TestValidator_MissingWrapper(t *testing.T) {
	fsys := fstest.MapFS{
		"schemas/bad.v1.json": {Data: []byte(`{"properties":{"input_schema":{"type":"object"}}}`)},
	}
	if _, err := newValidator(fsys, "schemas"); err == nil {
		t.Error("expected error for schema file without output_schema")
	}
}
