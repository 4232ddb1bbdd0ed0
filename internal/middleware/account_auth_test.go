package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubVerifier struct {
	email string
	err   error
	seen  string
}

func (s *stubVerifier) ValidateToken(_ context.Context, token string) (string, error) {
	s.seen = token
	return s.email, s.err
}

type stubReconciler struct {
	account *models.Account
	err     error
	calls   int
}

func (s *stubReconciler) ReconcileStatus(_ context.Context, _ string) (*models.Account, error) {
	s.calls++
	return s.account, s.err
}

// okHandler writes the account email (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromCtx(r.Context())
	if acc != nil {
		w.Write([]byte(acc.Email))
	}
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRequireAccount_ValidToken(t *testing.T) {
	account := &models.Account{Email: "test@example.com", IsActive: true}
	verifier := &stubVerifier{email: account.Email}
	reconciler := &stubReconciler{account: account}

	mw := RequireAccount(verifier, reconciler)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer signed.jwt.value")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != account.Email {
		t.Errorf("expected account email %q in body, got %q", account.Email, body)
	}
	if verifier.seen != "signed.jwt.value" {
		t.Errorf("expected token to be passed through, got %q", verifier.seen)
	}
	if reconciler.calls != 1 {
		t.Errorf("expected one reconcile, got %d", reconciler.calls)
	}
}

func TestRequireAccount_MissingHeader(t *testing.T) {
	mw := RequireAccount(&stubVerifier{}, &stubReconciler{})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAccount_Rejections(t *testing.T) {
	cases := []struct {
		name       string
		header     string
		verifier   *stubVerifier
		reconciler *stubReconciler
		expected   int
	}{
		{"malformed header", "Token abc", &stubVerifier{}, &stubReconciler{}, http.StatusUnauthorized},
		{"bad token", "Bearer abc", &stubVerifier{err: errors.New("expired")}, &stubReconciler{}, http.StatusUnauthorized},
		{"unknown account", "Bearer abc", &stubVerifier{email: "x@example.com"}, &stubReconciler{err: ledger.ErrAccountNotFound}, http.StatusUnauthorized},
		{"store failure", "Bearer abc", &stubVerifier{email: "x@example.com"}, &stubReconciler{err: errors.New("db down")}, http.StatusInternalServerError},
		{"inactive account", "Bearer abc", &stubVerifier{email: "x@example.com"}, &stubReconciler{account: &models.Account{Email: "x@example.com"}}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := RequireAccount(tc.verifier, tc.reconciler)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tc.header)
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != tc.expected {
				t.Errorf("expected %d, got %d: %s", tc.expected, rec.Code, rec.Body.String())
			}
		})
	}
}
