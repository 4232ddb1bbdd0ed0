package router

import (
	"net/http"

	"github.com/paperlens/backend/internal/auth"
	"github.com/paperlens/backend/internal/credits"
	"github.com/paperlens/backend/internal/documents"
	"github.com/paperlens/backend/internal/middleware"
)

// Handlers groups everything New mounts.
type Handlers struct {
	Auth       *auth.Handler
	Credits    *credits.Handler
	Documents  *documents.Handler
	Verifier   middleware.TokenVerifier
	Reconciler middleware.Reconciler
}

// New returns an http.Handler that serves the API under /api.
func New(h Handlers) http.Handler {
	mux := http.NewServeMux()
	requireAccount := middleware.RequireAccount(h.Verifier, h.Reconciler)
	authed := func(fn http.HandlerFunc) http.Handler { return requireAccount(fn) }
	metered := func(op documents.Operation, fn http.HandlerFunc) http.Handler {
		return requireAccount(middleware.CreditGate(op.Cost)(fn))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("POST /api/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)
	mux.Handle("GET /api/auth/me", authed(h.Auth.Me))
	mux.HandleFunc("GET /api/auth/google", h.Auth.GoogleLogin)
	mux.HandleFunc("GET /api/auth/google/callback", h.Auth.GoogleCallback)
	mux.HandleFunc("POST /api/auth/forgot-password", h.Auth.ForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", h.Auth.ResetPassword)

	mux.Handle("GET /api/credits/status", authed(h.Credits.Status))
	mux.Handle("POST /api/credits/use", authed(h.Credits.Use))
	mux.Handle("GET /api/credits/transactions", authed(h.Credits.Transactions))
	mux.Handle("POST /api/credits/subscribe", authed(h.Credits.Subscribe))
	mux.Handle("GET /api/credits/subscription", authed(h.Credits.Subscription))
	mux.Handle("DELETE /api/credits/subscription", authed(h.Credits.CancelSubscription))

	mux.Handle("POST /api/pdf/analyze", metered(documents.Analyze, h.Documents.Analyze))
	mux.Handle("POST /api/pdf/ask", metered(documents.Ask, h.Documents.Ask))
	mux.Handle("POST /api/pdf/summarize", metered(documents.Summarize, h.Documents.Summarize))

	return mux
}
