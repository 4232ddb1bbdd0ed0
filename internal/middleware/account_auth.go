package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
)

type contextKey string

const ctxAccountKey contextKey = "account"

// TokenVerifier resolves a bearer access token to the account email it was issued for.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Reconciler returns the account with any due subscription expiry applied.
type Reconciler interface {
	ReconcileStatus(ctx context.Context, email string) (*models.Account, error)
}

// RequireAccount authenticates requests by verifying the Bearer access token,
// reconciles the account's subscription and sets the account into request
// context.
func RequireAccount(verifier TokenVerifier, reconciler Reconciler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractBearer(r)
			if raw == "" {
				http.Error(w, `{"detail":"Not authenticated"}`, http.StatusUnauthorized)
				return
			}

			email, err := verifier.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"detail":"Could not validate credentials"}`, http.StatusUnauthorized)
				return
			}

			acc, err := reconciler.ReconcileStatus(r.Context(), email)
			if err != nil {
				if errors.Is(err, ledger.ErrAccountNotFound) {
					http.Error(w, `{"detail":"Could not validate credentials"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"detail":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if !acc.IsActive {
				http.Error(w, `{"detail":"Inactive user"}`, http.StatusBadRequest)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

func ExtractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
