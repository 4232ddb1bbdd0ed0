package credits

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/subscription"
)

type UseRequest struct {
	CreditsToUse int            `json:"credits_to_use" validate:"gte=0"`
	Operation    string         `json:"operation" validate:"required"`
	Metadata     map[string]any `json:"metadata"`
}

type SubscribeRequest struct {
	PlanType string `json:"plan_type" validate:"oneof=monthly yearly"`
}

type StatusResponse struct {
	TotalCreditsAvailable        int                       `json:"total_credits_available"`
	FreeCreditsRemaining         int                       `json:"free_credits_remaining"`
	SubscriptionCreditsRemaining int                       `json:"subscription_credits_remaining"`
	CreditsUsedToday             int                       `json:"credits_used_today"`
	SubscriptionStatus           models.SubscriptionStatus `json:"subscription_status"`
	SubscriptionExpiresAt        *time.Time                `json:"subscription_expires_at"`
}

type SubscriptionResponse struct {
	Status           models.SubscriptionStatus `json:"status"`
	ExpiresAt        *time.Time                `json:"expires_at"`
	CreditsRemaining int                       `json:"credits_remaining"`
	PlanType         string                    `json:"plan_type"`
}

type Handler struct {
	svc      *Service
	subs     *subscription.Manager
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc *Service, subs *subscription.Manager, validate *validator.Validate, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{svc: svc, subs: subs, validate: validate, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// GET /api/credits/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	usedToday, err := h.svc.UsageToday(r.Context(), acc.Email)
	if err != nil {
		h.log.Error("daily usage failed", "email", acc.Email, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		TotalCreditsAvailable:        acc.TotalCredits(),
		FreeCreditsRemaining:         acc.FreeCreditsRemaining,
		SubscriptionCreditsRemaining: acc.SubscriptionCreditsRemaining,
		CreditsUsedToday:             usedToday,
		SubscriptionStatus:           acc.SubscriptionStatus,
		SubscriptionExpiresAt:        acc.SubscriptionExpiresAt,
	})
}

// POST /api/credits/use
func (h *Handler) Use(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	var req UseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	if _, err := h.svc.Deduct(r.Context(), acc.Email, req.CreditsToUse, req.Operation, req.Metadata); err != nil {
		WriteDeductError(w, h.log, acc.Email, err)
		return
	}

	balance, err := h.svc.GetAvailableCredits(r.Context(), acc.Email)
	if err != nil {
		h.log.Error("read balance failed", "email", acc.Email, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully used %d credits for %s", req.CreditsToUse, req.Operation),
		"credits_remaining": map[string]int{
			"free":         balance.Free,
			"subscription": balance.Subscription,
			"total":        balance.Total,
		},
	})
}

// WriteDeductError maps a Deduct failure to its HTTP response.
func WriteDeductError(w http.ResponseWriter, log *slog.Logger, email string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		writeDetail(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrInvalidAmount):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		log.Error("deduct credits failed", "email", email, "error", err)
		writeDetail(w, http.StatusBadRequest, "Failed to deduct credits")
	}
}

// GET /api/credits/transactions?limit=N
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	limit := DefaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.svc.ListTransactions(r.Context(), acc.Email, limit)
	if err != nil {
		h.log.Error("list transactions failed", "email", acc.Email, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/credits/subscribe
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	req := SubscribeRequest{PlanType: subscription.PlanMonthly}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if err := h.validate.Struct(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	updated, err := h.subs.Activate(r.Context(), acc.Email, req.PlanType)
	if err != nil {
		h.log.Error("activate subscription failed", "email", acc.Email, "error", err)
		writeDetail(w, http.StatusBadRequest, "Failed to activate subscription")
		return
	}
	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Status:           updated.SubscriptionStatus,
		ExpiresAt:        updated.SubscriptionExpiresAt,
		CreditsRemaining: updated.SubscriptionCreditsRemaining,
		PlanType:         req.PlanType,
	})
}

// DELETE /api/credits/subscription
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if _, err := h.subs.Cancel(r.Context(), acc.Email); err != nil {
		if errors.Is(err, subscription.ErrNoActiveSubscription) {
			writeDetail(w, http.StatusBadRequest, "No active subscription to cancel")
			return
		}
		h.log.Error("cancel subscription failed", "email", acc.Email, "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Subscription cancelled successfully"})
}

// GET /api/credits/subscription
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	plan := acc.SubscriptionPlan
	if plan == "" {
		plan = models.PlanFree
	}
	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Status:           acc.SubscriptionStatus,
		ExpiresAt:        acc.SubscriptionExpiresAt,
		CreditsRemaining: acc.SubscriptionCreditsRemaining,
		PlanType:         plan,
	})
}
