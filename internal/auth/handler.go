package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type AccountResponse struct {
	ID                           string                    `json:"id"`
	Email                        string                    `json:"email"`
	FullName                     string                    `json:"full_name"`
	IsActive                     bool                      `json:"is_active"`
	Role                         string                    `json:"role"`
	CreatedAt                    time.Time                 `json:"created_at"`
	CreditsUsed                  int                       `json:"credits_used"`
	FreeCreditsRemaining         int                       `json:"free_credits_remaining"`
	SubscriptionStatus           models.SubscriptionStatus `json:"subscription_status"`
	SubscriptionCreditsRemaining int                       `json:"subscription_credits_remaining"`
	SubscriptionExpiresAt        *time.Time                `json:"subscription_expires_at"`
}

type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	User        AccountResponse `json:"user"`
}

const forgotPasswordMessage = "If an account with that email exists, we've sent a password reset link."

type Handler struct {
	svc         *Service
	google      *GoogleLogin
	validate    *validator.Validate
	frontendURL string
	log         *slog.Logger
}

func NewHandler(svc *Service, google *GoogleLogin, validate *validator.Validate, frontendURL string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Handler{svc: svc, google: google, validate: validate, frontendURL: frontendURL, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return false
	}
	return true
}

// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, token, err := h.svc.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			writeDetail(w, http.StatusBadRequest, "Email already registered")
		case errors.Is(err, ErrWeakPassword):
			writeDetail(w, http.StatusBadRequest, "Password must be at least 6 characters long")
		default:
			h.log.Error("register failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer", User: accountToResponse(acc)})
}

// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		case errors.Is(err, ErrInactiveAccount):
			writeDetail(w, http.StatusBadRequest, "Inactive user")
		default:
			h.log.Error("login failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer", User: accountToResponse(acc)})
}

// GET /api/auth/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, accountToResponse(acc))
}

// GET /api/auth/google
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.google.AuthURL(r.Context())
	if err != nil {
		if errors.Is(err, ErrGoogleNotConfigured) {
			writeDetail(w, http.StatusInternalServerError, "Google OAuth not configured")
			return
		}
		h.log.Error("google auth url failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// GET /api/auth/google/callback
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeDetail(w, http.StatusBadRequest, "Google OAuth error: "+e)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeDetail(w, http.StatusBadRequest, "Missing authorization code or state")
		return
	}

	acc, token, err := h.google.Callback(r.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, ErrGoogleNotConfigured):
			writeDetail(w, http.StatusInternalServerError, "Google OAuth not configured")
		case errors.Is(err, ErrInvalidState):
			writeDetail(w, http.StatusBadRequest, "Invalid state parameter")
		case errors.Is(err, ErrInvalidIDToken):
			writeDetail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrInactiveAccount):
			writeDetail(w, http.StatusBadRequest, "Inactive user")
		default:
			h.log.Error("google callback failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, "OAuth flow failed")
		}
		return
	}

	user, _ := json.Marshal(accountToResponse(acc))
	v := url.Values{}
	v.Set("token", token)
	v.Set("user", string(user))
	http.Redirect(w, r, strings.TrimRight(h.frontendURL, "/")+"/auth/callback?"+v.Encode(), http.StatusFound)
}

// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.svc.ForgotPassword(r.Context(), req.Email)
	writeJSON(w, http.StatusOK, map[string]string{"message": forgotPasswordMessage})
}

// POST /api/auth/reset-password
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidResetToken):
			writeDetail(w, http.StatusBadRequest, "Invalid or expired reset token")
		case errors.Is(err, ErrWeakPassword):
			writeDetail(w, http.StatusBadRequest, "Password must be at least 6 characters long")
		case errors.Is(err, ledger.ErrAccountNotFound):
			writeDetail(w, http.StatusBadRequest, "User not found")
		default:
			h.log.Error("reset password failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, "Failed to reset password")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password has been successfully reset. You can now login with your new password.",
	})
}

func accountToResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:                           a.ID.String(),
		Email:                        a.Email,
		FullName:                     a.FullName,
		IsActive:                     a.IsActive,
		Role:                         a.Role,
		CreatedAt:                    a.CreatedAt,
		CreditsUsed:                  a.CreditsUsed,
		FreeCreditsRemaining:         a.FreeCreditsRemaining,
		SubscriptionStatus:           a.SubscriptionStatus,
		SubscriptionCreditsRemaining: a.SubscriptionCreditsRemaining,
		SubscriptionExpiresAt:        a.SubscriptionExpiresAt,
	}
}
