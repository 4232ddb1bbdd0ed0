package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the lifecycle state of an account's subscription.
type SubscriptionStatus string

const (
	SubscriptionFree      SubscriptionStatus = "free"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// PlanFree is reported as the plan of accounts that never subscribed.
const PlanFree = "free"

type Account struct {
	ID                           uuid.UUID          `json:"id"`
	Email                        string             `json:"email"`
	FullName                     string             `json:"full_name"`
	PasswordHash                 string             `json:"-"`
	GoogleID                     string             `json:"-"`
	Role                         string             `json:"role"`
	IsActive                     bool               `json:"is_active"`
	FreeCreditsRemaining         int                `json:"free_credits_remaining"`
	SubscriptionCreditsRemaining int                `json:"subscription_credits_remaining"`
	SubscriptionStatus           SubscriptionStatus `json:"subscription_status"`
	SubscriptionPlan             string             `json:"subscription_plan,omitempty"`
	SubscriptionExpiresAt        *time.Time         `json:"subscription_expires_at"`
	CreditsUsed                  int                `json:"credits_used"`
	LastCreditReset              *time.Time         `json:"last_credit_reset,omitempty"`
	CreatedAt                    time.Time          `json:"created_at"`
	UpdatedAt                    time.Time          `json:"updated_at"`
}

// TotalCredits is the spendable balance: free plus subscription credits.
func (a *Account) TotalCredits() int {
	return a.FreeCreditsRemaining + a.SubscriptionCreditsRemaining
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (a *Account) Clone() *Account {
	cp := *a
	if a.SubscriptionExpiresAt != nil {
		t := *a.SubscriptionExpiresAt
		cp.SubscriptionExpiresAt = &t
	}
	if a.LastCreditReset != nil {
		t := *a.LastCreditReset
		cp.LastCreditReset = &t
	}
	return &cp
}
