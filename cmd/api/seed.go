package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/subscription"
)

type demoAccount struct {
	email, password, name, role string
	freeCredits                 int
	spend                       int
	plan                        string
}

var demoAccounts = []demoAccount{
	{email: "test@example.com", password: "testpass123", name: "Test User", role: models.RoleUser, freeCredits: 100, spend: 5},
	{email: "admin@example.com", password: "admin123", name: "Admin User", role: models.RoleAdmin, plan: subscription.PlanMonthly},
}

// seedDemoAccounts creates the demo accounts through the regular ledger
// operations. Existing accounts are left alone.
func seedDemoAccounts(ctx context.Context, a *app, logger *slog.Logger) error {
	for _, d := range demoAccounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(d.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		err = a.store.CreateAccount(ctx, &models.Account{
			Email:                d.email,
			FullName:             d.name,
			PasswordHash:         string(hash),
			Role:                 d.role,
			IsActive:             true,
			FreeCreditsRemaining: d.freeCredits,
			SubscriptionStatus:   models.SubscriptionFree,
		})
		if errors.Is(err, ledger.ErrAccountExists) {
			logger.Info("demo account already present", "email", d.email)
			continue
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", d.email, err)
		}
		if d.spend > 0 {
			if _, err := a.credits.Deduct(ctx, d.email, d.spend, "demo_usage", map[string]any{"seed": true}); err != nil {
				return fmt.Errorf("seed usage for %s: %w", d.email, err)
			}
		}
		if d.plan != "" {
			if _, err := a.subs.Activate(ctx, d.email, d.plan); err != nil {
				return fmt.Errorf("seed subscription for %s: %w", d.email, err)
			}
		}
		logger.Info("demo account created", "email", d.email)
	}
	return nil
}
