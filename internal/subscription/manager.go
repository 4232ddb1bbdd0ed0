// Package subscription moves accounts through the free → active → expired /
// cancelled lifecycle. Expiry is applied lazily: callers reconcile before any
// credit-sensitive read or write.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
)

var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrUnknownPlan          = errors.New("unknown subscription plan")
)

const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// DefaultCredits is the allotment granted on activation of either plan.
const DefaultCredits = 1000

type Plan struct {
	Name     string
	Duration time.Duration
	Credits  int
}

// DefaultPlans returns the monthly (30 days) and yearly (365 days) plans.
func DefaultPlans(monthlyCredits, yearlyCredits int) map[string]Plan {
	return map[string]Plan{
		PlanMonthly: {Name: PlanMonthly, Duration: 30 * 24 * time.Hour, Credits: monthlyCredits},
		PlanYearly:  {Name: PlanYearly, Duration: 365 * 24 * time.Hour, Credits: yearlyCredits},
	}
}

type Manager struct {
	store ledger.Store
	plans map[string]Plan
	now   func() time.Time
	log   *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithPlans(plans map[string]Plan) Option {
	return func(m *Manager) { m.plans = plans }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func NewManager(store ledger.Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		plans: DefaultPlans(DefaultCredits, DefaultCredits),
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Activate starts (or restarts) a subscription on plan. Subscription credits
// are replaced by the plan allotment, not topped up.
func (m *Manager) Activate(ctx context.Context, email, plan string) (*models.Account, error) {
	p, ok := m.plans[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	var out *models.Account
	err := m.store.Update(ctx, email, func(tx ledger.Tx) error {
		now := m.now().UTC()
		if err := tx.ActivateSubscription(ctx, p.Name, p.Credits, now.Add(p.Duration), now); err != nil {
			return err
		}
		out = tx.Account()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("subscription activated", "email", email, "plan", p.Name, "expires_at", out.SubscriptionExpiresAt)
	return out, nil
}

// ReconcileStatus expires an active subscription whose expiry has passed and
// returns the up-to-date account.
func (m *Manager) ReconcileStatus(ctx context.Context, email string) (*models.Account, error) {
	acc, err := m.store.GetAccount(ctx, email)
	if err != nil {
		return nil, err
	}
	if !Due(acc, m.now()) {
		return acc, nil
	}

	var expired bool
	err = m.store.Update(ctx, email, func(tx ledger.Tx) error {
		var err error
		expired, err = ExpireIfDue(ctx, tx, m.now())
		acc = tx.Account()
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		m.log.Info("subscription expired", "email", email)
	}
	return acc, nil
}

// Cancel moves an active subscription to cancelled. Remaining subscription
// credits stay spendable.
func (m *Manager) Cancel(ctx context.Context, email string) (*models.Account, error) {
	var out *models.Account
	var notActive bool
	err := m.store.Update(ctx, email, func(tx ledger.Tx) error {
		if _, err := ExpireIfDue(ctx, tx, m.now()); err != nil {
			return err
		}
		if tx.Account().SubscriptionStatus != models.SubscriptionActive {
			// Commit a pending expiry, if any, but report the failure.
			notActive = true
			return nil
		}
		if err := tx.CancelSubscription(ctx); err != nil {
			return err
		}
		out = tx.Account()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if notActive {
		return nil, ErrNoActiveSubscription
	}
	m.log.Info("subscription cancelled", "email", email)
	return out, nil
}

// Due reports whether a is active with an expiry strictly before now.
func Due(a *models.Account, now time.Time) bool {
	return a.SubscriptionStatus == models.SubscriptionActive &&
		a.SubscriptionExpiresAt != nil &&
		now.After(*a.SubscriptionExpiresAt)
}

// ExpireIfDue applies the expiry transition inside an existing ledger
// transaction so it is atomic with whatever the caller does next.
func ExpireIfDue(ctx context.Context, tx ledger.Tx, now time.Time) (bool, error) {
	if !Due(tx.Account(), now) {
		return false, nil
	}
	if err := tx.ExpireSubscription(ctx); err != nil {
		return false, err
	}
	return true, nil
}
