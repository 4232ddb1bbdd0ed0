// Package ledger defines the authoritative account and credit-transaction store.
//
// All balance mutation goes through Store.Update, which hands the callback a
// Tx holding exclusive access to one account. The Tx exposes a closed set of
// domain mutations; there is no generic field setter.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/paperlens/backend/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrNegativeBalance = errors.New("debit would make a balance negative")
	ErrDebitMismatch   = errors.New("debit split does not match transaction amount")
)

type Store interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, email string) (*models.Account, error)

	// Update runs fn while holding the account exclusively. Mutations made
	// through tx, including appended transactions, are committed together
	// when fn returns nil and discarded otherwise.
	Update(ctx context.Context, email string, fn func(tx Tx) error) error

	// ListTransactions returns the account's transactions, most recent first.
	// A limit <= 0 returns all of them.
	ListTransactions(ctx context.Context, email string, limit int) ([]*models.Transaction, error)

	// SumTransactions totals transaction amounts with from <= created_at < to.
	SumTransactions(ctx context.Context, email string, from, to time.Time) (int, error)
}

// Tx is the set of mutations allowed on a locked account.
type Tx interface {
	// Account returns a copy of the account including changes made so far.
	Account() *models.Account

	// Debit removes fromSubscription and fromFree credits, adds their sum to
	// credits_used and appends t. t.Amount must equal the split total.
	Debit(ctx context.Context, fromSubscription, fromFree int, t *models.Transaction) error

	ActivateSubscription(ctx context.Context, plan string, credits int, expiresAt, resetAt time.Time) error

	// ExpireSubscription marks the subscription expired and zeroes
	// subscription credits. Free credits are untouched.
	ExpireSubscription(ctx context.Context) error

	// CancelSubscription marks the subscription cancelled and keeps the
	// remaining subscription credits.
	CancelSubscription(ctx context.Context) error

	SetPasswordHash(ctx context.Context, hash string) error
}

// ValidateDebit checks a debit split against the current balances.
func ValidateDebit(a *models.Account, fromSubscription, fromFree int, t *models.Transaction) error {
	if fromSubscription < 0 || fromFree < 0 {
		return ErrNegativeBalance
	}
	if fromSubscription+fromFree != t.Amount {
		return ErrDebitMismatch
	}
	if a.SubscriptionCreditsRemaining < fromSubscription || a.FreeCreditsRemaining < fromFree {
		return ErrNegativeBalance
	}
	return nil
}
