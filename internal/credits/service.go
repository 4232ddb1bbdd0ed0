// Package credits applies credit deductions against the ledger and answers
// balance and usage queries.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/subscription"
)

var (
	// ErrInsufficientCredits is returned when the account balance is too low for the requested deduction.
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must not be negative")
)

// DefaultTransactionLimit is used by ListTransactions when no limit is given.
const DefaultTransactionLimit = 50

// InsufficientCreditsError carries the amounts behind an ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("Insufficient credits. Required: %d, Available: %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Balance is a point-in-time view of an account's spendable credits.
type Balance struct {
	Free         int `json:"free_credits"`
	Subscription int `json:"subscription_credits"`
	Total        int `json:"total_credits"`
}

func BalanceOf(a *models.Account) Balance {
	return Balance{
		Free:         a.FreeCreditsRemaining,
		Subscription: a.SubscriptionCreditsRemaining,
		Total:        a.TotalCredits(),
	}
}

// Service deducts credits with subscription-first precedence and records one
// transaction per deduction.
type Service struct {
	store ledger.Store
	now   func() time.Time
	log   *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetAvailableCredits is a pure read. Callers that need expiry applied should
// reconcile first.
func (s *Service) GetAvailableCredits(ctx context.Context, email string) (Balance, error) {
	acc, err := s.store.GetAccount(ctx, email)
	if err != nil {
		return Balance{}, err
	}
	return BalanceOf(acc), nil
}

func (s *Service) CheckSufficient(ctx context.Context, email string, amount int) (bool, error) {
	b, err := s.GetAvailableCredits(ctx, email)
	if err != nil {
		return false, err
	}
	return b.Total >= amount, nil
}

// Deduct takes amount credits from the account, subscription credits first.
// Subscription expiry is applied in the same critical section, so a lapsed
// subscription can never fund the deduction. A refused deduction still
// commits a due expiry. Zero-amount calls succeed and are recorded.
func (s *Service) Deduct(ctx context.Context, email string, amount int, operation string, metadata map[string]any) (*models.Transaction, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}

	var (
		out   *models.Transaction
		short *InsufficientCreditsError
	)
	err := s.store.Update(ctx, email, func(tx ledger.Tx) error {
		now := s.now()
		if _, err := subscription.ExpireIfDue(ctx, tx, now); err != nil {
			return err
		}

		acc := tx.Account()
		if available := acc.TotalCredits(); available < amount {
			short = &InsufficientCreditsError{Required: amount, Available: available}
			return nil
		}

		fromSub := min(acc.SubscriptionCreditsRemaining, amount)
		txn := &models.Transaction{
			ID:        uuid.New(),
			Amount:    amount,
			Operation: operation,
			Metadata:  metadata,
			CreatedAt: now.UTC(),
		}
		if err := tx.Debit(ctx, fromSub, amount-fromSub, txn); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	if short != nil {
		s.log.Info("deduction refused", "email", email, "operation", operation, "error", short)
		return nil, short
	}

	s.log.Debug("credits deducted", "email", email, "amount", amount, "operation", operation)
	return out, nil
}

// GetDailyUsage sums the account's transactions on day's UTC calendar date.
func (s *Service) GetDailyUsage(ctx context.Context, email string, day time.Time) (int, error) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return s.store.SumTransactions(ctx, email, start, start.AddDate(0, 0, 1))
}

// UsageToday is GetDailyUsage for the current UTC day.
func (s *Service) UsageToday(ctx context.Context, email string) (int, error) {
	return s.GetDailyUsage(ctx, email, s.now())
}

// ListTransactions returns up to limit transactions, most recent first.
func (s *Service) ListTransactions(ctx context.Context, email string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	return s.store.ListTransactions(ctx, email, limit)
}
