// Package memory is the single-process ledger.Store used in development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
)

type Store struct {
	mu sync.RWMutex

	accounts map[string]*models.Account
	// One mutex per account serializes Update calls for that account.
	locks map[string]*sync.Mutex

	// Append-only, in commit order.
	txns []*models.Transaction

	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]*models.Account),
		locks:    make(map[string]*sync.Mutex),
		txns:     make([]*models.Transaction, 0),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ ledger.Store = (*Store)(nil)

func (s *Store) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.Email]; exists {
		return ledger.ErrAccountExists
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	s.accounts[a.Email] = a.Clone()
	s.locks[a.Email] = &sync.Mutex{}
	return nil
}

func (s *Store) GetAccount(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[email]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *Store) Update(ctx context.Context, email string, fn func(tx ledger.Tx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[email]
	s.mu.RUnlock()
	if !ok {
		return ledger.ErrAccountNotFound
	}

	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	tx := &memTx{account: s.accounts[email].Clone()}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	tx.account.UpdatedAt = s.now().UTC()
	s.mu.Lock()
	s.accounts[email] = tx.account
	s.txns = append(s.txns, tx.pending...)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListTransactions(_ context.Context, email string, limit int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Transaction, 0)
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].AccountEmail != email {
			continue
		}
		out = append(out, s.txns[i].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SumTransactions(_ context.Context, email string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, t := range s.txns {
		if t.AccountEmail != email {
			continue
		}
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			total += t.Amount
		}
	}
	return total, nil
}

// memTx works on a private copy of the account; Store.Update publishes it.
type memTx struct {
	account *models.Account
	pending []*models.Transaction
	dirty   bool
}

func (t *memTx) Account() *models.Account { return t.account.Clone() }

func (t *memTx) Debit(_ context.Context, fromSubscription, fromFree int, txn *models.Transaction) error {
	if err := ledger.ValidateDebit(t.account, fromSubscription, fromFree, txn); err != nil {
		return err
	}
	t.account.SubscriptionCreditsRemaining -= fromSubscription
	t.account.FreeCreditsRemaining -= fromFree
	t.account.CreditsUsed += txn.Amount

	txn.AccountEmail = t.account.Email
	t.pending = append(t.pending, txn.Clone())
	t.dirty = true
	return nil
}

func (t *memTx) ActivateSubscription(_ context.Context, plan string, credits int, expiresAt, resetAt time.Time) error {
	t.account.SubscriptionStatus = models.SubscriptionActive
	t.account.SubscriptionPlan = plan
	t.account.SubscriptionCreditsRemaining = credits
	t.account.SubscriptionExpiresAt = &expiresAt
	t.account.LastCreditReset = &resetAt
	t.dirty = true
	return nil
}

func (t *memTx) ExpireSubscription(_ context.Context) error {
	t.account.SubscriptionStatus = models.SubscriptionExpired
	t.account.SubscriptionCreditsRemaining = 0
	t.dirty = true
	return nil
}

func (t *memTx) CancelSubscription(_ context.Context) error {
	t.account.SubscriptionStatus = models.SubscriptionCancelled
	t.dirty = true
	return nil
}

func (t *memTx) SetPasswordHash(_ context.Context, hash string) error {
	t.account.PasswordHash = hash
	t.dirty = true
	return nil
}
