// Package postgres is the durable ledger.Store backed by PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
)

//go:embed schema.sql
var schema string

const accountColumns = `id, email, full_name, password_hash, google_id, role, is_active,
	free_credits_remaining, subscription_credits_remaining, subscription_status, subscription_plan,
	subscription_expires_at, credits_used, last_credit_reset, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ ledger.Store = (*Store)(nil)

// Migrate creates the accounts and credit_transactions tables if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, full_name, password_hash, google_id, role, is_active,
			free_credits_remaining, subscription_credits_remaining, subscription_status, subscription_plan,
			subscription_expires_at, credits_used, last_credit_reset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.FullName, a.PasswordHash, a.GoogleID, a.Role, a.IsActive,
		a.FreeCreditsRemaining, a.SubscriptionCreditsRemaining, a.SubscriptionStatus, a.SubscriptionPlan,
		a.SubscriptionExpiresAt, a.CreditsUsed, a.LastCreditReset).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("insert account %s: %w", a.Email, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// Update locks the account row (SELECT FOR UPDATE) for the lifetime of fn.
func (s *Store) Update(ctx context.Context, email string, fn func(tx ledger.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin account update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1 FOR UPDATE`, email))
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: tx, account: acc}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit account update for %s: %w", email, err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, email string, limit int) ([]*models.Transaction, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_email, amount, operation, metadata, created_at
		FROM credit_transactions WHERE account_email = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, email, lim)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", email, err)
	}
	defer rows.Close()
	list := make([]*models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.AccountEmail, &t.Amount, &t.Operation, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

func (s *Store) SumTransactions(ctx context.Context, email string, from, to time.Time) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE account_email = $1 AND created_at >= $2 AND created_at < $3
	`, email, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum transactions for %s: %w", email, err)
	}
	return total, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.PasswordHash, &a.GoogleID, &a.Role, &a.IsActive,
		&a.FreeCreditsRemaining, &a.SubscriptionCreditsRemaining, &a.SubscriptionStatus, &a.SubscriptionPlan,
		&a.SubscriptionExpiresAt, &a.CreditsUsed, &a.LastCreditReset, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// pgTx applies each mutation to the locked row and mirrors it on account.
type pgTx struct {
	tx      pgx.Tx
	account *models.Account
}

func (t *pgTx) Account() *models.Account { return t.account.Clone() }

func (t *pgTx) Debit(ctx context.Context, fromSubscription, fromFree int, txn *models.Transaction) error {
	if err := ledger.ValidateDebit(t.account, fromSubscription, fromFree, txn); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET subscription_credits_remaining = subscription_credits_remaining - $2,
			free_credits_remaining = free_credits_remaining - $3,
			credits_used = credits_used + $4,
			updated_at = now()
		WHERE email = $1
	`, t.account.Email, fromSubscription, fromFree, txn.Amount)
	if err != nil {
		return fmt.Errorf("debit account %s: %w", t.account.Email, err)
	}

	txn.AccountEmail = t.account.Email
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, account_email, amount, operation, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txn.ID, txn.AccountEmail, txn.Amount, txn.Operation, metadata, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction for %s: %w", t.account.Email, err)
	}

	t.account.SubscriptionCreditsRemaining -= fromSubscription
	t.account.FreeCreditsRemaining -= fromFree
	t.account.CreditsUsed += txn.Amount
	return nil
}

func (t *pgTx) ActivateSubscription(ctx context.Context, plan string, credits int, expiresAt, resetAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET subscription_status = $2, subscription_plan = $3, subscription_credits_remaining = $4,
			subscription_expires_at = $5, last_credit_reset = $6, updated_at = now()
		WHERE email = $1
	`, t.account.Email, models.SubscriptionActive, plan, credits, expiresAt, resetAt)
	if err != nil {
		return fmt.Errorf("activate subscription for %s: %w", t.account.Email, err)
	}
	t.account.SubscriptionStatus = models.SubscriptionActive
	t.account.SubscriptionPlan = plan
	t.account.SubscriptionCreditsRemaining = credits
	t.account.SubscriptionExpiresAt = &expiresAt
	t.account.LastCreditReset = &resetAt
	return nil
}

func (t *pgTx) ExpireSubscription(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET subscription_status = $2, subscription_credits_remaining = 0, updated_at = now()
		WHERE email = $1
	`, t.account.Email, models.SubscriptionExpired)
	if err != nil {
		return fmt.Errorf("expire subscription for %s: %w", t.account.Email, err)
	}
	t.account.SubscriptionStatus = models.SubscriptionExpired
	t.account.SubscriptionCreditsRemaining = 0
	return nil
}

func (t *pgTx) CancelSubscription(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE accounts SET subscription_status = $2, updated_at = now() WHERE email = $1
	`, t.account.Email, models.SubscriptionCancelled)
	if err != nil {
		return fmt.Errorf("cancel subscription for %s: %w", t.account.Email, err)
	}
	t.account.SubscriptionStatus = models.SubscriptionCancelled
	return nil
}

func (t *pgTx) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE email = $1`, t.account.Email, hash)
	if err != nil {
		return fmt.Errorf("set password for %s: %w", t.account.Email, err)
	}
	t.account.PasswordHash = hash
	return nil
}
