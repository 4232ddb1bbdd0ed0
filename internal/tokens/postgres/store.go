// Package postgres stores tokens in the auth_tokens table.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/tokens"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ tokens.Store = (*Store)(nil)

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply token schema: %w", err)
	}
	return nil
}

// Insert serializes issuance per (purpose, subject) with a transaction-scoped
// advisory lock so two concurrent requests cannot both leave a usable token.
func (s *Store) Insert(ctx context.Context, t *models.Token, invalidatePrior bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin token insert: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if invalidatePrior {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`, t.Purpose, t.Subject); err != nil {
			return fmt.Errorf("lock token subject: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE auth_tokens SET used = TRUE
			WHERE purpose = $1 AND subject = $2 AND NOT used
		`, t.Purpose, t.Subject); err != nil {
			return fmt.Errorf("invalidate prior tokens: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO auth_tokens (purpose, token_hash, subject, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.Purpose, t.Hash, t.Subject, t.CreatedAt, t.ExpiresAt, t.Used); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, purpose models.TokenPurpose, hash string) (*models.Token, error) {
	return scanToken(s.pool.QueryRow(ctx, `
		SELECT purpose, token_hash, subject, created_at, expires_at, used
		FROM auth_tokens WHERE purpose = $1 AND token_hash = $2
	`, purpose, hash))
}

func (s *Store) Consume(ctx context.Context, purpose models.TokenPurpose, hash string, now time.Time) (*models.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx, `
		UPDATE auth_tokens SET used = TRUE
		WHERE purpose = $1 AND token_hash = $2 AND NOT used AND expires_at > $3
		RETURNING purpose, token_hash, subject, created_at, expires_at, used
	`, purpose, hash, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, tokens.ErrTokenNotFound) {
		return nil, err
	}

	// Nothing was updated; report why.
	existing, err := s.Get(ctx, purpose, hash)
	if err != nil {
		return nil, err
	}
	if existing.Used {
		return nil, tokens.ErrTokenAlreadyUsed
	}
	return nil, tokens.ErrTokenExpired
}

func (s *Store) DeleteSpent(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_tokens WHERE used OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete spent tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanToken(row pgx.Row) (*models.Token, error) {
	var t models.Token
	if err := row.Scan(&t.Purpose, &t.Hash, &t.Subject, &t.CreatedAt, &t.ExpiresAt, &t.Used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tokens.ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}
