package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/tokens"
)

// Requires a disposable database: TEST_DATABASE_URL=postgres://...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	s := New(pool)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestStore_IssueConsumeSweep(t *testing.T) {
	s := newTestStore(t)
	m := tokens.NewPasswordResetManager(s)
	subject := uuid.NewString() + "@example.com"

	first, err := m.IssueToken(context.Background(), subject)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	second, _ := m.IssueToken(context.Background(), subject)

	if _, err := m.ConsumeToken(context.Background(), first.Value); !errors.Is(err, tokens.ErrTokenAlreadyUsed) {
		t.Fatalf("expected prior token invalidated, got %v", err)
	}
	if _, err := m.ConsumeToken(context.Background(), second.Value); err != nil {
		t.Fatalf("ConsumeToken: %v", err)
	}
	if _, err := m.ConsumeToken(context.Background(), second.Value); !errors.Is(err, tokens.ErrTokenAlreadyUsed) {
		t.Fatalf("expected ErrTokenAlreadyUsed, got %v", err)
	}

	if _, err := m.SweepExpired(context.Background()); err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if _, err := s.Get(context.Background(), models.PurposePasswordReset, second.Hash); !errors.Is(err, tokens.ErrTokenNotFound) {
		t.Errorf("used token should have been swept, got %v", err)
	}
}

func TestStore_ConsumeExpired(t *testing.T) {
	s := newTestStore(t)
	past := time.Now().Add(-2 * time.Hour)
	m := tokens.NewPasswordResetManager(s, tokens.WithClock(func() time.Time { return past }))

	tok, _ := m.IssueToken(context.Background(), uuid.NewString()+"@example.com")
	now := tokens.NewPasswordResetManager(s)
	if _, err := now.ConsumeToken(context.Background(), tok.Value); !errors.Is(err, tokens.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
