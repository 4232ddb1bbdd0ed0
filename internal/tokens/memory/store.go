// Package memory keeps tokens in a map for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/tokens"
)

type key struct {
	purpose models.TokenPurpose
	hash    string
}

type Store struct {
	mu     sync.Mutex
	tokens map[key]*models.Token
}

func New() *Store {
	return &Store{tokens: make(map[key]*models.Token)}
}

var _ tokens.Store = (*Store)(nil)

func (s *Store) Insert(_ context.Context, t *models.Token, invalidatePrior bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invalidatePrior {
		for k, existing := range s.tokens {
			if k.purpose == t.Purpose && existing.Subject == t.Subject {
				existing.Used = true
			}
		}
	}
	cp := *t
	cp.Value = ""
	s.tokens[key{t.Purpose, t.Hash}] = &cp
	return nil
}

func (s *Store) Get(_ context.Context, purpose models.TokenPurpose, hash string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key{purpose, hash}]
	if !ok {
		return nil, tokens.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) Consume(_ context.Context, purpose models.TokenPurpose, hash string, now time.Time) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key{purpose, hash}]
	switch {
	case !ok:
		return nil, tokens.ErrTokenNotFound
	case t.Used:
		return nil, tokens.ErrTokenAlreadyUsed
	case !now.Before(t.ExpiresAt):
		return nil, tokens.ErrTokenExpired
	}
	t.Used = true
	cp := *t
	return &cp, nil
}

func (s *Store) DeleteSpent(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.tokens {
		if t.Spent(now) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}
