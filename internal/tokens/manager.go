// Package tokens issues and redeems single-use, time-boxed secrets such as
// password-reset tokens and OAuth state values.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paperlens/backend/internal/models"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrTokenExpired     = errors.New("token expired")
)

const (
	PasswordResetTTL = time.Hour
	OAuthStateTTL    = 10 * time.Minute
)

// valueBytes of randomness back every token (256 bits).
const valueBytes = 32

// Store persists tokens by purpose and value hash.
type Store interface {
	// Insert stores t. With invalidatePrior, every unused token of the same
	// purpose and subject is marked used in the same step.
	Insert(ctx context.Context, t *models.Token, invalidatePrior bool) error
	Get(ctx context.Context, purpose models.TokenPurpose, hash string) (*models.Token, error)
	// Consume atomically marks a usable token used. It returns
	// ErrTokenNotFound, ErrTokenAlreadyUsed or ErrTokenExpired otherwise.
	Consume(ctx context.Context, purpose models.TokenPurpose, hash string, now time.Time) (*models.Token, error)
	// DeleteSpent removes used and expired tokens and reports how many.
	DeleteSpent(ctx context.Context, now time.Time) (int, error)
}

type Manager struct {
	store           Store
	purpose         models.TokenPurpose
	ttl             time.Duration
	invalidatePrior bool
	now             func() time.Time
	log             *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// InvalidatePrior makes each issuance retire the subject's earlier tokens.
func InvalidatePrior() Option {
	return func(m *Manager) { m.invalidatePrior = true }
}

func NewManager(store Store, purpose models.TokenPurpose, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		purpose: purpose,
		ttl:     ttl,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// NewPasswordResetManager returns the one-hour reset token manager. Only the
// newest token per account is ever usable.
func NewPasswordResetManager(store Store, opts ...Option) *Manager {
	return NewManager(store, models.PurposePasswordReset, PasswordResetTTL, append([]Option{InvalidatePrior()}, opts...)...)
}

func NewOAuthStateManager(store Store, opts ...Option) *Manager {
	return NewManager(store, models.PurposeOAuthState, OAuthStateTTL, opts...)
}

// IssueToken creates a token for subject. The returned token carries the
// plain Value; only its hash is stored.
func (m *Manager) IssueToken(ctx context.Context, subject string) (*models.Token, error) {
	raw := make([]byte, valueBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(raw)

	now := m.now().UTC()
	t := &models.Token{
		Hash:      hashValue(value),
		Purpose:   m.purpose,
		Subject:   subject,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Insert(ctx, t, m.invalidatePrior); err != nil {
		return nil, err
	}
	out := *t
	out.Value = value
	return &out, nil
}

// ValidateToken looks a token up without changing it. Callers decide on
// Usable themselves.
func (m *Manager) ValidateToken(ctx context.Context, value string) (*models.Token, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	return m.store.Get(ctx, m.purpose, hashValue(value))
}

// ConsumeToken redeems value exactly once.
func (m *Manager) ConsumeToken(ctx context.Context, value string) (*models.Token, error) {
	if value == "" {
		return nil, ErrTokenNotFound
	}
	return m.store.Consume(ctx, m.purpose, hashValue(value), m.now())
}

// SweepExpired drops spent tokens. It never removes a token that is still usable.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteSpent(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("swept spent tokens", "count", n)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("token sweep failed", "error", err)
			}
		}
	}
}

func hashValue(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
