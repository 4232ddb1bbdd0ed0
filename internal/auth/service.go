package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/notify"
	"github.com/paperlens/backend/internal/subscription"
	"github.com/paperlens/backend/internal/tokens"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrInactiveAccount    = errors.New("inactive user")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters long", MinPasswordLength)
	// ErrInvalidResetToken covers unknown, used and expired reset tokens alike.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	ErrInvalidToken      = errors.New("invalid access token")
)

const MinPasswordLength = 6

const DefaultAccessTokenTTL = 30 * time.Minute

type Config struct {
	Secret         []byte
	AccessTokenTTL time.Duration
	FreeCredits    int
}

// Identity is a principal already verified by a trusted party, such as Google.
type Identity struct {
	Email    string
	Name     string
	GoogleID string
}

type Service struct {
	store    ledger.Store
	subs     *subscription.Manager
	resets   *tokens.Manager
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
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

func NewService(store ledger.Store, subs *subscription.Manager, resets *tokens.Manager, notifier notify.Notifier, cfg Config, opts ...Option) *Service {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	s := &Service{
		store:    store,
		subs:     subs,
		resets:   resets,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a password account with the configured free credits and
// returns it with an access token.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*models.Account, string, error) {
	if len(password) < MinPasswordLength {
		return nil, "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	acc := s.newAccount(normalizeEmail(email), fullName)
	acc.PasswordHash = string(hash)
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return nil, "", ErrDuplicateEmail
		}
		return nil, "", err
	}
	token, err := s.IssueAccessToken(acc.Email)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("account registered", "email", acc.Email)
	return acc, token, nil
}

func (s *Service) newAccount(email, fullName string) *models.Account {
	return &models.Account{
		Email:                email,
		FullName:             fullName,
		Role:                 models.RoleUser,
		IsActive:             true,
		FreeCreditsRemaining: s.cfg.FreeCredits,
		SubscriptionStatus:   models.SubscriptionFree,
	}
}

// Login checks the password, reconciles the subscription and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	acc, err := s.store.GetAccount(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	// Accounts created through Google have no password.
	if acc.PasswordHash == "" {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if !acc.IsActive {
		return nil, "", ErrInactiveAccount
	}
	return s.session(ctx, acc.Email)
}

// ResolveAccount returns the account for a verified identity, creating it on
// first sight.
func (s *Service) ResolveAccount(ctx context.Context, id Identity) (*models.Account, error) {
	email := normalizeEmail(id.Email)
	if email == "" {
		return nil, errors.New("identity has no email")
	}
	_, err := s.store.GetAccount(ctx, email)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		acc := s.newAccount(email, id.Name)
		acc.GoogleID = id.GoogleID
		err = s.store.CreateAccount(ctx, acc)
		if err == nil {
			s.log.Info("account created from external identity", "email", email)
			return acc, nil
		}
		// Lost a race with a concurrent first login; fall through to the read.
		if !errors.Is(err, ledger.ErrAccountExists) {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return s.subs.ReconcileStatus(ctx, email)
}

// LoginIdentity is Login for an externally verified identity.
func (s *Service) LoginIdentity(ctx context.Context, id Identity) (*models.Account, string, error) {
	acc, err := s.ResolveAccount(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !acc.IsActive {
		return nil, "", ErrInactiveAccount
	}
	return s.session(ctx, acc.Email)
}

func (s *Service) session(ctx context.Context, email string) (*models.Account, string, error) {
	acc, err := s.subs.ReconcileStatus(ctx, email)
	if err != nil {
		return nil, "", err
	}
	token, err := s.IssueAccessToken(acc.Email)
	if err != nil {
		return nil, "", err
	}
	return acc, token, nil
}

// IssueAccessToken signs an HS256 JWT whose subject is the account email.
func (s *Service) IssueAccessToken(email string) (string, error) {
	now := s.now()
	c := jwt.RegisteredClaims{
		Subject:   email,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.cfg.Secret)
}

// ValidateToken returns the email an access token was issued for.
func (s *Service) ValidateToken(_ context.Context, token string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	tok, err := parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// ForgotPassword issues a reset token and notifies the account owner. It
// reports nothing about whether the account exists; failures are logged.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	email = normalizeEmail(email)
	acc, err := s.store.GetAccount(ctx, email)
	if err != nil {
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			s.log.Error("forgot password: account lookup failed", "error", err)
		}
		return
	}
	tok, err := s.resets.IssueToken(ctx, acc.Email)
	if err != nil {
		s.log.Error("forgot password: issue token failed", "email", acc.Email, "error", err)
		return
	}
	if err := s.notifier.PasswordReset(ctx, acc.Email, acc.FullName, tok.Value); err != nil {
		s.log.Error("forgot password: notification failed", "email", acc.Email, "error", err)
		return
	}
	s.log.Info("password reset requested", "email", acc.Email)
}

// ResetPassword redeems a reset token and replaces the account password.
// The token is consumed before the password is written, so a failed write
// leaves the old password in place and the user must request a new reset.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	t, err := s.resets.ValidateToken(ctx, token)
	if err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if !t.Usable(s.now()) {
		return ErrInvalidResetToken
	}
	acc, err := s.store.GetAccount(ctx, t.Subject)
	if err != nil {
		return err
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if _, err := s.resets.ConsumeToken(ctx, token); err != nil {
		if errors.Is(err, tokens.ErrTokenNotFound) || errors.Is(err, tokens.ErrTokenAlreadyUsed) || errors.Is(err, tokens.ErrTokenExpired) {
			return ErrInvalidResetToken
		}
		return err
	}
	err = s.store.Update(ctx, acc.Email, func(tx ledger.Tx) error {
		return tx.SetPasswordHash(ctx, string(hash))
	})
	if err != nil {
		s.log.Error("reset token spent but new password not stored; a new reset is required", "email", acc.Email, "error", err)
		return fmt.Errorf("store new password: %w", err)
	}
	s.log.Info("password reset", "email", acc.Email)

	if err := s.notifier.PasswordChanged(ctx, acc.Email, acc.FullName); err != nil {
		s.log.Warn("password changed notification failed", "email", acc.Email, "error", err)
	}
	return nil
}
