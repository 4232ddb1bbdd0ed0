package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/paperlens/backend/internal/models"
	"github.com/paperlens/backend/internal/tokens"
)

// GoogleCertsURL is Google's JWKS endpoint for ID token signatures.
const GoogleCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

var (
	ErrGoogleNotConfigured = errors.New("google oauth not configured")
	ErrInvalidState        = errors.New("invalid state parameter")
	ErrInvalidIDToken      = errors.New("invalid id token")
)

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// CodeExchanger trades an authorization code for a raw ID token.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (string, error)
}

// IDTokenVerifier checks an ID token and extracts the identity it asserts.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (Identity, error)
}

type oauthExchanger struct {
	cfg *oauth2.Config
}

func (e oauthExchanger) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := e.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return "", errors.New("no id token received")
	}
	return raw, nil
}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// GoogleVerifier validates Google ID tokens: RS256 signature from Google's
// JWKS, audience equal to the client id and a Google issuer.
type GoogleVerifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{GoogleCertsURL})
	if err != nil {
		return nil, fmt.Errorf("failed to init Google JWKS keyfunc: %w", err)
	}
	return newGoogleVerifier(kf.Keyfunc, clientID), nil
}

func newGoogleVerifier(kf jwt.Keyfunc, clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithAudience(clientID),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		),
	}
}

func (v *GoogleVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	var c googleClaims
	tok, err := v.parser.ParseWithClaims(raw, &c, v.keyfunc)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if !tok.Valid {
		return Identity{}, ErrInvalidIDToken
	}
	if !googleIssuers[c.Issuer] {
		return Identity{}, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidIDToken, c.Issuer)
	}
	if c.Email == "" {
		return Identity{}, fmt.Errorf("%w: no email provided by Google", ErrInvalidIDToken)
	}
	if !c.EmailVerified {
		return Identity{}, fmt.Errorf("%w: email %q not verified", ErrInvalidIDToken, c.Email)
	}
	return Identity{Email: c.Email, Name: c.Name, GoogleID: c.Subject}, nil
}

// GoogleLogin drives the authorization-code flow. State values are
// single-use tokens that expire after tokens.OAuthStateTTL.
type GoogleLogin struct {
	oauth     *oauth2.Config
	states    *tokens.Manager
	exchanger CodeExchanger
	verifier  IDTokenVerifier
	svc       *Service
}

func NewGoogleLogin(cfg GoogleConfig, states *tokens.Manager, verifier IDTokenVerifier, svc *Service) *GoogleLogin {
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
	return &GoogleLogin{
		oauth:     oc,
		states:    states,
		exchanger: oauthExchanger{cfg: oc},
		verifier:  verifier,
		svc:       svc,
	}
}

func (g *GoogleLogin) configured() bool {
	return g != nil && g.oauth.ClientID != "" && g.oauth.ClientSecret != "" && g.verifier != nil
}

// AuthURL returns the Google consent URL carrying a fresh state value.
func (g *GoogleLogin) AuthURL(ctx context.Context) (string, error) {
	if !g.configured() {
		return "", ErrGoogleNotConfigured
	}
	state, err := g.states.IssueToken(ctx, "")
	if err != nil {
		return "", err
	}
	return g.oauth.AuthCodeURL(state.Value,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// Callback consumes state, exchanges code and signs the user in.
func (g *GoogleLogin) Callback(ctx context.Context, code, state string) (*models.Account, string, error) {
	if !g.configured() {
		return nil, "", ErrGoogleNotConfigured
	}
	if _, err := g.states.ConsumeToken(ctx, state); err != nil {
		return nil, "", ErrInvalidState
	}
	raw, err := g.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}
	id, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, "", err
	}
	return g.svc.LoginIdentity(ctx, id)
}
