package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/paperlens/backend/internal/auth"
	"github.com/paperlens/backend/internal/config"
	"github.com/paperlens/backend/internal/credits"
	"github.com/paperlens/backend/internal/documents"
	"github.com/paperlens/backend/internal/ledger"
	"github.com/paperlens/backend/internal/router"
	"github.com/paperlens/backend/internal/subscription"
	"github.com/paperlens/backend/internal/tokens"
)

// app is the wired service graph behind the HTTP handler.
type app struct {
	store   ledger.Store
	subs    *subscription.Manager
	credits *credits.Service
	handler http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, b *backends, logger *slog.Logger) (*app, error) {
	subs := subscription.NewManager(b.ledger,
		subscription.WithPlans(subscription.DefaultPlans(cfg.SubscriptionCreditsMonthly, cfg.SubscriptionCreditsYearly)),
		subscription.WithLogger(logger),
	)
	creditSvc := credits.NewService(b.ledger, credits.WithLogger(logger))

	resets := tokens.NewPasswordResetManager(b.tokens, tokens.WithLogger(logger))
	states := tokens.NewOAuthStateManager(b.tokens, tokens.WithLogger(logger))
	notifier, err := b.notifier(resets)
	if err != nil {
		return nil, err
	}

	authSvc := auth.NewService(b.ledger, subs, resets, notifier, auth.Config{
		Secret:         []byte(cfg.JWTSecret),
		AccessTokenTTL: cfg.AccessTokenTTL,
		FreeCredits:    cfg.FreeCreditsPerUser,
	}, auth.WithLogger(logger))
	google := auth.NewGoogleLogin(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.GoogleRedirectURI,
	}, states, googleVerifier(ctx, cfg), authSvc)

	schemas, err := documents.NewValidator()
	if err != nil {
		return nil, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	return &app{
		store:   b.ledger,
		subs:    subs,
		credits: creditSvc,
		handler: router.New(router.Handlers{
			Auth:       auth.NewHandler(authSvc, google, validate, cfg.FrontendURL, logger),
			Credits:    credits.NewHandler(creditSvc, subs, validate, logger),
			Documents:  documents.NewHandler(creditSvc, schemas, logger),
			Verifier:   authSvc,
			Reconciler: subs,
		}),
	}, nil
}
