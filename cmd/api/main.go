package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/paperlens/backend/internal/auth"
	"github.com/paperlens/backend/internal/config"
	"github.com/paperlens/backend/internal/jobs"
	"github.com/paperlens/backend/internal/ledger"
	ledgermem "github.com/paperlens/backend/internal/ledger/memory"
	ledgerpg "github.com/paperlens/backend/internal/ledger/postgres"
	"github.com/paperlens/backend/internal/middleware"
	"github.com/paperlens/backend/internal/notify"
	"github.com/paperlens/backend/internal/tokens"
	tokensmem "github.com/paperlens/backend/internal/tokens/memory"
	tokenspg "github.com/paperlens/backend/internal/tokens/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if cfg.JWTSecret == "your-secret-key-change-in-production" {
		slog.Warn("JWT_SECRET is the development default; set it before deploying")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialise storage", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	app, err := newApp(ctx, cfg, deps, logger)
	if err != nil {
		slog.Error("Failed to build application", "error", err)
		os.Exit(1)
	}

	if cfg.SeedDemoAccounts {
		if err := seedDemoAccounts(ctx, app, logger); err != nil {
			slog.Error("Demo seed failed", "error", err)
			os.Exit(1)
		}
	}

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(middleware.RequestLogger(logger)(app.handler))

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "storage", deps.kind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}

// backends are the storage-dependent pieces: the stores and how mail and
// token sweeps are carried out.
type backends struct {
	kind     string
	ledger   ledger.Store
	tokens   tokens.Store
	notifier func(resets *tokens.Manager) (notify.Notifier, error)
}

func mailer(cfg *config.Config, logger *slog.Logger) notify.Mailer {
	if !cfg.SMTPConfigured() {
		slog.Warn("SMTP_HOST not set; emails will be logged, not sent")
		return notify.NewLogMailer(logger)
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

func renderer(cfg *config.Config) notify.Renderer {
	return notify.Renderer{FrontendURL: cfg.FrontendURL, ResetTTL: tokens.PasswordResetTTL}
}

// buildBackends picks in-memory stores when DATABASE_URL is empty and
// Postgres plus River otherwise.
func buildBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set; using in-memory storage (data is lost on restart)")
		return &backends{
			kind:   "memory",
			ledger: ledgermem.New(),
			tokens: tokensmem.New(),
			notifier: func(resets *tokens.Manager) (notify.Notifier, error) {
				go resets.RunSweeper(ctx, cfg.TokenSweepInterval)
				return notify.NewMailNotifier(renderer(cfg), mailer(cfg, logger)), nil
			},
		}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	ledgerStore := ledgerpg.New(pool)
	tokenStore := tokenspg.New(pool)
	for _, migrate := range []func(context.Context) error{
		ledgerStore.Migrate,
		tokenStore.Migrate,
		func(ctx context.Context) error { return jobs.Migrate(ctx, pool) },
	} {
		if err := migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	slog.Info("Migrations applied")

	stopRiver := func() {}
	b := &backends{
		kind:   "postgres",
		ledger: ledgerStore,
		tokens: tokenStore,
		notifier: func(resets *tokens.Manager) (notify.Notifier, error) {
			client, err := jobs.NewClient(pool, jobs.Config{
				Mailer:        mailer(cfg, logger),
				Sweeper:       resets,
				SweepInterval: cfg.TokenSweepInterval,
				Logger:        logger,
			})
			if err != nil {
				return nil, err
			}
			if err := client.Start(ctx); err != nil {
				return nil, err
			}
			stopRiver = func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := client.Stop(stopCtx); err != nil {
					slog.Error("River client stop failed", "error", err)
				}
			}
			return jobs.NewRiverNotifier(renderer(cfg), client), nil
		},
	}
	return b, func() {
		stopRiver()
		pool.Close()
	}, nil
}

func googleVerifier(ctx context.Context, cfg *config.Config) auth.IDTokenVerifier {
	if !cfg.GoogleConfigured() {
		slog.Info("Google OAuth not configured")
		return nil
	}
	v, err := auth.NewGoogleVerifier(ctx, cfg.GoogleClientID)
	if err != nil {
		slog.Warn("Google sign-in disabled", "error", err)
		return nil
	}
	return v
}
