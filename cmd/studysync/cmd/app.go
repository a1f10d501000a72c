package cmd

import (
	"context"
	"crypto/rand"
	"fmt"

	"go.uber.org/zap"

	"github.com/theakshaypant/studysync/internal/adapter/google"
	"github.com/theakshaypant/studysync/internal/adapter/outlook"
	"github.com/theakshaypant/studysync/internal/auth"
	"github.com/theakshaypant/studysync/internal/config"
	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/logging"
	"github.com/theakshaypant/studysync/internal/orchestrator"
	"github.com/theakshaypant/studysync/internal/platform"
	"github.com/theakshaypant/studysync/internal/reconcile"
	"github.com/theakshaypant/studysync/internal/secret"
	"github.com/theakshaypant/studysync/internal/service"
	"github.com/theakshaypant/studysync/internal/storage/postgres"
	"github.com/theakshaypant/studysync/internal/token"
)

// app is the wired engine shared by every command that touches the database.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	db     *postgres.DB
	signer *auth.Signer
	svc    *service.Calendar

	sessions core.SessionStore
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn not configured\n\nSet STUDYSYNC_DATABASE_DSN or add it to %s/config.yaml", configDir())
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return nil, err
	}

	adapters, err := buildAdapters(cfg, log)
	if err != nil {
		return nil, err
	}

	sealer, err := buildSealer(cfg)
	if err != nil {
		return nil, err
	}

	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	signer := auth.NewSigner(key, cfg.Auth.StateTTL)

	db, err := postgres.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	integrations := postgres.NewIntegrationRepo(db, sealer)
	sessions := postgres.NewSessionRepo(db)
	plans := postgres.NewPlanRepo(db)
	events := postgres.NewCalendarEventRepo(db)

	tokens := token.NewManager(integrations, adapters, log.Named("token"))
	resolver := platform.NewResolver(adapters, integrations, cfg.Platform.CalendarName, log.Named("platform"))
	orch := orchestrator.New(tokens, adapters, resolver, sessions, plans,
		orchestrator.WithInterval(cfg.Sync.Throttle),
		orchestrator.WithDefaultTimezone(cfg.Platform.DefaultTimezone),
		orchestrator.WithLogger(log.Named("orchestrator")),
	)

	svc := service.New(service.Deps{
		Adapters:        adapters,
		Tokens:          tokens,
		Store:           integrations,
		Resolver:        resolver,
		Orchestrator:    orch,
		Reconciler:      reconcile.New(sessions, events, log.Named("reconcile")),
		Sessions:        sessions,
		Plans:           plans,
		Events:          events,
		States:          signer,
		RedirectURL:     cfg.OAuth.RedirectURL,
		CheckWindow:     cfg.CheckWindow(),
		DefaultTimezone: cfg.Platform.DefaultTimezone,
		Log:             log.Named("service"),
	})

	return &app{cfg: cfg, log: log, db: db, signer: signer, svc: svc, sessions: sessions}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.log.Sync()
}

func buildAdapters(cfg config.Config, log *zap.Logger) (core.Adapters, error) {
	var list []core.ProviderAdapter
	if cfg.GoogleEnabled() {
		list = append(list, google.NewGoogleAdapter(cfg.Google.ClientID, cfg.Google.ClientSecret,
			google.WithLogger(log.Named("google"))))
	}
	if cfg.MicrosoftEnabled() {
		list = append(list, outlook.NewOutlookAdapter(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, cfg.Microsoft.Tenant,
			outlook.WithLogger(log.Named("microsoft"))))
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no calendar provider configured\n\nSet google.client_id or microsoft.client_id")
	}
	return core.NewAdapters(list...), nil
}

func buildSealer(cfg config.Config) (secret.Sealer, error) {
	if cfg.Crypto.TokenKey == "" {
		return secret.Plain{}, nil
	}
	return secret.NewBoxFromBase64(cfg.Crypto.TokenKey)
}

// signingKey falls back to a per-process key, which is enough for the CLI
// because it verifies its own OAuth state before exiting.
func signingKey(cfg config.Config) ([]byte, error) {
	if cfg.Auth.JWTSecret != "" {
		return []byte(cfg.Auth.JWTSecret), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate state key: %w", err)
	}
	return key, nil
}
