package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/ArielSulton/tunarasa-sub001/internal/accessgate"
	"github.com/ArielSulton/tunarasa-sub001/internal/config"
	"github.com/ArielSulton/tunarasa-sub001/internal/db/bunx"
	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/diagnostics"
	"github.com/ArielSulton/tunarasa-sub001/internal/httpapi"
	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/invitation"
	"github.com/ArielSulton/tunarasa-sub001/internal/migrations"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	"github.com/ArielSulton/tunarasa-sub001/internal/reconciler"
	"github.com/ArielSulton/tunarasa-sub001/internal/synclog"
	"github.com/ArielSulton/tunarasa-sub001/pkg/auth"
	"github.com/ArielSulton/tunarasa-sub001/pkg/logging"
	sharedserver "github.com/ArielSulton/tunarasa-sub001/pkg/server"
)

const pendingFlushInterval = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config error: %w", err))
	}

	logger := logging.NewLogger("identity-sync")

	db, err := bunx.NewDB(cfg.DatabaseDSN)
	if err != nil {
		panic(fmt.Errorf("database error: %w", err))
	}
	defer bunx.Close(db)

	if err := runMigrations(ctx, db, logger); err != nil {
		panic(fmt.Errorf("migration error: %w", err))
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		JWKSURL:  cfg.Auth.JWKSURL,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
	})
	if err != nil {
		panic(fmt.Errorf("auth error: %w", err))
	}

	webhookVerifier, err := provider.NewWebhookVerifier(cfg.Clerk.WebhookSecret)
	if err != nil {
		panic(fmt.Errorf("webhook secret error: %w", err))
	}

	identityRepo := identity.NewBunRepository(db)
	invitationRepo := invitation.NewBunRepository(db)
	auditRepo := synclog.NewBunRepository(db)

	identityService := identity.NewService(identityRepo, invitationRepo, auditRepo, logger)
	invitationService := invitation.NewService(invitationRepo)

	clerkClient := provider.NewClient(cfg.Clerk.SecretKey, cfg.Clerk.APIURL)
	diagnosticsService := diagnostics.NewService(identityRepo, identityService, clerkClient, auditRepo)

	pendingStore := reconciler.NewBunPendingStore(db)
	rec := reconciler.New(
		newSyncCaller(cfg.Sync, identityService),
		pendingStore,
		reconciler.Config{
			Cooldown:       cfg.Sync.Cooldown,
			MaxRetries:     cfg.Sync.MaxRetries,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			PendingMaxAge:  cfg.Sync.PendingMaxAge,
		},
		logger,
	)

	gate := accessgate.New(
		verifier,
		identityRepo,
		accessgate.NewCookieCodec(cfg.Gate.CookieSecret),
		rec,
		accessgate.Config{
			GraceWindow:     cfg.Gate.GraceWindow,
			StoreTimeout:    cfg.Gate.StoreTimeout,
			SignInURL:       cfg.Gate.SignInURL,
			UnauthorizedURL: cfg.Gate.UnauthorizedURL,
		},
		logger,
	)

	privileged := []int{models.RoleSuperAdminID, models.RoleAdminID}
	policies := httpapi.Policies{
		Dashboard: accessgate.Policy{
			Name:       "dashboard",
			TTL:        cfg.Gate.DashboardTTL,
			Roles:      privileged,
			AllowGrace: true,
		},
		AdminView: accessgate.Policy{
			Name:  "admin",
			TTL:   cfg.Gate.AdminTTL,
			Roles: privileged,
		},
		AdminEdit: accessgate.Policy{
			Name:  "superadmin",
			TTL:   cfg.Gate.AdminTTL,
			Roles: []int{models.RoleSuperAdminID},
		},
	}

	router := sharedserver.NewRouter("identity-sync", func(r chi.Router) {
		httpapi.RegisterRoutes(r, httpapi.Deps{
			Identity:    identityService,
			Invitations: invitationService,
			Diagnostics: diagnosticsService,
			Webhooks:    webhookVerifier,
			Verifier:    verifier,
			Gate:        gate,
			Logger:      logger,
		}, policies)
	})

	go flushPendingLoop(ctx, rec, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := sharedserver.Run(ctx, srv, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

// newSyncCaller picks the reconciler's sync transport: in-process against the
// local service by default, HTTP against a remote deployment's sync endpoint
// when one is configured.
func newSyncCaller(cfg config.SyncConfig, identities identity.Service) reconciler.SyncCaller {
	if cfg.Endpoint != "" {
		return reconciler.NewHTTPCaller(cfg.Endpoint, cfg.RequestTimeout)
	}
	return reconciler.NewServiceCaller(identities)
}

func runMigrations(ctx context.Context, db *bun.DB, logger *slog.Logger) error {
	migrator := migrate.NewMigrator(db, migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if err := migrator.Unlock(ctx); err != nil {
			logger.Warn("failed to release migration lock", slog.Any("error", err))
		}
	}()

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.ID == 0 {
		logger.Info("no new migrations to apply")
	} else {
		logger.Info("applied migrations", slog.Int64("group", group.ID))
	}
	return nil
}

// flushPendingLoop drains the durable pending-sync queue: once at startup,
// then on an interval. Each pass drops entries older than the staleness cutoff
// before retrying the rest.
func flushPendingLoop(ctx context.Context, rec *reconciler.Reconciler, logger *slog.Logger) {
	flush := func() {
		flushCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := rec.FlushPending(flushCtx); err != nil {
			logger.Error("pending sync flush failed", slog.Any("error", err))
		}
	}

	flush()

	ticker := time.NewTicker(pendingFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flush()
		}
	}
}
