// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Command api is the entry point for the Savora HTTP API server.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Wire the provider transport, session core, and domain services.
//  7. Seed the rollout phase and start background workers.
//  8. Start HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
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

	"github.com/joho/godotenv"

	"github.com/savorahq/savora/internal/api"
	"github.com/savorahq/savora/internal/auth"
	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/platform/config"
	"github.com/savorahq/savora/internal/platform/constants"
	"github.com/savorahq/savora/internal/platform/migration"
	pgstore "github.com/savorahq/savora/internal/platform/postgres"
	redisstore "github.com/savorahq/savora/internal/platform/redis"
	"github.com/savorahq/savora/internal/platform/sec"
	"github.com/savorahq/savora/internal/rollout"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries.
	log := rawLog.With(slog.String("app", "savora"))
	slog.SetDefault(log)

	log.Info("[Savora] service_initializing")

	// ── 2. Configuration ──────────────────────────────────────────────────
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	must(log, err, "load configuration")

	if cfg.Debug {
		debugLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		log = debugLog.With(slog.String("app", "savora"))
		slog.SetDefault(log)
		log.Debug("debug_logging_enabled")
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Provider Transport & Session Core ──────────────────────────────
	clk := clock.System{}

	jwtSvc, err := sec.NewTokenService(cfg.LegacyJWTSecret, cfg.JWTIssuer)
	must(log, err, "initialize legacy token service")

	transportCache := auth.NewTokenCache(nil)
	transport := auth.NewTransport(cfg.ProviderBaseURL, cfg.ProviderAPIKey, transportCache, log)
	provider := auth.NewHTTPProvider(transport)
	transportCache.SetFetcher(provider.FetchAntiForgeryToken)

	// The service session owns the process-level provider credential. Its
	// bounded refresh flow backs the transport's 401 retry cycle.
	serviceSession := auth.NewSessionManager(transportCache, provider, clk, log)
	transport.SetRefreshFunc(serviceSession.Refresh)

	verifier := auth.NewVerifier(jwtSvc, provider)
	registry := auth.NewRegistry(provider, clk, log)

	// ── 7. Domain Wiring ──────────────────────────────────────────────────
	identityRepository := identity.NewRepository(pool)
	migrationLog := identity.NewMigrationLog(pool)
	sessionRepository := auth.NewSessionRepository(pool)
	antiForgeryStore := auth.NewAntiForgeryStore(rdb)

	orchestrator := identity.NewOrchestrator(identityRepository, migrationLog, provider, clk, log)
	cleanup := identity.NewCleanup(identityRepository, migrationLog, sessionRepository, log)

	rolloutStore := rollout.NewStore(pool)
	controller := rollout.NewController(
		rolloutStore,
		orchestrator.Coverage,
		provider.Ping,
		cfg.CoverageThreshold,
		clk,
		log,
	)
	must(log, controller.Ensure(startupCtx, rollout.Phase(cfg.InitialPhase)), "seed rollout phase")

	authService := auth.NewService(
		identityRepository,
		sessionRepository,
		antiForgeryStore,
		orchestrator,
		provider,
		controller,
		jwtSvc,
		registry,
		log,
	)

	gate := auth.NewGate(registry)
	authHandler := auth.NewHandler(authService, gate, registry)
	identityHandler := identity.NewHandler(orchestrator, cleanup)
	rolloutHandler := rollout.NewHandler(controller)

	// ── 8. Health Handlers ────────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
		CheckProvider: func() error {
			// A 401 from the health probe means the service credential went
			// stale; the retry wrapper refreshes it before reporting unready.
			return serviceSession.WithSessionRetry(context.Background(), provider.Ping)
		},
	}, log)

	// ── 9. Background Workers ─────────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go registry.RunJanitor(workerCtx, constants.SessionCheckInterval)
	go runMaintenance(workerCtx, authService, orchestrator, log)

	// ── 10. HTTP Server ───────────────────────────────────────────────────
	handlers := api.Handlers{
		Liveness:    liveness,
		Readiness:   readiness,
		Auth:        authHandler,
		Identity:    identityHandler,
		Rollout:     rolloutHandler,
		AntiForgery: antiForgeryStore,
	}

	server := api.NewServer(workerCtx, cfg, log, verifier, handlers)

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// Give in-flight requests enough time to complete.
	shutdownTimeout := constants.ShutdownTimeout
	log.Info("shutting down server", slog.Duration("timeout", shutdownTimeout))

	if err := server.Shutdown(shutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("server stopped cleanly")
}

// runMaintenance sweeps expired session rows and aged migration log entries
// once a day.
func runMaintenance(ctx context.Context, authService *auth.Service, orchestrator *identity.Orchestrator, log *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := authService.PurgeExpiredSessions(ctx); err != nil {
				log.Error("session_purge_failed", slog.Any("error", err))
			}
			if removed, err := orchestrator.SweepRetention(ctx); err != nil {
				log.Error("migration_log_sweep_failed", slog.Any("error", err))
			} else if removed > 0 {
				log.Info("migration_log_swept", slog.Int("removed", removed))
			}
		}
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
