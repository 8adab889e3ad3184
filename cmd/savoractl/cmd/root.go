// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Package cmd implements the savoractl command tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/savorahq/savora/internal/auth"
	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/platform/config"
	pgstore "github.com/savorahq/savora/internal/platform/postgres"
	"github.com/savorahq/savora/internal/rollout"
)

var rootCmd = &cobra.Command{
	Use:   "savoractl",
	Short: "Operator CLI for the Savora identity migration",
	Long: `savoractl drives the identity migration directly against the database:
batch processing, failure retries, post-migration cleanup, and rollout
phase transitions. It reads the same environment variables as the API
server (DATABASE_URL, PROVIDER_BASE_URL, ...).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(phaseCmd)
}

// toolbox bundles the wired services a subcommand needs, plus the
// teardown that closes the underlying pool.
type toolbox struct {
	orchestrator *identity.Orchestrator
	cleanup      *identity.Cleanup
	controller   *rollout.Controller
	close        func()
}

// buildToolbox wires services exactly the way cmd/api does, minus the
// HTTP layer. Every invocation opens and closes its own pool; savoractl
// runs are short-lived.
func buildToolbox(ctx context.Context) (*toolbox, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// Keep the operator terminal clean: structured logs go to stderr,
	// command results go to stdout as JSON.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}

	transportCache := auth.NewTokenCache(nil)
	transport := auth.NewTransport(cfg.ProviderBaseURL, cfg.ProviderAPIKey, transportCache, logger)
	provider := auth.NewHTTPProvider(transport)
	transportCache.SetFetcher(provider.FetchAntiForgeryToken)

	identities := identity.NewRepository(pool)
	migrationLog := identity.NewMigrationLog(pool)
	sessions := auth.NewSessionRepository(pool)

	orchestrator := identity.NewOrchestrator(identities, migrationLog, provider, clk, logger)
	cleanupEngine := identity.NewCleanup(identities, migrationLog, sessions, logger)

	controller := rollout.NewController(
		rollout.NewStore(pool),
		orchestrator.Coverage,
		provider.Ping,
		cfg.CoverageThreshold,
		clk,
		logger,
	)

	return &toolbox{
		orchestrator: orchestrator,
		cleanup:      cleanupEngine,
		controller:   controller,
		close:        pool.Close,
	}, nil
}

// commandContext returns a bounded context for one CLI invocation.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Minute)
}

// printJSON renders a command result to stdout.
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
