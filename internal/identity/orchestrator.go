// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/platform/constants"
)

// Orchestrator moves identities, in bounded batches, from the legacy store
// to the external provider without blocking normal traffic.
//
// # Concurrency
//
// Batches are sequential, single-runner loops with no internal parallelism.
// Entries are claimed by selection, not locking: the design assumes a single
// active runner. The runMu guard only prevents two goroutines of one process
// from interleaving a batch — concurrent runners across processes are
// unsafe and out of scope. If that ever changes, row-level claiming
// (conditional update with a worker id and lease expiry) is required.
type Orchestrator struct {
	identities Repository
	log        MigrationLog
	directory  ExternalDirectory
	clk        clock.Clock
	logger     *slog.Logger

	runMu sync.Mutex
}

// NewOrchestrator constructs the migration orchestrator.
func NewOrchestrator(identities Repository, log MigrationLog, directory ExternalDirectory, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		identities: identities,
		log:        log,
		directory:  directory,
		clk:        clk,
		logger:     logger,
	}
}

// Enqueue inserts a pending migration log entry for the record on first
// encounter. Re-enqueuing an already-queued or migrated identity is a no-op.
func (orchestrator *Orchestrator) Enqueue(ctx context.Context, record *Record) error {
	if record.IsMigrated() {
		return nil
	}
	if err := orchestrator.log.Enqueue(ctx, record.ID, record.Email); err != nil {
		return fmt.Errorf("migration_enqueue_failed: %w", err)
	}
	return nil
}

// EnqueueUnmigrated sweeps the identity table and queues every un-migrated
// record, returning how many entries were considered.
func (orchestrator *Orchestrator) EnqueueUnmigrated(ctx context.Context, limit int) (int, error) {
	records, err := orchestrator.identities.ListUnmigrated(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("migration_enqueue_sweep_failed: %w", err)
	}

	for _, record := range records {
		if err := orchestrator.Enqueue(ctx, record); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

// ProcessPending selects up to batchSize pending entries and migrates each.
//
// # Partial Failure Semantics
//
// One failing identity never aborts the batch: its error is captured on the
// log row (status=failed) and folded into the returned [BatchResult]; the
// pass continues with the next entry.
func (orchestrator *Orchestrator) ProcessPending(ctx context.Context, batchSize int) (BatchResult, error) {
	orchestrator.runMu.Lock()
	defer orchestrator.runMu.Unlock()

	if batchSize <= 0 {
		batchSize = constants.DefaultMigrationBatchSize
	}

	entries, err := orchestrator.log.SelectPending(ctx, batchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("migration_select_pending_failed: %w", err)
	}

	return orchestrator.runBatch(ctx, entries), nil
}

// RetryFailed re-selects all failed entries and repeats the migration step,
// overwriting status and error on the same rows.
func (orchestrator *Orchestrator) RetryFailed(ctx context.Context) (BatchResult, error) {
	orchestrator.runMu.Lock()
	defer orchestrator.runMu.Unlock()

	entries, err := orchestrator.log.SelectFailed(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("migration_select_failed_failed: %w", err)
	}

	return orchestrator.runBatch(ctx, entries), nil
}

// ListLog returns a page of migration log entries plus the total count.
func (orchestrator *Orchestrator) ListLog(ctx context.Context, offset, limit int) ([]*MigrationEntry, int, error) {
	return orchestrator.log.List(ctx, offset, limit)
}

// runBatch migrates the selected entries in order.
func (orchestrator *Orchestrator) runBatch(ctx context.Context, entries []*MigrationEntry) BatchResult {
	result := BatchResult{}

	for _, entry := range entries {
		result.Processed++

		if err := orchestrator.migrateEntry(ctx, entry); err != nil {
			result.Failed++

			failure := apperr.MigrationFailure(entry.IdentityID, err)
			orchestrator.logger.Warn("identity_migration_failed",
				slog.String("identity_id", entry.IdentityID),
				slog.String("email", entry.Email),
				slog.Any("error", failure.Cause),
			)

			if markErr := orchestrator.log.MarkFailed(ctx, entry.ID, err.Error(), orchestrator.clk.Now()); markErr != nil {
				orchestrator.logger.Error("migration_mark_failed_errored",
					slog.String("entry_id", entry.ID),
					slog.Any("error", markErr),
				)
			}
			continue
		}

		result.Successful++
		if markErr := orchestrator.log.MarkSuccess(ctx, entry.ID, orchestrator.clk.Now()); markErr != nil {
			orchestrator.logger.Error("migration_mark_success_errored",
				slog.String("entry_id", entry.ID),
				slog.Any("error", markErr),
			)
		}
	}

	orchestrator.logger.Info("migration_batch_finished",
		slog.Int("processed", result.Processed),
		slog.Int("successful", result.Successful),
		slog.Int("failed", result.Failed),
	)

	return result
}

// migrateEntry finds-or-creates the matching external identity and writes
// the mapping back onto the legacy record.
//
// Matching is by email to avoid duplicate external accounts for members who
// already signed in externally.
func (orchestrator *Orchestrator) migrateEntry(ctx context.Context, entry *MigrationEntry) error {
	account, err := orchestrator.directory.FindUserByEmail(ctx, entry.Email)
	if err != nil {
		if !isNotFound(err) {
			return err
		}
		// Batch imports carry no password; the provider requires the member
		// to set one on first external login.
		account, err = orchestrator.directory.CreateUser(ctx, entry.Email, "")
		if err != nil {
			return err
		}
	}

	if err := orchestrator.identities.SetExternalID(ctx, entry.IdentityID, account.ID); err != nil {
		return err
	}

	return nil
}

// MigrateRecord performs an immediate, single-identity migration.
//
// Used by the login path for just-in-time migration: the member's plaintext
// password is available there, so the external account can be created with
// it directly. Writes both halves of the consistency invariant — the mapping
// on the record and a success log entry.
func (orchestrator *Orchestrator) MigrateRecord(ctx context.Context, record *Record, password string) (*ExternalAccount, error) {
	account, err := orchestrator.directory.FindUserByEmail(ctx, record.Email)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		account, err = orchestrator.directory.CreateUser(ctx, record.Email, password)
		if err != nil {
			return nil, err
		}
	}

	if err := orchestrator.identities.SetExternalID(ctx, record.ID, account.ID); err != nil {
		return nil, err
	}

	// Record the outcome on the log so stats and the success⇔mapping
	// invariant stay consistent with batch-migrated identities.
	if err := orchestrator.log.Enqueue(ctx, record.ID, record.Email); err != nil {
		return nil, err
	}
	entry, err := orchestrator.log.FindByIdentity(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if err := orchestrator.log.MarkSuccess(ctx, entry.ID, orchestrator.clk.Now()); err != nil {
		return nil, err
	}

	return account, nil
}

// Stats aggregates migration progress for observability and readiness checks.
func (orchestrator *Orchestrator) Stats(ctx context.Context) (MigrationStats, error) {
	total, err := orchestrator.identities.CountTotal(ctx)
	if err != nil {
		return MigrationStats{}, fmt.Errorf("migration_stats_total_failed: %w", err)
	}
	migrated, err := orchestrator.identities.CountMigrated(ctx)
	if err != nil {
		return MigrationStats{}, fmt.Errorf("migration_stats_migrated_failed: %w", err)
	}
	byStatus, err := orchestrator.log.CountByStatus(ctx)
	if err != nil {
		return MigrationStats{}, fmt.Errorf("migration_stats_log_failed: %w", err)
	}

	stats := MigrationStats{
		TotalIdentities: total,
		Migrated:        migrated,
		Pending:         byStatus[MigrationPending],
		Failed:          byStatus[MigrationFailed],
	}
	if total > 0 {
		stats.Coverage = float64(migrated) / float64(total)
	} else {
		// An empty store is trivially fully covered.
		stats.Coverage = 1.0
	}

	return stats, nil
}

// Coverage returns the migrated fraction, for the transition controller.
func (orchestrator *Orchestrator) Coverage(ctx context.Context) (float64, error) {
	stats, err := orchestrator.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Coverage, nil
}

// SweepRetention removes terminal log rows older than the retention window.
func (orchestrator *Orchestrator) SweepRetention(ctx context.Context) (int, error) {
	cutoff := orchestrator.clk.Now().Add(-constants.MigrationLogRetention)
	removed, err := orchestrator.log.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("migration_retention_sweep_failed: %w", err)
	}
	return removed, nil
}

// isNotFound reports whether err is a NOT_FOUND classification.
func isNotFound(err error) bool {
	var appError *apperr.AppError
	if errors.As(err, &appError) {
		return appError.Code == "NOT_FOUND"
	}
	return false
}
