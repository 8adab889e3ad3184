// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
)

// Cleanup removes now-redundant legacy artifacts once identities carry a
// verified external mapping.
//
// # Scope
//
//   - Purge stale legacy session rows tied to migrated identities.
//   - Scrub embedded password hashes on migrated records.
//   - Merge duplicate identities sharing an email: the canonical survivor is
//     the already-mapped record, else the most recently updated; dependent
//     rows are re-parented before the duplicate is deleted.
type Cleanup struct {
	identities Repository
	log        MigrationLog
	sessions   SessionPurger
	logger     *slog.Logger
}

// NewCleanup constructs the post-migration cleanup engine.
func NewCleanup(identities Repository, log MigrationLog, sessions SessionPurger, logger *slog.Logger) *Cleanup {
	return &Cleanup{
		identities: identities,
		log:        log,
		sessions:   sessions,
		logger:     logger,
	}
}

// ValidateReadiness reports reasons to defer cleanup.
//
// The report is returned, not thrown: un-migrated identities, in-flight
// migrations, and near-expiry active sessions each add an issue. Cleanup
// does not proceed while issues remain unless explicitly overridden.
func (cleanup *Cleanup) ValidateReadiness(ctx context.Context) (ValidationReport, error) {
	report := ValidationReport{Issues: []string{}}

	total, err := cleanup.identities.CountTotal(ctx)
	if err != nil {
		return report, fmt.Errorf("cleanup_validate_total_failed: %w", err)
	}
	migrated, err := cleanup.identities.CountMigrated(ctx)
	if err != nil {
		return report, fmt.Errorf("cleanup_validate_migrated_failed: %w", err)
	}
	report.UnmigratedIdentities = total - migrated
	if report.UnmigratedIdentities > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d identities have no external mapping yet", report.UnmigratedIdentities))
	}

	byStatus, err := cleanup.log.CountByStatus(ctx)
	if err != nil {
		return report, fmt.Errorf("cleanup_validate_log_failed: %w", err)
	}
	report.PendingMigrations = byStatus[MigrationPending]
	if report.PendingMigrations > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d migrations are still in flight", report.PendingMigrations))
	}

	nearExpiry, err := cleanup.sessions.CountActiveNearExpiry(ctx, constants.NearExpirySessionWindow)
	if err != nil {
		return report, fmt.Errorf("cleanup_validate_sessions_failed: %w", err)
	}
	report.NearExpirySessions = nearExpiry
	if nearExpiry > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d active sessions expire within %s", nearExpiry, constants.NearExpirySessionWindow))
	}

	report.Ready = len(report.Issues) == 0
	return report, nil
}

// PerformCompleteCleanup runs the full cleanup pass.
//
// # Parameters
//   - ctx: Context for the storage operations.
//   - force: Proceed despite a failing readiness report.
//
// # Returns
//   - The aggregate [CleanupResult].
//   - [apperr.ValidationFailure] carrying the report's issues when readiness
//     fails and force is not set.
func (cleanup *Cleanup) PerformCompleteCleanup(ctx context.Context, force bool) (CleanupResult, error) {
	// ── 1. Pre-Flight Validation ──────────────────────────────────────────

	report, err := cleanup.ValidateReadiness(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	if !report.Ready && !force {
		details := make([]apperr.FieldError, 0, len(report.Issues))
		for _, issue := range report.Issues {
			details = append(details, apperr.FieldError{Field: "readiness", Message: issue})
		}
		return CleanupResult{}, apperr.ValidationFailure("Cleanup deferred: unresolved readiness issues", details...)
	}

	result := CleanupResult{}

	// ── 2. Stale Session Purge ────────────────────────────────────────────

	purged, err := cleanup.sessions.PurgeMigrated(ctx)
	if err != nil {
		return result, fmt.Errorf("cleanup_purge_sessions_failed: %w", err)
	}
	result.SessionsPurged = purged

	// ── 3. Password Hash Scrub ────────────────────────────────────────────

	scrubbed, err := cleanup.identities.ScrubPasswordHashes(ctx)
	if err != nil {
		return result, fmt.Errorf("cleanup_scrub_hashes_failed: %w", err)
	}
	result.HashesScrubbed = scrubbed

	// ── 4. Duplicate Identity Merge ───────────────────────────────────────

	merged, err := cleanup.mergeDuplicates(ctx)
	if err != nil {
		return result, err
	}
	result.DuplicatesMerged = merged

	cleanup.logger.Info("cleanup_finished",
		slog.Int("sessions_purged", result.SessionsPurged),
		slog.Int("hashes_scrubbed", result.HashesScrubbed),
		slog.Int("duplicates_merged", result.DuplicatesMerged),
		slog.Bool("forced", force),
	)

	return result, nil
}

// mergeDuplicates resolves identities sharing an email.
//
// The repository returns each group ordered canonical-first (mapped record
// first, then most recently updated), so the survivor is always group[0].
func (cleanup *Cleanup) mergeDuplicates(ctx context.Context) (int, error) {
	groups, err := cleanup.identities.ListDuplicateEmails(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup_list_duplicates_failed: %w", err)
	}

	merged := 0
	for email, group := range groups {
		if len(group) < 2 {
			continue
		}

		canonical := group[0]
		for _, duplicate := range group[1:] {
			if err := cleanup.identities.ReparentDependents(ctx, duplicate.ID, canonical.ID); err != nil {
				return merged, fmt.Errorf("cleanup_reparent_failed: %w", err)
			}
			if err := cleanup.identities.Delete(ctx, duplicate.ID); err != nil {
				return merged, fmt.Errorf("cleanup_delete_duplicate_failed: %w", err)
			}

			merged++
			cleanup.logger.Info("duplicate_identity_merged",
				slog.String("email", email),
				slog.String("canonical_id", canonical.ID),
				slog.String("removed_id", duplicate.ID),
			)
		}
	}

	return merged, nil
}
