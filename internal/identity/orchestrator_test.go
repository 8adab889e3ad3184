// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package identity_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/platform/constants"
)

func legacyRecord(id, email string) *identity.Record {
	return &identity.Record{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

/*
TestOrchestrator_EnqueueIsIdempotent verifies that re-enqueuing the same
identity never duplicates its log row, and that already-migrated records are
skipped entirely.
*/
func TestOrchestrator_EnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	log := newFakeLog()
	orchestrator := identity.NewOrchestrator(repo, log, newFakeDirectory(), clock.System{}, discardLogger())

	// 1. Enqueue the same un-migrated record twice.
	record := legacyRecord("id-1", "one@savora.app")
	require.NoError(t, orchestrator.Enqueue(ctx, record))
	require.NoError(t, orchestrator.Enqueue(ctx, record))

	counts, err := log.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[identity.MigrationPending])

	// 2. A record that already carries a mapping is not queued.
	externalID := "ext-two"
	migrated := legacyRecord("id-2", "two@savora.app")
	migrated.ExternalID = &externalID
	require.NoError(t, orchestrator.Enqueue(ctx, migrated))

	counts, err = log.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[identity.MigrationPending])
}

/*
TestOrchestrator_EnqueueUnmigratedSweepsStore verifies the bulk sweep queues
every record without a mapping and reports how many it considered.
*/
func TestOrchestrator_EnqueueUnmigratedSweepsStore(t *testing.T) {
	ctx := context.Background()
	externalID := "ext-done"
	done := legacyRecord("id-done", "done@savora.app")
	done.ExternalID = &externalID

	repo := newFakeRepository(
		legacyRecord("id-a", "a@savora.app"),
		legacyRecord("id-b", "b@savora.app"),
		done,
	)
	log := newFakeLog()
	orchestrator := identity.NewOrchestrator(repo, log, newFakeDirectory(), clock.System{}, discardLogger())

	considered, err := orchestrator.EnqueueUnmigrated(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, considered)

	counts, err := log.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[identity.MigrationPending])
}

/*
TestOrchestrator_ProcessPendingPartialFailure verifies that one failing
identity does not abort the batch: its error lands on its own log row and the
remaining entries migrate normally.
*/
func TestOrchestrator_ProcessPendingPartialFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	log := newFakeLog()
	directory := newFakeDirectory()
	orchestrator := identity.NewOrchestrator(repo, log, directory, clock.System{}, discardLogger())

	// 1. Queue ten identities; make the provider reject one of them.
	for index := 0; index < 10; index++ {
		record := legacyRecord(
			fmt.Sprintf("id-%02d", index),
			fmt.Sprintf("member%02d@savora.app", index),
		)
		require.NoError(t, repo.Create(ctx, record))
		require.NoError(t, orchestrator.Enqueue(ctx, record))
	}
	directory.failFor["member04@savora.app"] = apperr.TransientNetwork(errors.New("connection refused"))

	// 2. One pass processes the whole batch despite the failure.
	result, err := orchestrator.ProcessPending(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, identity.BatchResult{Processed: 10, Successful: 9, Failed: 1}, result)

	// 3. The failed row captured the error; the successes carry mappings.
	status, message := log.entryStatus("id-04")
	assert.Equal(t, identity.MigrationFailed, status)
	require.NotNil(t, message)
	assert.Contains(t, *message, "temporarily unreachable")

	migrated, err := repo.CountMigrated(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, migrated)

	record, err := repo.FindByID(ctx, "id-04")
	require.NoError(t, err)
	assert.False(t, record.IsMigrated())
}

/*
TestOrchestrator_RetryFailedOverwritesSameRow verifies the retry pass repeats
the migration on the existing failed rows instead of inserting new ones.
*/
func TestOrchestrator_RetryFailedOverwritesSameRow(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	log := newFakeLog()
	directory := newFakeDirectory()
	orchestrator := identity.NewOrchestrator(repo, log, directory, clock.System{}, discardLogger())

	record := legacyRecord("id-retry", "retry@savora.app")
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, orchestrator.Enqueue(ctx, record))

	// 1. First pass fails while the provider is down.
	directory.failFor["retry@savora.app"] = apperr.TransientNetwork(errors.New("connection refused"))
	result, err := orchestrator.ProcessPending(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	// 2. Provider recovers; the retry succeeds on the same row.
	delete(directory.failFor, "retry@savora.app")
	result, err = orchestrator.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, identity.BatchResult{Processed: 1, Successful: 1}, result)

	status, message := log.entryStatus("id-retry")
	assert.Equal(t, identity.MigrationSuccess, status)
	assert.Nil(t, message)

	_, total, err := log.List(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

/*
TestOrchestrator_BatchReusesExistingExternalAccount verifies that a member who
already signed up externally is linked to that account rather than provisioned
a second one.
*/
func TestOrchestrator_BatchReusesExistingExternalAccount(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	log := newFakeLog()
	directory := newFakeDirectory()
	orchestrator := identity.NewOrchestrator(repo, log, directory, clock.System{}, discardLogger())

	directory.accounts["early@savora.app"] = &identity.ExternalAccount{
		ID:    "ext-existing",
		Email: "early@savora.app",
	}
	record := legacyRecord("id-early", "early@savora.app")
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, orchestrator.Enqueue(ctx, record))

	result, err := orchestrator.ProcessPending(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Successful)
	assert.Zero(t, directory.createCalls)

	migrated, err := repo.FindByID(ctx, "id-early")
	require.NoError(t, err)
	require.NotNil(t, migrated.ExternalID)
	assert.Equal(t, "ext-existing", *migrated.ExternalID)
}

/*
TestOrchestrator_MigrateRecordWritesMappingAndLog verifies the just-in-time
path establishes both halves of the consistency invariant: the mapping on the
record and a success log entry.
*/
func TestOrchestrator_MigrateRecordWritesMappingAndLog(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	log := newFakeLog()
	directory := newFakeDirectory()
	orchestrator := identity.NewOrchestrator(repo, log, directory, clock.System{}, discardLogger())

	record := legacyRecord("id-jit", "jit@savora.app")
	require.NoError(t, repo.Create(ctx, record))

	account, err := orchestrator.MigrateRecord(ctx, record, "plaintext-secret")
	require.NoError(t, err)
	assert.Equal(t, "ext-jit@savora.app", account.ID)

	migrated, err := repo.FindByID(ctx, "id-jit")
	require.NoError(t, err)
	require.NotNil(t, migrated.ExternalID)
	assert.Equal(t, account.ID, *migrated.ExternalID)

	status, _ := log.entryStatus("id-jit")
	assert.Equal(t, identity.MigrationSuccess, status)
}

/*
TestOrchestrator_StatsAndCoverage verifies the observability aggregates,
including the empty-store convention that coverage is 1.0.
*/
func TestOrchestrator_StatsAndCoverage(t *testing.T) {
	ctx := context.Background()

	// 1. An empty store is trivially fully covered.
	empty := identity.NewOrchestrator(newFakeRepository(), newFakeLog(), newFakeDirectory(), clock.System{}, discardLogger())
	coverage, err := empty.Coverage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, coverage)

	// 2. A partially migrated store reports the exact fraction.
	externalID := "ext-half"
	mapped := legacyRecord("id-mapped", "mapped@savora.app")
	mapped.ExternalID = &externalID

	repo := newFakeRepository(
		mapped,
		legacyRecord("id-left-1", "left1@savora.app"),
		legacyRecord("id-left-2", "left2@savora.app"),
		legacyRecord("id-left-3", "left3@savora.app"),
	)
	log := newFakeLog()
	require.NoError(t, log.Enqueue(ctx, "id-left-1", "left1@savora.app"))

	orchestrator := identity.NewOrchestrator(repo, log, newFakeDirectory(), clock.System{}, discardLogger())
	stats, err := orchestrator.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalIdentities)
	assert.Equal(t, 1, stats.Migrated)
	assert.Equal(t, 1, stats.Pending)
	assert.Zero(t, stats.Failed)
	assert.InDelta(t, 0.25, stats.Coverage, 1e-9)
}

/*
TestOrchestrator_SweepRetentionRemovesOldTerminalRows verifies the retention
sweep drops terminal rows past the window and keeps pending ones regardless of
age.
*/
func TestOrchestrator_SweepRetentionRemovesOldTerminalRows(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepository()
	log := newFakeLog()
	directory := newFakeDirectory()
	orchestrator := identity.NewOrchestrator(repo, log, directory, clk, discardLogger())

	// 1. One identity migrates now; another stays pending.
	record := legacyRecord("id-old", "old@savora.app")
	require.NoError(t, repo.Create(ctx, record))
	require.NoError(t, orchestrator.Enqueue(ctx, record))
	require.NoError(t, log.Enqueue(ctx, "id-stuck", "stuck@savora.app"))

	result, err := orchestrator.ProcessPending(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, result.Successful)

	// 2. Inside the retention window nothing is removed.
	removed, err := orchestrator.SweepRetention(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// 3. Past the window the terminal row goes, the pending row stays.
	clk.Advance(constants.MigrationLogRetention + time.Hour)
	removed, err = orchestrator.SweepRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	counts, err := log.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[identity.MigrationPending])
	assert.Zero(t, counts[identity.MigrationSuccess])
}
