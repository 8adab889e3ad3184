// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// PostgreSQL implementations of the identity repositories.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/pkg/uuidv7"
)

// PostgresRepository implements the Repository interface using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the PostgreSQL implementation of [Repository].
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const recordColumns = "id, email, passwordhash, providerlinks, externalid, displayname, createdat, updatedat"

// scanRecord reads one identity row into a [Record].
func scanRecord(row pgx.Row) (*Record, error) {
	record := &Record{}
	err := row.Scan(
		&record.ID,
		&record.Email,
		&record.PasswordHash,
		&record.ProviderLinks,
		&record.ExternalID,
		&record.DisplayName,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Create persists a brand-new identity record.
func (repository *PostgresRepository) Create(ctx context.Context, record *Record) error {
	const query = `
		INSERT INTO identity.record (
			id, email, passwordhash, providerlinks, externalid, displayname, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	_, err := repository.pool.Exec(ctx, query,
		record.ID,
		record.Email,
		record.PasswordHash,
		record.ProviderLinks,
		record.ExternalID,
		record.DisplayName,
		record.CreatedAt,
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_identity_create_failed: %w", err)
	}

	return nil
}

// FindByID retrieves an identity record by its unique ID.
func (repository *PostgresRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM identity.record
		WHERE id = $1`

	record, err := scanRecord(repository.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Identity")
		}
		return nil, fmt.Errorf("postgres_identity_find_by_id_failed: %w", err)
	}

	return record, nil
}

// FindByEmail retrieves an identity record by its email address.
//
// If legacy duplicates share the email, the mapped record wins, then the
// most recently updated — the same canonical ordering the cleanup engine uses.
func (repository *PostgresRepository) FindByEmail(ctx context.Context, email string) (*Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM identity.record
		WHERE email = $1
		ORDER BY (externalid IS NOT NULL) DESC, updatedat DESC
		LIMIT 1`

	record, err := scanRecord(repository.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Identity")
		}
		return nil, fmt.Errorf("postgres_identity_find_by_email_failed: %w", err)
	}

	return record, nil
}

// FindByExternalID retrieves the record mapped to a provider-side ID.
func (repository *PostgresRepository) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM identity.record
		WHERE externalid = $1`

	record, err := scanRecord(repository.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Identity")
		}
		return nil, fmt.Errorf("postgres_identity_find_by_external_failed: %w", err)
	}

	return record, nil
}

// ListUnmigrated returns up to limit records without an external mapping.
func (repository *PostgresRepository) ListUnmigrated(ctx context.Context, limit int) ([]*Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM identity.record
		WHERE externalid IS NULL
		ORDER BY createdat
		LIMIT $1`

	rows, err := repository.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres_identity_list_unmigrated_failed: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_identity_scan_failed: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// SetExternalID writes the external mapping back onto a record.
func (repository *PostgresRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	const query = `
		UPDATE identity.record
		SET externalid = $2, updatedat = $3
		WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, id, externalID, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_identity_set_external_failed: %w", err)
	}
	return nil
}

// UpdateEmail replaces the record's email during a guest→email upgrade.
func (repository *PostgresRepository) UpdateEmail(ctx context.Context, id, email string) error {
	const query = `
		UPDATE identity.record
		SET email = $2, updatedat = $3
		WHERE id = $1`

	_, err := repository.pool.Exec(ctx, query, id, email, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_identity_update_email_failed: %w", err)
	}
	return nil
}

// ScrubPasswordHashes nulls embedded hashes on every migrated record.
func (repository *PostgresRepository) ScrubPasswordHashes(ctx context.Context) (int, error) {
	const query = `
		UPDATE identity.record
		SET passwordhash = NULL, updatedat = $1
		WHERE externalid IS NOT NULL AND passwordhash IS NOT NULL`

	tag, err := repository.pool.Exec(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("postgres_identity_scrub_hashes_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDuplicateEmails returns groups of records sharing an email, each group
// ordered mapped-first then most recently updated.
func (repository *PostgresRepository) ListDuplicateEmails(ctx context.Context) (map[string][]*Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM identity.record
		WHERE email IN (
			SELECT email FROM identity.record GROUP BY email HAVING COUNT(*) > 1
		)
		ORDER BY email, (externalid IS NOT NULL) DESC, updatedat DESC`

	rows, err := repository.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_identity_list_duplicates_failed: %w", err)
	}
	defer rows.Close()

	groups := make(map[string][]*Record)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_identity_scan_failed: %w", err)
		}
		groups[record.Email] = append(groups[record.Email], record)
	}

	return groups, rows.Err()
}

// ReparentDependents moves profile, review, and favorite rows onto the
// canonical survivor before a duplicate is deleted.
func (repository *PostgresRepository) ReparentDependents(ctx context.Context, fromID, toID string) error {
	// Dependent tables owned by the marketplace domains reference
	// identity.record(id); re-point them inside one transaction.
	transaction, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_identity_reparent_begin_failed: %w", err)
	}
	defer func() { _ = transaction.Rollback(ctx) }()

	statements := []string{
		"UPDATE identity.profile SET identityid = $2 WHERE identityid = $1",
		"UPDATE marketplace.review SET identityid = $2 WHERE identityid = $1",
		"UPDATE marketplace.favorite SET identityid = $2 WHERE identityid = $1",
	}
	for _, statement := range statements {
		if _, err := transaction.Exec(ctx, statement, fromID, toID); err != nil {
			return fmt.Errorf("postgres_identity_reparent_failed: %w", err)
		}
	}

	if err := transaction.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_identity_reparent_commit_failed: %w", err)
	}
	return nil
}

// Delete permanently removes a duplicate record after re-parenting.
func (repository *PostgresRepository) Delete(ctx context.Context, id string) error {
	const query = "DELETE FROM identity.record WHERE id = $1"
	_, err := repository.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres_identity_delete_failed: %w", err)
	}
	return nil
}

// CountTotal returns the number of identity records.
func (repository *PostgresRepository) CountTotal(ctx context.Context) (int, error) {
	const query = "SELECT COUNT(*) FROM identity.record"

	var count int
	if err := repository.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_identity_count_total_failed: %w", err)
	}
	return count, nil
}

// CountMigrated returns the number of records with an external mapping.
func (repository *PostgresRepository) CountMigrated(ctx context.Context) (int, error) {
	const query = "SELECT COUNT(*) FROM identity.record WHERE externalid IS NOT NULL"

	var count int
	if err := repository.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_identity_count_migrated_failed: %w", err)
	}
	return count, nil
}

// ── Migration Log Repository ─────────────────────────────────────────────────

// PostgresMigrationLog implements the MigrationLog interface.
type PostgresMigrationLog struct {
	pool *pgxpool.Pool
}

// NewMigrationLog creates the PostgreSQL implementation of [MigrationLog].
func NewMigrationLog(pool *pgxpool.Pool) *PostgresMigrationLog {
	return &PostgresMigrationLog{pool: pool}
}

const entryColumns = "id, identityid, email, status, error, queuedat, completedat"

func scanEntry(row pgx.Row) (*MigrationEntry, error) {
	entry := &MigrationEntry{}
	err := row.Scan(
		&entry.ID,
		&entry.IdentityID,
		&entry.Email,
		&entry.Status,
		&entry.Error,
		&entry.QueuedAt,
		&entry.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Enqueue inserts a pending entry if none exists for the identity.
//
// The unique index on identityid plus ON CONFLICT DO NOTHING makes
// re-enqueueing a no-op — one row per identity, ever.
func (log *PostgresMigrationLog) Enqueue(ctx context.Context, identityID, email string) error {
	const query = `
		INSERT INTO identity.migrationlog (id, identityid, email, status, queuedat)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identityid) DO NOTHING`

	_, err := log.pool.Exec(ctx, query, uuidv7.New(), identityID, email, MigrationPending, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_migrationlog_enqueue_failed: %w", err)
	}
	return nil
}

// SelectPending returns up to limit pending entries in queue order.
func (log *PostgresMigrationLog) SelectPending(ctx context.Context, limit int) ([]*MigrationEntry, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM identity.migrationlog
		WHERE status = $1
		ORDER BY queuedat
		LIMIT $2`

	return log.selectEntries(ctx, query, MigrationPending, limit)
}

// SelectFailed returns all failed entries in queue order.
func (log *PostgresMigrationLog) SelectFailed(ctx context.Context) ([]*MigrationEntry, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM identity.migrationlog
		WHERE status = $1
		ORDER BY queuedat`

	return log.selectEntries(ctx, query, MigrationFailed)
}

func (log *PostgresMigrationLog) selectEntries(ctx context.Context, query string, args ...any) ([]*MigrationEntry, error) {
	rows, err := log.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres_migrationlog_select_failed: %w", err)
	}
	defer rows.Close()

	entries := []*MigrationEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres_migrationlog_scan_failed: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// FindByIdentity returns the entry for an identity, if any.
func (log *PostgresMigrationLog) FindByIdentity(ctx context.Context, identityID string) (*MigrationEntry, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM identity.migrationlog
		WHERE identityid = $1`

	entry, err := scanEntry(log.pool.QueryRow(ctx, query, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Migration log entry")
		}
		return nil, fmt.Errorf("postgres_migrationlog_find_failed: %w", err)
	}

	return entry, nil
}

// MarkSuccess transitions the entry to success in place, clearing any error.
func (log *PostgresMigrationLog) MarkSuccess(ctx context.Context, entryID string, completedAt time.Time) error {
	const query = `
		UPDATE identity.migrationlog
		SET status = $2, error = NULL, completedat = $3
		WHERE id = $1`

	_, err := log.pool.Exec(ctx, query, entryID, MigrationSuccess, completedAt)
	if err != nil {
		return fmt.Errorf("postgres_migrationlog_mark_success_failed: %w", err)
	}
	return nil
}

// MarkFailed transitions the entry to failed in place, capturing the error.
func (log *PostgresMigrationLog) MarkFailed(ctx context.Context, entryID, message string, completedAt time.Time) error {
	const query = `
		UPDATE identity.migrationlog
		SET status = $2, error = $3, completedat = $4
		WHERE id = $1`

	_, err := log.pool.Exec(ctx, query, entryID, MigrationFailed, message, completedAt)
	if err != nil {
		return fmt.Errorf("postgres_migrationlog_mark_failed_failed: %w", err)
	}
	return nil
}

// List returns a page of entries, newest first, plus the total count.
func (log *PostgresMigrationLog) List(ctx context.Context, offset, limit int) ([]*MigrationEntry, int, error) {
	const countQuery = "SELECT COUNT(*) FROM identity.migrationlog"

	var total int
	if err := log.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres_migrationlog_count_failed: %w", err)
	}

	const query = `
		SELECT ` + entryColumns + `
		FROM identity.migrationlog
		ORDER BY queuedat DESC
		OFFSET $1 LIMIT $2`

	entries, err := log.selectEntries(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// CountByStatus returns entry counts keyed by status.
func (log *PostgresMigrationLog) CountByStatus(ctx context.Context) (map[MigrationStatus]int, error) {
	const query = "SELECT status, COUNT(*) FROM identity.migrationlog GROUP BY status"

	rows, err := log.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres_migrationlog_count_by_status_failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[MigrationStatus]int)
	for rows.Next() {
		var status MigrationStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres_migrationlog_scan_failed: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// DeleteTerminalBefore removes aged success/failed rows.
func (log *PostgresMigrationLog) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `
		DELETE FROM identity.migrationlog
		WHERE status IN ($1, $2) AND completedat < $3`

	tag, err := log.pool.Exec(ctx, query, MigrationSuccess, MigrationFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres_migrationlog_retention_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
