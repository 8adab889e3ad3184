// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package identity

import (
	"context"
	"time"
)

// Repository defines the data access contract for legacy identity records.
//
// # Review Process
//
// This interface is placed in a separate file from identity.go so entity
// changes and storage-contract changes can be reviewed independently.
//
// # Implementations
//
// The canonical implementation is PostgreSQL ([PostgresRepository]); tests
// substitute in-memory fakes.
type Repository interface {
	// Create persists a brand-new identity record.
	Create(ctx context.Context, record *Record) error

	// FindByID returns the record with the given ID.
	//
	// Returns [apperr.NotFound] if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// FindByEmail returns the live record with the given email.
	FindByEmail(ctx context.Context, email string) (*Record, error)

	// FindByExternalID returns the record mapped to the given provider ID.
	FindByExternalID(ctx context.Context, externalID string) (*Record, error)

	// ListUnmigrated returns up to limit records without an external mapping.
	ListUnmigrated(ctx context.Context, limit int) ([]*Record, error)

	// SetExternalID writes the external mapping back onto a record.
	SetExternalID(ctx context.Context, id, externalID string) error

	// UpdateEmail replaces the record's email (guest→email upgrade).
	UpdateEmail(ctx context.Context, id, email string) error

	// ScrubPasswordHashes nulls the embedded password hash on every migrated
	// record and reports how many rows were touched.
	ScrubPasswordHashes(ctx context.Context) (int, error)

	// ListDuplicateEmails returns groups of records sharing an email,
	// each group ordered mapped-first then most recently updated.
	ListDuplicateEmails(ctx context.Context) (map[string][]*Record, error)

	// ReparentDependents moves profile, review, and favorite rows from a
	// duplicate record onto the canonical survivor.
	ReparentDependents(ctx context.Context, fromID, toID string) error

	// Delete permanently removes a duplicate record after re-parenting.
	Delete(ctx context.Context, id string) error

	// CountTotal returns the number of live identity records.
	CountTotal(ctx context.Context) (int, error)

	// CountMigrated returns the number of records with an external mapping.
	CountMigrated(ctx context.Context) (int, error)
}

// MigrationLog defines the data access contract for migration log entries.
//
// # Domain Ownership
//
// Kept alongside [Repository] because the log rows are owned entirely by the
// identity domain, despite serving orchestration bookkeeping.
type MigrationLog interface {
	// Enqueue inserts a pending entry for the identity if none exists.
	// Re-enqueuing an already-queued identity is a no-op (idempotent).
	Enqueue(ctx context.Context, identityID, email string) error

	// SelectPending returns up to limit pending entries in queue order.
	SelectPending(ctx context.Context, limit int) ([]*MigrationEntry, error)

	// SelectFailed returns all failed entries in queue order.
	SelectFailed(ctx context.Context) ([]*MigrationEntry, error)

	// FindByIdentity returns the entry for an identity, if any.
	FindByIdentity(ctx context.Context, identityID string) (*MigrationEntry, error)

	// MarkSuccess transitions the entry to success in place, clearing any
	// previous error.
	MarkSuccess(ctx context.Context, entryID string, completedAt time.Time) error

	// MarkFailed transitions the entry to failed in place, capturing the
	// error message for the retry pass.
	MarkFailed(ctx context.Context, entryID, message string, completedAt time.Time) error

	// List returns a page of entries, newest first, with the total count.
	List(ctx context.Context, offset, limit int) ([]*MigrationEntry, int, error)

	// CountByStatus returns entry counts keyed by status.
	CountByStatus(ctx context.Context) (map[MigrationStatus]int, error)

	// DeleteTerminalBefore removes success/failed entries completed before
	// the cutoff and reports how many rows were removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ExternalDirectory is the slice of the provider contract the orchestrator
// consumes: find-or-create by email. Defined here — where it is consumed —
// so this package does not depend on the transport layer.
type ExternalDirectory interface {
	// CreateUser provisions an external account. Password may be empty for
	// batch imports.
	CreateUser(ctx context.Context, email, password string) (*ExternalAccount, error)

	// FindUserByEmail returns the external account for email, or
	// [apperr.NotFound] when none exists.
	FindUserByEmail(ctx context.Context, email string) (*ExternalAccount, error)
}

// SessionPurger is the slice of the legacy session store the cleanup engine
// consumes. The auth package's session repository implements it.
type SessionPurger interface {
	// PurgeMigrated removes session rows belonging to migrated identities
	// and reports how many were removed.
	PurgeMigrated(ctx context.Context) (int, error)

	// CountActiveNearExpiry counts live sessions expiring inside the window.
	CountActiveNearExpiry(ctx context.Context, window time.Duration) (int, error)
}
