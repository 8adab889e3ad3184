// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Package identity implements the legacy identity store and the phased
// migration of Savora members to the external identity provider.
//
// # Architecture
//
// Entities in this package represent the durable "Truth" of the migration:
// the legacy [Record] rows, and one [MigrationEntry] per identity tracking
// its migration attempt. The [Orchestrator] moves identities in bounded
// batches; the [Cleanup] engine removes legacy artifacts once an identity
// carries a verified external mapping.
package identity

import (
	"time"
)

// Record is the durable legacy-store representation of a member, prior to
// or independent of migration.
//
// # Rules
//   - Email is unique among live records; duplicate emails are a legacy
//     defect resolved by the cleanup engine.
//   - PasswordHash is the embedded bcrypt credential; nil once scrubbed.
//   - ExternalID is nil until migrated. It is non-null exactly when a
//     success [MigrationEntry] exists for the record.
type Record struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  *string   `json:"-"` // Explicitly omitted from JSON for security.
	ProviderLinks []string  `json:"provider_links,omitempty"`
	ExternalID    *string   `json:"external_id,omitempty"`
	DisplayName   string    `json:"display_name"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsMigrated reports whether the record carries an external mapping.
func (r *Record) IsMigrated() bool {
	return r.ExternalID != nil && *r.ExternalID != ""
}

// MigrationStatus is the lifecycle state of one identity's migration attempt.
type MigrationStatus string

const (
	MigrationPending MigrationStatus = "pending"
	MigrationSuccess MigrationStatus = "success"
	MigrationFailed  MigrationStatus = "failed"
)

// MigrationEntry is one row per identity's migration attempt.
//
// # Invariant
//
// The status mutates in place — pending → {success, failed} — and a retry
// overwrites the same row. The row is never duplicated for the same identity.
type MigrationEntry struct {
	ID          string          `json:"id"`
	IdentityID  string          `json:"identity_id"`
	Email       string          `json:"email"`
	Status      MigrationStatus `json:"status"`
	Error       *string         `json:"error,omitempty"`
	QueuedAt    time.Time       `json:"queued_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExternalAccount is the minimal view of a provider-side account.
//
// Provider responses are opaque beyond this shape.
type ExternalAccount struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// BatchResult aggregates the outcome of one orchestrator pass.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// MigrationStats is the observability summary over the whole migration.
type MigrationStats struct {
	TotalIdentities int     `json:"total_identities"`
	Migrated        int     `json:"migrated"`
	Pending         int     `json:"pending"`
	Failed          int     `json:"failed"`
	Coverage        float64 `json:"coverage"`
}

// ValidationReport is the structured pre-flight result for cleanup.
//
// It is returned, never thrown: operator tooling inspects Issues and decides
// whether to defer or force.
type ValidationReport struct {
	UnmigratedIdentities int      `json:"unmigrated_identities"`
	PendingMigrations    int      `json:"pending_migrations"`
	NearExpirySessions   int      `json:"near_expiry_sessions"`
	Issues               []string `json:"issues"`
	Ready                bool     `json:"ready"`
}

// CleanupResult summarizes one complete cleanup pass.
type CleanupResult struct {
	SessionsPurged   int `json:"sessions_purged"`
	HashesScrubbed   int `json:"hashes_scrubbed"`
	DuplicatesMerged int `json:"duplicates_merged"`
}
