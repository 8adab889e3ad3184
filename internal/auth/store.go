// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"time"
)

// # Session Rows

// SessionOrigin distinguishes how a session row was established.
type SessionOrigin string

const (
	// OriginLegacy marks sessions issued against the embedded credential store.
	OriginLegacy SessionOrigin = "legacy"
	// OriginExternal marks sessions whose credentials came from the provider.
	OriginExternal SessionOrigin = "external"
)

// Session is the persistent bookkeeping row for one signed-in principal.
//
// The access credential itself lives only in the in-memory [TokenCache];
// the row stores a SHA-256 hash of the refresh secret so a presented
// refresh secret can be matched and revoked without ever storing it.
type Session struct {
	ID          string        `json:"id"`
	IdentityID  string        `json:"identity_id"`
	RefreshHash string        `json:"-"`
	Origin      SessionOrigin `json:"origin"`
	UserAgent   string        `json:"user_agent"`
	IPAddress   string        `json:"ip_address"`
	ExpiresAt   time.Time     `json:"expires_at"`
	IsRevoked   bool          `json:"is_revoked"`
	CreatedAt   time.Time     `json:"created_at"`
}

// # Session Data Access

// SessionRepository defines the data access contract for session rows.
//
// Its PostgreSQL implementation also satisfies identity.SessionPurger so the
// cleanup engine can purge migrated sessions without importing this package's
// storage types.
type SessionRepository interface {
	// Create persists a new bookkeeping row for an authenticated sign-in.
	Create(ctx context.Context, session *Session) error

	// FindByRefreshHash returns the live session matching the hash.
	//
	// Returns [apperr.NotFound] if no live row matches.
	FindByRefreshHash(ctx context.Context, refreshHash string) (*Session, error)

	// Rotate swaps the stored refresh hash and expiry on an existing row.
	// Called on every successful refresh so a stolen old secret dies.
	Rotate(ctx context.Context, sessionID, newHash string, expiresAt time.Time) error

	// Revoke marks a specific session as permanently invalidated.
	Revoke(ctx context.Context, sessionID string) error

	// RevokeAllForIdentity revokes every live session for the identity.
	RevokeAllForIdentity(ctx context.Context, identityID string) error

	// DeleteExpired physically removes rows whose ExpiresAt has passed.
	DeleteExpired(ctx context.Context) error

	// PurgeMigrated removes legacy-origin rows belonging to migrated
	// identities and reports how many were removed.
	PurgeMigrated(ctx context.Context) (int, error)

	// CountActiveNearExpiry counts live sessions expiring inside the window.
	CountActiveNearExpiry(ctx context.Context, window time.Duration) (int, error)
}

// # Volatile Data Access

// AntiForgeryStore defines the contract for server-side validation of
// anti-forgery tokens handed out for mutating calls.
type AntiForgeryStore interface {
	// Store records a token as valid for the given duration.
	Store(ctx context.Context, token string, ttl time.Duration) error

	// IsValid reports whether the token is known and unexpired.
	IsValid(ctx context.Context, token string) (bool, error)

	// Invalidate removes the token ahead of its natural expiry.
	Invalidate(ctx context.Context, token string) error
}
