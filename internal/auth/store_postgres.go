// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorahq/savora/internal/platform/apperr"
)

// # Session Repository

// PostgresSessionRepository implements the SessionRepository interface.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates the PostgreSQL implementation of SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

/*
Create persists a new session row into the identity.session table.

Description: Records a successful authentication session in persistent storage.

Parameters:
  - ctx: context.Context
  - session: *Session

Returns:
  - error: Storage failures
*/
func (repository *PostgresSessionRepository) Create(ctx context.Context, session *Session) error {
	const query = `
		INSERT INTO identity.session (
			id, identityid, refreshhash, origin, useragent, ipaddress, expiresat, isrevoked, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(ctx, query,
		session.ID,
		session.IdentityID,
		session.RefreshHash,
		session.Origin,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.IsRevoked,
		session.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_session_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByRefreshHash retrieves a live session by its refresh secret hash.

Description: Securely resolves a presented refresh secret into a session row.

Parameters:
  - ctx: context.Context
  - refreshHash: string

Returns:
  - *Session: Hydrated session metadata
  - error: apperr.NotFound or execution errors
*/
func (repository *PostgresSessionRepository) FindByRefreshHash(ctx context.Context, refreshHash string) (*Session, error) {
	const query = `
		SELECT id, identityid, refreshhash, origin, useragent, ipaddress, expiresat, isrevoked, createdat
		FROM identity.session
		WHERE refreshhash = $1 AND isrevoked = FALSE AND expiresat > NOW()`

	session := &Session{}
	err := repository.pool.QueryRow(ctx, query, refreshHash).Scan(
		&session.ID,
		&session.IdentityID,
		&session.RefreshHash,
		&session.Origin,
		&session.UserAgent,
		&session.IPAddress,
		&session.ExpiresAt,
		&session.IsRevoked,
		&session.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Session not found or expired")
		}
		return nil, fmt.Errorf("postgres_session_repo_find_failed: %w", err)
	}

	return session, nil
}

/*
Rotate replaces the stored refresh hash and expiry on an existing session.

Parameters:
  - ctx: context.Context
  - sessionID: string
  - newHash: string
  - expiresAt: time.Time

Returns:
  - error: Persistence failures
*/
func (repository *PostgresSessionRepository) Rotate(ctx context.Context, sessionID, newHash string, expiresAt time.Time) error {
	const query = "UPDATE identity.session SET refreshhash = $2, expiresat = $3 WHERE id = $1"
	_, err := repository.pool.Exec(ctx, query, sessionID, newHash, expiresAt)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_rotate_failed: %w", err)
	}
	return nil
}

/*
Revoke marks a specific session as revoked.

Parameters:
  - ctx: context.Context
  - sessionID: string

Returns:
  - error: Revocation failures
*/
func (repository *PostgresSessionRepository) Revoke(ctx context.Context, sessionID string) error {
	const query = "UPDATE identity.session SET isrevoked = TRUE WHERE id = $1"
	_, err := repository.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_failed: %w", err)
	}
	return nil
}

/*
RevokeAllForIdentity marks all live sessions for an identity as revoked.

Description: Security nuking of every active session for one identity.

Parameters:
  - ctx: context.Context
  - identityID: string

Returns:
  - error: Batch revocation failures
*/
func (repository *PostgresSessionRepository) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	const query = "UPDATE identity.session SET isrevoked = TRUE WHERE identityid = $1 AND isrevoked = FALSE"
	_, err := repository.pool.Exec(ctx, query, identityID)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_revoke_all_failed: %w", err)
	}
	return nil
}

/*
DeleteExpired permanently removes all sessions past their expiration.

Description: Cleanup task to reclaim storage from stale sessions.

Parameters:
  - ctx: context.Context

Returns:
  - error: Cleanup failures
*/
func (repository *PostgresSessionRepository) DeleteExpired(ctx context.Context) error {
	const query = "DELETE FROM identity.session WHERE expiresat <= NOW()"
	_, err := repository.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("postgres_session_repo_delete_expired_failed: %w", err)
	}
	return nil
}

/*
PurgeMigrated removes legacy-origin session rows whose identity has been
migrated to the external provider.

Description: Final-cleanup step; migrated principals sign in through the
provider, so their legacy rows are dead weight.

Parameters:
  - ctx: context.Context

Returns:
  - int: Number of rows removed
  - error: Cleanup failures
*/
func (repository *PostgresSessionRepository) PurgeMigrated(ctx context.Context) (int, error) {
	const query = `
		DELETE FROM identity.session s
		USING identity.record r
		WHERE s.identityid = r.id
		  AND s.origin = $1
		  AND r.externalid IS NOT NULL`

	tag, err := repository.pool.Exec(ctx, query, OriginLegacy)
	if err != nil {
		return 0, fmt.Errorf("postgres_session_repo_purge_migrated_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

/*
CountActiveNearExpiry counts live sessions expiring within the window.

Description: Feeds the cleanup readiness report; sessions about to expire on
their own are safe to leave alone rather than force-purge.

Parameters:
  - ctx: context.Context
  - window: time.Duration

Returns:
  - int: Number of live near-expiry sessions
  - error: Execution failures
*/
func (repository *PostgresSessionRepository) CountActiveNearExpiry(ctx context.Context, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM identity.session
		WHERE isrevoked = FALSE
		  AND expiresat > NOW()
		  AND expiresat <= NOW() + $1`

	var count int
	if err := repository.pool.QueryRow(ctx, query, window).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_session_repo_count_near_expiry_failed: %w", err)
	}
	return count, nil
}
