// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savorahq/savora/internal/platform/apperr"
)

// PostgresStore implements the Store interface using pgx.
//
// The rollout.transitionstate table holds exactly one row, pinned by a
// constant primary key so Save is a natural upsert.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewStore creates the PostgreSQL implementation of [Store].
func NewStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// stateRowID pins the single transition-state row.
const stateRowID = 1

// Load returns the persisted transition state.
func (store *PostgresStore) Load(ctx context.Context) (*TransitionState, error) {
	const query = `
		SELECT phase, reason, updatedat
		FROM rollout.transitionstate
		WHERE id = $1`

	state := &TransitionState{}
	err := store.pool.QueryRow(ctx, query, stateRowID).Scan(
		&state.Phase,
		&state.Reason,
		&state.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("Transition state")
		}
		return nil, fmt.Errorf("postgres_rollout_load_failed: %w", err)
	}

	return state, nil
}

// Save upserts the single transition-state row.
func (store *PostgresStore) Save(ctx context.Context, state *TransitionState) error {
	const query = `
		INSERT INTO rollout.transitionstate (id, phase, reason, updatedat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET phase = EXCLUDED.phase, reason = EXCLUDED.reason, updatedat = EXCLUDED.updatedat`

	_, err := store.pool.Exec(ctx, query, stateRowID, state.Phase, state.Reason, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres_rollout_save_failed: %w", err)
	}
	return nil
}
