// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout

import (
	"context"
	"time"
)

// TransitionState is the persisted record of the current cut-over phase.
type TransitionState struct {
	Phase     Phase     `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
	// Reason records why the last transition happened (advance, rollback,
	// or seed), for the operator audit trail.
	Reason string `json:"reason"`
}

// Store defines the persistence contract for the transition state.
//
// The state is a single row; Load after a restart must return exactly what
// the last Save wrote.
type Store interface {
	// Load returns the current state, or [apperr.NotFound] before seeding.
	Load(ctx context.Context) (*TransitionState, error)

	// Save upserts the single state row.
	Save(ctx context.Context, state *TransitionState) error
}
