// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/rollout"
)

// memoryStore is an in-memory rollout.Store.
type memoryStore struct {
	mu    sync.Mutex
	state *rollout.TransitionState
	saves int
}

func (s *memoryStore) Load(ctx context.Context) (*rollout.TransitionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, apperr.NotFound("Transition state")
	}
	clone := *s.state
	return &clone, nil
}

func (s *memoryStore) Save(ctx context.Context, state *rollout.TransitionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.state = &clone
	s.saves++
	return nil
}

// harness bundles a controller with adjustable coverage and connectivity.
type harness struct {
	store        *memoryStore
	controller   *rollout.Controller
	coverage     float64
	coverageErr  error
	connectivity error
}

func newHarness(t *testing.T, threshold float64) *harness {
	t.Helper()
	h := &harness{store: &memoryStore{}, coverage: 0}
	h.controller = rollout.NewController(
		h.store,
		func(ctx context.Context) (float64, error) { return h.coverage, h.coverageErr },
		func(ctx context.Context) error { return h.connectivity },
		threshold,
		clock.NewFake(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return h
}

/*
TestController_EnsureSeedsOnce verifies first-boot seeding writes the initial
phase with the seed reason, and that an existing row always wins over the
configured initial phase.
*/
func TestController_EnsureSeedsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)

	// 1. First boot seeds the configured phase.
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseDual))
	state, err := h.controller.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.PhaseDual, state.Phase)
	assert.Equal(t, "seed", state.Reason)

	// 2. A later boot with a different initial phase keeps the stored row.
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseMigration))
	state, err = h.controller.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.PhaseDual, state.Phase)
	assert.Equal(t, 1, h.store.saves)

	// 3. An unknown initial phase is refused outright.
	assert.Error(t, h.controller.Ensure(ctx, rollout.Phase("beta")))
}

/*
TestController_AdvanceFullSequence verifies the controller walks the entire
cut-over once every gate is satisfied, and refuses to advance past the
terminal phase.
*/
func TestController_AdvanceFullSequence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)
	h.coverage = 1.0
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseDual))

	for _, want := range []rollout.Phase{rollout.PhaseMigration, rollout.PhaseExternalOnly, rollout.PhaseComplete} {
		state, err := h.controller.Advance(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, state.Phase)
		assert.Equal(t, "advance", state.Reason)
	}

	// The terminal phase admits nothing further.
	_, err := h.controller.Advance(ctx)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.CodeOf(err))
}

/*
TestController_AdvanceBlockedBelowThreshold verifies leaving the migration
phase requires the coverage threshold, with the shortfall named in the
validation failure and the persisted phase untouched.
*/
func TestController_AdvanceBlockedBelowThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseMigration))

	// 1. Coverage short of the threshold blocks the advance.
	h.coverage = 0.80
	_, err := h.controller.Advance(ctx)
	require.Error(t, err)

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "VALIDATION_FAILURE", appError.Code)
	require.NotEmpty(t, appError.Details)
	assert.Equal(t, "coverage", appError.Details[0].Field)
	assert.Contains(t, appError.Details[0].Message, "80.0%")

	state, loadErr := h.controller.Current(ctx)
	require.NoError(t, loadErr)
	assert.Equal(t, rollout.PhaseMigration, state.Phase)

	// 2. Crossing the threshold unblocks it.
	h.coverage = 0.96
	state, err = h.controller.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.PhaseExternalOnly, state.Phase)
}

/*
TestController_AdvanceBlockedByConnectivity verifies an unreachable provider
blocks entering the migration phase.
*/
func TestController_AdvanceBlockedByConnectivity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseDual))

	h.connectivity = errors.New("connection refused")
	_, err := h.controller.Advance(ctx)
	require.Error(t, err)

	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "VALIDATION_FAILURE", appError.Code)
	assert.Equal(t, "provider", appError.Details[0].Field)

	state, loadErr := h.controller.Current(ctx)
	require.NoError(t, loadErr)
	assert.Equal(t, rollout.PhaseDual, state.Phase)
}

/*
TestController_CompleteRequiresTotalCoverage verifies the final gate demands
full coverage regardless of the configured threshold, so no straggler is ever
locked out of both sign-in paths.
*/
func TestController_CompleteRequiresTotalCoverage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseExternalOnly))

	h.coverage = 0.97
	_, err := h.controller.Advance(ctx)
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILURE", apperr.CodeOf(err))

	h.coverage = 1.0
	state, err := h.controller.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.PhaseComplete, state.Phase)
}

/*
TestController_Rollback verifies rollback always lands on the dual phase,
refuses to run from dual itself, and is impossible once the transition is
complete.
*/
func TestController_Rollback(t *testing.T) {
	ctx := context.Background()

	// 1. Any intermediate phase rolls back to dual.
	h := newHarness(t, 0.95)
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseExternalOnly))
	state, err := h.controller.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.PhaseDual, state.Phase)
	assert.Equal(t, "rollback", state.Reason)

	// 2. Rolling back from dual is a conflict.
	_, err = h.controller.Rollback(ctx)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.CodeOf(err))

	// 3. The terminal phase is unrecoverable.
	terminal := newHarness(t, 0.95)
	require.NoError(t, terminal.controller.Ensure(ctx, rollout.PhaseComplete))
	_, err = terminal.controller.Rollback(ctx)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.CodeOf(err))
}

/*
TestController_CurrentFlags verifies the flag view tracks the persisted phase.
*/
func TestController_CurrentFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0.95)
	require.NoError(t, h.controller.Ensure(ctx, rollout.PhaseMigration))

	flags, err := h.controller.CurrentFlags(ctx)
	require.NoError(t, err)
	assert.True(t, flags.LegacyAuthEnabled)
	assert.True(t, flags.ExternalAuthEnabled)
	assert.True(t, flags.RedirectToExternal)
	assert.False(t, flags.MigrationComplete)
}
