// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/clock"
)

// CoverageFunc reports the current migration coverage ratio in [0, 1].
// Injected by the wiring layer so this package stays free of any
// dependency on the migration orchestrator.
type CoverageFunc func(ctx context.Context) (float64, error)

// ConnectivityFunc probes the external provider. A nil return means the
// provider answered a health check.
type ConnectivityFunc func(ctx context.Context) error

// Controller drives phase transitions with readiness gates.
//
// # Concurrency
//
// A single mutex serializes Advance and Rollback so two concurrent operator
// requests can never interleave a read-check-write on the persisted state.
type Controller struct {
	store        Store
	coverage     CoverageFunc
	connectivity ConnectivityFunc
	threshold    float64
	clk          clock.Clock
	logger       *slog.Logger

	mu sync.Mutex
}

// NewController constructs a [Controller].
//
// threshold is the minimum coverage ratio required to leave the migration
// phase; values outside (0, 1] fall back to requiring full coverage.
func NewController(store Store, coverage CoverageFunc, connectivity ConnectivityFunc, threshold float64, clk clock.Clock, logger *slog.Logger) *Controller {
	if threshold <= 0 || threshold > 1 {
		threshold = 1
	}
	return &Controller{
		store:        store,
		coverage:     coverage,
		connectivity: connectivity,
		threshold:    threshold,
		clk:          clk,
		logger:       logger,
	}
}

// Ensure seeds the persisted state with the initial phase when no row
// exists yet. Called once at startup; an existing row always wins.
func (controller *Controller) Ensure(ctx context.Context, initial Phase) error {
	if !initial.Valid() {
		return fmt.Errorf("rollout_invalid_initial_phase: %q", initial)
	}

	_, err := controller.store.Load(ctx)
	if err == nil {
		return nil
	}

	var appErr *apperr.AppError
	if !errors.As(err, &appErr) || appErr.Code != "NOT_FOUND" {
		return err
	}

	state := &TransitionState{
		Phase:     initial,
		Reason:    "seed",
		UpdatedAt: controller.clk.Now(),
	}
	if err := controller.store.Save(ctx, state); err != nil {
		return err
	}

	controller.logger.Info("rollout_phase_seeded", "phase", initial)
	return nil
}

// Current returns the persisted transition state.
func (controller *Controller) Current(ctx context.Context) (*TransitionState, error) {
	return controller.store.Load(ctx)
}

// CurrentFlags returns the feature flags implied by the current phase.
func (controller *Controller) CurrentFlags(ctx context.Context) (Flags, error) {
	state, err := controller.store.Load(ctx)
	if err != nil {
		return Flags{}, err
	}
	return state.Phase.Flags(), nil
}

// Advance moves to the next phase after its readiness gate passes.
//
// # Readiness Gates
//
//   - dual → migration: the provider must answer a health check.
//   - migration → external-only: coverage must reach the configured
//     threshold and the provider must answer a health check.
//   - external-only → complete: coverage must be total; stragglers would
//     otherwise be locked out with no sign-in path at all.
//
// A failed gate leaves the persisted phase untouched and returns a
// VALIDATION_FAILURE naming each unmet condition.
func (controller *Controller) Advance(ctx context.Context) (*TransitionState, error) {
	controller.mu.Lock()
	defer controller.mu.Unlock()

	state, err := controller.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if state.Phase.Terminal() {
		return nil, apperr.Conflict("Transition is complete; no further phases exist")
	}

	target, ok := state.Phase.Next()
	if !ok {
		return nil, apperr.Conflict("Transition is complete; no further phases exist")
	}

	if err := controller.checkReadiness(ctx, target); err != nil {
		controller.logger.Warn("rollout_advance_blocked",
			"from", state.Phase,
			"to", target,
			"error", err.Error(),
		)
		return nil, err
	}

	previous := state.Phase
	state.Phase = target
	state.Reason = "advance"
	state.UpdatedAt = controller.clk.Now()

	if err := controller.store.Save(ctx, state); err != nil {
		return nil, err
	}

	controller.logger.Info("rollout_phase_advanced", "from", previous, "to", target)
	return state, nil
}

// Rollback returns to the dual phase from any non-terminal phase.
//
// The complete phase is unrecoverable: cleanup has destroyed the legacy
// credential data a dual rollout would need.
func (controller *Controller) Rollback(ctx context.Context) (*TransitionState, error) {
	controller.mu.Lock()
	defer controller.mu.Unlock()

	state, err := controller.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if state.Phase.Terminal() {
		return nil, apperr.Conflict("Transition is complete and cannot be rolled back")
	}
	if state.Phase == PhaseDual {
		return nil, apperr.Conflict("Already at the initial phase")
	}

	previous := state.Phase
	state.Phase = PhaseDual
	state.Reason = "rollback"
	state.UpdatedAt = controller.clk.Now()

	if err := controller.store.Save(ctx, state); err != nil {
		return nil, err
	}

	controller.logger.Warn("rollout_phase_rolled_back", "from", previous, "to", PhaseDual)
	return state, nil
}

// checkReadiness evaluates the gate for entering the target phase.
func (controller *Controller) checkReadiness(ctx context.Context, target Phase) error {
	var issues []apperr.FieldError

	switch target {
	case PhaseMigration:
		issues = append(issues, controller.checkConnectivity(ctx)...)

	case PhaseExternalOnly:
		issues = append(issues, controller.checkConnectivity(ctx)...)
		issues = append(issues, controller.checkCoverage(ctx, controller.threshold)...)

	case PhaseComplete:
		issues = append(issues, controller.checkCoverage(ctx, 1.0)...)
	}

	if len(issues) > 0 {
		return apperr.ValidationFailure("Phase readiness check failed", issues...)
	}
	return nil
}

// checkConnectivity folds a failed provider probe into a field issue.
func (controller *Controller) checkConnectivity(ctx context.Context) []apperr.FieldError {
	if err := controller.connectivity(ctx); err != nil {
		return []apperr.FieldError{{
			Field:   "provider",
			Message: "External provider health check failed: " + err.Error(),
		}}
	}
	return nil
}

// checkCoverage folds a coverage shortfall into a field issue naming the gap.
func (controller *Controller) checkCoverage(ctx context.Context, required float64) []apperr.FieldError {
	ratio, err := controller.coverage(ctx)
	if err != nil {
		return []apperr.FieldError{{
			Field:   "coverage",
			Message: "Migration coverage could not be measured: " + err.Error(),
		}}
	}

	if ratio < required {
		return []apperr.FieldError{{
			Field: "coverage",
			Message: fmt.Sprintf("Migration coverage is %.1f%%, below the required %.1f%%",
				ratio*100, required*100),
		}}
	}
	return nil
}
