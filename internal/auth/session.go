// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/clock"
	"github.com/savorahq/savora/internal/platform/constants"
)

// State is the session lifecycle state.
//
// # State Machine
//
//	uninitialized → checking → {active, inactive}
//
// with active/inactive looping back to checking on the periodic timer or an
// explicit re-check.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateChecking      State = "checking"
	StateActive        State = "active"
	StateInactive      State = "inactive"
)

// retryState tracks consecutive refresh failures for one manager instance.
//
// It replaces what would otherwise be mutable counters on a singleton: the
// state is owned by exactly one [SessionManager] and reset deterministically
// on refresh success.
type retryState struct {
	attempts    int
	lastAttempt time.Time
}

// SessionManager drives the session lifecycle for one authenticated principal.
//
// # Responsibilities
//
//   - Periodic validity checks against the cached credential expiry.
//   - Proactive refresh when remaining validity falls under the threshold,
//     deduplicated so N concurrent checks share exactly one provider call.
//   - Broadcasting state transitions to write-gate subscribers.
//   - Bounding refresh loops: [constants.MaxRefreshAttempts] consecutive
//     failures force the session inactive and clear credentials.
type SessionManager struct {
	cache     *TokenCache
	provider  Provider
	clk       clock.Clock
	logger    *slog.Logger
	threshold time.Duration

	mu          sync.Mutex
	state       State
	lastChecked time.Time
	retry       retryState

	refreshGroup singleflight.Group
	broadcaster  *Broadcaster
}

// NewSessionManager constructs a manager in the uninitialized state.
func NewSessionManager(cache *TokenCache, provider Provider, clk clock.Clock, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		cache:       cache,
		provider:    provider,
		clk:         clk,
		logger:      logger,
		threshold:   constants.RefreshThreshold,
		state:       StateUninitialized,
		broadcaster: NewBroadcaster(),
	}
}

// State returns the current lifecycle state.
func (manager *SessionManager) State() State {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.state
}

// Subscribe registers a listener for state transitions.
func (manager *SessionManager) Subscribe() *Subscription {
	return manager.broadcaster.Subscribe()
}

// IsAuthenticated runs a validity check and reports whether the session is active.
//
// Concurrent callers inside one expiry window trigger at most one network
// refresh between them.
func (manager *SessionManager) IsAuthenticated(ctx context.Context) (bool, error) {
	state, err := manager.Check(ctx)
	if err != nil {
		return false, err
	}
	return state == StateActive, nil
}

// Check performs one validity check, refreshing proactively when needed.
//
// # Flow
//  1. Transition to checking.
//  2. No credential → inactive.
//  3. Credential expired or inside the refresh threshold → one refresh,
//     shared across concurrent callers.
//  4. Otherwise → active.
//
// Every pass resolves to a rest state: when the refresh fails with a
// transient error the still-valid credential keeps the session active,
// an expired one settles it inactive.
func (manager *SessionManager) Check(ctx context.Context) (State, error) {
	manager.transition(StateChecking)

	now := manager.clk.Now()
	manager.mu.Lock()
	manager.lastChecked = now
	manager.mu.Unlock()

	credential := manager.cache.Credential()
	if credential == nil {
		manager.transition(StateInactive)
		return StateInactive, nil
	}

	if credential.NearExpiry(now, manager.threshold) {
		if err := manager.Refresh(ctx); err != nil {
			// A transient failure must still settle the pass in a rest
			// state: the old credential decides which one.
			if manager.State() == StateChecking {
				if credential.IsExpired(now) {
					manager.transition(StateInactive)
				} else {
					manager.transition(StateActive)
				}
			}
			return manager.State(), err
		}
	}

	manager.transition(StateActive)
	return StateActive, nil
}

// Refresh performs exactly one credential refresh, deduplicated via a shared
// in-flight result so concurrent callers await the same outcome.
//
// # Bounded Retry
//
// Each failed refresh increments the attempt counter. Once the counter
// reaches [constants.MaxRefreshAttempts] the session is forced inactive,
// credentials are cleared, and [ErrReauthenticate] is returned — the manager
// never loops on a dead refresh secret.
func (manager *SessionManager) Refresh(ctx context.Context) error {
	_, err, _ := manager.refreshGroup.Do("refresh", func() (any, error) {
		return nil, manager.refreshOnce(ctx)
	})
	return err
}

func (manager *SessionManager) refreshOnce(ctx context.Context) error {
	credential := manager.cache.Credential()
	if credential == nil {
		manager.transition(StateInactive)
		return ErrReauthenticate
	}

	manager.mu.Lock()
	manager.retry.lastAttempt = manager.clk.Now()
	manager.mu.Unlock()

	fresh, err := manager.provider.RefreshCredential(ctx, credential.RefreshSecret)
	if err != nil {
		manager.mu.Lock()
		manager.retry.attempts++
		exhausted := manager.retry.attempts >= constants.MaxRefreshAttempts
		attempts := manager.retry.attempts
		manager.mu.Unlock()

		manager.logger.Warn("session_refresh_failed",
			slog.Int("attempts", attempts),
			slog.String("code", apperr.CodeOf(err)),
		)

		if exhausted {
			manager.cache.Clear()
			manager.transition(StateInactive)
			return ErrReauthenticate
		}
		return err
	}

	// The provider's returned expiry is authoritative, even when shorter
	// than expected: the threshold check simply re-arms from it.
	manager.cache.SetCredential(fresh)

	manager.mu.Lock()
	manager.retry = retryState{}
	manager.mu.Unlock()

	manager.transition(StateActive)
	return nil
}

// WithSessionRetry runs call, and on UNAUTHENTICATED transparently performs
// one refresh-and-retry cycle before giving up.
func (manager *SessionManager) WithSessionRetry(ctx context.Context, call func(ctx context.Context) error) error {
	err := call(ctx)
	if err == nil || apperr.CodeOf(err) != "UNAUTHENTICATED" {
		return err
	}

	if refreshErr := manager.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}

	return call(ctx)
}

// RunPeriodic re-checks the session on a fixed interval until ctx is done.
//
// Check errors are logged and swallowed here: the periodic loop exists to
// keep the state machine current, not to surface errors to a caller.
func (manager *SessionManager) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := manager.Check(ctx); err != nil {
				manager.logger.Warn("session_periodic_check_failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// transition moves the state machine and broadcasts real transitions.
func (manager *SessionManager) transition(next State) {
	manager.mu.Lock()
	previous := manager.state
	if previous == next {
		manager.mu.Unlock()
		return
	}
	manager.state = next
	manager.mu.Unlock()

	var expiresAt time.Time
	if credential := manager.cache.Credential(); credential != nil {
		expiresAt = credential.ExpiresAt
	}

	manager.broadcaster.Publish(StateEvent{
		Previous:  previous,
		Current:   next,
		ExpiresAt: expiresAt,
		At:        manager.clk.Now(),
	})
}
