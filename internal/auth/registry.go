// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/savorahq/savora/internal/platform/clock"
)

// Registry tracks one in-memory [SessionManager] per live session.
//
// # Lifecycle
//
// A manager is attached at sign-in, re-seeded on refresh, and dropped at
// sign-out or by the janitor once its session goes inactive. Managers hold
// credentials only in memory; a process restart simply means the next
// request for that session re-authenticates through the refresh endpoint.
type Registry struct {
	provider Provider
	clk      clock.Clock
	logger   *slog.Logger

	mu       sync.RWMutex
	managers map[string]*SessionManager
}

// NewRegistry constructs an empty session registry.
func NewRegistry(provider Provider, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		provider: provider,
		clk:      clk,
		logger:   logger,
		managers: make(map[string]*SessionManager),
	}
}

// Attach creates and registers a manager seeded with the credential.
// Attaching over an existing session ID replaces its manager.
func (registry *Registry) Attach(sessionID string, credential *Credential) *SessionManager {
	cache := NewTokenCache(registry.provider.FetchAntiForgeryToken)
	cache.SetCredential(credential)

	manager := NewSessionManager(cache, registry.provider, registry.clk, registry.logger)

	registry.mu.Lock()
	registry.managers[sessionID] = manager
	registry.mu.Unlock()

	return manager
}

// Seed updates the cached credential on an existing manager, or attaches a
// fresh one when the process has no manager for the session (restart case).
func (registry *Registry) Seed(sessionID string, credential *Credential) *SessionManager {
	registry.mu.RLock()
	manager, ok := registry.managers[sessionID]
	registry.mu.RUnlock()

	if !ok {
		return registry.Attach(sessionID, credential)
	}

	manager.cache.SetCredential(credential)
	return manager
}

// Lookup returns the manager for a session, if the process holds one.
func (registry *Registry) Lookup(sessionID string) (*SessionManager, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	manager, ok := registry.managers[sessionID]
	return manager, ok
}

// Remove drops the manager and wipes its cached credentials.
func (registry *Registry) Remove(sessionID string) {
	registry.mu.Lock()
	manager, ok := registry.managers[sessionID]
	delete(registry.managers, sessionID)
	registry.mu.Unlock()

	if ok {
		manager.cache.Clear()
	}
}

// Len reports how many managers are registered.
func (registry *Registry) Len() int {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return len(registry.managers)
}

// RunJanitor periodically sweeps every manager: each gets a lifecycle
// check (driving proactive refresh near expiry), and managers that have
// gone inactive are evicted. Blocks until ctx is done.
func (registry *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.sweep(ctx)
		}
	}
}

// sweep runs one janitor pass.
func (registry *Registry) sweep(ctx context.Context) {
	registry.mu.RLock()
	snapshot := make(map[string]*SessionManager, len(registry.managers))
	for id, manager := range registry.managers {
		snapshot[id] = manager
	}
	registry.mu.RUnlock()

	evicted := 0
	for id, manager := range snapshot {
		// A failed check that exhausted refresh attempts lands the manager
		// in the inactive state; transient failures leave it for the next
		// pass. Either way the state decides eviction.
		_, _ = manager.Check(ctx)

		if manager.State() == StateInactive {
			registry.Remove(id)
			evicted++
		}
	}

	if evicted > 0 {
		registry.logger.Info("session_registry_swept",
			"evicted", evicted,
			"remaining", registry.Len(),
		)
	}
}
