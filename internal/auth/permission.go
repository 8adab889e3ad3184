// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/sec"
)

// Capability names accepted by [Gate.Require].
const (
	CapabilityWrite          = "write"
	CapabilityCreateReview   = "create_review"
	CapabilityCreateFavorite = "create_favorite"
	CapabilityCreateListing  = "create_listing"
	CapabilityUpdateProfile  = "update_profile"
)

// Snapshot is a point-in-time set of capability flags derived from the
// current identity state.
//
// # Rules
//
//   - CanWrite is false whenever the identity is anonymous or its email is
//     unverified, regardless of any other flag.
//   - All CanCreate* flags imply CanWrite.
//   - Snapshots are recomputed on demand and never cached past one check
//     interval; treat them as values, not state.
type Snapshot struct {
	CanWrite          bool   `json:"can_write"`
	CanCreateReview   bool   `json:"can_create_review"`
	CanCreateFavorite bool   `json:"can_create_favorite"`
	CanCreateListing  bool   `json:"can_create_listing"`
	CanUpdateProfile  bool   `json:"can_update_profile"`
	IsAnonymous       bool   `json:"is_anonymous"`
	IdentityID        string `json:"identity_id,omitempty"`
}

// ComputeSnapshot derives the capability set from already-known identity
// flags. It performs no network call; nil claims yield the anonymous snapshot.
func ComputeSnapshot(claims *sec.Claims) Snapshot {
	if claims == nil {
		return Snapshot{IsAnonymous: true}
	}

	// The write gate: anonymous or unverified identities never write.
	canWrite := !claims.IsAnonymous && claims.EmailVerified

	return Snapshot{
		CanWrite:          canWrite,
		CanCreateReview:   canWrite,
		CanCreateFavorite: canWrite,
		CanCreateListing:  canWrite,
		CanUpdateProfile:  canWrite,
		IsAnonymous:       claims.IsAnonymous,
		IdentityID:        claims.Subject,
	}
}

// allows reports whether the snapshot grants the named capability.
func (s Snapshot) allows(capability string) bool {
	switch capability {
	case CapabilityWrite:
		return s.CanWrite
	case CapabilityCreateReview:
		return s.CanCreateReview
	case CapabilityCreateFavorite:
		return s.CanCreateFavorite
	case CapabilityCreateListing:
		return s.CanCreateListing
	case CapabilityUpdateProfile:
		return s.CanUpdateProfile
	default:
		return false
	}
}

// Gate is the write permission gate.
//
// It exposes both the imperative [Gate.Require] check and a reactive
// [Gate.Watch] subscription that recomputes the snapshot on session
// transitions. Watch resolves the session's manager through the registry,
// so the gate serves every live session of the process.
type Gate struct {
	registry *Registry
}

// NewGate binds a gate to the process session registry.
func NewGate(registry *Registry) *Gate {
	return &Gate{registry: registry}
}

// Require fails with PERMISSION_DENIED unless claims grant the capability.
//
// # Guarantees
//
// It never silently returns an empty/default result: an unauthenticated or
// anonymous caller receives a distinct error, not a zero snapshot.
func (gate *Gate) Require(claims *sec.Claims, capability string) (Snapshot, error) {
	if claims == nil {
		return Snapshot{}, apperr.Unauthenticated("Authentication required")
	}

	snapshot := ComputeSnapshot(claims)
	if !snapshot.allows(capability) {
		return Snapshot{}, apperr.PermissionDenied(capability)
	}

	return snapshot, nil
}

// Watch converts the session's state events into snapshot updates.
//
// The returned subscription must be unsubscribed by the caller; snapshots
// for inactive states are the anonymous snapshot. A session this process
// holds no manager for is rejected with UNAUTHENTICATED.
func (gate *Gate) Watch(sessionID string, claims *sec.Claims) (*Subscription, func(StateEvent) Snapshot, error) {
	manager, ok := gate.registry.Lookup(sessionID)
	if !ok {
		return nil, nil, apperr.Unauthenticated("Unknown session")
	}

	subscription := manager.Subscribe()

	derive := func(event StateEvent) Snapshot {
		if event.Current != StateActive {
			return Snapshot{IsAnonymous: true}
		}
		return ComputeSnapshot(claims)
	}

	return subscription, derive, nil
}
