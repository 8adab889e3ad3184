// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

/*
Package rollout coordinates the phased cut-over from the legacy embedded
credential store to the external identity provider.

It models the transition as an ordered sequence of phases, each mapping to a
set of feature flags the authentication service consults on every sign-in:

  - dual: both systems accept sign-ins; new accounts go to the provider.
  - migration: batch migration is running; legacy sign-ins trigger
    just-in-time migration.
  - external-only: the legacy path is disabled for sign-ins.
  - complete: terminal; legacy data has been cleaned up.

Advancement is gated on measured migration coverage and provider
connectivity, and the current phase survives restarts in PostgreSQL.
*/
package rollout

// Phase identifies one stage of the identity cut-over.
type Phase string

const (
	// PhaseDual keeps both authentication systems live side by side.
	PhaseDual Phase = "dual"
	// PhaseMigration runs batch migration while both systems stay live.
	PhaseMigration Phase = "migration"
	// PhaseExternalOnly disables legacy sign-ins.
	PhaseExternalOnly Phase = "external-only"
	// PhaseComplete is terminal; cleanup has run and legacy data is gone.
	PhaseComplete Phase = "complete"
)

// sequence fixes the forward ordering of phases.
var sequence = []Phase{PhaseDual, PhaseMigration, PhaseExternalOnly, PhaseComplete}

// Valid reports whether the phase is one of the defined stages.
func (phase Phase) Valid() bool {
	for _, p := range sequence {
		if p == phase {
			return true
		}
	}
	return false
}

// Next returns the following phase in the sequence. The second return is
// false when the phase is terminal or unknown.
func (phase Phase) Next() (Phase, bool) {
	for i, p := range sequence {
		if p == phase && i+1 < len(sequence) {
			return sequence[i+1], true
		}
	}
	return phase, false
}

// Terminal reports whether the phase admits no further transitions.
func (phase Phase) Terminal() bool {
	return phase == PhaseComplete
}

// Flags is the feature-flag view of a phase that the authentication
// service consults on every sign-in and refresh.
type Flags struct {
	// LegacyAuthEnabled permits sign-ins against the embedded store.
	LegacyAuthEnabled bool `json:"legacy_auth_enabled"`
	// ExternalAuthEnabled permits sign-ins through the provider.
	ExternalAuthEnabled bool `json:"external_auth_enabled"`
	// RedirectToExternal makes legacy sign-ins migrate just-in-time.
	RedirectToExternal bool `json:"redirect_to_external"`
	// MigrationComplete indicates legacy data has been cleaned up.
	MigrationComplete bool `json:"migration_complete"`
}

// Flags returns the feature-flag set a phase implies.
func (phase Phase) Flags() Flags {
	switch phase {
	case PhaseDual:
		return Flags{LegacyAuthEnabled: true, ExternalAuthEnabled: true}
	case PhaseMigration:
		return Flags{LegacyAuthEnabled: true, ExternalAuthEnabled: true, RedirectToExternal: true}
	case PhaseExternalOnly:
		return Flags{ExternalAuthEnabled: true, RedirectToExternal: true}
	case PhaseComplete:
		return Flags{ExternalAuthEnabled: true, RedirectToExternal: true, MigrationComplete: true}
	default:
		// Unknown phases fail closed: nothing may sign in.
		return Flags{}
	}
}
