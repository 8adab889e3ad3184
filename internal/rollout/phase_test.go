// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package rollout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/savorahq/savora/internal/rollout"
)

/*
TestPhase_Ordering verifies the forward sequence, terminality, and validity
of every phase, including the unknown-phase fallbacks.
*/
func TestPhase_Ordering(t *testing.T) {
	tests := []struct {
		name     string
		phase    rollout.Phase
		valid    bool
		next     rollout.Phase
		hasNext  bool
		terminal bool
	}{
		{"dual advances to migration", rollout.PhaseDual, true, rollout.PhaseMigration, true, false},
		{"migration advances to external-only", rollout.PhaseMigration, true, rollout.PhaseExternalOnly, true, false},
		{"external-only advances to complete", rollout.PhaseExternalOnly, true, rollout.PhaseComplete, true, false},
		{"complete is terminal", rollout.PhaseComplete, true, rollout.PhaseComplete, false, true},
		{"unknown phase has no successor", rollout.Phase("beta"), false, rollout.Phase("beta"), false, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.valid, test.phase.Valid())
			assert.Equal(t, test.terminal, test.phase.Terminal())

			next, ok := test.phase.Next()
			assert.Equal(t, test.hasNext, ok)
			assert.Equal(t, test.next, next)
		})
	}
}

/*
TestPhase_Flags verifies the feature-flag set each phase implies, and that an
unknown phase fails closed with no sign-in path at all.
*/
func TestPhase_Flags(t *testing.T) {
	tests := []struct {
		name  string
		phase rollout.Phase
		want  rollout.Flags
	}{
		{
			"dual keeps both systems live",
			rollout.PhaseDual,
			rollout.Flags{LegacyAuthEnabled: true, ExternalAuthEnabled: true},
		},
		{
			"migration adds just-in-time redirect",
			rollout.PhaseMigration,
			rollout.Flags{LegacyAuthEnabled: true, ExternalAuthEnabled: true, RedirectToExternal: true},
		},
		{
			"external-only retires the legacy path",
			rollout.PhaseExternalOnly,
			rollout.Flags{ExternalAuthEnabled: true, RedirectToExternal: true},
		},
		{
			"complete marks the cut-over finished",
			rollout.PhaseComplete,
			rollout.Flags{ExternalAuthEnabled: true, RedirectToExternal: true, MigrationComplete: true},
		},
		{
			"unknown phase fails closed",
			rollout.Phase("beta"),
			rollout.Flags{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.phase.Flags())
		})
	}
}
