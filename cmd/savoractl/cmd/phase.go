// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/savorahq/savora/internal/rollout"
)

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Rollout phase transitions",
}

var phaseShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current phase and its feature flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		state, err := tools.controller.Current(ctx)
		if err != nil {
			return err
		}
		return printJSON(struct {
			*rollout.TransitionState
			Flags rollout.Flags `json:"flags"`
		}{state, state.Phase.Flags()})
	},
}

var phaseAdvanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance to the next phase, subject to readiness gates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		state, err := tools.controller.Advance(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

var phaseRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back to the dual phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		state, err := tools.controller.Rollback(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)
	},
}

func init() {
	phaseCmd.AddCommand(phaseShowCmd)
	phaseCmd.AddCommand(phaseAdvanceCmd)
	phaseCmd.AddCommand(phaseRollbackCmd)
}
