// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package cmd

import (
	"github.com/spf13/cobra"
)

var cleanupForce bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Post-migration cleanup operations",
}

var cleanupValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the cleanup pre-flight checks without changing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		report, err := tools.cleanup.ValidateReadiness(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var cleanupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Purge legacy sessions, scrub hashes, and merge duplicates",
	Long: `Runs the complete post-migration cleanup: purges legacy sessions for
migrated identities, scrubs embedded password hashes, and merges duplicate
email accounts. Defers with a readiness report unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		result, err := tools.cleanup.PerformCompleteCleanup(ctx, cleanupForce)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	cleanupRunCmd.Flags().BoolVar(&cleanupForce, "force", false, "run even when readiness checks report issues")

	cleanupCmd.AddCommand(cleanupValidateCmd)
	cleanupCmd.AddCommand(cleanupRunCmd)
}
