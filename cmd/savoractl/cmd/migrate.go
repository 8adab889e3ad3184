// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/savorahq/savora/internal/platform/constants"
)

var migrateBatchSize int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Batch identity migration operations",
}

var migrateEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue every unmigrated identity for processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		enqueued, err := tools.orchestrator.EnqueueUnmigrated(ctx, enqueueSweepLimit)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"enqueued": enqueued})
	},
}

var migrateProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one batch of pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		result, err := tools.orchestrator.ProcessPending(ctx, migrateBatchSize)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var migrateRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run every failed migration entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		result, err := tools.orchestrator.RetryFailed(ctx)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var migrateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show migration coverage and queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		stats, err := tools.orchestrator.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var migrateSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove terminal migration log entries past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		tools, err := buildToolbox(ctx)
		if err != nil {
			return err
		}
		defer tools.close()

		removed, err := tools.orchestrator.SweepRetention(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"removed": removed})
	},
}

// enqueueSweepLimit caps one enqueue sweep; rerun the command for more.
const enqueueSweepLimit = 10000

func init() {
	migrateProcessCmd.Flags().IntVar(&migrateBatchSize, "batch", constants.DefaultMigrationBatchSize, "number of pending entries to process")

	migrateCmd.AddCommand(migrateEnqueueCmd)
	migrateCmd.AddCommand(migrateProcessCmd)
	migrateCmd.AddCommand(migrateRetryCmd)
	migrateCmd.AddCommand(migrateStatsCmd)
	migrateCmd.AddCommand(migrateSweepCmd)
}
