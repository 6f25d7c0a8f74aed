package main

import (
	"errors"
	"strconv"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/processorsync"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/spf13/cobra"
)

func syncCmd(opts *rootOptions, backfill bool) *cobra.Command {
	use, short := "sync [processor-account-id]", "Run an incremental reconciliation from the stored cursor"
	if backfill {
		use, short = "backfill [processor-account-id]", "Re-read the event stream from the beginning (idempotent)"
	}
	var maxEvents int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountId, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.New("processor-account-id must be a number")
			}
			settings, _, err := loadSettings(opts)
			if err != nil {
				return err
			}
			db, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}

			ctx := utils.SetTriggeredByInContext(cmd.Context(), string(models.TriggeredCLI))
			reconciler := processorsync.NewReconciler(db, config.GetLogger(), settings)
			result, err := reconciler.Run(ctx, workflow.RunRequest{
				ProcessorAccountId: uint(accountId),
				Backfill:           backfill,
				MaxEvents:          maxEvents,
				TriggeredBy:        models.TriggeredCLI,
			})
			if err != nil {
				return err
			}
			if err := render(cmd.OutOrStdout(), opts.output, result); err != nil {
				return err
			}
			if result.Status == models.RunStatusFailed {
				return errors.New("reconciliation run failed: " + result.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxEvents, "max-events", "n", 0, "Event budget for this run (default from settings, max 5000)")
	return cmd
}

func rebuildCmd(opts *rootOptions) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute period aggregates from stored payment events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Period
			if period != "" {
				parsed, err := models.ParsePeriod(period)
				if err != nil {
					return err
				}
				p = parsed
			}
			db, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			n, err := models.RebuildPeriodAggregates(cmd.Context(), db, p)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, map[string]any{"period": p, "buckets": n})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "Period to rebuild (YYYY-MM); empty rebuilds all")
	return cmd
}
