package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/models/reports"
	"github.com/spf13/cobra"
)

// reportCommand builds a period-scoped report subcommand.
func reportCommand(opts *rootOptions, use, short string, fn func(cmd *cobra.Command, r *reports.Reporter, period models.Period) (any, error)) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.ResolvePeriod(period, time.Now())
			if err != nil {
				return err
			}
			_, thresholds, err := loadSettings(opts)
			if err != nil {
				return err
			}
			db, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out, err := fn(cmd, reports.NewReporter(db, thresholds), p)
			if err != nil || out == nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, out)
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "Period (YYYY-MM), default current month")
	return cmd
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	return reportCommand(opts, "summary", "Per-currency reconciliation summary",
		func(cmd *cobra.Command, r *reports.Reporter, p models.Period) (any, error) {
			return r.GetReconciliationSummary(cmd.Context(), p)
		})
}

func lifecycleCmd(opts *rootOptions) *cobra.Command {
	return reportCommand(opts, "lifecycle", "Projected, invoiced, collected and deposited per currency",
		func(cmd *cobra.Command, r *reports.Reporter, p models.Period) (any, error) {
			return r.GetLifecycleSummary(cmd.Context(), p)
		})
}

func parityCmd(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := reportCommand(opts, "parity", "Compare lifecycle payments against legacy income",
		func(cmd *cobra.Command, r *reports.Reporter, p models.Period) (any, error) {
			check, err := r.ParityCheck(cmd.Context(), p)
			if err != nil {
				return nil, err
			}
			if err := render(cmd.OutOrStdout(), opts.output, check); err != nil {
				return nil, err
			}
			if strict {
				for _, c := range check.Currencies {
					if !c.WithinThreshold {
						return nil, fmt.Errorf("%s outside parity threshold (difference %s)", c.Currency, c.Difference)
					}
				}
			}
			return nil, nil
		})
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any currency is outside its threshold")
	return cmd
}

func unlinkedCmd(opts *rootOptions) *cobra.Command {
	var kind, xlsxPath string
	cmd := reportCommand(opts, "unlinked", "List or export events with no known account",
		func(cmd *cobra.Command, r *reports.Reporter, p models.Period) (any, error) {
			if xlsxPath == "" {
				return r.ListUnlinkedEvents(cmd.Context(), p, kind)
			}
			f, err := os.Create(xlsxPath)
			if err != nil {
				return nil, err
			}
			if err := r.ExportUnlinkedEvents(cmd.Context(), p, f); err != nil {
				_ = f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", xlsxPath)
			return nil, nil
		})
	cmd.Flags().StringVar(&kind, "kind", "", "Filter: payment, payout, or an event kind")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write an XLSX workbook to this path instead of printing")
	return cmd
}

func runsCmd(opts *rootOptions) *cobra.Command {
	var accountId uint
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent reconciliation runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			runs, err := models.ListReconciliationRuns(cmd.Context(), db, accountId, limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, runs)
		},
	}
	cmd.Flags().UintVar(&accountId, "account", 0, "Only runs for this processor account")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs")
	return cmd
}

// thresholdsCmd prints the effective parity thresholds without touching the database.
func thresholdsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "thresholds",
		Short: "Validate and print the parity thresholds in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, thresholds, err := loadSettings(opts)
			if err != nil {
				return err
			}
			out := map[string]string{"default": thresholds.Default.String()}
			for code, v := range thresholds.Currencies {
				out[code] = v.String()
			}
			return render(cmd.OutOrStdout(), opts.output, out)
		},
	}
}
