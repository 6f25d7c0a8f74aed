package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

var Version = "dev"

type rootOptions struct {
	output        string
	skipMigrate   bool
	thresholdFile string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "reconctl",
		Short:         "Operate payment reconciliation runs and reports",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format (json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.skipMigrate, "skip-migrate", true, "Do not run AutoMigrate on connect")
	rootCmd.PersistentFlags().StringVar(&opts.thresholdFile, "thresholds", "", "Parity thresholds YAML (overrides PARITY_THRESHOLDS_FILE)")

	rootCmd.AddCommand(syncCmd(opts, false))
	rootCmd.AddCommand(syncCmd(opts, true))
	rootCmd.AddCommand(rebuildCmd(opts))
	rootCmd.AddCommand(summaryCmd(opts))
	rootCmd.AddCommand(lifecycleCmd(opts))
	rootCmd.AddCommand(parityCmd(opts))
	rootCmd.AddCommand(unlinkedCmd(opts))
	rootCmd.AddCommand(runsCmd(opts))
	rootCmd.AddCommand(thresholdsCmd(opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// connect opens the database (and Redis when configured) the same way the server does.
func connect(ctx context.Context, opts *rootOptions) (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized (config.GetDB returned nil)")
	}
	if !opts.skipMigrate {
		if err := models.MigrateTable(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	config.ConnectRedisWithRetry(ctx)
	return db, nil
}

func loadSettings(opts *rootOptions) (config.Settings, config.ParityThresholds, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return s, config.ParityThresholds{}, err
	}
	if opts.thresholdFile != "" {
		s.ParityThresholdsFile = opts.thresholdFile
	}
	thresholds, err := config.LoadParityThresholds(s)
	return s, thresholds, err
}

// render writes v as JSON or YAML. YAML goes through JSON first so decimals
// and times keep their JSON form.
func render(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
