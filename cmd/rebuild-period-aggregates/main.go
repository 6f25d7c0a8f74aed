package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
)

func main() {
	period := flag.String("period", "", "Optional: rebuild one period (YYYY-MM). If empty with no range, rebuilds all periods.")
	from := flag.String("from", "", "Optional: first period of a range (YYYY-MM).")
	to := flag.String("to", "", "Optional: last period of a range (YYYY-MM). Defaults to -from.")
	skipMigrate := flag.Bool("skip-migrate", false, "Do not run AutoMigrate before rebuilding.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if !*skipMigrate {
		if err := models.MigrateTable(db); err != nil {
			fmt.Fprintf(os.Stderr, "migrate failed: %v\n", err)
			os.Exit(1)
		}
	}
	ctx = utils.SetTriggeredByInContext(ctx, "RebuildPeriodAggregates")

	var periods []models.Period
	switch {
	case strings.TrimSpace(*from) != "":
		end := strings.TrimSpace(*to)
		if end == "" {
			end = strings.TrimSpace(*from)
		}
		r, err := models.PeriodRange(models.Period(strings.TrimSpace(*from)), models.Period(end))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid range: %v\n", err)
			os.Exit(2)
		}
		periods = r
	case strings.TrimSpace(*period) != "":
		p, err := models.ParsePeriod(*period)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid period: %v\n", err)
			os.Exit(2)
		}
		periods = []models.Period{p}
	default:
		periods = []models.Period{""}
	}

	failed := false
	for _, p := range periods {
		label := string(p)
		if label == "" {
			label = "all periods"
		}
		n, err := models.RebuildPeriodAggregates(ctx, db, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rebuild %s failed: %v\n", label, err)
			failed = true
			continue
		}
		fmt.Printf("Rebuilt period_aggregates for %s: %d buckets\n", label, n)
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("Rebuild complete")
}
