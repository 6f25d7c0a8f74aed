package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ReconciliationRunner runs an incremental reconciliation for every connected
// processor account on a fixed interval.
type ReconciliationRunner struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Reconciler  *workflow.Reconciler
	Interval    time.Duration
	Concurrency int
}

func NewReconciliationRunner(db *gorm.DB, logger *logrus.Logger, reconciler *workflow.Reconciler, s config.Settings) *ReconciliationRunner {
	return &ReconciliationRunner{
		DB:          db,
		Logger:      logger,
		Reconciler:  reconciler,
		Interval:    s.ReconciliationInterval,
		Concurrency: s.ReconciliationConcurrency,
	}
}

func (p *ReconciliationRunner) Run(ctx context.Context) {
	if p == nil || p.DB == nil || p.Reconciler == nil {
		return
	}
	interval := p.Interval
	if interval < config.MinReconciliationInterval {
		interval = config.MinReconciliationInterval
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// runOnce reconciles all connected accounts and returns how many runs started.
func (p *ReconciliationRunner) runOnce(ctx context.Context) int {
	accounts, err := models.ListConnectedProcessorAccounts(ctx, p.DB)
	if err != nil {
		config.LogError(p.Logger, "reconciliationRunner.go", "runOnce", "list connected accounts", nil, err)
		return 0
	}

	tickId := uuid.NewString()
	started := make([]bool, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Concurrency, 1))
	for i, acc := range accounts {
		g.Go(func() error {
			runCtx := utils.SetCorrelationIdInContext(gctx, tickId)
			runCtx = utils.SetTriggeredByInContext(runCtx, string(models.TriggeredSystem))
			result, err := p.Reconciler.Run(runCtx, workflow.RunRequest{
				ProcessorAccountId: acc.ID,
				TriggeredBy:        models.TriggeredSystem,
			})
			log := p.Logger.WithFields(logrus.Fields{
				"field":                "ScheduledReconciliation",
				"processor_account_id": acc.ID,
				"correlation_id":       tickId,
			})
			switch {
			case errors.Is(err, workflow.ErrRunInProgress):
				log.Info("skipping account: run already in progress")
			case err != nil:
				log.Error("scheduled reconciliation could not start: " + err.Error())
			default:
				started[i] = true
				log.WithFields(logrus.Fields{
					"run_id": result.RunId,
					"status": result.Status,
				}).Info("scheduled reconciliation finished")
			}
			// one account never cancels the others
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range started {
		if ok {
			n++
		}
	}
	return n
}
