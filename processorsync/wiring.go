package processorsync

import (
	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/models/reports"
	"github.com/mmdatafocus/payrecon_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewReconciler wires the processor client, the Redis (or local) run lock
// and, when Pub/Sub is configured, the run-finished publisher.
func NewReconciler(db *gorm.DB, logger *logrus.Logger, s config.Settings) *workflow.Reconciler {
	r := &workflow.Reconciler{
		DB:               db,
		Logger:           logger,
		Source:           NewClient(ClientConfigFromSettings(s)),
		Linker:           workflow.EntityLinker{Registry: workflow.GormAccountRegistry{DB: db}, Provider: s.ProcessorProvider},
		Locker:           workflow.NewRunLocker(config.GetRedisLock()),
		PageSize:         s.PageSize,
		DefaultMaxEvents: s.DefaultMaxEvents,
		LockTTL:          s.RunLockTTL,
		PublishTimeout:   s.PublishTimeout,
	}
	if r.Linker.Provider == "" {
		r.Linker.Provider = models.ProcessorProviderStripe
	}
	if config.PubSubConfigured() {
		r.Publisher = NewPubSubPublisher(s)
	}
	return r
}

func NewService(db *gorm.DB, logger *logrus.Logger, s config.Settings, thresholds config.ParityThresholds) *Service {
	return &Service{
		DB:         db,
		Logger:     logger,
		Reconciler: NewReconciler(db, logger, s),
		Reporter:   reports.NewReporter(db, thresholds),
		Settings:   s,
	}
}
