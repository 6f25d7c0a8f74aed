package workflow

import (
	"github.com/mmdatafocus/payrecon_backend/models"
	"gorm.io/gorm"
)

// ApplyToAggregates adds a freshly inserted event to its period bucket.
// Must run in the same transaction as RecordPaymentEvent and only after it
// reported RecordInserted. Ignored and failed events never touch aggregates.
func ApplyToAggregates(tx *gorm.DB, ev *models.PaymentEvent) error {
	if ev == nil || ev.Status != models.EventStatusProcessed || !ev.Kind.Aggregated() {
		return nil
	}
	return models.IncrementPeriodAggregate(tx, models.AggregateKey{
		Period:   models.PeriodOf(ev.OccurredAt),
		Currency: ev.Currency,
		Kind:     ev.Kind,
		Linked:   ev.Linked,
	}, ev.AmountMinor)
}
