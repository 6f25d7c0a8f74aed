package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IngestOutcome string

const (
	OutcomeProcessed IngestOutcome = "processed"
	OutcomeDuplicate IngestOutcome = "duplicate"
	OutcomeIgnored   IngestOutcome = "ignored"
	OutcomeFailed    IngestOutcome = "failed"
)

// IngestMeta describes where an event came from.
type IngestMeta struct {
	ProcessorAccountId uint
	Source             models.EventSource
	RunId              *string
	ReceivedAt         time.Time
}

// PreparedEvent is a decoded, classified and linked event ready to be
// recorded. Record is nil when the event cannot be stored (no id).
type PreparedEvent struct {
	EventId   string
	Record    *models.PaymentEvent
	DecodeErr error
}

// PrepareProcessorEvent does everything that needs no write: decode, classify
// and link. The returned error is an infrastructure failure (registry lookup);
// a malformed event is not an error here.
func PrepareProcessorEvent(ctx context.Context, linker EntityLinker, raw json.RawMessage, meta IngestMeta) (PreparedEvent, error) {
	decoded, decodeErr := DecodeProcessorEvent(raw)
	prepared := PreparedEvent{EventId: decoded.EventId, DecodeErr: decodeErr}
	if decoded.EventId == "" {
		return prepared, nil
	}

	occurredAt := decoded.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = meta.ReceivedAt.UTC()
	}
	rec := &models.PaymentEvent{
		EventId:             decoded.EventId,
		ProcessorAccountId:  meta.ProcessorAccountId,
		EventType:           decoded.EventType,
		Kind:                decoded.Kind,
		OccurredAt:          occurredAt,
		Period:              models.PeriodOf(occurredAt),
		AmountMinor:         decoded.AmountMinor,
		Currency:            decoded.Currency,
		ExternalPaymentRef:  decoded.ExternalPaymentRef,
		ExternalCustomerRef: utils.NilIfEmpty(decoded.ExternalCustomerRef),
		RawPayload:          datatypes.JSON(raw),
		Source:              meta.Source,
		RunId:               meta.RunId,
	}

	switch {
	case decodeErr != nil:
		rec.Status = models.EventStatusFailed
		msg := decodeErr.Error()
		rec.ProcessingError = &msg
	case decoded.Kind == models.EventKindIgnored:
		rec.Status = models.EventStatusIgnored
	default:
		rec.Status = models.EventStatusProcessed
		link, err := linker.Link(ctx, LinkInput{
			ExternalCustomerRef: decoded.ExternalCustomerRef,
			MetadataAccountId:   decoded.MetadataAccountId,
		})
		if err != nil {
			return prepared, fmt.Errorf("link event %s: %w", decoded.EventId, err)
		}
		rec.Linked = link.Linked
		rec.InternalAccountId = utils.NilIfEmpty(link.AccountId)
	}
	prepared.Record = rec
	return prepared, nil
}

// RecordPreparedEvent stores the event and, when newly inserted and
// processable, applies it to the aggregates. tx must be a transaction.
func RecordPreparedEvent(tx *gorm.DB, p PreparedEvent) (IngestOutcome, error) {
	if p.Record == nil {
		return OutcomeFailed, nil
	}
	res, err := models.RecordPaymentEvent(tx, p.Record)
	if err != nil {
		return "", fmt.Errorf("record event %s: %w", p.EventId, err)
	}
	if res == models.RecordDuplicate {
		return OutcomeDuplicate, nil
	}
	switch p.Record.Status {
	case models.EventStatusFailed:
		return OutcomeFailed, nil
	case models.EventStatusIgnored:
		return OutcomeIgnored, nil
	}
	if err := ApplyToAggregates(tx, p.Record); err != nil {
		return "", fmt.Errorf("aggregate event %s: %w", p.EventId, err)
	}
	return OutcomeProcessed, nil
}

// countOutcome tallies one outcome into c.
func countOutcome(c *models.RunCounts, outcome IngestOutcome, p PreparedEvent) {
	switch outcome {
	case OutcomeProcessed:
		c.Processed++
		if p.Record != nil && !p.Record.Linked {
			c.Unlinked++
		}
	case OutcomeDuplicate:
		c.Duplicate++
	case OutcomeIgnored:
		c.Ignored++
	default:
		c.Failed++
	}
}

// IngestProcessorEvent runs a single pushed event through the same path as a
// reconciliation page, in its own transaction. It never touches the sync cursor.
func IngestProcessorEvent(ctx context.Context, db *gorm.DB, linker EntityLinker, raw json.RawMessage, meta IngestMeta) (IngestOutcome, PreparedEvent, error) {
	prepared, err := PrepareProcessorEvent(ctx, linker, raw, meta)
	if err != nil {
		return "", prepared, err
	}
	var outcome IngestOutcome
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rerr error
		outcome, rerr = RecordPreparedEvent(tx, prepared)
		return rerr
	})
	if err != nil {
		return "", prepared, err
	}
	return outcome, prepared, nil
}
