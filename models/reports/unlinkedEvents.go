package reports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/shopspring/decimal"
)

var ErrInvalidKindFilter = errors.New("invalid kind filter")

type UnlinkedEvent struct {
	EventId            string           `json:"event_id"`
	EventType          string           `json:"event_type"`
	Kind               models.EventKind `json:"kind"`
	ExternalRef        string           `json:"external_ref"`
	ExternalPaymentRef string           `json:"external_payment_ref"`
	Amount             decimal.Decimal  `json:"amount"`
	AmountMinor        int64            `json:"amount_minor"`
	Currency           string           `json:"currency"`
	OccurredAt         time.Time        `json:"occurred_at"`
}

type UnlinkedEvents struct {
	Period   models.Period   `json:"period"`
	Payments []UnlinkedEvent `json:"payments"`
	Payouts  []UnlinkedEvent `json:"payouts"`
}

// unlinkedKinds maps the kind query value to the event kinds it selects.
// Empty selects everything aggregated.
func unlinkedKinds(filter string) ([]models.EventKind, error) {
	switch f := strings.ToLower(strings.TrimSpace(filter)); f {
	case "", "all":
		return models.AggregatedKinds, nil
	case "payment", "payments":
		return []models.EventKind{models.EventKindPaymentSucceeded, models.EventKindPaymentRefunded}, nil
	case "payout", "payouts":
		return []models.EventKind{models.EventKindPayoutPaid, models.EventKindPayoutFailed}, nil
	default:
		k := models.EventKind(f)
		if !k.Aggregated() {
			return nil, fmt.Errorf("%q: %w", filter, ErrInvalidKindFilter)
		}
		return []models.EventKind{k}, nil
	}
}

func (r *Reporter) ListUnlinkedEvents(ctx context.Context, period models.Period, kind string) (UnlinkedEvents, error) {
	kinds, err := unlinkedKinds(kind)
	if err != nil {
		return UnlinkedEvents{}, err
	}
	started := time.Now()
	defer logSlowReport(ctx, "unlinked_events", started, map[string]any{"period": period, "kind": kind})

	rows, err := models.ListUnlinkedPaymentEvents(ctx, r.DB, period, kinds)
	if err != nil {
		return UnlinkedEvents{}, err
	}
	out := UnlinkedEvents{Period: period, Payments: []UnlinkedEvent{}, Payouts: []UnlinkedEvent{}}
	for _, ev := range rows {
		item := UnlinkedEvent{
			EventId:            ev.EventId,
			EventType:          ev.EventType,
			Kind:               ev.Kind,
			ExternalRef:        utils.DereferencePtr(ev.ExternalCustomerRef, ev.ExternalPaymentRef),
			ExternalPaymentRef: ev.ExternalPaymentRef,
			Amount:             utils.MinorToDecimal(ev.AmountMinor, ev.Currency),
			AmountMinor:        ev.AmountMinor,
			Currency:           ev.Currency,
			OccurredAt:         ev.OccurredAt.UTC(),
		}
		if ev.Kind.IsPayout() {
			out.Payouts = append(out.Payouts, item)
		} else {
			out.Payments = append(out.Payments, item)
		}
	}
	return out, nil
}
