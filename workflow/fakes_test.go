package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var march2026 = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func rawEvent(t *testing.T, id, eventType string, created time.Time, object map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return b
}

func paymentSucceeded(t *testing.T, id string, amount int64, currency, customer string) json.RawMessage {
	obj := map[string]any{
		"id":              "pi_" + id,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        currency,
	}
	if customer != "" {
		obj["customer"] = customer
	}
	return rawEvent(t, id, "payment_intent.succeeded", march2026, obj)
}

func chargeRefunded(t *testing.T, id string, amountRefunded int64, currency, paymentIntent string) json.RawMessage {
	return rawEvent(t, id, "charge.refunded", march2026, map[string]any{
		"id":              "ch_" + id,
		"object":          "charge",
		"amount":          amountRefunded * 2,
		"amount_refunded": amountRefunded,
		"currency":        currency,
		"payment_intent":  paymentIntent,
	})
}

func payout(t *testing.T, id, eventType string, amount int64, currency string) json.RawMessage {
	return rawEvent(t, id, eventType, march2026, map[string]any{
		"id":       "po_" + id,
		"object":   "payout",
		"amount":   amount,
		"currency": currency,
	})
}

// fakeSource serves a fixed, ascending event list with starting_after paging.
type fakeSource struct {
	mu     sync.Mutex
	events []json.RawMessage
	ids    []string
	calls  int

	failOnCall int           // 1-based call that returns an error; 0 never fails
	block      chan struct{} // when set, ListEvents waits for it to close
	started    chan struct{} // signalled on each call when set
}

func newFakeSource(t *testing.T, events ...json.RawMessage) *fakeSource {
	t.Helper()
	f := &fakeSource{}
	for _, raw := range events {
		var head struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &head)
		f.events = append(f.events, raw)
		f.ids = append(f.ids, head.ID)
	}
	return f
}

func (f *fakeSource) ListEvents(ctx context.Context, _ models.ProcessorAccount, after string, limit int) (EventPage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return EventPage{}, ctx.Err()
		}
	}
	if f.failOnCall == call {
		return EventPage{}, errors.New("processor returned 503")
	}

	start := 0
	if after != "" {
		for i, id := range f.ids {
			if id == after {
				start = i + 1
			}
		}
	}
	end := start + limit
	if end > len(f.events) {
		end = len(f.events)
	}
	page := EventPage{Events: f.events[start:end], HasMore: end < len(f.events)}
	if end > start {
		page.NextCursor = f.ids[end-1]
	}
	return page, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestReconciler(db *gorm.DB, src EventSource) *Reconciler {
	return &Reconciler{
		DB:               db,
		Logger:           quietLogger(),
		Source:           src,
		Linker:           EntityLinker{Registry: GormAccountRegistry{DB: db}, Provider: models.ProcessorProviderStripe},
		Locker:           NewLocalRunLocker(),
		PageSize:         2,
		DefaultMaxEvents: 500,
		LockTTL:          time.Minute,
	}
}

type bucketKey struct {
	Currency string
	Kind     models.EventKind
	Linked   bool
}

func aggregatesByBucket(t *testing.T, db *gorm.DB, period models.Period) map[bucketKey]models.PeriodAggregate {
	t.Helper()
	rows, err := models.ListPeriodAggregates(context.Background(), db, period)
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	out := map[bucketKey]models.PeriodAggregate{}
	for _, r := range rows {
		out[bucketKey{r.Currency, r.Kind, r.Linked}] = r
	}
	return out
}

func eventIds(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s_%d", prefix, i+1)
	}
	return out
}
