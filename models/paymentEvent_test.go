package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/mmdatafocus/payrecon_backend/testutil"
	"github.com/mmdatafocus/payrecon_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEvent(id string, kind models.EventKind, amount int64, currency string, linked bool) *models.PaymentEvent {
	occurred := time.Date(2026, time.March, 3, 9, 30, 0, 0, time.UTC)
	return &models.PaymentEvent{
		EventId:            id,
		ProcessorAccountId: 1,
		EventType:          "payment_intent.succeeded",
		Kind:               kind,
		OccurredAt:         occurred,
		Period:             models.PeriodOf(occurred),
		AmountMinor:        amount,
		Currency:           currency,
		ExternalPaymentRef: "pi_" + id,
		Linked:             linked,
		Status:             models.EventStatusProcessed,
		RawPayload:         []byte(`{"id":"` + id + `"}`),
		Source:             models.EventSourceReconcile,
	}
}

func TestRecordPaymentEventDeduplicates(t *testing.T) {
	db := testutil.OpenTestDB(t)

	res, err := models.RecordPaymentEvent(db, newEvent("evt_1", models.EventKindPaymentSucceeded, 1000, "USD", false))
	require.NoError(t, err)
	assert.Equal(t, models.RecordInserted, res)

	again := newEvent("evt_1", models.EventKindPaymentSucceeded, 999999, "USD", true)
	res, err = models.RecordPaymentEvent(db, again)
	require.NoError(t, err)
	assert.Equal(t, models.RecordDuplicate, res)

	stored, err := models.GetPaymentEvent(context.Background(), db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1000), stored.AmountMinor, "first write wins")
	assert.False(t, stored.Linked)
}

func TestRecordPaymentEventRequiresId(t *testing.T) {
	db := testutil.OpenTestDB(t)
	_, err := models.RecordPaymentEvent(db, newEvent("", models.EventKindPaymentSucceeded, 1, "USD", false))
	require.ErrorIs(t, err, models.ErrMissingEventId)
}

func TestGetPaymentEventNotFound(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ev, err := models.GetPaymentEvent(context.Background(), db, "missing")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestPaymentEventsAreAppendOnly(t *testing.T) {
	db := testutil.OpenTestDB(t)
	_, err := models.RecordPaymentEvent(db, newEvent("evt_1", models.EventKindPaymentSucceeded, 1000, "USD", false))
	require.NoError(t, err)

	err = db.Model(&models.PaymentEvent{}).Where("event_id = ?", "evt_1").Update("amount_minor", 5).Error
	require.ErrorIs(t, err, config.ErrAppendOnlyTable)

	err = db.Where("event_id = ?", "evt_1").Delete(&models.PaymentEvent{}).Error
	require.ErrorIs(t, err, config.ErrAppendOnlyTable)

	stored, err := models.GetPaymentEvent(context.Background(), db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1000), stored.AmountMinor)
}

func TestAppendOnlyGuardBypass(t *testing.T) {
	db := testutil.OpenTestDB(t)
	_, err := models.RecordPaymentEvent(db, newEvent("evt_1", models.EventKindPaymentSucceeded, 1000, "USD", false))
	require.NoError(t, err)

	ctx := utils.SetAllowEventRewriteInContext(context.Background(), true)
	err = db.WithContext(ctx).Where("event_id = ?", "evt_1").Delete(&models.PaymentEvent{}).Error
	require.NoError(t, err)

	stored, err := models.GetPaymentEvent(context.Background(), db, "evt_1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestListAndCountUnlinkedPaymentEvents(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()
	for _, ev := range []*models.PaymentEvent{
		newEvent("evt_1", models.EventKindPaymentSucceeded, 1000, "USD", false),
		newEvent("evt_2", models.EventKindPaymentSucceeded, 2000, "USD", true),
		newEvent("evt_3", models.EventKindPaymentRefunded, -300, "MXN", false),
		newEvent("evt_4", models.EventKindPayoutPaid, 5000, "MXN", false),
	} {
		_, err := models.RecordPaymentEvent(db, ev)
		require.NoError(t, err)
	}
	ignored := newEvent("evt_5", models.EventKindIgnored, 0, "", false)
	ignored.Status = models.EventStatusIgnored
	_, err := models.RecordPaymentEvent(db, ignored)
	require.NoError(t, err)

	rows, err := models.ListUnlinkedPaymentEvents(ctx, db, "2026-03", []models.EventKind{models.EventKindPaymentSucceeded, models.EventKindPaymentRefunded})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.ElementsMatch(t, []string{"evt_1", "evt_3"}, []string{rows[0].EventId, rows[1].EventId})

	counts, err := models.CountUnlinkedPaymentEvents(ctx, db, "2026-03")
	require.NoError(t, err)
	byKey := map[string]int64{}
	for _, c := range counts {
		byKey[c.Currency+"/"+string(c.Kind)] = c.Count
	}
	assert.Equal(t, map[string]int64{
		"USD/payment_succeeded": 1,
		"MXN/payment_refunded":  1,
		"MXN/payout_paid":       1,
	}, byKey)
}

func recordAll(t *testing.T, db *gorm.DB, events ...*models.PaymentEvent) {
	t.Helper()
	for _, ev := range events {
		_, err := models.RecordPaymentEvent(db, ev)
		require.NoError(t, err)
	}
}
