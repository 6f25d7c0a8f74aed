package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/payrecon_backend/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentEvent is an immutable record of one processor event. Rows are never
// updated or deleted once written (see config.AppendOnlyGuardPlugin).
//
// AmountMinor is signed: refunds are stored negative, payouts (paid or failed)
// positive.
type PaymentEvent struct {
	EventId             string         `gorm:"primaryKey;size:255" json:"event_id"`
	ProcessorAccountId  uint           `gorm:"index;not null" json:"processor_account_id"`
	EventType           string         `gorm:"size:100;not null" json:"event_type"`
	Kind                EventKind      `gorm:"size:32;not null;index:idx_payment_events_period_kind,priority:2" json:"kind"`
	OccurredAt          time.Time      `gorm:"not null" json:"occurred_at"`
	Period              Period         `gorm:"size:7;not null;index:idx_payment_events_period_kind,priority:1" json:"period"`
	AmountMinor         int64          `gorm:"not null" json:"amount_minor"`
	Currency            string         `gorm:"size:3" json:"currency"`
	ExternalPaymentRef  string         `gorm:"size:255;index" json:"external_payment_ref"`
	ExternalCustomerRef *string        `gorm:"size:255;index" json:"external_customer_ref"`
	InternalAccountId   *string        `gorm:"size:64;index" json:"internal_account_id"`
	Linked              bool           `gorm:"not null" json:"linked"`
	Status              EventStatus    `gorm:"size:20;not null;index" json:"status"`
	ProcessingError     *string        `gorm:"type:text" json:"processing_error"`
	RawPayload          datatypes.JSON `json:"raw_payload"`
	Source              EventSource    `gorm:"size:20;not null" json:"source"`
	RunId               *string        `gorm:"size:36;index" json:"run_id"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type RecordResult string

const (
	RecordInserted  RecordResult = "inserted"
	RecordDuplicate RecordResult = "duplicate"
)

var ErrMissingEventId = errors.New("payment event has no id")

// RecordPaymentEvent inserts ev unless its event_id already exists.
// The insert is always attempted; a conflict is reported as RecordDuplicate,
// never as an error.
func RecordPaymentEvent(tx *gorm.DB, ev *PaymentEvent) (RecordResult, error) {
	if ev == nil || ev.EventId == "" {
		return "", ErrMissingEventId
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		if utils.IsDuplicateKeyError(res.Error) {
			return RecordDuplicate, nil
		}
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return RecordDuplicate, nil
	}
	return RecordInserted, nil
}

func GetPaymentEvent(ctx context.Context, db *gorm.DB, eventId string) (*PaymentEvent, error) {
	var ev PaymentEvent
	err := db.WithContext(ctx).Where("event_id = ?", eventId).Take(&ev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// ListUnlinkedPaymentEvents returns processed, unlinked events of the given
// kinds within period, oldest first.
func ListUnlinkedPaymentEvents(ctx context.Context, db *gorm.DB, period Period, kinds []EventKind) ([]PaymentEvent, error) {
	var events []PaymentEvent
	err := db.WithContext(ctx).
		Where("period = ? AND linked = ? AND status = ? AND kind IN ?", period, false, EventStatusProcessed, kinds).
		Order("occurred_at asc, event_id asc").
		Find(&events).Error
	return events, err
}

type UnlinkedCount struct {
	Currency string
	Kind     EventKind
	Count    int64
}

func CountUnlinkedPaymentEvents(ctx context.Context, db *gorm.DB, period Period) ([]UnlinkedCount, error) {
	var rows []UnlinkedCount
	err := db.WithContext(ctx).Model(&PaymentEvent{}).
		Select("currency, kind, COUNT(*) AS count").
		Where("period = ? AND linked = ? AND status = ?", period, false, EventStatusProcessed).
		Group("currency, kind").
		Scan(&rows).Error
	return rows, err
}

type EventStatusCount struct {
	Status EventStatus `json:"status"`
	Count  int64       `json:"count"`
}

// CountPaymentEventsByRun counts the events first recorded by a run, by status.
// Duplicates keep the run id of the run that inserted them.
func CountPaymentEventsByRun(ctx context.Context, db *gorm.DB, runId string) ([]EventStatusCount, error) {
	var rows []EventStatusCount
	err := db.WithContext(ctx).Model(&PaymentEvent{}).
		Select("status, COUNT(*) AS count").
		Where("run_id = ?", runId).
		Group("status").
		Scan(&rows).Error
	return rows, err
}
