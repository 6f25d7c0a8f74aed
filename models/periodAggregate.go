package models

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PeriodAggregate is the running total for one (period, currency, kind, linked) bucket.
type PeriodAggregate struct {
	Period      Period    `gorm:"primaryKey;size:7" json:"period"`
	Currency    string    `gorm:"primaryKey;size:3" json:"currency"`
	Kind        EventKind `gorm:"primaryKey;size:32" json:"kind"`
	Linked      bool      `gorm:"primaryKey" json:"linked"`
	AmountMinor int64     `gorm:"not null" json:"amount_minor"`
	EventCount  int64     `gorm:"not null" json:"event_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AggregateKey struct {
	Period   Period
	Currency string
	Kind     EventKind
	Linked   bool
}

// IncrementPeriodAggregate adds amountMinor to the bucket in a single upsert
// statement, so concurrent writers never lose an increment.
func IncrementPeriodAggregate(tx *gorm.DB, key AggregateKey, amountMinor int64) error {
	row := PeriodAggregate{
		Period:      key.Period,
		Currency:    key.Currency,
		Kind:        key.Kind,
		Linked:      key.Linked,
		AmountMinor: amountMinor,
		EventCount:  1,
		UpdatedAt:   time.Now().UTC(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "period"}, {Name: "currency"}, {Name: "kind"}, {Name: "linked"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount_minor": gorm.Expr("amount_minor + ?", amountMinor),
			"event_count":  gorm.Expr("event_count + 1"),
			"updated_at":   row.UpdatedAt,
		}),
	}).Create(&row).Error
}

func ListPeriodAggregates(ctx context.Context, db *gorm.DB, period Period) ([]PeriodAggregate, error) {
	var rows []PeriodAggregate
	err := db.WithContext(ctx).
		Where("period = ?", period).
		Order("currency asc, kind asc, linked desc").
		Find(&rows).Error
	return rows, err
}

// RebuildPeriodAggregates recomputes buckets from payment_events.
// An empty period rebuilds every period.
func RebuildPeriodAggregates(ctx context.Context, db *gorm.DB, period Period) (int64, error) {
	var inserted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Model(&PeriodAggregate{})
		if period != "" {
			del = del.Where("period = ?", period)
		} else {
			del = del.Where("1 = 1")
		}
		if err := del.Delete(&PeriodAggregate{}).Error; err != nil {
			return err
		}

		sql := `
INSERT INTO period_aggregates (period, currency, kind, linked, amount_minor, event_count, updated_at)
SELECT period, currency, kind, linked, SUM(amount_minor), COUNT(*), ?
FROM payment_events
WHERE status = ? AND kind IN ?`
		args := []interface{}{time.Now().UTC(), EventStatusProcessed, AggregatedKinds}
		if period != "" {
			sql += " AND period = ?"
			args = append(args, period)
		}
		sql += " GROUP BY period, currency, kind, linked"

		res := tx.Exec(sql, args...)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	return inserted, err
}
