package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Read models over tables owned by other services (invoicing, the legacy
// income ledger, recurring revenue). Nothing here writes to them.

const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusCancelled = "cancelled"
)

type Invoice struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	Number            string          `gorm:"size:64;index" json:"number"`
	InternalAccountId *string         `gorm:"size:64;index" json:"internal_account_id"`
	Total             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	IssueDate         time.Time       `gorm:"type:date;not null;index" json:"issue_date"`
	Status            string          `gorm:"size:20;not null" json:"status"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type IncomeEntry struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency    string          `gorm:"size:3;not null" json:"currency"`
	Date        time.Time       `gorm:"type:date;not null;index" json:"date"`
	Source      string          `gorm:"size:50" json:"source"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

const defaultCustomIntervalMonths = 1

type RecurringRevenueEntry struct {
	ID                   uint            `gorm:"primary_key" json:"id"`
	InternalAccountId    *string         `gorm:"size:64;index" json:"internal_account_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency             string          `gorm:"size:3;not null" json:"currency"`
	RecurrenceType       RecurrenceType  `gorm:"size:20;not null" json:"recurrence_type"`
	CustomIntervalMonths *int            `json:"custom_interval_months"`
	StartsOn             time.Time       `gorm:"type:date;not null" json:"starts_on"`
	EndsOn               *time.Time      `gorm:"type:date" json:"ends_on"`
	Active               bool            `gorm:"not null;index" json:"active"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// MonthlyEquivalent is the per-month revenue of the entry: monthly as-is,
// custom divided by its interval, one-time zero. Rounded half-up to scale.
func (e RecurringRevenueEntry) MonthlyEquivalent(scale int32) decimal.Decimal {
	switch RecurrenceType(strings.ToLower(string(e.RecurrenceType))) {
	case RecurrenceMonthly:
		return e.Amount.Round(scale)
	case RecurrenceCustom:
		months := defaultCustomIntervalMonths
		if e.CustomIntervalMonths != nil && *e.CustomIntervalMonths >= 1 {
			months = *e.CustomIntervalMonths
		}
		return e.Amount.Div(decimal.NewFromInt(int64(months))).Round(scale)
	default:
		return decimal.Zero
	}
}

// ActiveIn reports whether the entry covers any day of period.
func (e RecurringRevenueEntry) ActiveIn(period Period) bool {
	if !e.Active {
		return false
	}
	start, end := period.Bounds()
	if !e.StartsOn.Before(end) {
		return false
	}
	if e.EndsOn != nil && e.EndsOn.Before(start) {
		return false
	}
	return true
}

// GormCollaborators reads the collaborator tables from the shared database.
type GormCollaborators struct {
	DB *gorm.DB
}

// InvoicedTotals sums non-draft, non-cancelled invoices issued in period, per currency.
func (g GormCollaborators) InvoicedTotals(ctx context.Context, period Period) (map[string]decimal.Decimal, error) {
	start, end := period.Bounds()
	var rows []Invoice
	err := g.DB.WithContext(ctx).
		Select("currency", "total").
		Where("issue_date >= ? AND issue_date < ? AND status NOT IN ?", start, end, []string{InvoiceStatusDraft, InvoiceStatusCancelled}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]decimal.Decimal{}
	for _, r := range rows {
		cur := strings.ToUpper(r.Currency)
		out[cur] = out[cur].Add(r.Total)
	}
	return out, nil
}

// LegacyIncomeTotals sums the legacy income ledger for period, per currency.
func (g GormCollaborators) LegacyIncomeTotals(ctx context.Context, period Period) (map[string]decimal.Decimal, error) {
	start, end := period.Bounds()
	var rows []IncomeEntry
	err := g.DB.WithContext(ctx).
		Select("currency", "amount").
		Where("date >= ? AND date < ?", start, end).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]decimal.Decimal{}
	for _, r := range rows {
		cur := strings.ToUpper(r.Currency)
		out[cur] = out[cur].Add(r.Amount)
	}
	return out, nil
}

func (g GormCollaborators) ActiveRecurringEntries(ctx context.Context, period Period) ([]RecurringRevenueEntry, error) {
	_, end := period.Bounds()
	var rows []RecurringRevenueEntry
	err := g.DB.WithContext(ctx).
		Where("active = ? AND starts_on < ?", true, end).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, r := range rows {
		if r.ActiveIn(period) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g GormCollaborators) ManualLedgerEntries(ctx context.Context, period Period) ([]ManualLedgerEntry, error) {
	return ListManualLedgerEntries(ctx, g.DB, period)
}

func (g GormCollaborators) PeriodAggregates(ctx context.Context, period Period) ([]PeriodAggregate, error) {
	return ListPeriodAggregates(ctx, g.DB, period)
}
