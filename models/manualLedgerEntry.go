package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ManualLedgerEntry is an operator-entered deposit or adjustment. Owned by the
// manual ledger UI; read-only here. Only ManualLedgerReason values count
// toward deposited.
type ManualLedgerEntry struct {
	ID        uint               `gorm:"primary_key" json:"id"`
	AccountId *string            `gorm:"size:64;index" json:"account_id"`
	Amount    decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency  string             `gorm:"size:3;not null" json:"currency"`
	Date      time.Time          `gorm:"type:date;not null;index" json:"date"`
	Reason    ManualLedgerReason `gorm:"size:40;not null" json:"reason"`
	Notes     *string            `gorm:"type:text" json:"notes"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// ListManualLedgerEntries returns entries dated within period with a counted reason.
func ListManualLedgerEntries(ctx context.Context, db *gorm.DB, period Period) ([]ManualLedgerEntry, error) {
	start, end := period.Bounds()
	var rows []ManualLedgerEntry
	err := db.WithContext(ctx).
		Where("date >= ? AND date < ? AND reason IN ?", start, end, []ManualLedgerReason{ManualReasonBankDeposit, ManualReasonAdjustment}).
		Order("date asc, id asc").
		Find(&rows).Error
	return rows, err
}
