package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrProcessorAccountNotFound = errors.New("processor account not found")

// ProcessorAccount is one connected processor (merchant) account and its sync cursor.
type ProcessorAccount struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Provider          string     `gorm:"index;size:50;not null" json:"provider"`
	Name              string     `gorm:"size:255" json:"name"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	AuthSecretRef     string     `gorm:"type:text" json:"-"`
	SyncCursor        *string    `gorm:"size:255" json:"sync_cursor"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProcessorAccount(ctx context.Context, db *gorm.DB, id uint) (*ProcessorAccount, error) {
	var acc ProcessorAccount
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProcessorAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

func ListConnectedProcessorAccounts(ctx context.Context, db *gorm.DB) ([]ProcessorAccount, error) {
	var accounts []ProcessorAccount
	err := db.WithContext(ctx).
		Where("status = ?", ProcessorStatusConnected).
		Order("id asc").
		Find(&accounts).Error
	return accounts, err
}

// AdvanceSyncCursor moves the stored cursor. Called inside the page transaction.
func AdvanceSyncCursor(tx *gorm.DB, accountId uint, cursor string) error {
	return tx.Model(&ProcessorAccount{}).
		Where("id = ?", accountId).
		Updates(map[string]interface{}{
			"sync_cursor": cursor,
			"updated_at":  time.Now().UTC(),
		}).Error
}

// TouchProcessorSync stamps last_sync_at, and last_success_sync_at when ok.
func TouchProcessorSync(ctx context.Context, db *gorm.DB, accountId uint, at time.Time, ok bool) error {
	update := map[string]interface{}{
		"last_sync_at": at,
		"updated_at":   time.Now().UTC(),
	}
	if ok {
		update["last_success_sync_at"] = at
	}
	return db.WithContext(ctx).Model(&ProcessorAccount{}).Where("id = ?", accountId).Updates(update).Error
}
