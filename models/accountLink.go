package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AccountLink maps a processor customer reference to an internal account.
// Owned by the account registry; read-only here.
type AccountLink struct {
	ID                uint      `gorm:"primary_key" json:"id"`
	Provider          string    `gorm:"uniqueIndex:idx_account_link_ref,priority:1;size:50;not null" json:"provider"`
	ExternalRef       string    `gorm:"uniqueIndex:idx_account_link_ref,priority:2;size:255;not null" json:"external_ref"`
	InternalAccountId string    `gorm:"size:64;not null;index" json:"internal_account_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FindAccountLink returns nil, nil when no link exists.
func FindAccountLink(ctx context.Context, db *gorm.DB, provider, externalRef string) (*AccountLink, error) {
	var link AccountLink
	err := db.WithContext(ctx).
		Where("provider = ? AND external_ref = ?", provider, externalRef).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}
