package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	IdempotencyScopeCreateInvoice = "invoice.create"
	IdempotencyScopeApplyPayment  = "invoice.payment"
)

// IdempotencyKey remembers which invoice a client supplied key produced. It is
// written in the same transaction as the mutation, so a rolled back request
// leaves no key behind.
// Unique constraint: (scope, user_id, idem_key).
type IdempotencyKey struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Scope      string    `gorm:"size:50;not null;index:uniq_idem,unique" json:"scope"`
	UserId     int       `gorm:"not null;index:uniq_idem,unique" json:"user_id"`
	IdemKey    string    `gorm:"size:255;not null;index:uniq_idem,unique" json:"idem_key"`
	ResourceId int       `gorm:"not null" json:"resource_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FindIdempotencyKey returns the invoice id recorded for key, or 0 when the key is new.
func FindIdempotencyKey(db *gorm.DB, scope string, userId int, key string) (int, error) {
	var existing IdempotencyKey
	err := db.Where("scope = ? AND user_id = ? AND idem_key = ?", scope, userId, key).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return existing.ResourceId, nil
}

func RecordIdempotencyKey(tx *gorm.DB, scope string, userId int, key string, resourceId int) error {
	return tx.Create(&IdempotencyKey{
		Scope:      scope,
		UserId:     userId,
		IdemKey:    key,
		ResourceId: resourceId,
	}).Error
}
