package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification is one message addressed to one staff member.
type Notification struct {
	ID          int               `gorm:"primary_key" json:"id"`
	RecipientId int               `gorm:"index;not null" json:"recipient_id"`
	ActorId     int               `gorm:"not null;default:0" json:"actor_id"`
	EventKind   NotificationEvent `gorm:"size:30;not null" json:"event_kind"`
	InvoiceId   int               `gorm:"index;not null;default:0" json:"invoice_id"`
	Message     string            `gorm:"type:text;not null" json:"message"`
	IsRead      bool              `gorm:"not null;default:false" json:"is_read"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func CreateNotification(db *gorm.DB, n *Notification) error {
	return db.Create(n).Error
}

// ListNotifications returns a recipient's notifications, newest first.
func ListNotifications(db *gorm.DB, recipientId int) ([]Notification, error) {
	var rows []Notification
	err := db.Where("recipient_id = ?", recipientId).Order("id desc").Find(&rows).Error
	return rows, err
}
