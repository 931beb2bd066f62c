package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"gorm.io/gorm"
)

// DBNotificationSink appends a Notification row per recipient.
type DBNotificationSink struct {
	DB *gorm.DB
}

func (s *DBNotificationSink) Notify(ctx context.Context, recipientId int, ev InvoiceEvent) error {
	return models.CreateNotification(s.DB.WithContext(ctx), &models.Notification{
		RecipientId: recipientId,
		ActorId:     ev.Actor.UserId,
		EventKind:   ev.Kind,
		InvoiceId:   ev.InvoiceId,
		Message:     ev.Message,
	})
}

// PubSubNotificationSink publishes each notification to NOTIFICATION_TOPIC.
type PubSubNotificationSink struct {
	Publish func(ctx context.Context, msg config.NotificationMessage) error
}

func NewPubSubNotificationSink() *PubSubNotificationSink {
	return &PubSubNotificationSink{Publish: config.PublishNotification}
}

func (s *PubSubNotificationSink) Notify(ctx context.Context, recipientId int, ev InvoiceEvent) error {
	return s.Publish(ctx, config.NotificationMessage{
		RecipientId:   recipientId,
		EventKind:     string(ev.Kind),
		Message:       ev.Message,
		InvoiceId:     ev.InvoiceId,
		ActorId:       ev.Actor.UserId,
		CorrelationId: ev.CorrelationId,
		OccurredAt:    ev.OccurredAt,
	})
}
