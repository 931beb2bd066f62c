package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/sirupsen/logrus"
)

// InvoiceEvent is one committed change to announce.
type InvoiceEvent struct {
	Kind          models.NotificationEvent
	InvoiceId     int
	Message       string
	Actor         models.Actor
	CorrelationId string
	OccurredAt    time.Time
}

// StaffDirectory lists the users that receive invoice notifications.
type StaffDirectory interface {
	ElevatedStaff(ctx context.Context) ([]int, error)
}

// NotificationSink stores or forwards one notification for one recipient.
type NotificationSink interface {
	Notify(ctx context.Context, recipientId int, event InvoiceEvent) error
}

// NotificationFanout delivers an event to every elevated staff member except
// the actor. Failures are logged and dropped; nothing is retried.
type NotificationFanout struct {
	Staff       StaffDirectory
	Sinks       []NotificationSink
	Logger      *logrus.Logger
	SinkTimeout time.Duration
}

func NewNotificationFanout(staff StaffDirectory, logger *logrus.Logger, sinks ...NotificationSink) *NotificationFanout {
	return &NotificationFanout{
		Staff:       staff,
		Sinks:       sinks,
		Logger:      logger,
		SinkTimeout: 10 * time.Second,
	}
}

// Publish returns how many notifications were written.
func (f *NotificationFanout) Publish(ctx context.Context, ev InvoiceEvent) int {
	if f == nil || f.Staff == nil || len(f.Sinks) == 0 {
		return 0
	}
	recipients, err := f.Staff.ElevatedStaff(ctx)
	if err != nil {
		config.LogError(f.Logger, "NotificationFanout", "Publish", "listing elevated staff", ev, err)
		return 0
	}

	delivered := 0
	for _, recipientId := range recipients {
		if recipientId == ev.Actor.UserId {
			continue
		}
		for _, sink := range f.Sinks {
			if f.notify(ctx, sink, recipientId, ev) {
				delivered++
			}
		}
	}
	return delivered
}

func (f *NotificationFanout) notify(ctx context.Context, sink NotificationSink, recipientId int, ev InvoiceEvent) (ok bool) {
	timeout := f.SinkTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			f.Logger.WithFields(logrus.Fields{
				"module":      "NotificationFanout",
				"recipientId": recipientId,
				"event":       ev.Kind,
			}).Errorf("notification sink panicked: %v", r)
			ok = false
		}
	}()
	if err := sink.Notify(ctx, recipientId, ev); err != nil {
		config.LogError(f.Logger, "NotificationFanout", "notify", "writing notification", map[string]any{
			"recipientId":   recipientId,
			"event":         ev.Kind,
			"invoiceId":     ev.InvoiceId,
			"correlationId": ev.CorrelationId,
		}, err)
		return false
	}
	return true
}
