package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"bitbucket.org/mmdatafocus/trading_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("trading-backend/workflow")

// InvoiceWorkflow is the only writer of invoices, their items and payments,
// and the stock rows they consume. Every operation runs as one transaction.
type InvoiceWorkflow struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Locker      InvoiceLocker
	Notifier    *NotificationFanout
	Timeout     time.Duration
	StockPolicy models.UpdateStockPolicy
	Now         func() time.Time

	pending sync.WaitGroup
}

// NewInvoiceWorkflow wires the workflow from environment configuration.
// Redis and Pub/Sub pieces are only attached when they are connected.
func NewInvoiceWorkflow(db *gorm.DB, logger *logrus.Logger) *InvoiceWorkflow {
	timeout := config.InvoiceTxTimeout()
	w := &InvoiceWorkflow{
		DB:          db,
		Logger:      logger,
		Timeout:     timeout,
		StockPolicy: models.UpdateStockPolicy(config.InvoiceUpdateStockPolicy()),
		Now:         time.Now,
	}
	if lock := config.GetRedisLock(); lock != nil {
		w.Locker = NewRedisInvoiceLocker(lock, logger, timeout)
	}

	staff := &UserStaffDirectory{DB: db, Logger: logger}
	if config.GetRedisDB() != nil {
		staff.CacheTTL = config.StaffCacheTTL()
	}
	sinks := []NotificationSink{&DBNotificationSink{DB: db}}
	if config.NotificationTopic() != "" {
		sinks = append(sinks, NewPubSubNotificationSink())
	}
	w.Notifier = NewNotificationFanout(staff, logger, sinks...)
	return w
}

func (w *InvoiceWorkflow) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *InvoiceWorkflow) logger() *logrus.Logger {
	if w.Logger == nil {
		return config.GetLogger()
	}
	return w.Logger
}

// run executes fn in one transaction bounded by the workflow timeout. When
// invoiceId is non-zero the per-invoice lock is held for the whole transaction.
func (w *InvoiceWorkflow) run(ctx context.Context, op string, invoiceId int, fn func(tx *gorm.DB) error) (err error) {
	ctx, span := tracer.Start(ctx, "InvoiceWorkflow."+op)
	span.SetAttributes(attribute.Int("invoice.id", invoiceId))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(models.ErrorCodeOf(err)))
		}
		span.End()
	}()

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	if invoiceId > 0 && w.Locker != nil {
		release, lockErr := w.Locker.Lock(ctx, invoiceId)
		if lockErr != nil {
			return w.finish(ctx, op, invoiceId, lockErr)
		}
		defer release()
	}

	err = w.DB.WithContext(ctx).Transaction(fn)
	return w.finish(ctx, op, invoiceId, err)
}

func (w *InvoiceWorkflow) finish(ctx context.Context, op string, invoiceId int, err error) error {
	if err == nil {
		return nil
	}
	err = models.TranslateStoreError(err)
	if models.ErrorCodeOf(err) == "" && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = &models.TimeoutError{Err: err}
	}
	switch models.ErrorCodeOf(err) {
	case models.ErrorCodeValidation, models.ErrorCodeNotFound, models.ErrorCodeInsufficientStock,
		models.ErrorCodeOverpayment, models.ErrorCodeAlreadyPaid:
		// caller errors, reported through the response only
	default:
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		config.LogError(w.logger(), "InvoiceWorkflow", op, "transaction rolled back", map[string]any{
			"invoiceId":     invoiceId,
			"correlationId": correlationId,
		}, err)
	}
	return err
}

// announce fans out after commit in the background. The caller does not wait
// for delivery and request cancellation does not stop it.
func (w *InvoiceWorkflow) announce(ctx context.Context, kind models.NotificationEvent, invoiceId int, actor models.Actor, message string) {
	if w.Notifier == nil {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	ev := InvoiceEvent{
		Kind:          kind,
		InvoiceId:     invoiceId,
		Message:       message,
		Actor:         actor,
		CorrelationId: correlationId,
		OccurredAt:    w.now(),
	}
	detached := context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger().WithFields(logrus.Fields{
					"module":    "InvoiceWorkflow",
					"event":     ev.Kind,
					"invoiceId": ev.InvoiceId,
				}).Errorf("notification fan-out panicked: %v", r)
			}
		}()
		w.Notifier.Publish(detached, ev)
	}()
}

// WaitForNotifications blocks until every fan-out started so far has finished.
func (w *InvoiceWorkflow) WaitForNotifications() {
	w.pending.Wait()
}

func (w *InvoiceWorkflow) Create(ctx context.Context, input *models.NewInvoice, actor models.Actor) (*models.Invoice, error) {
	if input == nil {
		return nil, &models.ValidationError{Field: "invoice", Message: "is required"}
	}
	invoice, replayed, err := w.idempotent(ctx, "Create", models.IdempotencyScopeCreateInvoice, 0, actor, func(tx *gorm.DB) (*models.Invoice, error) {
		return models.CreateInvoice(tx, input, actor, w.now())
	})
	if err != nil || replayed {
		return invoice, err
	}
	w.announce(ctx, models.NotificationEventInvoiceCreated, invoice.ID, actor,
		fmt.Sprintf("New invoice %s created, net amount %s", invoice.Number(), invoice.NetAmount.StringFixed(2)))
	return invoice, nil
}

func (w *InvoiceWorkflow) Update(ctx context.Context, id int, input *models.NewInvoice, actor models.Actor) (*models.Invoice, error) {
	if input == nil {
		return nil, &models.ValidationError{Field: "invoice", Message: "is required"}
	}
	var invoice *models.Invoice
	err := w.run(ctx, "Update", id, func(tx *gorm.DB) error {
		var err error
		invoice, err = models.UpdateInvoice(tx, id, input, w.StockPolicy)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.announce(ctx, models.NotificationEventInvoiceUpdated, invoice.ID, actor,
		fmt.Sprintf("Invoice %s was updated, net amount %s", invoice.Number(), invoice.NetAmount.StringFixed(2)))
	return invoice, nil
}

func (w *InvoiceWorkflow) Delete(ctx context.Context, id int, actor models.Actor) error {
	var deleted *models.Invoice
	err := w.run(ctx, "Delete", id, func(tx *gorm.DB) error {
		var err error
		deleted, err = models.DeleteInvoice(tx, id)
		return err
	})
	if err != nil {
		return err
	}
	w.announce(ctx, models.NotificationEventInvoiceDeleted, id, actor,
		fmt.Sprintf("Invoice %s was deleted", deleted.Number()))
	return nil
}

func (w *InvoiceWorkflow) ApplyPayment(ctx context.Context, invoiceId int, input *models.NewPayment, actor models.Actor) (*models.Invoice, error) {
	if input == nil {
		return nil, &models.ValidationError{Field: "payment", Message: "is required"}
	}
	invoice, replayed, err := w.idempotent(ctx, "ApplyPayment", models.IdempotencyScopeApplyPayment, invoiceId, actor, func(tx *gorm.DB) (*models.Invoice, error) {
		return models.ApplyPayment(tx, invoiceId, input, actor, w.now())
	})
	if err != nil || replayed {
		return invoice, err
	}
	w.announce(ctx, models.NotificationEventPaymentReceived, invoice.ID, actor,
		fmt.Sprintf("Payment of %s received for invoice %s (%s)", input.Amount.StringFixed(2), invoice.Number(), invoice.PaymentStatus))
	return invoice, nil
}

// idempotent runs mutate once per client supplied idempotency key. A repeated
// key returns the invoice the first request produced without mutating again.
// invoiceId is 0 for creates; for payments the key must belong to that invoice.
func (w *InvoiceWorkflow) idempotent(ctx context.Context, op, scope string, invoiceId int, actor models.Actor, mutate func(tx *gorm.DB) (*models.Invoice, error)) (*models.Invoice, bool, error) {
	key, _ := utils.GetIdempotencyKeyFromContext(ctx)
	if len(key) > 255 {
		return nil, false, &models.ValidationError{Field: "idempotency_key", Message: "must be at most 255 characters"}
	}
	var (
		invoice  *models.Invoice
		replayed bool
	)
	replay := func(tx *gorm.DB) (bool, error) {
		resourceId, err := models.FindIdempotencyKey(tx, scope, actor.UserId, key)
		if err != nil || resourceId == 0 {
			return false, err
		}
		if invoiceId > 0 && resourceId != invoiceId {
			return false, &models.ConflictError{Reason: fmt.Sprintf("idempotency key %q was already used for invoice %d", key, resourceId)}
		}
		invoice, err = models.GetInvoice(tx, resourceId)
		if invoiceId == 0 && models.ErrorCodeOf(err) == models.ErrorCodeNotFound {
			// the key stays spent; creating again under it would hide the delete
			return false, &models.ConflictError{Reason: fmt.Sprintf("idempotency key %q was used for invoice %d, which has since been deleted", key, resourceId)}
		}
		return err == nil, err
	}

	err := w.run(ctx, op, invoiceId, func(tx *gorm.DB) error {
		if key != "" {
			found, err := replay(tx)
			if err != nil || found {
				replayed = found
				return err
			}
		}
		var err error
		invoice, err = mutate(tx)
		if err != nil {
			return err
		}
		if key == "" {
			return nil
		}
		return models.RecordIdempotencyKey(tx, scope, actor.UserId, key, invoice.ID)
	})
	if err != nil && key != "" && models.ErrorCodeOf(err) == models.ErrorCodeConflict {
		// a concurrent request with the same key may have committed first
		if found, replayErr := replay(w.DB.WithContext(ctx)); replayErr == nil && found {
			return invoice, true, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return invoice, replayed, nil
}

func (w *InvoiceWorkflow) Get(ctx context.Context, id int) (*models.Invoice, error) {
	invoice, err := models.GetInvoice(w.DB.WithContext(ctx), id)
	return invoice, models.TranslateStoreError(err)
}

func (w *InvoiceWorkflow) ListPayments(ctx context.Context, invoiceId int) ([]models.Payment, error) {
	payments, err := models.ListPayments(w.DB.WithContext(ctx), invoiceId)
	return payments, models.TranslateStoreError(err)
}

func (w *InvoiceWorkflow) GetSellableStock(ctx context.Context, id int) (*models.SellableStock, error) {
	stock, err := models.GetSellableStock(w.DB.WithContext(ctx), id)
	return stock, models.TranslateStoreError(err)
}

func (w *InvoiceWorkflow) GetCrateStock(ctx context.Context, id int) (*models.CrateStock, error) {
	stock, err := models.GetCrateStock(w.DB.WithContext(ctx), id)
	return stock, models.TranslateStoreError(err)
}

// ListNotifications returns the notifications addressed to recipientId.
func (w *InvoiceWorkflow) ListNotifications(ctx context.Context, recipientId int) ([]models.Notification, error) {
	rows, err := models.ListNotifications(w.DB.WithContext(ctx), recipientId)
	return rows, models.TranslateStoreError(err)
}
