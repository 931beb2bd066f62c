package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	db       *gorm.DB
	wf       *InvoiceWorkflow
	logs     *test.Hook
	company  models.Company
	customer models.Customer
	admin    models.User
	manager  models.User
	clerk    models.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.InitConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.MigrateTable(db))

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		db:       db,
		logs:     hook,
		company:  models.Company{Name: "Sri Balaji Fruits"},
		customer: models.Customer{Name: "Ravi Stores", Phone: "9876543210"},
		admin:    models.User{Username: "admin", Name: "Admin", Password: "x", Role: models.UserRoleAdmin},
		manager:  models.User{Username: "manager", Name: "Manager", Password: "x", Role: models.UserRoleManager},
	}
	require.NoError(t, db.Create(&h.company).Error)
	require.NoError(t, db.Create(&h.customer).Error)
	require.NoError(t, db.Create(&h.admin).Error)
	require.NoError(t, db.Create(&h.manager).Error)
	clerk := models.User{Username: "clerk", Name: "Clerk", Password: "x", Role: models.UserRoleStaff}
	require.NoError(t, db.Create(&clerk).Error)
	h.clerk = models.Actor{UserId: clerk.ID, Role: clerk.Role}

	h.wf = &InvoiceWorkflow{
		DB:          db,
		Logger:      logger,
		Timeout:     10 * time.Second,
		StockPolicy: models.UpdateStockAdjust,
		Now:         func() time.Time { return testNow },
		Notifier: NewNotificationFanout(&UserStaffDirectory{DB: db, Logger: logger}, logger,
			&DBNotificationSink{DB: db}),
	}
	t.Cleanup(h.wf.WaitForNotifications)
	return h
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (h *harness) stock(t *testing.T, name, qty, price string) models.SellableStock {
	t.Helper()
	s := models.SellableStock{PurchaseId: 1, ProductName: name, Unit: "kg", SellingPrice: dec(price), Quantity: dec(qty)}
	require.NoError(t, h.db.Create(&s).Error)
	return s
}

func (h *harness) crate(t *testing.T, name string, qty int) models.CrateStock {
	t.Helper()
	c := models.CrateStock{CrateName: name, Quantity: qty}
	require.NoError(t, h.db.Create(&c).Error)
	return c
}

func (h *harness) intent(items ...models.NewInvoiceItem) *models.NewInvoice {
	return &models.NewInvoice{
		CompanyId:  h.company.ID,
		CustomerId: h.customer.ID,
		Igst:       dec("5"),
		Items:      items,
	}
}

func line(productId int, qty, price string) models.NewInvoiceItem {
	p := dec(price)
	return models.NewInvoiceItem{ProductId: productId, Quantity: dec(qty), UnitPrice: &p}
}

func crateLine(productId int, qty, price string, crateId, crateQty int) models.NewInvoiceItem {
	it := line(productId, qty, price)
	it.CrateId = &crateId
	it.CrateQuantity = crateQty
	return it
}

func (h *harness) sellableQty(t *testing.T, id int) decimal.Decimal {
	t.Helper()
	s, err := h.wf.GetSellableStock(context.Background(), id)
	require.NoError(t, err)
	return s.Quantity
}

func (h *harness) crateQty(t *testing.T, id int) int {
	t.Helper()
	c, err := h.wf.GetCrateStock(context.Background(), id)
	require.NoError(t, err)
	return c.Quantity
}

func (h *harness) notifications(t *testing.T) []models.Notification {
	t.Helper()
	h.wf.WaitForNotifications()
	var rows []models.Notification
	require.NoError(t, h.db.Order("id").Find(&rows).Error)
	return rows
}

func (h *harness) requireLedgerClean(t *testing.T) {
	t.Helper()
	problems, err := models.CheckLedger(h.db)
	require.NoError(t, err)
	require.Empty(t, problems)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func requireCode(t *testing.T, err error, code models.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, models.ErrorCodeOf(err), "error: %v", err)
}

// recordingSink keeps every notification it is handed.
type recordingSink struct {
	mu   sync.Mutex
	got  []sentNotification
	fail error
}

type sentNotification struct {
	RecipientId int
	Event       InvoiceEvent
}

func (s *recordingSink) Notify(_ context.Context, recipientId int, ev InvoiceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, sentNotification{RecipientId: recipientId, Event: ev})
	return nil
}

// blockingSink holds every delivery until release is closed.
type blockingSink struct {
	started chan int
	release chan struct{}
	recordingSink
}

func newBlockingSink() *blockingSink {
	return &blockingSink{started: make(chan int, 16), release: make(chan struct{})}
}

func (s *blockingSink) Notify(ctx context.Context, recipientId int, ev InvoiceEvent) error {
	s.started <- recipientId
	<-s.release
	return s.recordingSink.Notify(ctx, recipientId, ev)
}

func (s *recordingSink) recipients() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.got))
	for _, n := range s.got {
		ids = append(ids, n.RecipientId)
	}
	return ids
}

type staticStaff struct {
	ids []int
	err error
}

func (s staticStaff) ElevatedStaff(context.Context) ([]int, error) { return s.ids, s.err }

var errSinkDown = errors.New("sink down")

// busyLocker refuses every invoice, like a lock held by another instance.
type busyLocker struct{ calls int }

func (l *busyLocker) Lock(_ context.Context, invoiceId int) (func(), error) {
	l.calls++
	return func() {}, &models.ConflictError{Reason: fmt.Sprintf("invoice %d is being modified by another request, retry", invoiceId)}
}

// countingLocker grants every lock and counts releases.
type countingLocker struct {
	mu       sync.Mutex
	locked   []int
	released int
}

func (l *countingLocker) Lock(_ context.Context, invoiceId int) (func(), error) {
	l.mu.Lock()
	l.locked = append(l.locked, invoiceId)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}
