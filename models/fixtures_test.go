package models_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/trading_backend/config"
	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// openTestDB returns a private in-memory database on a single connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), config.InitConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.MigrateTable(db))
	return db
}

type fixture struct {
	db       *gorm.DB
	company  models.Company
	customer models.Customer
	car      models.Car
	actor    models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       openTestDB(t),
		company:  models.Company{Name: "Sri Balaji Fruits"},
		customer: models.Customer{Name: "Ravi Stores", Phone: "9876543210"},
		car:      models.Car{PlateNumber: "KA-01-AB-1234"},
		actor:    models.Actor{UserId: 7, Role: models.UserRoleStaff},
	}
	require.NoError(t, f.db.Create(&f.company).Error)
	require.NoError(t, f.db.Create(&f.customer).Error)
	require.NoError(t, f.db.Create(&f.car).Error)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func (f *fixture) stock(t *testing.T, name, qty, price string) models.SellableStock {
	t.Helper()
	s := models.SellableStock{PurchaseId: 1, ProductName: name, Unit: "kg", SellingPrice: dec(price), Quantity: dec(qty)}
	require.NoError(t, f.db.Create(&s).Error)
	return s
}

func (f *fixture) crate(t *testing.T, name string, qty int) models.CrateStock {
	t.Helper()
	c := models.CrateStock{CrateName: name, Quantity: qty}
	require.NoError(t, f.db.Create(&c).Error)
	return c
}

func (f *fixture) intent(items ...models.NewInvoiceItem) *models.NewInvoice {
	return &models.NewInvoice{
		CompanyId:  f.company.ID,
		CustomerId: f.customer.ID,
		Igst:       dec("5"),
		Items:      items,
	}
}

func line(productId int, qty, price string) models.NewInvoiceItem {
	return models.NewInvoiceItem{ProductId: productId, Quantity: dec(qty), UnitPrice: decPtr(price)}
}

func crateLine(productId int, qty, price string, crateId, crateQty int) models.NewInvoiceItem {
	it := line(productId, qty, price)
	it.CrateId = intPtr(crateId)
	it.CrateQuantity = crateQty
	return it
}

func (f *fixture) create(in *models.NewInvoice) (*models.Invoice, error) {
	var out *models.Invoice
	err := f.db.Transaction(func(tx *gorm.DB) error {
		inv, err := models.CreateInvoice(tx, in, f.actor, testNow)
		out = inv
		return err
	})
	return out, err
}

func (f *fixture) mustCreate(t *testing.T, in *models.NewInvoice) *models.Invoice {
	t.Helper()
	inv, err := f.create(in)
	require.NoError(t, err)
	return inv
}

func (f *fixture) update(id int, in *models.NewInvoice, policy models.UpdateStockPolicy) (*models.Invoice, error) {
	var out *models.Invoice
	err := f.db.Transaction(func(tx *gorm.DB) error {
		inv, err := models.UpdateInvoice(tx, id, in, policy)
		out = inv
		return err
	})
	return out, err
}

func (f *fixture) delete(id int) error {
	return f.db.Transaction(func(tx *gorm.DB) error {
		_, err := models.DeleteInvoice(tx, id)
		return err
	})
}

func (f *fixture) pay(id int, amount, method string) (*models.Invoice, error) {
	var out *models.Invoice
	err := f.db.Transaction(func(tx *gorm.DB) error {
		inv, err := models.ApplyPayment(tx, id, &models.NewPayment{Amount: dec(amount), PaymentMethod: method}, f.actor, testNow)
		out = inv
		return err
	})
	return out, err
}

func (f *fixture) sellableQty(t *testing.T, id int) decimal.Decimal {
	t.Helper()
	s, err := models.GetSellableStock(f.db, id)
	require.NoError(t, err)
	return s.Quantity
}

func (f *fixture) crateQty(t *testing.T, id int) int {
	t.Helper()
	c, err := models.GetCrateStock(f.db, id)
	require.NoError(t, err)
	return c.Quantity
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) requireLedgerClean(t *testing.T) {
	t.Helper()
	problems, err := models.CheckLedger(f.db)
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

func asInsufficient(t *testing.T, err error) *models.InsufficientStockError {
	t.Helper()
	var ise *models.InsufficientStockError
	require.True(t, errors.As(err, &ise), "expected InsufficientStockError, got %v", err)
	return ise
}
