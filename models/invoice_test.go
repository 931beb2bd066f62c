package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInvoiceTotalsAndStatus(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")

	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	requireDecimal(t, "500", inv.TotalAmount)
	requireDecimal(t, "25", inv.TaxAmount)
	requireDecimal(t, "525", inv.NetAmount)
	requireDecimal(t, "0", inv.AmountPaid)
	assert.Equal(t, models.PaymentStatusUnpaid, inv.PaymentStatus)
	assert.Equal(t, f.actor.UserId, inv.UserId)
	require.NotNil(t, inv.InvoiceNumber)
	assert.Equal(t, "INV-000001", *inv.InvoiceNumber)
	require.NotNil(t, inv.Company)
	assert.Equal(t, f.company.Name, inv.Company.Name)
	require.NotNil(t, inv.Customer)
	assert.Equal(t, f.customer.Name, inv.Customer.Name)

	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Apples", inv.Items[0].ProductName)
	assert.Equal(t, "kg", inv.Items[0].Unit)
	requireDecimal(t, "500", inv.Items[0].TotalPrice)

	requireDecimal(t, "90", f.sellableQty(t, apples.ID))
	f.requireLedgerClean(t)
}

func TestCreateInvoiceDefaultsUnitPriceToSellingPrice(t *testing.T) {
	f := newFixture(t)
	mango := f.stock(t, "Mango", "20", "80")

	inv := f.mustCreate(t, f.intent(models.NewInvoiceItem{ProductId: mango.ID, Quantity: dec("2")}))

	requireDecimal(t, "80", inv.Items[0].UnitPrice)
	requireDecimal(t, "160", inv.TotalAmount)
}

func TestCreateInvoiceReservesCrates(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	plastic := f.crate(t, "Plastic crate", 10)

	in := f.intent(crateLine(apples.ID, "10", "50", plastic.ID, 3))
	in.CarId = intPtr(f.car.ID)
	inv := f.mustCreate(t, in)

	require.Len(t, inv.Items, 1)
	require.NotNil(t, inv.Items[0].CrateName)
	assert.Equal(t, "Plastic crate", *inv.Items[0].CrateName)
	assert.Equal(t, 3, inv.Items[0].CrateQuantity)
	require.NotNil(t, inv.Car)
	assert.Equal(t, f.car.PlateNumber, inv.Car.PlateNumber)
	assert.Equal(t, 7, f.crateQty(t, plastic.ID))
}

func TestCreateInvoiceInsufficientStockLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	onions := f.stock(t, "Onions", "5", "30")

	_, err := f.create(f.intent(line(onions.ID, "20", "30")))

	requireCode(t, err, models.ErrorCodeInsufficientStock)
	ise := asInsufficient(t, err)
	assert.Equal(t, "Onions", ise.Name)
	requireDecimal(t, "5", ise.Available)
	requireDecimal(t, "20", ise.Requested)
	requireDecimal(t, "5", f.sellableQty(t, onions.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
	assert.Zero(t, f.count(t, &models.InvoiceItem{}))
}

func TestCreateInvoiceSecondItemShortRollsBackFirst(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	onions := f.stock(t, "Onions", "5", "30")

	_, err := f.create(f.intent(line(apples.ID, "10", "50"), line(onions.ID, "6", "30")))

	requireCode(t, err, models.ErrorCodeInsufficientStock)
	requireDecimal(t, "100", f.sellableQty(t, apples.ID))
	requireDecimal(t, "5", f.sellableQty(t, onions.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
	assert.Zero(t, f.count(t, &models.InvoiceItem{}))
}

func TestCreateInvoiceInsufficientCratesRollsBack(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	wooden := f.crate(t, "Wooden crate", 2)

	_, err := f.create(f.intent(crateLine(apples.ID, "10", "50", wooden.ID, 3)))

	requireCode(t, err, models.ErrorCodeInsufficientStock)
	assert.Equal(t, "crate", asInsufficient(t, err).Resource)
	requireDecimal(t, "100", f.sellableQty(t, apples.ID))
	assert.Equal(t, 2, f.crateQty(t, wooden.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
}

func TestCreateInvoiceUnresolvableReferences(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")

	cases := []struct {
		name     string
		mutate   func(in *models.NewInvoice)
		resource string
	}{
		{"company", func(in *models.NewInvoice) { in.CompanyId = 999 }, "company"},
		{"customer", func(in *models.NewInvoice) { in.CustomerId = 999 }, "customer"},
		{"car", func(in *models.NewInvoice) { in.CarId = intPtr(999) }, "car"},
		{"product", func(in *models.NewInvoice) { in.Items[0].ProductId = 999 }, "product"},
		{"crate", func(in *models.NewInvoice) { in.Items[0].CrateId = intPtr(999); in.Items[0].CrateQuantity = 1 }, "crate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := f.intent(line(apples.ID, "1", "50"))
			tc.mutate(in)
			_, err := f.create(in)
			requireCode(t, err, models.ErrorCodeNotFound)
			var nf *models.NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, tc.resource, nf.Resource)
		})
	}
	requireDecimal(t, "100", f.sellableQty(t, apples.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
}

func TestCreateInvoiceValidationFailsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	in := f.intent()
	_, err := f.create(in)
	requireCode(t, err, models.ErrorCodeValidation)
	assert.Zero(t, f.count(t, &models.Invoice{}))
}

func TestCreateInvoiceDuplicateNumberConflicts(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")

	in := f.intent(line(apples.ID, "1", "50"))
	in.InvoiceNumber = strPtr("A-100")
	f.mustCreate(t, in)

	again := f.intent(line(apples.ID, "1", "50"))
	again.InvoiceNumber = strPtr("A-100")
	_, err := f.create(again)
	requireCode(t, models.TranslateStoreError(err), models.ErrorCodeConflict)
	requireDecimal(t, "99", f.sellableQty(t, apples.ID))
}

func TestCreateInvoiceWithInitialPayment(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")

	in := f.intent(line(apples.ID, "10", "50"))
	in.PaymentStatus = models.PaymentStatusPending
	in.AmountPaid = dec("200")
	in.PaymentMethod = strPtr("UPI")
	inv := f.mustCreate(t, in)

	requireDecimal(t, "200", inv.AmountPaid)
	assert.Equal(t, models.PaymentStatusPending, inv.PaymentStatus)
	require.Len(t, inv.Payments, 1)
	assert.Equal(t, "UPI", inv.Payments[0].PaymentMethod)
	f.requireLedgerClean(t)

	full := f.intent(line(apples.ID, "1", "50"))
	full.Igst = dec("0")
	full.PaymentStatus = models.PaymentStatusPaid
	full.AmountPaid = dec("50")
	full.PaymentMethod = strPtr("Cash")
	paid := f.mustCreate(t, full)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
}

func TestCreateInvoicePaidStatusNeedsFullPayment(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")

	in := f.intent(line(apples.ID, "10", "50"))
	in.PaymentStatus = models.PaymentStatusPaid
	_, err := f.create(in)
	requireCode(t, err, models.ErrorCodeValidation)

	over := f.intent(line(apples.ID, "10", "50"))
	over.AmountPaid = dec("600")
	over.PaymentMethod = strPtr("Cash")
	_, err = f.create(over)
	requireCode(t, err, models.ErrorCodeOverpayment)

	requireDecimal(t, "100", f.sellableQty(t, apples.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
}

func TestDeleteInvoiceRestoresStockAndCrates(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	plastic := f.crate(t, "Plastic crate", 13)

	inv := f.mustCreate(t, f.intent(crateLine(apples.ID, "10", "50", plastic.ID, 3)))
	assert.Equal(t, 10, f.crateQty(t, plastic.ID))
	_, err := f.pay(inv.ID, "100", "Cash")
	require.NoError(t, err)

	require.NoError(t, f.delete(inv.ID))

	assert.Equal(t, 13, f.crateQty(t, plastic.ID))
	requireDecimal(t, "100", f.sellableQty(t, apples.ID))
	assert.Zero(t, f.count(t, &models.Invoice{}))
	assert.Zero(t, f.count(t, &models.InvoiceItem{}))
	assert.Zero(t, f.count(t, &models.Payment{}))
}

func TestDeleteInvoiceMissingStockAborts(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	pears := f.stock(t, "Pears", "50", "60")

	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50"), line(pears.ID, "5", "60")))
	require.NoError(t, f.db.Delete(&models.SellableStock{}, pears.ID).Error)

	err := f.delete(inv.ID)

	requireCode(t, err, models.ErrorCodeNotFound)
	var nf *models.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Pears", nf.Name)
	requireDecimal(t, "90", f.sellableQty(t, apples.ID))
	assert.Equal(t, int64(1), f.count(t, &models.Invoice{}))
	assert.Equal(t, int64(2), f.count(t, &models.InvoiceItem{}))
}

func TestDeleteInvoiceNotFound(t *testing.T) {
	f := newFixture(t)
	requireCode(t, f.delete(42), models.ErrorCodeNotFound)
}

func TestCreateThenDeleteRoundTrip(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100.5", "45")
	pears := f.stock(t, "Pears", "50", "60")
	plastic := f.crate(t, "Plastic crate", 40)
	wooden := f.crate(t, "Wooden crate", 8)

	inv := f.mustCreate(t, f.intent(
		crateLine(apples.ID, "12.25", "50", plastic.ID, 6),
		crateLine(pears.ID, "50", "60", wooden.ID, 8),
	))
	requireDecimal(t, "88.25", f.sellableQty(t, apples.ID))
	requireDecimal(t, "0", f.sellableQty(t, pears.ID))

	require.NoError(t, f.delete(inv.ID))

	requireDecimal(t, "100.5", f.sellableQty(t, apples.ID))
	requireDecimal(t, "50", f.sellableQty(t, pears.ID))
	assert.Equal(t, 40, f.crateQty(t, plastic.ID))
	assert.Equal(t, 8, f.crateQty(t, wooden.ID))
}

func TestGetInvoiceIsStable(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "3", "33.3333")))

	first, err := models.GetInvoice(f.db, inv.ID)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := models.GetInvoice(f.db, inv.ID)
		require.NoError(t, err)
		assert.True(t, first.NetAmount.Equal(again.NetAmount))
		assert.True(t, first.TotalAmount.Equal(again.TotalAmount))
	}

	_, err = models.GetInvoice(f.db, 404)
	requireCode(t, err, models.ErrorCodeNotFound)
}
