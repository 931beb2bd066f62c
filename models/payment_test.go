package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/trading_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPaymentExactAmountSettles(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	paid, err := f.pay(inv.ID, "525", "Cash")
	require.NoError(t, err)
	requireDecimal(t, "525", paid.AmountPaid)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentMethod)
	assert.Equal(t, "Cash", *paid.PaymentMethod)
	require.Len(t, paid.Payments, 1)
	assert.True(t, paid.Payments[0].PaymentDate.Equal(testNow))

	_, err = f.pay(inv.ID, "1", "Cash")
	requireCode(t, err, models.ErrorCodeAlreadyPaid)
	f.requireLedgerClean(t)
}

func TestApplyPaymentRejectsOverpayment(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	_, err := f.pay(inv.ID, "600", "Cash")
	requireCode(t, err, models.ErrorCodeOverpayment)

	got, err := models.GetInvoice(f.db, inv.ID)
	require.NoError(t, err)
	requireDecimal(t, "0", got.AmountPaid)
	assert.Empty(t, got.Payments)
	assert.Equal(t, models.PaymentStatusUnpaid, got.PaymentStatus)
}

func TestApplyPaymentAccumulatesPartialPayments(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	steps := []struct {
		amount string
		method string
		paid   string
		status models.PaymentStatus
	}{
		{"100", "Cash", "100", models.PaymentStatusUnpaid},
		{"200.5", "UPI", "300.5", models.PaymentStatusUnpaid},
		{"224.5", "Cheque", "525", models.PaymentStatusPaid},
	}
	for _, s := range steps {
		got, err := f.pay(inv.ID, s.amount, s.method)
		require.NoError(t, err)
		requireDecimal(t, s.paid, got.AmountPaid)
		assert.Equal(t, s.status, got.PaymentStatus)
		assert.Equal(t, s.method, *got.PaymentMethod)
		assert.False(t, got.AmountPaid.GreaterThan(got.NetAmount))
	}

	payments, err := models.ListPayments(f.db, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "UPI", payments[1].PaymentMethod)
	assert.Equal(t, f.actor.UserId, payments[0].UserId)
	f.requireLedgerClean(t)
}

func TestApplyPaymentKeepsPendingOnPartialPayment(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	in := f.intent(line(apples.ID, "10", "50"))
	in.PaymentStatus = models.PaymentStatusPending
	inv := f.mustCreate(t, in)

	got, err := f.pay(inv.ID, "25", "Cash")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, got.PaymentStatus)

	got, err = f.pay(inv.ID, "500", "Cash")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
}

func TestApplyPaymentInputChecks(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	_, err := f.pay(999, "0", "Cash")
	requireCode(t, err, models.ErrorCodeNotFound)

	_, err = f.pay(inv.ID, "0", "Cash")
	requireCode(t, err, models.ErrorCodeValidation)

	_, err = f.pay(inv.ID, "-5", "Cash")
	requireCode(t, err, models.ErrorCodeValidation)

	_, err = f.pay(inv.ID, "5", "")
	requireCode(t, err, models.ErrorCodeValidation)

	_, err = models.ListPayments(f.db, 999)
	requireCode(t, err, models.ErrorCodeNotFound)
	assert.Zero(t, f.count(t, &models.Payment{}))
}

func TestApplyPaymentRejectsSubScaleAmount(t *testing.T) {
	f := newFixture(t)
	apples := f.stock(t, "Apples", "100", "45")
	inv := f.mustCreate(t, f.intent(line(apples.ID, "10", "50")))

	_, err := f.pay(inv.ID, "524.99995", "Cash")
	requireCode(t, err, models.ErrorCodeValidation)
	assert.Zero(t, f.count(t, &models.Payment{}))

	paid, err := f.pay(inv.ID, "525", "Cash")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	f.requireLedgerClean(t)
}
