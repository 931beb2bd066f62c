package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment is one entry of an invoice's append-only payment history.
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMethod string          `gorm:"size:100;not null" json:"payment_method"`
	PaymentDate   time.Time       `gorm:"not null" json:"payment_date"`
	UserId        int             `gorm:"index;not null;default:0" json:"user_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPayment struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,max=100"`
}

// ApplyPayment adds a payment to an invoice inside tx.
//
// Checks run in order: invoice exists, amount is positive, method is given,
// invoice is not already PAID, payment does not exceed the balance due.
// A payment that covers the net amount moves the invoice to PAID; a partial
// payment leaves the status as it was.
func ApplyPayment(tx *gorm.DB, invoiceId int, input *NewPayment, actor Actor, now time.Time) (*Invoice, error) {
	inv, err := lockInvoice(tx, invoiceId)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if inv.PaymentStatus == PaymentStatusPaid {
		return nil, &AlreadyPaidError{InvoiceId: inv.ID}
	}
	if err := recordPayment(tx, inv, input.Amount, input.PaymentMethod, actor, now); err != nil {
		return nil, err
	}
	return GetInvoice(tx, inv.ID)
}

// recordPayment updates the paid amount and status of a locked invoice and appends the Payment row.
func recordPayment(tx *gorm.DB, inv *Invoice, amount decimal.Decimal, method string, actor Actor, now time.Time) error {
	paid := inv.AmountPaid.Add(amount)
	if paid.GreaterThan(inv.NetAmount) {
		return &OverpaymentError{
			InvoiceId:  inv.ID,
			NetAmount:  inv.NetAmount,
			AmountPaid: inv.AmountPaid,
			Amount:     amount,
		}
	}

	inv.AmountPaid = paid
	if !paid.LessThan(inv.NetAmount) {
		inv.PaymentStatus = PaymentStatusPaid
	}
	inv.PaymentMethod = &method
	err := tx.Model(inv).
		Select("amount_paid", "payment_status", "payment_method").
		Updates(inv).Error
	if err != nil {
		return err
	}

	return tx.Create(&Payment{
		InvoiceId:     inv.ID,
		Amount:        amount,
		PaymentMethod: method,
		PaymentDate:   now,
		UserId:        actor.UserId,
	}).Error
}

func ListPayments(db *gorm.DB, invoiceId int) ([]Payment, error) {
	ok, err := recordExists[Invoice](db, invoiceId)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Resource: "invoice", ID: invoiceId}
	}
	var payments []Payment
	err = db.Where("invoice_id = ?", invoiceId).Order("payment_date, id").Find(&payments).Error
	return payments, err
}
