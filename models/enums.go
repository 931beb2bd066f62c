package models

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid:
		return true
	}
	return false
}

type NotificationEvent string

const (
	NotificationEventInvoiceCreated  NotificationEvent = "INVOICE_CREATED"
	NotificationEventInvoiceUpdated  NotificationEvent = "INVOICE_UPDATED"
	NotificationEventPaymentReceived NotificationEvent = "PAYMENT_RECEIVED"
	NotificationEventInvoiceDeleted  NotificationEvent = "INVOICE_DELETED"
)

type UserRole string

const (
	UserRoleAdmin   UserRole = "ADMIN"
	UserRoleManager UserRole = "MANAGER"
	UserRoleStaff   UserRole = "STAFF"
)

// ElevatedRoles receive invoice notifications.
var ElevatedRoles = []UserRole{UserRoleAdmin, UserRoleManager}

func (r UserRole) IsElevated() bool {
	for _, e := range ElevatedRoles {
		if r == e {
			return true
		}
	}
	return false
}

// UpdateStockPolicy controls whether invoice edits move stock.
type UpdateStockPolicy string

const (
	// UpdateStockAdjust applies quantity and crate deltas of an edit to stock.
	UpdateStockAdjust UpdateStockPolicy = "adjust"
	// UpdateStockNeutral leaves stock untouched on edit; only create and delete move stock.
	UpdateStockNeutral UpdateStockPolicy = "neutral"
)
