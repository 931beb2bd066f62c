package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Invoice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceNumber *string         `gorm:"size:50;uniqueIndex" json:"invoice_number"`
	CompanyId     int             `gorm:"index;not null" json:"company_id"`
	CustomerId    int             `gorm:"index;not null" json:"customer_id"`
	CarId         *int            `gorm:"index;default:null" json:"car_id"`
	Igst          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"igst"`
	Cgst          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cgst"`
	Sgst          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sgst"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	NetAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"net_amount"`
	AmountPaid    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_paid"`
	PaymentStatus PaymentStatus   `gorm:"size:20;not null;default:UNPAID" json:"payment_status"`
	PaymentMethod *string         `gorm:"size:100;default:null" json:"payment_method"`
	UserId        int             `gorm:"index;not null" json:"user_id"`
	Company       *Company        `gorm:"foreignKey:CompanyId" json:"company,omitempty"`
	Customer      *Customer       `gorm:"foreignKey:CustomerId" json:"customer,omitempty"`
	Car           *Car            `gorm:"foreignKey:CarId" json:"car,omitempty"`
	Items         []InvoiceItem   `gorm:"foreignKey:InvoiceId" json:"items"`
	Payments      []Payment       `gorm:"foreignKey:InvoiceId" json:"payments"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceItem snapshots the product and crate names at sale time.
type InvoiceItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id"`
	ProductId     int             `gorm:"index;not null" json:"product_id"`
	ProductName   string          `gorm:"size:255;not null" json:"product_name"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Unit          string          `gorm:"size:50;default:null" json:"unit"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	CrateId       *int            `gorm:"index;default:null" json:"crate_id"`
	CrateName     *string         `gorm:"size:255;default:null" json:"crate_name"`
	CrateQuantity int             `gorm:"not null;default:0" json:"crate_quantity"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	CompanyId     int              `json:"company_id" validate:"required,gt=0"`
	CustomerId    int              `json:"customer_id" validate:"required,gt=0"`
	Items         []NewInvoiceItem `json:"items" validate:"required,min=1,dive"`
	CarId         *int             `json:"car_id" validate:"omitempty,gt=0"`
	InvoiceNumber *string          `json:"invoice_number" validate:"omitempty,max=50"`
	Igst          decimal.Decimal  `json:"igst" validate:"gte=0,lte=100"`
	Cgst          decimal.Decimal  `json:"cgst" validate:"gte=0,lte=100"`
	Sgst          decimal.Decimal  `json:"sgst" validate:"gte=0,lte=100"`
	PaymentStatus PaymentStatus    `json:"payment_status"`
	AmountPaid    decimal.Decimal  `json:"amount_paid" validate:"gte=0"`
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,max=100"`
}

// NewInvoiceItem is one requested line. A nil UnitPrice sells at the stock's selling price.
type NewInvoiceItem struct {
	ProductId     int              `json:"product_id" validate:"required,gt=0"`
	Quantity      decimal.Decimal  `json:"quantity" validate:"gt=0"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	CrateId       *int             `json:"crate_id" validate:"omitempty,gt=0"`
	CrateQuantity int              `json:"crate_quantity" validate:"gte=0"`
}

func (input *NewInvoice) taxRates() TaxRates {
	return TaxRates{Igst: input.Igst, Cgst: input.Cgst, Sgst: input.Sgst}
}

func (inv *Invoice) taxRates() TaxRates {
	return TaxRates{Igst: inv.Igst, Cgst: inv.Cgst, Sgst: inv.Sgst}
}

func (inv *Invoice) applyTotals(t InvoiceTotals) {
	inv.TotalAmount = t.TotalAmount
	inv.TaxAmount = t.TaxAmount
	inv.NetAmount = t.NetAmount
}

// BalanceDue is what is left to pay.
func (inv *Invoice) BalanceDue() decimal.Decimal {
	return inv.NetAmount.Sub(inv.AmountPaid)
}

// Number returns the invoice number, or its id when none was assigned yet.
func (inv *Invoice) Number() string {
	if inv.InvoiceNumber != nil {
		return *inv.InvoiceNumber
	}
	return fmt.Sprintf("#%d", inv.ID)
}

func defaultInvoiceNumber(id int) string {
	return fmt.Sprintf("INV-%06d", id)
}

// lockInvoice loads the invoice header with a row lock.
func lockInvoice(tx *gorm.DB, id int) (*Invoice, error) {
	var inv Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func invoiceItems(tx *gorm.DB, invoiceId int) ([]InvoiceItem, error) {
	var items []InvoiceItem
	err := tx.Where("invoice_id = ?", invoiceId).Order("id").Find(&items).Error
	return items, err
}

// GetInvoice loads the invoice with its items, payments and parties.
func GetInvoice(db *gorm.DB, id int) (*Invoice, error) {
	var inv Invoice
	err := db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("payment_date, id") }).
		Preload("Company").
		Preload("Customer").
		Preload("Car").
		Where("id = ?", id).
		Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "invoice", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// buildItem turns a requested line into a row using the locked stock snapshots.
func buildItem(l *stockLedger, in NewInvoiceItem) (InvoiceItem, error) {
	stock, err := l.sellableRow(in.ProductId, "")
	if err != nil {
		return InvoiceItem{}, err
	}
	price := stock.SellingPrice
	if in.UnitPrice != nil {
		price = *in.UnitPrice
	}
	item := InvoiceItem{
		ProductId:     in.ProductId,
		ProductName:   stock.ProductName,
		Quantity:      in.Quantity,
		Unit:          stock.Unit,
		UnitPrice:     price,
		TotalPrice:    LineTotal(in.Quantity, price),
		CrateQuantity: in.CrateQuantity,
	}
	if in.CrateId != nil {
		crate, err := l.crateRow(*in.CrateId, "")
		if err != nil {
			return InvoiceItem{}, err
		}
		crateId, crateName := crate.ID, crate.CrateName
		item.CrateId = &crateId
		item.CrateName = &crateName
	}
	return item, nil
}

// CreateInvoice persists a new invoice and takes its stock inside tx.
// Nothing is written when validation or party resolution fails; any later
// failure must roll tx back.
func CreateInvoice(tx *gorm.DB, input *NewInvoice, actor Actor, now time.Time) (*Invoice, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := resolveParties(tx, input.CompanyId, input.CustomerId, input.CarId); err != nil {
		return nil, err
	}

	ledger := newStockLedger(tx)
	var productIds, crateIds []int
	for _, in := range input.Items {
		productIds = append(productIds, in.ProductId)
		if in.CrateId != nil {
			crateIds = append(crateIds, *in.CrateId)
		}
	}
	if err := ledger.lock(productIds, crateIds); err != nil {
		return nil, err
	}

	items := make([]InvoiceItem, 0, len(input.Items))
	for _, in := range input.Items {
		item, err := buildItem(ledger, in)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	status := input.PaymentStatus
	if status == "" {
		status = PaymentStatusUnpaid
	}
	inv := Invoice{
		InvoiceNumber: input.InvoiceNumber,
		CompanyId:     input.CompanyId,
		CustomerId:    input.CustomerId,
		CarId:         input.CarId,
		Igst:          input.Igst,
		Cgst:          input.Cgst,
		Sgst:          input.Sgst,
		AmountPaid:    decimal.Zero,
		PaymentStatus: status,
		UserId:        actor.UserId,
	}
	inv.applyTotals(ComputeTotals(items, input.taxRates()))

	if status == PaymentStatusPaid && (input.AmountPaid.LessThan(inv.NetAmount) || inv.NetAmount.IsZero()) {
		return nil, newValidationError("payment_status", "cannot be PAID before the net amount %s is paid", inv.NetAmount.String())
	}
	if status == PaymentStatusPaid {
		// The initial payment below settles it.
		inv.PaymentStatus = PaymentStatusUnpaid
	}

	if err := tx.Omit(clause.Associations).Create(&inv).Error; err != nil {
		return nil, err
	}
	if inv.InvoiceNumber == nil {
		number := defaultInvoiceNumber(inv.ID)
		if err := tx.Model(&inv).Update("invoice_number", number).Error; err != nil {
			return nil, err
		}
		inv.InvoiceNumber = &number
	}

	moves := make([]stockMove, 0, 2*len(items))
	for i := range items {
		items[i].InvoiceId = inv.ID
		if err := tx.Create(&items[i]).Error; err != nil {
			return nil, err
		}
		moves = append(moves, takeMoves(items[i])...)
	}
	if err := ledger.apply(moves); err != nil {
		return nil, err
	}

	if input.AmountPaid.IsPositive() {
		if err := recordPayment(tx, &inv, input.AmountPaid, *input.PaymentMethod, actor, now); err != nil {
			return nil, err
		}
	}

	return GetInvoice(tx, inv.ID)
}

// UpdateInvoice rewrites an invoice's header and reconciles its items by product.
// Matching products are updated in place, new ones inserted, missing ones deleted.
// Under UpdateStockAdjust the quantity and crate differences are moved on stock.
func UpdateInvoice(tx *gorm.DB, id int, input *NewInvoice, policy UpdateStockPolicy) (*Invoice, error) {
	if err := input.validateForUpdate(); err != nil {
		return nil, err
	}
	inv, err := lockInvoice(tx, id)
	if err != nil {
		return nil, err
	}
	if err := resolveParties(tx, input.CompanyId, input.CustomerId, input.CarId); err != nil {
		return nil, err
	}
	oldItems, err := invoiceItems(tx, id)
	if err != nil {
		return nil, err
	}

	oldByProduct := make(map[int]*InvoiceItem, len(oldItems))
	var removed []InvoiceItem
	for i := range oldItems {
		if _, dup := oldByProduct[oldItems[i].ProductId]; dup {
			removed = append(removed, oldItems[i])
			continue
		}
		oldByProduct[oldItems[i].ProductId] = &oldItems[i]
	}

	// Every old item is restored and every line taken again, so the planned
	// moves cover all rows apply will write. They are locked in one pass.
	ledger := newStockLedger(tx)
	var (
		newProductIds, newCrateIds []int
		planned                    []stockMove
	)
	for _, in := range input.Items {
		old, matched := oldByProduct[in.ProductId]
		if !matched {
			newProductIds = append(newProductIds, in.ProductId)
		}
		if in.CrateId != nil && (!matched || old.CrateId == nil || *old.CrateId != *in.CrateId) {
			newCrateIds = append(newCrateIds, *in.CrateId)
		}
		if policy != UpdateStockNeutral {
			planned = append(planned, takeMoves(InvoiceItem{
				ProductId:     in.ProductId,
				Quantity:      in.Quantity,
				CrateId:       in.CrateId,
				CrateQuantity: in.CrateQuantity,
			})...)
		}
	}
	if policy != UpdateStockNeutral {
		for _, old := range oldItems {
			planned = append(planned, restoreMoves(old)...)
		}
	}
	if err := ledger.lockAll(newProductIds, newCrateIds, planned); err != nil {
		return nil, err
	}

	var (
		updated  []InvoiceItem
		inserted []InvoiceItem
		moves    []stockMove
		kept     = map[int]bool{}
	)
	for _, in := range input.Items {
		old, matched := oldByProduct[in.ProductId]
		if !matched {
			item, err := buildItem(ledger, in)
			if err != nil {
				return nil, err
			}
			inserted = append(inserted, item)
			moves = append(moves, takeMoves(item)...)
			continue
		}

		kept[old.ID] = true
		item := *old
		if in.UnitPrice != nil {
			item.UnitPrice = *in.UnitPrice
		}
		item.Quantity = in.Quantity
		item.TotalPrice = LineTotal(item.Quantity, item.UnitPrice)
		item.CrateQuantity = in.CrateQuantity
		if in.CrateId == nil {
			item.CrateId, item.CrateName = nil, nil
		} else if old.CrateId == nil || *old.CrateId != *in.CrateId {
			crate, err := ledger.crateRow(*in.CrateId, "")
			if err != nil {
				return nil, err
			}
			crateId, crateName := crate.ID, crate.CrateName
			item.CrateId, item.CrateName = &crateId, &crateName
		}
		updated = append(updated, item)
		moves = append(moves, restoreMoves(*old)...)
		moves = append(moves, takeMoves(item)...)
	}
	for _, old := range oldByProduct {
		if !kept[old.ID] {
			removed = append(removed, *old)
		}
	}
	for _, old := range removed {
		moves = append(moves, restoreMoves(old)...)
	}

	all := append(append([]InvoiceItem{}, updated...), inserted...)
	totals := ComputeTotals(all, input.taxRates())
	if totals.NetAmount.LessThan(inv.AmountPaid) {
		return nil, newValidationError("items", "net amount %s would fall below the %s already paid",
			totals.NetAmount.String(), inv.AmountPaid.String())
	}

	status, err := deriveUpdatedStatus(inv, totals.NetAmount, input.PaymentStatus)
	if err != nil {
		return nil, err
	}

	for i := range updated {
		err := tx.Model(&updated[i]).
			Select("quantity", "unit_price", "total_price", "crate_id", "crate_name", "crate_quantity").
			Updates(&updated[i]).Error
		if err != nil {
			return nil, err
		}
	}
	for i := range inserted {
		inserted[i].InvoiceId = inv.ID
		if err := tx.Create(&inserted[i]).Error; err != nil {
			return nil, err
		}
	}
	if len(removed) > 0 {
		ids := make([]int, 0, len(removed))
		for _, r := range removed {
			ids = append(ids, r.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&InvoiceItem{}).Error; err != nil {
			return nil, err
		}
	}

	columns := []string{"company_id", "customer_id", "car_id", "igst", "cgst", "sgst",
		"total_amount", "tax_amount", "net_amount", "payment_status"}
	if input.InvoiceNumber != nil {
		inv.InvoiceNumber = input.InvoiceNumber
		columns = append(columns, "invoice_number")
	}
	inv.CompanyId = input.CompanyId
	inv.CustomerId = input.CustomerId
	inv.CarId = input.CarId
	inv.Igst, inv.Cgst, inv.Sgst = input.Igst, input.Cgst, input.Sgst
	inv.applyTotals(totals)
	inv.PaymentStatus = status
	if err := tx.Model(inv).Select(columns).Updates(inv).Error; err != nil {
		return nil, err
	}

	if policy != UpdateStockNeutral {
		if err := ledger.apply(moves); err != nil {
			return nil, err
		}
	}

	return GetInvoice(tx, inv.ID)
}

// deriveUpdatedStatus keeps PAID consistent with the new net amount.
func deriveUpdatedStatus(inv *Invoice, net decimal.Decimal, requested PaymentStatus) (PaymentStatus, error) {
	settled := inv.AmountPaid.IsPositive() && !inv.AmountPaid.LessThan(net)
	if settled {
		return PaymentStatusPaid, nil
	}
	if requested == PaymentStatusPaid {
		return "", newValidationError("payment_status", "cannot be PAID before the net amount %s is paid", net.String())
	}
	if requested != "" {
		return requested, nil
	}
	if inv.PaymentStatus == PaymentStatusPaid {
		return PaymentStatusUnpaid, nil
	}
	return inv.PaymentStatus, nil
}

// takeMoves takes the item's quantity and crates from stock.
func takeMoves(item InvoiceItem) []stockMove {
	moves := []stockMove{sellableMove(item.ProductId, item.Quantity.Neg(), item.ProductName)}
	if item.CrateId != nil && item.CrateQuantity > 0 {
		moves = append(moves, crateMove(*item.CrateId, -item.CrateQuantity, derefString(item.CrateName)))
	}
	return moves
}

// restoreMoves gives the item's quantity and crates back to stock.
func restoreMoves(item InvoiceItem) []stockMove {
	moves := []stockMove{sellableMove(item.ProductId, item.Quantity, item.ProductName)}
	if item.CrateId != nil && item.CrateQuantity > 0 {
		moves = append(moves, crateMove(*item.CrateId, item.CrateQuantity, derefString(item.CrateName)))
	}
	return moves
}

// DeleteInvoice restores the invoice's stock then removes its payments, items and header.
// The deleted invoice is returned with its items.
func DeleteInvoice(tx *gorm.DB, id int) (*Invoice, error) {
	inv, err := lockInvoice(tx, id)
	if err != nil {
		return nil, err
	}
	items, err := invoiceItems(tx, id)
	if err != nil {
		return nil, err
	}

	var moves []stockMove
	for _, item := range items {
		moves = append(moves, restoreMoves(item)...)
	}
	if err := newStockLedger(tx).apply(moves); err != nil {
		return nil, err
	}

	if err := tx.Where("invoice_id = ?", id).Delete(&Payment{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Where("invoice_id = ?", id).Delete(&InvoiceItem{}).Error; err != nil {
		return nil, err
	}
	if err := tx.Delete(inv).Error; err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
