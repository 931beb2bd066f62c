package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerDiscrepancy struct {
	Resource string `json:"resource"`
	ID       int    `json:"id"`
	Problem  string `json:"problem"`
}

func (d LedgerDiscrepancy) String() string {
	return fmt.Sprintf("%s %d: %s", d.Resource, d.ID, d.Problem)
}

const ledgerCheckBatchSize = 200

// CheckLedger scans invoices and stock rows for broken invariants:
// net = total + tax, total = sum of item totals, paid <= net,
// paid = sum of payments, and no negative stock.
func CheckLedger(db *gorm.DB) ([]LedgerDiscrepancy, error) {
	var out []LedgerDiscrepancy

	var batch []Invoice
	res := db.
		Preload("Items").
		Preload("Payments").
		Order("id").
		FindInBatches(&batch, ledgerCheckBatchSize, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				out = append(out, checkInvoice(&batch[i])...)
			}
			return nil
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var sellable []SellableStock
	if err := db.Where("quantity < 0").Order("id").Find(&sellable).Error; err != nil {
		return nil, err
	}
	for _, s := range sellable {
		out = append(out, LedgerDiscrepancy{"product", s.ID, "negative quantity " + s.Quantity.String()})
	}
	var crates []CrateStock
	if err := db.Where("quantity < 0").Order("id").Find(&crates).Error; err != nil {
		return nil, err
	}
	for _, c := range crates {
		out = append(out, LedgerDiscrepancy{"crate", c.ID, fmt.Sprintf("negative quantity %d", c.Quantity)})
	}
	return out, nil
}

func checkInvoice(inv *Invoice) []LedgerDiscrepancy {
	var out []LedgerDiscrepancy
	report := func(format string, args ...any) {
		out = append(out, LedgerDiscrepancy{"invoice", inv.ID, fmt.Sprintf(format, args...)})
	}

	if !inv.NetAmount.Equal(inv.TotalAmount.Add(inv.TaxAmount)) {
		report("net %s != total %s + tax %s", inv.NetAmount, inv.TotalAmount, inv.TaxAmount)
	}
	itemSum := decimal.Zero
	for _, item := range inv.Items {
		itemSum = itemSum.Add(item.TotalPrice)
	}
	if !inv.TotalAmount.Equal(itemSum) {
		report("total %s != item sum %s", inv.TotalAmount, itemSum)
	}
	if inv.AmountPaid.GreaterThan(inv.NetAmount) {
		report("paid %s > net %s", inv.AmountPaid, inv.NetAmount)
	}
	paySum := decimal.Zero
	for _, p := range inv.Payments {
		paySum = paySum.Add(p.Amount)
	}
	if !inv.AmountPaid.Equal(paySum) {
		report("paid %s != payment sum %s", inv.AmountPaid, paySum)
	}
	if inv.PaymentStatus == PaymentStatusPaid && inv.AmountPaid.LessThan(inv.NetAmount) {
		report("status PAID with balance due %s", inv.BalanceDue())
	}
	return out
}
