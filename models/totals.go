package models

import "github.com/shopspring/decimal"

// Money and quantities are kept at 4 decimal places, matching the decimal(20,4) columns.
const amountScale = 4

var hundred = decimal.NewFromInt(100)

type TaxRates struct {
	Igst decimal.Decimal
	Cgst decimal.Decimal
	Sgst decimal.Decimal
}

func (r TaxRates) Sum() decimal.Decimal {
	return r.Igst.Add(r.Cgst).Add(r.Sgst)
}

type InvoiceTotals struct {
	TotalAmount decimal.Decimal
	TaxAmount   decimal.Decimal
	NetAmount   decimal.Decimal
}

func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice).Round(amountScale)
}

// ComputeTotals derives invoice totals from item quantities and unit prices.
// The stored TotalPrice of each item is ignored.
func ComputeTotals(items []InvoiceItem, rates TaxRates) InvoiceTotals {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item.Quantity, item.UnitPrice))
	}
	tax := total.Mul(rates.Sum()).DivRound(hundred, amountScale)
	return InvoiceTotals{
		TotalAmount: total,
		TaxAmount:   tax,
		NetAmount:   total.Add(tax),
	}
}
