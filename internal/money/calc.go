// Package money implements the pure monetary calculations behind sales and
// purchases: line totals, percentage/fixed discounts, taxes and sale
// aggregates. All amounts are decimals; callers persist the results.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// DiscountType enumerates supported discount kinds.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the base amount.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixed applies a fixed amount, capped at the base.
	DiscountFixed DiscountType = "FIXED"
)

var hundred = decimal.NewFromInt(100)

// Discount describes a discount to apply against a base amount.
type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Validate checks the discount enum and value.
func (d *Discount) Validate() error {
	if d == nil {
		return nil
	}
	if d.Type != DiscountPercentage && d.Type != DiscountFixed {
		return fmt.Errorf("%w: unknown discount type %q", shared.ErrInvalidInput, d.Type)
	}
	if d.Value.IsNegative() {
		return fmt.Errorf("%w: discount value must be >= 0", shared.ErrInvalidInput)
	}
	if d.Type == DiscountPercentage && d.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: discount percentage must be <= 100", shared.ErrInvalidInput)
	}
	return nil
}

// Amount resolves the discount against a base. The result is clamped to
// [0, base] so a fixed discount can never drive a total negative.
func (d *Discount) Amount(base decimal.Decimal) decimal.Decimal {
	if d == nil || base.Sign() <= 0 {
		return decimal.Zero
	}
	var amt decimal.Decimal
	switch d.Type {
	case DiscountPercentage:
		amt = base.Mul(d.Value).Div(hundred)
	case DiscountFixed:
		amt = d.Value
	default:
		return decimal.Zero
	}
	if amt.IsNegative() {
		return decimal.Zero
	}
	if amt.GreaterThan(base) {
		return base
	}
	return amt
}

// LineInput describes one sale/purchase line before calculation.
type LineInput struct {
	Quantity  int64
	UnitPrice decimal.Decimal
	Discount  *Discount
	TaxRate   decimal.Decimal
}

// LineTotals is the computed breakdown of a single line.
type LineTotals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	LineTotal      decimal.Decimal
}

// SaleTotals aggregates all lines plus sale-level discount and tax.
type SaleTotals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	Lines          []LineTotals
}

// CalculateLine computes one line: gross, item discount (clamped), item tax
// on the net, and the line total.
func CalculateLine(input LineInput) LineTotals {
	subtotal := decimal.NewFromInt(input.Quantity).Mul(input.UnitPrice)
	discount := input.Discount.Amount(subtotal)
	net := subtotal.Sub(discount)
	tax := net.Mul(input.TaxRate).Div(hundred)
	return LineTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TaxAmount:      tax,
		LineTotal:      net.Add(tax),
	}
}

// CalculateSale computes the sale aggregate: subtotal nets item discounts in,
// then the sale-level discount (clamped against that subtotal) and the sale
// tax on the remainder. Aggregate amounts are rounded to 2 decimal places.
func CalculateSale(lines []LineInput, saleDiscount *Discount, taxRate decimal.Decimal) SaleTotals {
	totals := SaleTotals{Lines: make([]LineTotals, 0, len(lines))}
	subtotal := decimal.Zero
	for _, line := range lines {
		lt := CalculateLine(line)
		totals.Lines = append(totals.Lines, lt)
		subtotal = subtotal.Add(lt.Subtotal.Sub(lt.DiscountAmount))
	}
	discount := saleDiscount.Amount(subtotal)
	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(taxRate).Div(hundred)

	totals.Subtotal = subtotal.Round(2)
	totals.DiscountAmount = discount.Round(2)
	totals.TaxAmount = tax.Round(2)
	totals.TotalAmount = subtotal.Sub(discount).Add(tax).Round(2)
	return totals
}
