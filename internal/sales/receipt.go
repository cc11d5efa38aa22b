package sales

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const receiptWidth = 40

// ReceiptOptions controls receipt rendering.
type ReceiptOptions struct {
	StoreName string
	Currency  currency.Unit
	Footer    string
}

// RenderReceipt formats a completed sale as a fixed-width text receipt
// suitable for thermal printers.
func RenderReceipt(s Sale, opts ReceiptOptions) string {
	p := message.NewPrinter(language.English)
	amount := func(d decimal.Decimal) string {
		f, _ := d.Round(2).Float64()
		return p.Sprintf("%v", currency.Symbol(opts.Currency.Amount(f)))
	}

	var b strings.Builder
	center(&b, opts.StoreName)
	center(&b, s.SaleNumber)
	center(&b, s.CreatedAt.Format("2006-01-02 15:04"))
	b.WriteString(strings.Repeat("-", receiptWidth) + "\n")

	for _, item := range s.Items {
		label := item.Description
		if item.ProductID != nil {
			label = fmt.Sprintf("#%d", *item.ProductID)
		}
		line := fmt.Sprintf("%d x @%s", item.Quantity, amount(item.UnitPrice))
		b.WriteString(fmt.Sprintf("%-9s%s\n", label, line))
		if item.DiscountAmount.Sign() > 0 {
			b.WriteString(padRight("  less discount", amount(item.DiscountAmount.Neg())))
		}
		b.WriteString(padRight("", amount(item.LineTotal)))
	}

	b.WriteString(strings.Repeat("-", receiptWidth) + "\n")
	b.WriteString(padRight("Subtotal", amount(s.Subtotal)))
	if s.DiscountAmount.Sign() > 0 {
		b.WriteString(padRight("Discount", amount(s.DiscountAmount.Neg())))
	}
	if s.TaxAmount.Sign() > 0 {
		b.WriteString(padRight(fmt.Sprintf("Tax (%s%%)", s.TaxRate.String()), amount(s.TaxAmount)))
	}
	b.WriteString(padRight("TOTAL", amount(s.TotalAmount)))

	if len(s.Payments) > 0 {
		b.WriteString(strings.Repeat("-", receiptWidth) + "\n")
		for _, pay := range s.Payments {
			b.WriteString(padRight(string(pay.Method), amount(pay.Amount)))
		}
		b.WriteString(padRight("Paid", amount(s.AmountPaid)))
		if s.ChangeGiven.Sign() > 0 {
			b.WriteString(padRight("Change", amount(s.ChangeGiven)))
		}
	}

	if opts.Footer != "" {
		b.WriteString(strings.Repeat("-", receiptWidth) + "\n")
		center(&b, opts.Footer)
	}
	return b.String()
}

func center(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if len(s) >= receiptWidth {
		b.WriteString(s + "\n")
		return
	}
	pad := (receiptWidth - len(s)) / 2
	b.WriteString(strings.Repeat(" ", pad) + s + "\n")
}

func padRight(label, value string) string {
	gap := receiptWidth - len(label) - len(value)
	if gap < 1 {
		gap = 1
	}
	return label + strings.Repeat(" ", gap) + value + "\n"
}
