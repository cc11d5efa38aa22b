package sales

import "github.com/shopspring/decimal"

// Reconciliation is the derived payment position of a sale.
type Reconciliation struct {
	AmountPaid  decimal.Decimal
	ChangeGiven decimal.Decimal
	Status      PaymentStatus
}

// Reconcile recomputes the payment position from the full payment list and
// the sale total. It never carries forward previously stored values, so a
// corrected payment row yields a correct position on the next call.
//
// Tender above the total is change handed back, not credit: amount paid is
// capped at the total and the surplus becomes change given.
func Reconcile(total decimal.Decimal, payments []Payment) Reconciliation {
	received := decimal.Zero
	for _, p := range payments {
		received = received.Add(p.Amount)
	}

	paid := received
	change := decimal.Zero
	if received.GreaterThan(total) {
		paid = total
		change = received.Sub(total)
	}

	status := PaymentPending
	switch {
	case total.Sign() <= 0, paid.GreaterThanOrEqual(total):
		status = PaymentPaid
	case paid.Sign() > 0:
		status = PaymentPartial
	}

	return Reconciliation{
		AmountPaid:  paid.Round(2),
		ChangeGiven: change.Round(2),
		Status:      status,
	}
}
