package purchasing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// SupplierOrderRow is the raw per-order aggregate behind a supplier
// statement. AmountPaid is the position stored on the order; PaymentsSum is
// the sum of its payment rows.
type SupplierOrderRow struct {
	OrderID     int64
	OrderNumber string
	Date        time.Time
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
	PaymentsSum decimal.Decimal
}

// SupplierReturnRow is one completed return credited against the supplier.
type SupplierReturnRow struct {
	ReturnID int64
	Ref      string
	Date     time.Time
	Amount   decimal.Decimal
}

// SupplierEntry is one line of a supplier statement.
type SupplierEntry struct {
	Date      time.Time       `json:"date"`
	Type      string          `json:"type"`
	Reference string          `json:"reference"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// SupplierStatement is the aggregated payable position towards one supplier.
type SupplierStatement struct {
	SupplierID     int64           `json:"supplier_id"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalReturns   decimal.Decimal `json:"total_returns"`
	Balance        decimal.Decimal `json:"balance"`
	Entries        []SupplierEntry `json:"entries"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// SupplierLedgerPort fetches the rows behind a supplier statement.
type SupplierLedgerPort interface {
	// ReceivedOrders returns one row per RECEIVED order of the supplier.
	ReceivedOrders(ctx context.Context, supplierID int64) ([]SupplierOrderRow, error)
	// CompletedReturns returns one row per COMPLETED return towards the
	// supplier.
	CompletedReturns(ctx context.Context, supplierID int64) ([]SupplierReturnRow, error)
}

// BuildSupplierStatement folds order and return rows into a payable
// statement. Orders settled before payment rows existed carry only the
// stored position, so a virtual payment entry is synthesised from whichever
// figure is larger. Completed returns credit the account, reducing what is
// owed to the supplier.
func BuildSupplierStatement(supplierID int64, orders []SupplierOrderRow, returns []SupplierReturnRow) SupplierStatement {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Date.Equal(orders[j].Date) {
			return orders[i].OrderID < orders[j].OrderID
		}
		return orders[i].Date.Before(orders[j].Date)
	})
	sort.Slice(returns, func(i, j int) bool {
		if returns[i].Date.Equal(returns[j].Date) {
			return returns[i].ReturnID < returns[j].ReturnID
		}
		return returns[i].Date.Before(returns[j].Date)
	})

	st := SupplierStatement{
		SupplierID:     supplierID,
		TotalPurchases: decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalReturns:   decimal.Zero,
		Balance:        decimal.Zero,
		GeneratedAt:    time.Now().UTC(),
	}
	balance := decimal.Zero
	ri := 0
	creditReturn := func(ret SupplierReturnRow) {
		st.TotalReturns = st.TotalReturns.Add(ret.Amount)
		balance = balance.Sub(ret.Amount)
		st.Entries = append(st.Entries, SupplierEntry{
			Date:      ret.Date,
			Type:      "RETURN",
			Reference: ret.Ref,
			Debit:     decimal.Zero,
			Credit:    ret.Amount,
			Balance:   balance,
		})
	}

	for _, row := range orders {
		for ri < len(returns) && returns[ri].Date.Before(row.Date) {
			creditReturn(returns[ri])
			ri++
		}

		paid := decimal.Max(row.AmountPaid, row.PaymentsSum)
		if paid.GreaterThan(row.Total) {
			paid = row.Total
		}

		st.TotalPurchases = st.TotalPurchases.Add(row.Total)
		st.TotalPaid = st.TotalPaid.Add(paid)

		balance = balance.Add(row.Total)
		st.Entries = append(st.Entries, SupplierEntry{
			Date:      row.Date,
			Type:      "PURCHASE",
			Reference: row.OrderNumber,
			Debit:     row.Total,
			Credit:    decimal.Zero,
			Balance:   balance,
		})
		if paid.Sign() > 0 {
			balance = balance.Sub(paid)
			st.Entries = append(st.Entries, SupplierEntry{
				Date:      row.Date,
				Type:      "PAYMENT",
				Reference: row.OrderNumber,
				Debit:     decimal.Zero,
				Credit:    paid,
				Balance:   balance,
			})
		}
	}
	for ; ri < len(returns); ri++ {
		creditReturn(returns[ri])
	}

	st.TotalPurchases = st.TotalPurchases.Round(2)
	st.TotalPaid = st.TotalPaid.Round(2)
	st.TotalReturns = st.TotalReturns.Round(2)
	st.Balance = st.TotalPurchases.Sub(st.TotalPaid).Sub(st.TotalReturns).Round(2)
	return st
}
