package purchasing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildSupplierStatementRunningBalance(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []SupplierOrderRow{
		{OrderID: 2, OrderNumber: "PUR-20250302-0001", Date: day.AddDate(0, 0, 1), Total: d("300"), AmountPaid: d("0"), PaymentsSum: d("100")},
		{OrderID: 1, OrderNumber: "PUR-20250301-0001", Date: day, Total: d("500"), AmountPaid: d("500"), PaymentsSum: d("0")},
	}

	st := BuildSupplierStatement(3, rows, nil)
	require.True(t, d("800").Equal(st.TotalPurchases))
	require.True(t, d("600").Equal(st.TotalPaid))
	require.True(t, d("200").Equal(st.Balance))

	// Oldest order first, each purchase followed by its payment entry.
	require.Len(t, st.Entries, 4)
	require.Equal(t, "PURCHASE", st.Entries[0].Type)
	require.Equal(t, "PUR-20250301-0001", st.Entries[0].Reference)
	require.Equal(t, "PAYMENT", st.Entries[1].Type)
	require.True(t, d("500").Equal(st.Entries[1].Credit))
	require.True(t, decimal.Zero.Equal(st.Entries[1].Balance))
	require.True(t, d("300").Equal(st.Entries[2].Balance))
	require.True(t, d("200").Equal(st.Entries[3].Balance))
}

func TestBuildSupplierStatementSynthesisesLargerFigure(t *testing.T) {
	rows := []SupplierOrderRow{
		{OrderID: 1, Total: d("400"), AmountPaid: d("150"), PaymentsSum: d("250")},
	}
	st := BuildSupplierStatement(1, rows, nil)
	require.True(t, d("250").Equal(st.TotalPaid))
	require.True(t, d("150").Equal(st.Balance))
}

func TestBuildSupplierStatementCapsPaidAtTotal(t *testing.T) {
	rows := []SupplierOrderRow{
		{OrderID: 1, Total: d("100"), AmountPaid: d("0"), PaymentsSum: d("130")},
	}
	st := BuildSupplierStatement(1, rows, nil)
	require.True(t, d("100").Equal(st.TotalPaid))
	require.True(t, decimal.Zero.Equal(st.Balance))
}

func TestBuildSupplierStatementUnpaidOrderHasNoPaymentEntry(t *testing.T) {
	rows := []SupplierOrderRow{
		{OrderID: 1, OrderNumber: "PUR-20250301-0002", Total: d("75"), AmountPaid: d("0"), PaymentsSum: d("0")},
	}
	st := BuildSupplierStatement(1, rows, nil)
	require.Len(t, st.Entries, 1)
	require.Equal(t, "PURCHASE", st.Entries[0].Type)
	require.True(t, d("75").Equal(st.Balance))
}

func TestBuildSupplierStatementEmpty(t *testing.T) {
	st := BuildSupplierStatement(9, nil, nil)
	require.Empty(t, st.Entries)
	require.True(t, decimal.Zero.Equal(st.Balance))
	require.Equal(t, int64(9), st.SupplierID)
}

func TestBuildSupplierStatementCreditsCompletedReturns(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []SupplierOrderRow{
		{OrderID: 1, OrderNumber: "PUR-20250301-0001", Date: day, Total: d("500"), AmountPaid: d("500"), PaymentsSum: d("500")},
	}
	returns := []SupplierReturnRow{
		{ReturnID: 1, Ref: "b5f1", Date: day.AddDate(0, 0, 2), Amount: d("120")},
	}

	st := BuildSupplierStatement(3, orders, returns)
	require.True(t, d("500").Equal(st.TotalPurchases))
	require.True(t, d("500").Equal(st.TotalPaid))
	require.True(t, d("120").Equal(st.TotalReturns))
	// The completed return leaves the supplier owing us.
	require.True(t, d("-120").Equal(st.Balance))

	require.Len(t, st.Entries, 3)
	last := st.Entries[2]
	require.Equal(t, "RETURN", last.Type)
	require.Equal(t, "b5f1", last.Reference)
	require.True(t, d("120").Equal(last.Credit))
	require.True(t, d("-120").Equal(last.Balance))
}

func TestBuildSupplierStatementInterleavesReturnsByDate(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	orders := []SupplierOrderRow{
		{OrderID: 1, OrderNumber: "PUR-20250301-0001", Date: day, Total: d("500"), AmountPaid: d("0"), PaymentsSum: d("0")},
		{OrderID: 2, OrderNumber: "PUR-20250305-0001", Date: day.AddDate(0, 0, 4), Total: d("300"), AmountPaid: d("0"), PaymentsSum: d("0")},
	}
	returns := []SupplierReturnRow{
		{ReturnID: 1, Ref: "ret-1", Date: day.AddDate(0, 0, 2), Amount: d("100")},
	}

	st := BuildSupplierStatement(3, orders, returns)
	require.Len(t, st.Entries, 3)
	require.Equal(t, "PURCHASE", st.Entries[0].Type)
	require.Equal(t, "RETURN", st.Entries[1].Type)
	require.True(t, d("400").Equal(st.Entries[1].Balance))
	require.Equal(t, "PURCHASE", st.Entries[2].Type)
	require.True(t, d("700").Equal(st.Entries[2].Balance))
	require.True(t, d("700").Equal(st.Balance))
}

func TestReconcilePaymentsStatuses(t *testing.T) {
	cases := []struct {
		name     string
		total    string
		payments []string
		wantPaid string
		want     PaymentStatus
	}{
		{"no payments", "500", nil, "0", PaymentPending},
		{"partial", "500", []string{"200"}, "200", PaymentPartial},
		{"exact", "500", []string{"200", "300"}, "500", PaymentPaid},
		{"over", "500", []string{"600"}, "600", PaymentPaid},
		{"zero total", "0", nil, "0", PaymentPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payments []Payment
			for _, amount := range tc.payments {
				payments = append(payments, Payment{Amount: d(amount)})
			}
			paid, status := reconcilePayments(d(tc.total), payments)
			require.True(t, d(tc.wantPaid).Equal(paid))
			require.Equal(t, tc.want, status)
		})
	}
}
