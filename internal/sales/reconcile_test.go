package sales

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func pay(amount string) Payment {
	return Payment{Method: MethodCash, Amount: decimal.RequireFromString(amount)}
}

func TestReconcileExactPayment(t *testing.T) {
	rec := Reconcile(decimal.RequireFromString("100"), []Payment{pay("100")})
	require.True(t, decimal.RequireFromString("100").Equal(rec.AmountPaid))
	require.True(t, rec.ChangeGiven.IsZero())
	require.Equal(t, PaymentPaid, rec.Status)
}

func TestReconcileOverpaymentBecomesChange(t *testing.T) {
	rec := Reconcile(decimal.RequireFromString("85.50"), []Payment{pay("100")})
	require.True(t, decimal.RequireFromString("85.50").Equal(rec.AmountPaid), "paid is capped at the total")
	require.True(t, decimal.RequireFromString("14.50").Equal(rec.ChangeGiven))
	require.Equal(t, PaymentPaid, rec.Status)
}

func TestReconcilePartialPayment(t *testing.T) {
	rec := Reconcile(decimal.RequireFromString("200"), []Payment{pay("50"), pay("30")})
	require.True(t, decimal.RequireFromString("80").Equal(rec.AmountPaid))
	require.True(t, rec.ChangeGiven.IsZero())
	require.Equal(t, PaymentPartial, rec.Status)
}

func TestReconcileNoPayments(t *testing.T) {
	rec := Reconcile(decimal.RequireFromString("10"), nil)
	require.True(t, rec.AmountPaid.IsZero())
	require.Equal(t, PaymentPending, rec.Status)
}

func TestReconcileZeroTotal(t *testing.T) {
	rec := Reconcile(decimal.Zero, nil)
	require.Equal(t, PaymentPaid, rec.Status)
}

func TestReconcileRecomputesFromScratch(t *testing.T) {
	total := decimal.RequireFromString("100")
	first := Reconcile(total, []Payment{pay("40")})
	require.Equal(t, PaymentPartial, first.Status)

	// A corrected payment list fully replaces the previous position.
	second := Reconcile(total, []Payment{pay("40"), pay("70")})
	require.True(t, total.Equal(second.AmountPaid))
	require.True(t, decimal.RequireFromString("10").Equal(second.ChangeGiven))
	require.Equal(t, PaymentPaid, second.Status)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusDraft, StatusCompleted))
	require.True(t, CanTransition(StatusDraft, StatusCancelled))
	require.True(t, CanTransition(StatusCompleted, StatusCancelled))
	require.True(t, CanTransition(StatusCompleted, StatusRefunded))

	require.False(t, CanTransition(StatusDraft, StatusRefunded))
	require.False(t, CanTransition(StatusCancelled, StatusCompleted))
	require.False(t, CanTransition(StatusRefunded, StatusCancelled))
	require.True(t, StatusCancelled.IsTerminal())
	require.True(t, StatusRefunded.IsTerminal())
}
