package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateLinePercentageDiscount(t *testing.T) {
	lt := CalculateLine(LineInput{
		Quantity:  2,
		UnitPrice: dec("500"),
		Discount:  &Discount{Type: DiscountPercentage, Value: dec("10")},
		TaxRate:   dec("5"),
	})
	require.True(t, dec("1000").Equal(lt.Subtotal))
	require.True(t, dec("100").Equal(lt.DiscountAmount))
	require.True(t, dec("45").Equal(lt.TaxAmount))
	require.True(t, dec("945").Equal(lt.LineTotal))
}

func TestCalculateLineFixedDiscountClamped(t *testing.T) {
	lt := CalculateLine(LineInput{
		Quantity:  1,
		UnitPrice: dec("50"),
		Discount:  &Discount{Type: DiscountFixed, Value: dec("80")},
	})
	require.True(t, dec("50").Equal(lt.DiscountAmount), "fixed discount must be capped at the line subtotal")
	require.True(t, lt.LineTotal.IsZero())
	require.False(t, lt.LineTotal.IsNegative())
}

func TestCalculateSaleAggregate(t *testing.T) {
	lines := []LineInput{
		{Quantity: 2, UnitPrice: dec("500"), Discount: &Discount{Type: DiscountPercentage, Value: dec("10")}},
		{Quantity: 1, UnitPrice: dec("100")},
	}
	totals := CalculateSale(lines, &Discount{Type: DiscountFixed, Value: dec("50")}, dec("10"))

	// subtotal = (1000 - 100) + 100 = 1000; sale discount 50; tax 95; total 1045
	require.True(t, dec("1000").Equal(totals.Subtotal))
	require.True(t, dec("50").Equal(totals.DiscountAmount))
	require.True(t, dec("95").Equal(totals.TaxAmount))
	require.True(t, dec("1045").Equal(totals.TotalAmount))
}

func TestCalculateSaleDiscountNeverExceedsBase(t *testing.T) {
	lines := []LineInput{{Quantity: 1, UnitPrice: dec("30")}}
	totals := CalculateSale(lines, &Discount{Type: DiscountFixed, Value: dec("1000")}, decimal.Zero)
	require.True(t, totals.DiscountAmount.Equal(totals.Subtotal))
	require.True(t, totals.TotalAmount.IsZero())
}

func TestCalculateSaleNoDiscountNoTax(t *testing.T) {
	lines := []LineInput{{Quantity: 3, UnitPrice: dec("19.99")}}
	totals := CalculateSale(lines, nil, decimal.Zero)
	require.True(t, dec("59.97").Equal(totals.Subtotal))
	require.True(t, dec("59.97").Equal(totals.TotalAmount))
	require.True(t, totals.DiscountAmount.IsZero())
	require.True(t, totals.TaxAmount.IsZero())
}

func TestDiscountValidate(t *testing.T) {
	require.NoError(t, (*Discount)(nil).Validate())
	require.NoError(t, (&Discount{Type: DiscountPercentage, Value: dec("15")}).Validate())
	require.Error(t, (&Discount{Type: "HALF_OFF", Value: dec("1")}).Validate())
	require.Error(t, (&Discount{Type: DiscountPercentage, Value: dec("120")}).Validate())
	require.Error(t, (&Discount{Type: DiscountFixed, Value: dec("-5")}).Validate())
}
