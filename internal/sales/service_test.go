package sales

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/money"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

type balanceKey struct {
	productID  int64
	locationID int64
}

type customerStats struct {
	totalPurchases decimal.Decimal
	lastPurchase   *time.Time
}

// fakeRepo backs the service with in-memory state. WithTx snapshots the
// state up front and restores it when fn fails, mirroring a rollback.
type fakeRepo struct {
	nextSaleID    int64
	nextStockID   int64
	nextPaymentID int64
	counters      map[string]int64
	sales         map[int64]Sale
	payments      map[int64][]Payment
	refunds       []Refund
	stockTxs      []stock.Transaction
	balances      map[balanceKey]int64
	customers     map[int64]customerStats
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counters:  make(map[string]int64),
		sales:     make(map[int64]Sale),
		payments:  make(map[int64][]Payment),
		balances:  make(map[balanceKey]int64),
		customers: make(map[int64]customerStats),
	}
}

func (f *fakeRepo) snapshot() fakeRepo {
	c := *f
	c.counters = make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		c.counters[k] = v
	}
	c.sales = make(map[int64]Sale, len(f.sales))
	for k, v := range f.sales {
		c.sales[k] = v
	}
	c.payments = make(map[int64][]Payment, len(f.payments))
	for k, v := range f.payments {
		c.payments[k] = append([]Payment(nil), v...)
	}
	c.refunds = append([]Refund(nil), f.refunds...)
	c.stockTxs = append([]stock.Transaction(nil), f.stockTxs...)
	c.balances = make(map[balanceKey]int64, len(f.balances))
	for k, v := range f.balances {
		c.balances[k] = v
	}
	c.customers = make(map[int64]customerStats, len(f.customers))
	for k, v := range f.customers {
		c.customers[k] = v
	}
	return c
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	saved := f.snapshot()
	if err := fn(ctx, f); err != nil {
		*f = saved
		return err
	}
	return nil
}

func (f *fakeRepo) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := f.GetSaleForUpdate(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	sale.Payments = append([]Payment(nil), f.payments[id]...)
	return sale, nil
}

func (f *fakeRepo) ListSales(_ context.Context, _ ListFilter) ([]Sale, int64, error) {
	var out []Sale
	for _, s := range f.sales {
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) InsertSale(_ context.Context, s Sale) (int64, error) {
	f.nextSaleID++
	s.ID = f.nextSaleID
	f.sales[s.ID] = s
	return s.ID, nil
}

func (f *fakeRepo) InsertItems(_ context.Context, saleID int64, items []SaleItem) error {
	s := f.sales[saleID]
	s.Items = append([]SaleItem(nil), items...)
	f.sales[saleID] = s
	return nil
}

func (f *fakeRepo) InsertPayment(_ context.Context, p Payment) (int64, error) {
	f.nextPaymentID++
	p.ID = f.nextPaymentID
	f.payments[p.SaleID] = append(f.payments[p.SaleID], p)
	return p.ID, nil
}

func (f *fakeRepo) InsertRefund(_ context.Context, r Refund) (int64, error) {
	r.ID = int64(len(f.refunds) + 1)
	f.refunds = append(f.refunds, r)
	return r.ID, nil
}

func (f *fakeRepo) GetSaleForUpdate(_ context.Context, id int64) (Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return Sale{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	return s, nil
}

func (f *fakeRepo) ListPayments(_ context.Context, saleID int64) ([]Payment, error) {
	return append([]Payment(nil), f.payments[saleID]...), nil
}

func (f *fakeRepo) UpdateSaleStatus(_ context.Context, id int64, status Status, at time.Time) error {
	s, ok := f.sales[id]
	if !ok {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	s.Status = status
	s.UpdatedAt = at
	switch status {
	case StatusCompleted:
		s.CompletedAt = &at
	case StatusCancelled:
		s.CancelledAt = &at
	}
	f.sales[id] = s
	return nil
}

func (f *fakeRepo) UpdatePaymentPosition(_ context.Context, id int64, rec Reconciliation, at time.Time) error {
	s, ok := f.sales[id]
	if !ok {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	s.AmountPaid = rec.AmountPaid
	s.ChangeGiven = rec.ChangeGiven
	s.PaymentStatus = rec.Status
	s.UpdatedAt = at
	f.sales[id] = s
	return nil
}

func (f *fakeRepo) BumpCustomerPurchases(_ context.Context, customerID int64, amount decimal.Decimal, at time.Time) error {
	stats := f.customers[customerID]
	stats.totalPurchases = stats.totalPurchases.Add(amount)
	stats.lastPurchase = &at
	f.customers[customerID] = stats
	return nil
}

func (f *fakeRepo) NextDocNumber(_ context.Context, prefix string, day time.Time) (string, error) {
	key := prefix + day.Format("20060102")
	f.counters[key]++
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), f.counters[key]), nil
}

func (f *fakeRepo) InsertTransaction(_ context.Context, entry stock.Transaction) (int64, error) {
	f.nextStockID++
	entry.ID = f.nextStockID
	f.stockTxs = append(f.stockTxs, entry)
	return entry.ID, nil
}

func (f *fakeRepo) AddToBalance(_ context.Context, productID, locationID, delta int64) error {
	f.balances[balanceKey{productID, locationID}] += delta
	return nil
}

func (f *fakeRepo) DecrementBalance(_ context.Context, productID, locationID, qty int64) error {
	key := balanceKey{productID, locationID}
	if f.balances[key] < qty {
		return stock.ErrInsufficientStock
	}
	f.balances[key] -= qty
	return nil
}

func (f *fakeRepo) GetBalanceForUpdate(_ context.Context, productID, locationID int64) (stock.Balance, error) {
	return stock.Balance{ProductID: productID, LocationID: locationID, Quantity: f.balances[balanceKey{productID, locationID}]}, nil
}

func (f *fakeRepo) ListBySale(_ context.Context, saleID int64) ([]stock.Transaction, error) {
	var out []stock.Transaction
	for _, tx := range f.stockTxs {
		if tx.SaleID != nil && *tx.SaleID == saleID {
			out = append(out, tx)
		}
	}
	return out, nil
}

var (
	cashier = shared.Principal{UserID: 10, Name: "cashier", Role: shared.RoleCashier}
	admin   = shared.Principal{UserID: 1, Name: "admin", Role: shared.RoleAdmin}
)

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, nil, nil, nil)
}

func productID(id int64) *int64 { return &id }

// saleInput builds a two-line sale: subtotal 1000, tax 100, total 1100.
func saleInput(payments ...PaymentInput) CreateInput {
	return CreateInput{
		LocationID: 1,
		Items: []ItemInput{
			{ProductID: productID(1), Quantity: 2, UnitPrice: decimal.RequireFromString("500"),
				Discount: &money.Discount{Type: money.DiscountPercentage, Value: decimal.RequireFromString("10")}},
			{ProductID: productID(2), Quantity: 1, UnitPrice: decimal.RequireFromString("100")},
		},
		TaxRate:  decimal.RequireFromString("10"),
		Payments: payments,
	}
}

func seedStock(repo *fakeRepo) {
	repo.balances[balanceKey{1, 1}] = 20
	repo.balances[balanceKey{2, 1}] = 20
}

func cash(amount string) PaymentInput {
	return PaymentInput{Method: MethodCash, Amount: decimal.RequireFromString(amount)}
}

func TestCreateFullyPaidSaleCompletes(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1200")), cashier)
	require.NoError(t, err)

	// subtotal 1000, tax 100, total 1100; 1200 cash leaves 100 change
	require.Equal(t, StatusCompleted, sale.Status)
	require.Equal(t, SaleRetail, sale.SaleType)
	require.NotNil(t, sale.CompletedAt)
	require.True(t, decimal.RequireFromString("1100").Equal(sale.TotalAmount))
	require.True(t, decimal.RequireFromString("1100").Equal(sale.AmountPaid))
	require.True(t, decimal.RequireFromString("100").Equal(sale.ChangeGiven))
	require.Equal(t, PaymentPaid, sale.PaymentStatus)

	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(19), repo.balances[balanceKey{2, 1}])
	require.Len(t, repo.stockTxs, 2)
	require.Contains(t, sale.SaleNumber, "SAL-")
}

func TestCreateWithoutPaymentsStaysDraft(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)
	require.Nil(t, sale.CompletedAt)
	require.Equal(t, PaymentPending, sale.PaymentStatus)

	// Stock is issued when the sale is rung up, before any payment.
	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(19), repo.balances[balanceKey{2, 1}])
	require.Len(t, repo.stockTxs, 2)
}

func TestCreatePartiallyPaidSaleStaysDraft(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	// A 600 down payment against a 1100 bill parks the sale.
	sale, err := svc.Create(context.Background(), saleInput(cash("600")), cashier)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)
	require.Equal(t, PaymentPartial, sale.PaymentStatus)
	require.True(t, decimal.RequireFromString("600").Equal(sale.AmountPaid))
	require.True(t, sale.ChangeGiven.IsZero())
	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])
}

func TestCreateSaleInsufficientStockRollsBack(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 1}] = 1
	repo.balances[balanceKey{2, 1}] = 20
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), saleInput(), cashier)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Empty(t, repo.sales, "a failed sale must leave nothing behind")
	require.Empty(t, repo.stockTxs)
	require.Equal(t, int64(20), repo.balances[balanceKey{2, 1}])
}

func TestCreateSaleWithServiceLine(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	input := CreateInput{
		LocationID: 1,
		Items: []ItemInput{
			{ProductID: productID(1), Quantity: 1, UnitPrice: decimal.RequireFromString("200")},
			{Description: "delivery", Quantity: 1, UnitPrice: decimal.RequireFromString("50")},
		},
		Payments: []PaymentInput{cash("250")},
	}
	sale, err := svc.Create(context.Background(), input, cashier)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, sale.Status)
	require.Nil(t, sale.Items[1].ProductID)
	require.Equal(t, "delivery", sale.Items[1].Description)

	// Only the product line moves stock.
	require.Len(t, repo.stockTxs, 1)
	require.Equal(t, int64(19), repo.balances[balanceKey{1, 1}])
}

func TestCreateSaleItemNeedsProductOrDescription(t *testing.T) {
	svc := newTestService(newFakeRepo())
	_, err := svc.Create(context.Background(), CreateInput{
		LocationID: 1,
		Items:      []ItemInput{{Quantity: 1, UnitPrice: decimal.RequireFromString("10")}},
	}, cashier)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCreateSaleAppliesItemTax(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), CreateInput{
		LocationID: 1,
		Items: []ItemInput{
			{ProductID: productID(1), Quantity: 2, UnitPrice: decimal.RequireFromString("100"),
				TaxRate: decimal.RequireFromString("5")},
		},
	}, cashier)
	require.NoError(t, err)

	// 200 gross, 5% item tax = 10 on the line and in the total.
	require.True(t, decimal.RequireFromString("10").Equal(sale.Items[0].TaxAmount))
	require.True(t, decimal.RequireFromString("210").Equal(sale.TotalAmount))
}

func TestCompleteParkedSaleOwnership(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)

	other := shared.Principal{UserID: 99, Role: shared.RoleCashier}
	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCompleted, other)
	require.ErrorIs(t, err, shared.ErrForbidden)

	// The admin override and the creator both may complete it. Stock was
	// already issued at creation, so completing moves nothing.
	completed, err := svc.UpdateStatus(context.Background(), sale.ID, StatusCompleted, admin)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])
	require.Len(t, repo.stockTxs, 2)
}

func TestInvalidTransitions(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCancelled, cashier)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCompleted, cashier)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCancelled, cashier)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelCompletedSaleRestoresStock(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)
	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])

	cancelled, err := svc.UpdateStatus(context.Background(), sale.ID, StatusCancelled, cashier)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.Equal(t, int64(20), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(20), repo.balances[balanceKey{2, 1}])
}

func TestCancelParkedSaleRestoresStock(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)
	require.Equal(t, int64(18), repo.balances[balanceKey{1, 1}])

	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCancelled, cashier)
	require.NoError(t, err)
	require.Equal(t, int64(20), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(20), repo.balances[balanceKey{2, 1}])
}

func TestAddPaymentCompletesParkedSale(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(PaymentInput{Method: MethodCard, Amount: decimal.RequireFromString("600")}), cashier)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)
	require.Equal(t, PaymentPartial, sale.PaymentStatus)

	// The balancing tender settles the bill and completes the sale.
	sale, err = svc.AddPayment(context.Background(), sale.ID, cash("600"), cashier)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, sale.Status)
	require.NotNil(t, sale.CompletedAt)
	require.Equal(t, PaymentPaid, sale.PaymentStatus)
	require.True(t, decimal.RequireFromString("1100").Equal(sale.AmountPaid))
	require.True(t, decimal.RequireFromString("100").Equal(sale.ChangeGiven))
}

func TestAddPaymentKeepsUnderpaidSaleParked(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)

	sale, err = svc.AddPayment(context.Background(), sale.ID, cash("600"), cashier)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, sale.Status)
	require.Equal(t, PaymentPartial, sale.PaymentStatus)
	require.True(t, decimal.RequireFromString("600").Equal(sale.AmountPaid))
}

func TestAddPaymentRejectsTerminalSale(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), sale.ID, StatusCancelled, cashier)
	require.NoError(t, err)

	_, err = svc.AddPayment(context.Background(), sale.ID, cash("10"), cashier)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCompletedSaleBumpsCustomerTotals(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	customerID := int64(7)
	input := saleInput(cash("1100"))
	input.CustomerID = &customerID

	_, err := svc.Create(context.Background(), input, cashier)
	require.NoError(t, err)

	stats := repo.customers[customerID]
	require.True(t, decimal.RequireFromString("1100").Equal(stats.totalPurchases))
	require.NotNil(t, stats.lastPurchase)
}

func TestParkedSaleBumpsCustomerOnCompletion(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	customerID := int64(7)
	input := saleInput(cash("500"))
	input.CustomerID = &customerID

	sale, err := svc.Create(context.Background(), input, cashier)
	require.NoError(t, err)
	require.True(t, repo.customers[customerID].totalPurchases.IsZero(),
		"a parked sale must not count as a purchase yet")

	_, err = svc.AddPayment(context.Background(), sale.ID, cash("600"), cashier)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1100").Equal(repo.customers[customerID].totalPurchases))
}

func TestProcessRefundRequiresAdmin(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)

	_, err = svc.ProcessRefund(context.Background(), sale.ID, RefundInput{Reason: "damaged goods"}, cashier)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestProcessRefund(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)

	refund, err := svc.ProcessRefund(context.Background(), sale.ID, RefundInput{Reason: "damaged goods"}, admin)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("1100").Equal(refund.Amount), "refund defaults to the sale total")
	require.Equal(t, RefundFull, refund.Type)
	require.Equal(t, MethodCash, refund.Method)

	got, err := svc.Get(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, got.Status)
	require.Equal(t, PaymentRefunded, got.PaymentStatus)
	require.Equal(t, int64(20), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(20), repo.balances[balanceKey{2, 1}])

	// The money handed back is a negative payment row; the history nets to
	// zero without touching the original tender.
	require.Len(t, got.Payments, 2)
	require.True(t, decimal.RequireFromString("-1100").Equal(got.Payments[1].Amount))

	// Terminal: no second refund.
	_, err = svc.ProcessRefund(context.Background(), sale.ID, RefundInput{Reason: "again"}, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProcessPartialRefund(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)

	refund, err := svc.ProcessRefund(context.Background(), sale.ID, RefundInput{
		Amount: decimal.RequireFromString("300"),
		Method: MethodCard,
		Reason: "one item returned",
	}, admin)
	require.NoError(t, err)
	require.Equal(t, RefundPartial, refund.Type)
	require.Equal(t, MethodCard, refund.Method)

	got, err := svc.Get(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentRefunded, got.PaymentStatus)
	require.True(t, decimal.RequireFromString("-300").Equal(got.Payments[1].Amount))
}

func TestProcessRefundCapsAtSaleTotal(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(cash("1100")), cashier)
	require.NoError(t, err)

	_, err = svc.ProcessRefund(context.Background(), sale.ID, RefundInput{
		Amount: decimal.RequireFromString("1200"),
		Reason: "too much",
	}, admin)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestProcessRefundRejectsDraft(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	sale, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)

	_, err = svc.ProcessRefund(context.Background(), sale.ID, RefundInput{Reason: "not yet sold"}, admin)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSaleNumbersAreSequentialPerDay(t *testing.T) {
	repo := newFakeRepo()
	seedStock(repo)
	svc := newTestService(repo)

	first, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), saleInput(), cashier)
	require.NoError(t, err)

	day := time.Now().UTC().Format("20060102")
	require.Equal(t, "SAL-"+day+"-0001", first.SaleNumber)
	require.Equal(t, "SAL-"+day+"-0002", second.SaleNumber)
}
