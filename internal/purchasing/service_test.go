package purchasing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

type balanceKey struct {
	productID  int64
	locationID int64
}

type fakeRepo struct {
	nextOrderID   int64
	nextReturnID  int64
	nextPaymentID int64
	nextStockID   int64
	counters      map[string]int64
	orders        map[int64]Order
	payments      map[int64][]Payment
	returns       map[int64]Return
	stockTxs      []stock.Transaction
	balances      map[balanceKey]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		counters: make(map[string]int64),
		orders:   make(map[int64]Order),
		payments: make(map[int64][]Payment),
		returns:  make(map[int64]Return),
		balances: make(map[balanceKey]int64),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	return f.GetOrderForUpdate(ctx, id)
}

func (f *fakeRepo) ListOrders(_ context.Context, _ OrderListFilter) ([]Order, int64, error) {
	var out []Order
	for _, o := range f.orders {
		out = append(out, o)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) GetReturn(ctx context.Context, id int64) (Return, error) {
	return f.GetReturnForUpdate(ctx, id)
}

func (f *fakeRepo) ListReturns(_ context.Context, orderID int64) ([]Return, error) {
	var out []Return
	for _, ret := range f.returns {
		if ret.OrderID == orderID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertOrder(_ context.Context, o Order) (int64, error) {
	f.nextOrderID++
	o.ID = f.nextOrderID
	f.orders[o.ID] = o
	return o.ID, nil
}

func (f *fakeRepo) InsertOrderItems(_ context.Context, orderID int64, items []OrderItem) error {
	o := f.orders[orderID]
	o.Items = append([]OrderItem(nil), items...)
	f.orders[orderID] = o
	return nil
}

func (f *fakeRepo) GetOrderForUpdate(_ context.Context, id int64) (Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	return o, nil
}

func (f *fakeRepo) UpdateOrderStatus(_ context.Context, id int64, status OrderStatus, receivedAt *time.Time, at time.Time) error {
	o := f.orders[id]
	o.Status = status
	if receivedAt != nil {
		o.ReceivedAt = receivedAt
	}
	o.UpdatedAt = at
	f.orders[id] = o
	return nil
}

func (f *fakeRepo) InsertOrderPayment(_ context.Context, p Payment) (int64, error) {
	f.nextPaymentID++
	p.ID = f.nextPaymentID
	f.payments[p.OrderID] = append(f.payments[p.OrderID], p)
	return p.ID, nil
}

func (f *fakeRepo) ListOrderPayments(_ context.Context, orderID int64) ([]Payment, error) {
	return append([]Payment(nil), f.payments[orderID]...), nil
}

func (f *fakeRepo) UpdateOrderPaymentPosition(_ context.Context, id int64, paid decimal.Decimal, status PaymentStatus, at time.Time) error {
	o := f.orders[id]
	o.AmountPaid = paid
	o.PaymentStatus = status
	o.UpdatedAt = at
	f.orders[id] = o
	return nil
}

func (f *fakeRepo) InsertReturn(_ context.Context, r Return) (int64, error) {
	f.nextReturnID++
	r.ID = f.nextReturnID
	f.returns[r.ID] = r
	return r.ID, nil
}

func (f *fakeRepo) InsertReturnItems(_ context.Context, returnID int64, items []ReturnItem) error {
	ret := f.returns[returnID]
	ret.Items = append([]ReturnItem(nil), items...)
	f.returns[returnID] = ret
	return nil
}

func (f *fakeRepo) GetReturnForUpdate(_ context.Context, id int64) (Return, error) {
	ret, ok := f.returns[id]
	if !ok {
		return Return{}, fmt.Errorf("%w: purchase return %d", shared.ErrNotFound, id)
	}
	return ret, nil
}

func (f *fakeRepo) UpdateReturnStatus(_ context.Context, id int64, status ReturnStatus, at time.Time) error {
	ret := f.returns[id]
	ret.Status = status
	ret.UpdatedAt = at
	f.returns[id] = ret
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

type fakeCosts struct {
	synced map[int64]decimal.Decimal
}

func (f *fakeCosts) SyncCostPrice(_ context.Context, productID int64, cost decimal.Decimal, _ int64) error {
	if f.synced == nil {
		f.synced = make(map[int64]decimal.Decimal)
	}
	f.synced[productID] = cost
	return nil
}

type fakeApprovals struct {
	logs []shared.ApprovalLog
}

func (f *fakeApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	f.logs = append(f.logs, log)
	return nil
}

var (
	buyer   = shared.Principal{UserID: 5, Name: "buyer", Role: shared.RoleCashier}
	manager = shared.Principal{UserID: 6, Name: "manager", Role: shared.RoleManager}
)

func orderInput() CreateOrderInput {
	return CreateOrderInput{
		SupplierID: 3,
		LocationID: 1,
		Items: []OrderItemInput{
			{ProductID: 1, Quantity: 10, UnitCost: decimal.RequireFromString("40")},
			{ProductID: 2, Quantity: 5, UnitCost: decimal.RequireFromString("20")},
		},
	}
}

func TestCreateOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	require.Equal(t, OrderPending, order.Status)
	require.True(t, decimal.RequireFromString("500").Equal(order.TotalAmount))
	require.Contains(t, order.OrderNumber, "PUR-")
	require.Empty(t, repo.stockTxs, "no stock moves before receipt")
}

func TestMarkReceivedPostsReceipts(t *testing.T) {
	repo := newFakeRepo()
	costs := &fakeCosts{}
	svc := NewService(repo, costs, nil, nil, Policy{SyncCostOnReceive: true}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)

	received, err := svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, OrderReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)

	require.Equal(t, int64(10), repo.balances[balanceKey{1, 1}])
	require.Equal(t, int64(5), repo.balances[balanceKey{2, 1}])
	require.Len(t, repo.stockTxs, 2)
	for _, tx := range repo.stockTxs {
		require.Equal(t, stock.TypeReceipt, tx.Type)
		require.Equal(t, order.OrderNumber, tx.ReferenceNo)
	}

	require.True(t, decimal.RequireFromString("40").Equal(costs.synced[1]))
	require.True(t, decimal.RequireFromString("20").Equal(costs.synced[2]))

	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelReceivedOrderRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)

	_, err = svc.CancelOrder(context.Background(), order.ID, buyer)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAddPaymentReconcilesPosition(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)

	order, err = svc.AddPayment(context.Background(), order.ID, "BANK_TRANSFER", decimal.RequireFromString("200"), "TRX-1", buyer)
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, order.PaymentStatus)
	require.True(t, decimal.RequireFromString("200").Equal(order.AmountPaid))

	order, err = svc.AddPayment(context.Background(), order.ID, "BANK_TRANSFER", decimal.RequireFromString("300"), "TRX-2", buyer)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, order.PaymentStatus)
	require.True(t, decimal.RequireFromString("500").Equal(order.AmountPaid))
}

func TestReturnApprovalFlow(t *testing.T) {
	repo := newFakeRepo()
	approvals := &fakeApprovals{}
	svc := NewService(repo, nil, approvals, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)

	ret, err := svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: order.ID,
		Items:   []ReturnItemInput{{ProductID: 1, Quantity: 4}},
		Reason:  "damaged cartons",
	}, buyer)
	require.NoError(t, err)
	require.Equal(t, ReturnPending, ret.Status)
	require.True(t, decimal.RequireFromString("160").Equal(ret.TotalAmount))

	// A cashier cannot review; the submitter cannot review their own.
	_, err = svc.ReviewReturn(context.Background(), ret.ID, true, "", buyer)
	require.ErrorIs(t, err, shared.ErrForbidden)

	ret, err = svc.ReviewReturn(context.Background(), ret.ID, true, "checked", manager)
	require.NoError(t, err)
	require.Equal(t, ReturnApproved, ret.Status)

	ret, err = svc.CompleteReturn(context.Background(), ret.ID, manager)
	require.NoError(t, err)
	require.Equal(t, ReturnCompleted, ret.Status)

	require.Len(t, approvals.logs, 3)
	require.Equal(t, shared.ApprovalSubmit, approvals.logs[0].Action)
	require.Equal(t, shared.ApprovalApprove, approvals.logs[1].Action)
	require.Equal(t, shared.ApprovalComplete, approvals.logs[2].Action)
	for _, log := range approvals.logs {
		require.Equal(t, ret.Ref, log.RefID)
	}
}

func TestRejectedReturnIsTerminal(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)

	ret, err := svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: order.ID,
		Items:   []ReturnItemInput{{ProductID: 2, Quantity: 1}},
		Reason:  "wrong item",
	}, buyer)
	require.NoError(t, err)

	ret, err = svc.ReviewReturn(context.Background(), ret.ID, false, "keep it", manager)
	require.NoError(t, err)
	require.Equal(t, ReturnRejected, ret.Status)

	_, err = svc.CompleteReturn(context.Background(), ret.ID, manager)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.ReviewReturn(context.Background(), ret.ID, true, "", manager)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReturnQuantityBounds(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)

	_, err = svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: order.ID,
		Items:   []ReturnItemInput{{ProductID: 1, Quantity: 11}},
		Reason:  "too many",
	}, buyer)
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: order.ID,
		Items:   []ReturnItemInput{{ProductID: 99, Quantity: 1}},
		Reason:  "not ordered",
	}, buyer)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCompleteReturnReversesStockWhenEnabled(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil, Policy{ReverseStockOnReturnComplete: true}, nil)

	order, err := svc.CreateOrder(context.Background(), orderInput(), buyer)
	require.NoError(t, err)
	_, err = svc.MarkReceived(context.Background(), order.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, int64(10), repo.balances[balanceKey{1, 1}])

	ret, err := svc.CreateReturn(context.Background(), CreateReturnInput{
		OrderID: order.ID,
		Items:   []ReturnItemInput{{ProductID: 1, Quantity: 4}},
		Reason:  "damaged cartons",
	}, buyer)
	require.NoError(t, err)
	_, err = svc.ReviewReturn(context.Background(), ret.ID, true, "", manager)
	require.NoError(t, err)
	_, err = svc.CompleteReturn(context.Background(), ret.ID, manager)
	require.NoError(t, err)

	require.Equal(t, int64(6), repo.balances[balanceKey{1, 1}])
}
