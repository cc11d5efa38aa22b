package stock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
)

type balanceKey struct {
	productID  int64
	locationID int64
}

type fakeRepo struct {
	nextID       int64
	transactions []Transaction
	balances     map[balanceKey]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{balances: make(map[balanceKey]int64)}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) InsertTransaction(_ context.Context, entry Transaction) (int64, error) {
	f.nextID++
	entry.ID = f.nextID
	f.transactions = append(f.transactions, entry)
	return entry.ID, nil
}

func (f *fakeRepo) AddToBalance(_ context.Context, productID, locationID, delta int64) error {
	f.balances[balanceKey{productID, locationID}] += delta
	return nil
}

func (f *fakeRepo) DecrementBalance(_ context.Context, productID, locationID, qty int64) error {
	key := balanceKey{productID, locationID}
	if f.balances[key] < qty {
		return ErrInsufficientStock
	}
	f.balances[key] -= qty
	return nil
}

func (f *fakeRepo) GetBalanceForUpdate(_ context.Context, productID, locationID int64) (Balance, error) {
	return Balance{
		ProductID:  productID,
		LocationID: locationID,
		Quantity:   f.balances[balanceKey{productID, locationID}],
	}, nil
}

func (f *fakeRepo) ListBySale(_ context.Context, saleID int64) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range f.transactions {
		if tx.SaleID != nil && *tx.SaleID == saleID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetBalance(ctx context.Context, productID, locationID int64) (Balance, error) {
	return f.GetBalanceForUpdate(ctx, productID, locationID)
}

func (f *fakeRepo) ListBalances(_ context.Context, _ BalanceFilter) ([]Balance, error) {
	var out []Balance
	for key, qty := range f.balances {
		out = append(out, Balance{ProductID: key.productID, LocationID: key.locationID, Quantity: qty})
	}
	return out, nil
}

func (f *fakeRepo) ListTransactions(_ context.Context, _ TransactionFilter) ([]Transaction, error) {
	return f.transactions, nil
}

func (f *fakeRepo) ListLowStock(_ context.Context) ([]LowStockItem, error) {
	return nil, nil
}

func (f *fakeRepo) totalQuantity(productID int64) int64 {
	var total int64
	for key, qty := range f.balances {
		if key.productID == productID {
			total += qty
		}
	}
	return total
}

func locPtr(id int64) *int64 { return &id }

func TestApplyReceiptIncreasesBalance(t *testing.T) {
	repo := newFakeRepo()
	entry, err := Apply(context.Background(), repo, RecordInput{
		ProductID:    1,
		Type:         TypeReceipt,
		Quantity:     25,
		ToLocationID: locPtr(10),
		ReferenceNo:  "GRN-001",
		ActorID:      7,
	})
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
	require.Equal(t, int64(25), repo.balances[balanceKey{1, 10}])
	require.Len(t, repo.transactions, 1)
}

func TestApplyTransferConservesTotal(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 40

	_, err := Apply(context.Background(), repo, RecordInput{
		ProductID:      1,
		Type:           TypeTransfer,
		Quantity:       15,
		FromLocationID: locPtr(10),
		ToLocationID:   locPtr(20),
		ActorID:        7,
	})
	require.NoError(t, err)
	require.Equal(t, int64(25), repo.balances[balanceKey{1, 10}])
	require.Equal(t, int64(15), repo.balances[balanceKey{1, 20}])
	require.Equal(t, int64(40), repo.totalQuantity(1))
}

func TestApplyIssueInsufficientStock(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 3

	_, err := Apply(context.Background(), repo, RecordInput{
		ProductID:      1,
		Type:           TypeIssue,
		Quantity:       5,
		FromLocationID: locPtr(10),
		ActorID:        7,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	require.Empty(t, repo.transactions, "a failed issue must not leave a ledger entry")
	require.Equal(t, int64(3), repo.balances[balanceKey{1, 10}])
}

func TestApplyValidation(t *testing.T) {
	cases := map[string]RecordInput{
		"missing product":             {Type: TypeReceipt, Quantity: 1, ToLocationID: locPtr(1)},
		"unknown type":                {ProductID: 1, Type: "RETURN", Quantity: 1, FromLocationID: locPtr(1)},
		"receipt without destination": {ProductID: 1, Type: TypeReceipt, Quantity: 1},
		"receipt with source":         {ProductID: 1, Type: TypeReceipt, Quantity: 1, FromLocationID: locPtr(1), ToLocationID: locPtr(2)},
		"issue without source":        {ProductID: 1, Type: TypeIssue, Quantity: 1},
		"issue negative quantity":     {ProductID: 1, Type: TypeIssue, Quantity: -4, FromLocationID: locPtr(1)},
		"transfer same location":      {ProductID: 1, Type: TypeTransfer, Quantity: 1, FromLocationID: locPtr(1), ToLocationID: locPtr(1)},
		"transfer missing leg":        {ProductID: 1, Type: TypeTransfer, Quantity: 1, FromLocationID: locPtr(1)},
		"adjustment zero quantity":    {ProductID: 1, Type: TypeAdjustment, Quantity: 0, FromLocationID: locPtr(1)},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Apply(context.Background(), newFakeRepo(), input)
			require.ErrorIs(t, err, shared.ErrInvalidInput)
		})
	}
}

func TestApplyNegativeAdjustmentCanDriveBalanceNegative(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 2

	// A shrinkage write-off beyond the recorded balance still posts; the
	// resulting negative balance surfaces the discrepancy for a recount.
	entry, err := Apply(context.Background(), repo, RecordInput{
		ProductID:      1,
		Type:           TypeAdjustment,
		Quantity:       -5,
		FromLocationID: locPtr(10),
		ActorID:        7,
	})
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
	require.Equal(t, int64(-3), repo.balances[balanceKey{1, 10}])
	require.Len(t, repo.transactions, 1)
}

func TestReverseForSaleNetsToZero(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 50
	repo.balances[balanceKey{2, 10}] = 30
	saleID := int64(99)

	for _, in := range []RecordInput{
		{ProductID: 1, Type: TypeIssue, Quantity: 5, FromLocationID: locPtr(10), SaleID: &saleID, ReferenceNo: "SAL-1", ActorID: 7},
		{ProductID: 2, Type: TypeIssue, Quantity: 3, FromLocationID: locPtr(10), SaleID: &saleID, ReferenceNo: "SAL-1", ActorID: 7},
	} {
		_, err := Apply(context.Background(), repo, in)
		require.NoError(t, err)
	}
	require.Equal(t, int64(45), repo.balances[balanceKey{1, 10}])
	require.Equal(t, int64(27), repo.balances[balanceKey{2, 10}])

	reversals, err := ReverseForSale(context.Background(), repo, saleID, "SAL-1-CANCEL", 7)
	require.NoError(t, err)
	require.Len(t, reversals, 2)
	for _, rev := range reversals {
		require.Equal(t, TypeAdjustment, rev.Type)
		require.NotNil(t, rev.SaleID)
		require.Equal(t, saleID, *rev.SaleID)
	}
	require.Equal(t, int64(50), repo.balances[balanceKey{1, 10}])
	require.Equal(t, int64(30), repo.balances[balanceKey{2, 10}])
}

func TestReverseForSaleSkipsCompensatingEntries(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 50
	saleID := int64(42)

	_, err := Apply(context.Background(), repo, RecordInput{
		ProductID: 1, Type: TypeAdjustment, Quantity: 5, FromLocationID: locPtr(10), SaleID: &saleID, ActorID: 7,
	})
	require.NoError(t, err)

	reversals, err := ReverseForSale(context.Background(), repo, saleID, "CANCEL", 7)
	require.NoError(t, err)
	require.Empty(t, reversals)
}

func TestRecordStocktakePostsDelta(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 10
	svc := NewService(repo, nil, nil, nil)

	entry, err := svc.RecordStocktake(context.Background(), 1, 10, 7, 9)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, TypeAdjustment, entry.Type)
	require.Equal(t, int64(-3), entry.Quantity)
	require.Equal(t, int64(7), repo.balances[balanceKey{1, 10}])
}

func TestRecordStocktakeNoDelta(t *testing.T) {
	repo := newFakeRepo()
	repo.balances[balanceKey{1, 10}] = 10
	svc := NewService(repo, nil, nil, nil)

	entry, err := svc.RecordStocktake(context.Background(), 1, 10, 10, 9)
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Empty(t, repo.transactions)
}

func TestRecordTransactionThroughService(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, nil)

	entry, err := svc.RecordTransaction(context.Background(), RecordInput{
		ProductID:    3,
		Type:         TypeReceipt,
		Quantity:     12,
		ToLocationID: locPtr(10),
		ActorID:      1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(12), repo.balances[balanceKey{3, 10}])
	require.WithinDuration(t, time.Now().UTC(), entry.CreatedAt, time.Minute)
}
