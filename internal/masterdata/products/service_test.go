package products

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/shared"
)

type fakeRepo struct {
	nextID   int64
	products map[int64]Product
	onHand   map[int64]int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{products: make(map[int64]Product), onHand: make(map[int64]int64)}
}

func (f *fakeRepo) Create(_ context.Context, p Product) (int64, error) {
	for _, existing := range f.products {
		if existing.DeletedAt == nil && (existing.SKU == p.SKU || (p.Barcode != "" && existing.Barcode == p.Barcode)) {
			return 0, fmt.Errorf("%w: sku or barcode already in use", shared.ErrConflict)
		}
	}
	f.nextID++
	p.ID = f.nextID
	f.products[p.ID] = p
	return p.ID, nil
}

func (f *fakeRepo) Update(_ context.Context, p Product) error {
	if _, ok := f.products[p.ID]; !ok {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, p.ID)
	}
	f.products[p.ID] = p
	return nil
}

func (f *fakeRepo) SoftDelete(_ context.Context, id int64, at time.Time) error {
	p, ok := f.products[id]
	if !ok || p.DeletedAt != nil {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	p.DeletedAt = &at
	p.IsActive = false
	f.products[id] = p
	return nil
}

func (f *fakeRepo) HardDelete(_ context.Context, id int64) error {
	p, ok := f.products[id]
	if !ok || p.DeletedAt == nil {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	delete(f.products, id)
	return nil
}

func (f *fakeRepo) GetAny(_ context.Context, id int64) (Product, error) {
	p, ok := f.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id int64) (Product, error) {
	p, ok := f.products[id]
	if !ok || p.DeletedAt != nil {
		return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakeRepo) List(_ context.Context, _ ListFilter) ([]Product, int64, error) {
	var out []Product
	for _, p := range f.products {
		if p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepo) TotalOnHand(_ context.Context, productID int64) (int64, error) {
	return f.onHand[productID], nil
}

func (f *fakeRepo) UpdateCostPrice(_ context.Context, id int64, cost decimal.Decimal) error {
	p, ok := f.products[id]
	if !ok {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	p.CostPrice = cost
	f.products[id] = p
	return nil
}

func validInput(sku string) CreateInput {
	return CreateInput{
		SKU:          sku,
		Name:         "Test Product",
		CostPrice:    decimal.NewFromInt(60),
		SellingPrice: decimal.NewFromInt(100),
		TaxRate:      decimal.NewFromInt(5),
		ReorderLevel: 10,
		MinStock:     5,
		MaxStock:     50,
	}
}

func TestCreateProduct(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	require.True(t, p.IsActive)
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateProductRejectsNegativePrice(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)
	input := validInput("SKU-1")
	input.SellingPrice = decimal.NewFromInt(-5)
	_, err := svc.Create(context.Background(), input, 1)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestDeleteProductWithStockOnHand(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)
	repo.onHand[p.ID] = 4

	err = svc.Delete(context.Background(), p.ID, 1)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Get(context.Background(), p.ID)
	require.NoError(t, err, "product must survive a rejected delete")
}

func TestDeleteProductAtZeroStock(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), p.ID, 1))

	_, err = svc.Get(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateProductRejectsMaxBelowMinStock(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil)
	input := validInput("SKU-1")
	input.MinStock = 20
	input.MaxStock = 10
	_, err := svc.Create(context.Background(), input, 1)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestPurgeRequiresSoftDeleteFirst(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)

	err = svc.Purge(context.Background(), p.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Get(context.Background(), p.ID)
	require.NoError(t, err, "product must survive a rejected purge")
}

func TestPurgeRejectsStockOnHand(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), p.ID, 1))
	repo.onHand[p.ID] = 3

	err = svc.Purge(context.Background(), p.ID, 1)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestPurgeDeletedProduct(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), p.ID, 1))

	require.NoError(t, svc.Purge(context.Background(), p.ID, 1))
	_, err = repo.GetAny(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSyncCostPrice(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil)

	p, err := svc.Create(context.Background(), validInput("SKU-1"), 1)
	require.NoError(t, err)

	require.NoError(t, svc.SyncCostPrice(context.Background(), p.ID, decimal.NewFromInt(72), 1))
	got, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(72).Equal(got.CostPrice))
}
