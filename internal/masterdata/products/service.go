package products

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	Create(ctx context.Context, p Product) (int64, error)
	Update(ctx context.Context, p Product) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	// HardDelete removes the row for good. The repository refuses rows that
	// are still referenced by historical documents.
	HardDelete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (Product, error)
	// GetAny fetches a product regardless of deletion state.
	GetAny(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, int64, error)
	// TotalOnHand sums the product's stock balance across all locations.
	TotalOnHand(ctx context.Context, productID int64) (int64, error)
	UpdateCostPrice(ctx context.Context, id int64, cost decimal.Decimal) error
}

// AuditPort records audit trail entries, best effort.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service implements the product catalogue operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService wires the product service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Create registers a new product. SKU and barcode uniqueness is enforced by
// the database; violations surface as conflicts.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID int64) (Product, error) {
	if err := validatePricing(input.CostPrice, input.SellingPrice, input.TaxRate); err != nil {
		return Product{}, err
	}
	if err := validateStockLevels(input.ReorderLevel, input.MinStock, input.MaxStock); err != nil {
		return Product{}, err
	}

	now := time.Now().UTC()
	p := Product{
		SKU:          input.SKU,
		Barcode:      input.Barcode,
		Name:         input.Name,
		Description:  input.Description,
		CategoryID:   input.CategoryID,
		UnitID:       input.UnitID,
		CostPrice:    input.CostPrice,
		SellingPrice: input.SellingPrice,
		TaxRate:      input.TaxRate,
		ReorderLevel: input.ReorderLevel,
		MinStock:     input.MinStock,
		MaxStock:     input.MaxStock,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.repo.Create(ctx, p)
	if err != nil {
		return Product{}, err
	}
	p.ID = id

	s.recordAudit(ctx, actorID, p.ID, "product.create", nil, map[string]any{"sku": p.SKU, "name": p.Name})
	return p, nil
}

// Update replaces the mutable fields of a product. The SKU is immutable once
// assigned.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput, actorID int64) (Product, error) {
	if err := validatePricing(input.CostPrice, input.SellingPrice, input.TaxRate); err != nil {
		return Product{}, err
	}
	if err := validateStockLevels(input.ReorderLevel, input.MinStock, input.MaxStock); err != nil {
		return Product{}, err
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Product{}, err
	}
	updated := current
	updated.Barcode = input.Barcode
	updated.Name = input.Name
	updated.Description = input.Description
	updated.CategoryID = input.CategoryID
	updated.UnitID = input.UnitID
	updated.CostPrice = input.CostPrice
	updated.SellingPrice = input.SellingPrice
	updated.TaxRate = input.TaxRate
	updated.ReorderLevel = input.ReorderLevel
	updated.MinStock = input.MinStock
	updated.MaxStock = input.MaxStock
	updated.IsActive = input.IsActive
	updated.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, updated); err != nil {
		return Product{}, err
	}

	s.recordAudit(ctx, actorID, id, "product.update",
		map[string]any{"name": current.Name, "selling_price": current.SellingPrice.String()},
		map[string]any{"name": updated.Name, "selling_price": updated.SellingPrice.String()})
	return updated, nil
}

// Delete soft-deletes a product. A product with stock on hand anywhere
// cannot be deleted; it has to be adjusted or issued to zero first.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	onHand, err := s.repo.TotalOnHand(ctx, id)
	if err != nil {
		return err
	}
	if onHand != 0 {
		return fmt.Errorf("%w: product %s has %d units on hand", shared.ErrConflict, p.SKU, onHand)
	}
	if err := s.repo.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, id, "product.delete", map[string]any{"sku": p.SKU}, nil)
	return nil
}

// Purge permanently removes a product. Only products that were already
// soft-deleted and hold no stock anywhere can be purged; rows referenced by
// historical documents stay refused by the repository.
func (s *Service) Purge(ctx context.Context, id int64, actorID int64) error {
	p, err := s.repo.GetAny(ctx, id)
	if err != nil {
		return err
	}
	if p.DeletedAt == nil {
		return fmt.Errorf("%w: product %s must be deleted before it can be purged", shared.ErrInvalidInput, p.SKU)
	}
	onHand, err := s.repo.TotalOnHand(ctx, id)
	if err != nil {
		return err
	}
	if onHand != 0 {
		return fmt.Errorf("%w: product %s has %d units on hand", shared.ErrConflict, p.SKU, onHand)
	}
	if err := s.repo.HardDelete(ctx, id); err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, id, "product.purge", map[string]any{"sku": p.SKU}, nil)
	return nil
}

// Get returns one product by id.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns products matching the filter and the total match count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, *shared.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 200 {
		filter.PerPage = 50
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, int(total))
	return items, &page, nil
}

// SyncCostPrice updates the catalogue cost price from a received purchase.
func (s *Service) SyncCostPrice(ctx context.Context, id int64, cost decimal.Decimal, actorID int64) error {
	if cost.IsNegative() {
		return fmt.Errorf("%w: cost price must be >= 0", shared.ErrInvalidInput)
	}
	if err := s.repo.UpdateCostPrice(ctx, id, cost); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, id, "product.cost_sync", nil, map[string]any{"cost_price": cost.String()})
	return nil
}

func validateStockLevels(reorder, min, max int64) error {
	if reorder < 0 || min < 0 || max < 0 {
		return fmt.Errorf("%w: stock levels must be >= 0", shared.ErrInvalidInput)
	}
	if max > 0 && max < min {
		return fmt.Errorf("%w: max stock must not be below min stock", shared.ErrInvalidInput)
	}
	return nil
}

func validatePricing(cost, selling, taxRate decimal.Decimal) error {
	if cost.IsNegative() || selling.IsNegative() {
		return fmt.Errorf("%w: prices must be >= 0", shared.ErrInvalidInput)
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: tax rate must be between 0 and 100", shared.ErrInvalidInput)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID, entityID int64, action string, oldV, newV map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Entity:   "product",
		EntityID: strconv.FormatInt(entityID, 10),
		Action:   action,
		OldValue: oldV,
		NewValue: newV,
		At:       time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("product audit record failed", slog.Any("error", err))
	}
}
