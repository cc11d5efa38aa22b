package products

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository is the PostgreSQL implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, sku, barcode, name, description, category_id, unit_id, cost_price, selling_price, tax_rate, reorder_level, min_stock, max_stock, is_active, created_at, updated_at, deleted_at`

// Create inserts a product, mapping unique violations on sku/barcode to a
// conflict error.
func (r *Repository) Create(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, barcode, name, description, category_id, unit_id, cost_price, selling_price, tax_rate, reorder_level, min_stock, max_stock, is_active, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id`,
		p.SKU, p.Barcode, p.Name, p.Description, p.CategoryID, p.UnitID,
		p.CostPrice, p.SellingPrice, p.TaxRate, p.ReorderLevel, p.MinStock, p.MaxStock, p.IsActive, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, mapUniqueViolation(err)
	}
	return id, nil
}

// Update persists the mutable fields.
func (r *Repository) Update(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products
SET barcode = NULLIF($2, ''), name = $3, description = $4, category_id = $5, unit_id = $6,
    cost_price = $7, selling_price = $8, tax_rate = $9, reorder_level = $10, min_stock = $11, max_stock = $12, is_active = $13, updated_at = $14
WHERE id = $1 AND deleted_at IS NULL`,
		p.ID, p.Barcode, p.Name, p.Description, p.CategoryID, p.UnitID,
		p.CostPrice, p.SellingPrice, p.TaxRate, p.ReorderLevel, p.MinStock, p.MaxStock, p.IsActive, p.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, p.ID)
	}
	return nil
}

// SoftDelete stamps deleted_at and deactivates the product.
func (r *Repository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET deleted_at = $2, is_active = FALSE, updated_at = $2
WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return nil
}

// HardDelete removes a soft-deleted product row permanently. Rows still
// referenced from stock or sales history surface as conflicts.
func (r *Repository) HardDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1 AND deleted_at IS NOT NULL`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("%w: product %d is referenced by historical documents", shared.ErrConflict, id)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return nil
}

// GetByID fetches one product, excluding soft-deleted rows.
func (r *Repository) GetByID(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND deleted_at IS NULL`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return p, err
}

// GetAny fetches one product regardless of deletion state.
func (r *Repository) GetAny(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return p, err
}

// List pages through the catalogue. Search matches sku, barcode and name.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Product, int64, error) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(sku ILIKE $%d OR barcode ILIKE $%d OR name ILIKE $%d)", n, n, n))
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active = TRUE")
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)
	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY name LIMIT $%d OFFSET $%d`,
		productColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var items []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// TotalOnHand sums stock balances across every location.
func (r *Repository) TotalOnHand(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_balances WHERE product_id = $1`, productID).Scan(&total)
	return total, err
}

// UpdateCostPrice updates only the cost price.
func (r *Repository) UpdateCostPrice(ctx context.Context, id int64, cost decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET cost_price = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", shared.ErrNotFound, id)
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var barcode, description *string
	err := row.Scan(&p.ID, &p.SKU, &barcode, &p.Name, &description, &p.CategoryID, &p.UnitID,
		&p.CostPrice, &p.SellingPrice, &p.TaxRate, &p.ReorderLevel, &p.MinStock, &p.MaxStock, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)
	if err != nil {
		return Product{}, err
	}
	if barcode != nil {
		p.Barcode = *barcode
	}
	if description != nil {
		p.Description = *description
	}
	return p, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: sku or barcode already in use", shared.ErrConflict)
	}
	return err
}
