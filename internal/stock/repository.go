package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian/internal/platform/db"
)

// Repository is the PostgreSQL implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBalance returns one balance, or a zero balance when the product never
// moved at the location.
func (r *Repository) GetBalance(ctx context.Context, productID, locationID int64) (Balance, error) {
	return scanBalance(ctx, r.pool, productID, locationID, "")
}

// ListBalances lists materialised balances matching the filter.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	query := `SELECT product_id, location_id, quantity, updated_at FROM stock_balances`
	var conds []string
	var args []any
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		conds = append(conds, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY product_id, location_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock balances: %w", err)
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ProductID, &b.LocationID, &b.Quantity, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListTransactions lists ledger entries newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	query := `SELECT id, product_id, tx_type, quantity, from_location_id, to_location_id, reference_no, sale_id, created_by, created_at
FROM stock_transactions`
	var conds []string
	var args []any
	if filter.ProductID > 0 {
		args = append(args, filter.ProductID)
		conds = append(conds, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(from_location_id = $%d OR to_location_id = $%d)", n, n))
	}
	if filter.SaleID > 0 {
		args = append(args, filter.SaleID)
		conds = append(conds, fmt.Sprintf("sale_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListLowStock reports products whose summed balance is at or below their
// reorder level. Soft-deleted products are excluded.
func (r *Repository) ListLowStock(ctx context.Context) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, COALESCE(SUM(b.quantity), 0) AS on_hand, p.reorder_level
FROM products p
LEFT JOIN stock_balances b ON b.product_id = p.id
WHERE p.deleted_at IS NULL AND p.reorder_level > 0
GROUP BY p.id, p.sku, p.name, p.reorder_level
HAVING COALESCE(SUM(b.quantity), 0) <= p.reorder_level
ORDER BY on_hand ASC`)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var items []LowStockItem
	for rows.Next() {
		var it LowStockItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.ReorderLevel); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// NewTxRepository wraps an open transaction in the ledger's transactional
// port. Other modules use it to post stock movements inside their own
// transactions.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) InsertTransaction(ctx context.Context, entry Transaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_transactions (product_id, tx_type, quantity, from_location_id, to_location_id, reference_no, sale_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		entry.ProductID, entry.Type, entry.Quantity, entry.FromLocationID, entry.ToLocationID,
		entry.ReferenceNo, entry.SaleID, entry.CreatedBy, entry.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) AddToBalance(ctx context.Context, productID, locationID, delta int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, location_id, quantity, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id, location_id)
DO UPDATE SET quantity = stock_balances.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		productID, locationID, delta)
	return err
}

// DecrementBalance guards against overdraw in the UPDATE predicate itself so
// two concurrent issues cannot both pass a prior read.
func (t *txRepository) DecrementBalance(ctx context.Context, productID, locationID, qty int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_balances
SET quantity = quantity - $3, updated_at = NOW()
WHERE product_id = $1 AND location_id = $2 AND quantity >= $3`,
		productID, locationID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (t *txRepository) GetBalanceForUpdate(ctx context.Context, productID, locationID int64) (Balance, error) {
	return scanBalance(ctx, t.tx, productID, locationID, " FOR UPDATE")
}

func (t *txRepository) ListBySale(ctx context.Context, saleID int64) ([]Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, product_id, tx_type, quantity, from_location_id, to_location_id, reference_no, sale_id, created_by, created_at
FROM stock_transactions
WHERE sale_id = $1
ORDER BY id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list stock transactions by sale: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanBalance(ctx context.Context, q queryer, productID, locationID int64, suffix string) (Balance, error) {
	var b Balance
	err := q.QueryRow(ctx, `SELECT product_id, location_id, quantity, updated_at
FROM stock_balances
WHERE product_id = $1 AND location_id = $2`+suffix, productID, locationID).
		Scan(&b.ProductID, &b.LocationID, &b.Quantity, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{ProductID: productID, LocationID: locationID, Quantity: 0, UpdatedAt: time.Time{}}, nil
	}
	if err != nil {
		return Balance{}, fmt.Errorf("get stock balance: %w", err)
	}
	return b, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var entries []Transaction
	for rows.Next() {
		var e Transaction
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Type, &e.Quantity, &e.FromLocationID, &e.ToLocationID,
			&e.ReferenceNo, &e.SaleID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
