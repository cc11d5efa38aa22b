package purchasing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// Repository is the PostgreSQL implementation of RepositoryPort and
// SupplierLedgerPort.
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
		return fn(ctx, &txRepository{tx: tx, TxRepository: stock.NewTxRepository(tx)})
	})
}

const orderColumns = `id, order_number, supplier_id, location_id, status, total_amount, amount_paid, payment_status, notes, created_by, created_at, updated_at, received_at`

// GetOrder loads one order with its items and payments.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Order{}, err
	}
	if order.Items, err = listOrderItems(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	if order.Payments, err = listOrderPayments(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListOrders pages through order headers, newest first.
func (r *Repository) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, int64, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		conds = append(conds, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchase orders: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

const returnColumns = `id, ref, order_id, supplier_id, status, total_amount, reason, created_by, created_at, updated_at`

// GetReturn loads one return with its items.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1`, id)
	ret, err := scanReturn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, fmt.Errorf("%w: purchase return %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Return{}, err
	}
	if ret.Items, err = listReturnItems(ctx, r.pool, id); err != nil {
		return Return{}, err
	}
	return ret, nil
}

// ListReturns returns the returns of one order, newest first.
func (r *Repository) ListReturns(ctx context.Context, orderID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE order_id = $1 ORDER BY id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list purchase returns: %w", err)
	}
	defer rows.Close()

	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

// ReceivedOrders returns the supplier ledger rows.
func (r *Repository) ReceivedOrders(ctx context.Context, supplierID int64) ([]SupplierOrderRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id, o.order_number, o.created_at, o.total_amount, o.amount_paid,
       COALESCE((SELECT SUM(p.amount) FROM purchase_payments p WHERE p.order_id = o.id), 0)
FROM purchase_orders o
WHERE o.supplier_id = $1 AND o.status = 'RECEIVED'
ORDER BY o.created_at, o.id`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("supplier ledger orders: %w", err)
	}
	defer rows.Close()

	var out []SupplierOrderRow
	for rows.Next() {
		var row SupplierOrderRow
		if err := rows.Scan(&row.OrderID, &row.OrderNumber, &row.Date, &row.Total, &row.AmountPaid, &row.PaymentsSum); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CompletedReturns returns the completed-return credits of one supplier.
func (r *Repository) CompletedReturns(ctx context.Context, supplierID int64) ([]SupplierReturnRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, ref, updated_at, total_amount
FROM purchase_returns
WHERE supplier_id = $1 AND status = 'COMPLETED'
ORDER BY updated_at, id`, supplierID)
	if err != nil {
		return nil, fmt.Errorf("supplier ledger returns: %w", err)
	}
	defer rows.Close()

	var out []SupplierReturnRow
	for rows.Next() {
		var row SupplierReturnRow
		var ref uuid.UUID
		if err := rows.Scan(&row.ReturnID, &ref, &row.Date, &row.Amount); err != nil {
			return nil, err
		}
		row.Ref = ref.String()
		out = append(out, row)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	stock.TxRepository
}

func (t *txRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (order_number, supplier_id, location_id, status, total_amount, amount_paid, payment_status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $9)
RETURNING id`,
		o.OrderNumber, o.SupplierID, o.LocationID, o.Status, o.TotalAmount, o.PaymentStatus,
		o.Notes, o.CreatedBy, o.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error {
	for i := range items {
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, product_id, quantity, unit_cost, line_total)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			orderID, items[i].ProductID, items[i].Quantity, items[i].UnitCost, items[i].LineTotal).Scan(&items[i].ID)
		if err != nil {
			return err
		}
		items[i].OrderID = orderID
	}
	return nil
}

func (t *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Order{}, err
	}
	if order.Items, err = listOrderItems(ctx, t.tx, id); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (t *txRepository) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, receivedAt *time.Time, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, received_at = COALESCE($3, received_at), updated_at = $4 WHERE id = $1`,
		id, status, receivedAt, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase order %d", shared.ErrNotFound, id)
	}
	return nil
}

func (t *txRepository) InsertOrderPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_payments (order_id, method, amount, reference, paid_by, paid_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.OrderID, p.Method, p.Amount, p.Reference, p.PaidBy, p.PaidAt).Scan(&id)
	return id, err
}

func (t *txRepository) ListOrderPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	return listOrderPayments(ctx, t.tx, orderID)
}

func (t *txRepository) UpdateOrderPaymentPosition(ctx context.Context, id int64, paid decimal.Decimal, status PaymentStatus, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET amount_paid = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
		id, paid, status, at)
	return err
}

func (t *txRepository) InsertReturn(ctx context.Context, ret Return) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_returns (ref, order_id, supplier_id, status, total_amount, reason, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`,
		ret.Ref, ret.OrderID, ret.SupplierID, ret.Status, ret.TotalAmount, ret.Reason, ret.CreatedBy, ret.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) InsertReturnItems(ctx context.Context, returnID int64, items []ReturnItem) error {
	for i := range items {
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_return_items (return_id, product_id, quantity, unit_cost)
VALUES ($1, $2, $3, $4) RETURNING id`,
			returnID, items[i].ProductID, items[i].Quantity, items[i].UnitCost).Scan(&items[i].ID)
		if err != nil {
			return err
		}
		items[i].ReturnID = returnID
	}
	return nil
}

func (t *txRepository) GetReturnForUpdate(ctx context.Context, id int64) (Return, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1 FOR UPDATE`, id)
	ret, err := scanReturn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, fmt.Errorf("%w: purchase return %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Return{}, err
	}
	if ret.Items, err = listReturnItems(ctx, t.tx, id); err != nil {
		return Return{}, err
	}
	return ret, nil
}

func (t *txRepository) UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_returns SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase return %d", shared.ErrNotFound, id)
	}
	return nil
}

// NextDocNumber mirrors the sales implementation over the shared counter
// table, scoped by prefix.
func (t *txRepository) NextDocNumber(ctx context.Context, prefix string, day time.Time) (string, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO doc_counters (prefix, day, seq)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, day) DO UPDATE SET seq = doc_counters.seq + 1
RETURNING seq`, prefix, day.Format("2006-01-02")).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), seq), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listOrderItems(ctx context.Context, q querier, orderID int64) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_cost, line_total
FROM purchase_order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitCost, &it.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func listOrderPayments(ctx context.Context, q querier, orderID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, method, amount, COALESCE(reference, ''), paid_by, paid_at
FROM purchase_payments WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Reference, &p.PaidBy, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func listReturnItems(ctx context.Context, q querier, returnID int64) ([]ReturnItem, error) {
	rows, err := q.Query(ctx, `SELECT id, return_id, product_id, quantity, unit_cost
FROM purchase_return_items WHERE return_id = $1 ORDER BY id`, returnID)
	if err != nil {
		return nil, fmt.Errorf("list return items: %w", err)
	}
	defer rows.Close()

	var items []ReturnItem
	for rows.Next() {
		var it ReturnItem
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.ProductID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var notes *string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.SupplierID, &o.LocationID, &o.Status, &o.TotalAmount,
		&o.AmountPaid, &o.PaymentStatus, &notes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &o.ReceivedAt)
	if err != nil {
		return Order{}, err
	}
	if notes != nil {
		o.Notes = *notes
	}
	return o, nil
}

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	err := row.Scan(&ret.ID, &ret.Ref, &ret.OrderID, &ret.SupplierID, &ret.Status, &ret.TotalAmount,
		&ret.Reason, &ret.CreatedBy, &ret.CreatedAt, &ret.UpdatedAt)
	return ret, err
}
