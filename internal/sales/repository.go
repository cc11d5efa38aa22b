package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/money"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// Repository is the PostgreSQL implementation of RepositoryPort and
// LedgerRepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction. The transactional
// port carries both sale and stock writes.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, TxRepository: stock.NewTxRepository(tx)})
	})
}

const saleColumns = `id, sale_number, customer_id, location_id, sale_type, status, subtotal, discount, discount_amount, tax_rate, tax_amount, total_amount, amount_paid, change_given, payment_status, notes, created_by, created_at, updated_at, completed_at, cancelled_at`

// GetSale loads one sale with its items and payments.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Sale{}, err
	}
	if sale.Items, err = listItems(ctx, r.pool, id); err != nil {
		return Sale{}, err
	}
	if sale.Payments, err = listPayments(ctx, r.pool, id); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

// ListSales pages through sales headers, newest first.
func (r *Repository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int64, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		conds = append(conds, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}

	offset := (filter.Page - 1) * filter.PerPage
	args = append(args, filter.PerPage, offset)
	query := fmt.Sprintf(`SELECT %s FROM sales%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		saleColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	return sales, total, rows.Err()
}

// CustomerSales returns the ledger rows of one customer, one per sale in any
// status, with the payment and refund sums of each.
func (r *Repository) CustomerSales(ctx context.Context, customerID int64) ([]LedgerSaleRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.sale_number, s.created_at, s.status, s.total_amount, s.amount_paid,
       COALESCE((SELECT SUM(p.amount) FROM sale_payments p WHERE p.sale_id = s.id), 0),
       COALESCE((SELECT SUM(f.amount) FROM sale_refunds f WHERE f.sale_id = s.id), 0)
FROM sales s
WHERE s.customer_id = $1
ORDER BY s.created_at, s.id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("ledger sales: %w", err)
	}
	defer rows.Close()

	var out []LedgerSaleRow
	for rows.Next() {
		var row LedgerSaleRow
		if err := rows.Scan(&row.SaleID, &row.SaleNumber, &row.Date, &row.Status, &row.Total, &row.AmountPaid, &row.PaymentsSum, &row.RefundsSum); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
	stock.TxRepository
}

func (t *txRepository) InsertSale(ctx context.Context, s Sale) (int64, error) {
	discount, err := marshalDiscount(s.Discount)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO sales (sale_number, customer_id, location_id, sale_type, status, subtotal, discount, discount_amount, tax_rate, tax_amount, total_amount, amount_paid, change_given, payment_status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, $12, $13, $14, $15, $15)
RETURNING id`,
		s.SaleNumber, s.CustomerID, s.LocationID, s.SaleType, s.Status, s.Subtotal, discount, s.DiscountAmount,
		s.TaxRate, s.TaxAmount, s.TotalAmount, s.PaymentStatus, s.Notes, s.CreatedBy, s.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepository) InsertItems(ctx context.Context, saleID int64, items []SaleItem) error {
	for i := range items {
		discount, err := marshalDiscount(items[i].Discount)
		if err != nil {
			return err
		}
		err = t.tx.QueryRow(ctx, `INSERT INTO sale_items (sale_id, product_id, description, quantity, unit_price, discount, discount_amount, tax_amount, line_total)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
RETURNING id`,
			saleID, items[i].ProductID, items[i].Description, items[i].Quantity, items[i].UnitPrice, discount,
			items[i].DiscountAmount, items[i].TaxAmount, items[i].LineTotal).Scan(&items[i].ID)
		if err != nil {
			return err
		}
		items[i].SaleID = saleID
	}
	return nil
}

func (t *txRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_payments (sale_id, method, amount, reference, received_by, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		p.SaleID, p.Method, p.Amount, p.Reference, p.ReceivedBy, p.ReceivedAt).Scan(&id)
	return id, err
}

func (t *txRepository) InsertRefund(ctx context.Context, rf Refund) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sale_refunds (sale_id, refund_type, method, amount, reason, processed_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		rf.SaleID, rf.Type, rf.Method, rf.Amount, rf.Reason, rf.ProcessedBy, rf.CreatedAt).Scan(&id)
	return id, err
}

// GetSaleForUpdate locks the sale row for the remainder of the transaction.
func (t *txRepository) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
	sale, err := scanSale(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return Sale{}, err
	}
	if sale.Items, err = listItems(ctx, t.tx, id); err != nil {
		return Sale{}, err
	}
	return sale, nil
}

func (t *txRepository) ListPayments(ctx context.Context, saleID int64) ([]Payment, error) {
	return listPayments(ctx, t.tx, saleID)
}

// UpdateSaleStatus moves the sale and stamps the matching lifecycle
// timestamp.
func (t *txRepository) UpdateSaleStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE sales
SET status = $2,
    updated_at = $3,
    completed_at = CASE WHEN $2 = 'COMPLETED' THEN $3 ELSE completed_at END,
    cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN $3 ELSE cancelled_at END
WHERE id = $1`, id, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale %d", shared.ErrNotFound, id)
	}
	return nil
}

// BumpCustomerPurchases rolls a completed sale into the customer's lifetime
// totals.
func (t *txRepository) BumpCustomerPurchases(ctx context.Context, customerID int64, amount decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers
SET total_purchases = total_purchases + $2, last_purchase_date = $3, updated_at = $3
WHERE id = $1`, customerID, amount, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: customer %d", shared.ErrNotFound, customerID)
	}
	return nil
}

func (t *txRepository) UpdatePaymentPosition(ctx context.Context, id int64, rec Reconciliation, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET amount_paid = $2, change_given = $3, payment_status = $4, updated_at = $5 WHERE id = $1`,
		id, rec.AmountPaid, rec.ChangeGiven, rec.Status, at)
	return err
}

// NextDocNumber hands out date-scoped sequential document numbers such as
// SAL-20260831-0001. The upsert serialises concurrent callers on the
// counter row.
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

func listItems(ctx context.Context, q querier, saleID int64) ([]SaleItem, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, COALESCE(description, ''), quantity, unit_price, discount, discount_amount, tax_amount, line_total
FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	defer rows.Close()

	var items []SaleItem
	for rows.Next() {
		var it SaleItem
		var discount []byte
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Description, &it.Quantity, &it.UnitPrice, &discount,
			&it.DiscountAmount, &it.TaxAmount, &it.LineTotal); err != nil {
			return nil, err
		}
		if it.Discount, err = unmarshalDiscount(discount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func listPayments(ctx context.Context, q querier, saleID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, method, amount, COALESCE(reference, ''), received_by, received_at
FROM sale_payments WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.Method, &p.Amount, &p.Reference, &p.ReceivedBy, &p.ReceivedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var discount []byte
	var notes *string
	err := row.Scan(&s.ID, &s.SaleNumber, &s.CustomerID, &s.LocationID, &s.SaleType, &s.Status, &s.Subtotal, &discount,
		&s.DiscountAmount, &s.TaxRate, &s.TaxAmount, &s.TotalAmount, &s.AmountPaid, &s.ChangeGiven,
		&s.PaymentStatus, &notes, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt, &s.CancelledAt)
	if err != nil {
		return Sale{}, err
	}
	if s.Discount, err = unmarshalDiscount(discount); err != nil {
		return Sale{}, err
	}
	if notes != nil {
		s.Notes = *notes
	}
	return s, nil
}

func marshalDiscount(d *money.Discount) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func unmarshalDiscount(raw []byte) (*money.Discount, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d money.Discount
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
