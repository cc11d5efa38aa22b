package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// LedgerEntry is one line of a customer statement.
type LedgerEntry struct {
	Date      time.Time       `json:"date"`
	Type      string          `json:"type"`
	Reference string          `json:"reference"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// Statement is the aggregated position of one customer.
type Statement struct {
	CustomerID   int64           `json:"customer_id"`
	TotalSales   decimal.Decimal `json:"total_sales"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	TotalRefunds decimal.Decimal `json:"total_refunds"`
	Balance      decimal.Decimal `json:"balance"`
	Entries      []LedgerEntry   `json:"entries"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// LedgerSaleRow is the raw per-sale aggregate the statement is built from.
// AmountPaid is the position stored on the sale; PaymentsSum is the sum of
// its payment rows. Historical imports populated one or the other, so the
// builder reconciles them instead of trusting either alone. RefundsSum is
// the total refunded against the sale.
type LedgerSaleRow struct {
	SaleID      int64
	SaleNumber  string
	Date        time.Time
	Status      Status
	Total       decimal.Decimal
	AmountPaid  decimal.Decimal
	PaymentsSum decimal.Decimal
	RefundsSum  decimal.Decimal
}

// LedgerRepositoryPort fetches the rows behind a statement.
type LedgerRepositoryPort interface {
	// CustomerSales returns one row per sale of the customer, regardless of
	// status.
	CustomerSales(ctx context.Context, customerID int64) ([]LedgerSaleRow, error)
}

// BuildStatement folds sale rows into a statement. Every sale counts toward
// total sales whatever its status, matching the historical reports this
// replaces. The paid figure reconciles the two recorded sources across the
// whole account, taking the larger of the stored positions and the payment
// row sums so a missing side never understates what the customer settled.
// Overtendered accounts therefore show a credit balance rather than being
// capped per sale. Refunds reduce the balance on top of payments.
func BuildStatement(customerID int64, rows []LedgerSaleRow) Statement {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Date.Equal(rows[j].Date) {
			return rows[i].SaleID < rows[j].SaleID
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	st := Statement{
		CustomerID:   customerID,
		TotalSales:   decimal.Zero,
		TotalPaid:    decimal.Zero,
		TotalRefunds: decimal.Zero,
		Balance:      decimal.Zero,
		GeneratedAt:  time.Now().UTC(),
	}
	sumStored := decimal.Zero
	sumPayments := decimal.Zero
	balance := decimal.Zero
	for _, row := range rows {
		st.TotalSales = st.TotalSales.Add(row.Total)
		st.TotalRefunds = st.TotalRefunds.Add(row.RefundsSum)
		sumStored = sumStored.Add(row.AmountPaid)
		sumPayments = sumPayments.Add(row.PaymentsSum)

		balance = balance.Add(row.Total)
		st.Entries = append(st.Entries, LedgerEntry{
			Date:      row.Date,
			Type:      "SALE",
			Reference: row.SaleNumber,
			Debit:     row.Total,
			Credit:    decimal.Zero,
			Balance:   balance,
		})
		if paid := decimal.Max(row.AmountPaid, row.PaymentsSum); paid.Sign() > 0 {
			balance = balance.Sub(paid)
			st.Entries = append(st.Entries, LedgerEntry{
				Date:      row.Date,
				Type:      "PAYMENT",
				Reference: row.SaleNumber,
				Debit:     decimal.Zero,
				Credit:    paid,
				Balance:   balance,
			})
		}
		if row.RefundsSum.Sign() > 0 {
			balance = balance.Sub(row.RefundsSum)
			st.Entries = append(st.Entries, LedgerEntry{
				Date:      row.Date,
				Type:      "REFUND",
				Reference: row.SaleNumber,
				Debit:     decimal.Zero,
				Credit:    row.RefundsSum,
				Balance:   balance,
			})
		}
	}
	st.TotalSales = st.TotalSales.Round(2)
	st.TotalPaid = decimal.Max(sumStored, sumPayments).Round(2)
	st.TotalRefunds = st.TotalRefunds.Round(2)
	st.Balance = st.TotalSales.Sub(st.TotalPaid).Sub(st.TotalRefunds).Round(2)
	return st
}

// Ledger serves customer statements with a short-lived cache in front of the
// aggregation query. Concurrent misses for the same customer collapse into
// one database round trip.
type Ledger struct {
	repo   LedgerRepositoryPort
	rdb    *redis.Client
	group  singleflight.Group
	ttl    time.Duration
	logger *slog.Logger
}

// NewLedger wires the ledger reader. rdb may be nil to disable caching.
func NewLedger(repo LedgerRepositoryPort, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Ledger{repo: repo, rdb: rdb, ttl: ttl, logger: logger}
}

func ledgerKey(customerID int64) string {
	return fmt.Sprintf("sales:ledger:%d", customerID)
}

// Statement returns the customer's statement, from cache when fresh.
func (l *Ledger) Statement(ctx context.Context, customerID int64) (Statement, error) {
	if l.rdb != nil {
		if raw, err := l.rdb.Get(ctx, ledgerKey(customerID)).Bytes(); err == nil {
			var st Statement
			if err := json.Unmarshal(raw, &st); err == nil {
				return st, nil
			}
		}
	}

	v, err, _ := l.group.Do(ledgerKey(customerID), func() (any, error) {
		rows, err := l.repo.CustomerSales(ctx, customerID)
		if err != nil {
			return Statement{}, err
		}
		st := BuildStatement(customerID, rows)
		l.store(ctx, st)
		return st, nil
	})
	if err != nil {
		return Statement{}, err
	}
	return v.(Statement), nil
}

// Invalidate drops the cached statement after a sale mutation.
func (l *Ledger) Invalidate(ctx context.Context, customerID int64) {
	if l == nil || l.rdb == nil {
		return
	}
	if err := l.rdb.Del(ctx, ledgerKey(customerID)).Err(); err != nil && l.logger != nil {
		l.logger.Warn("ledger cache invalidate failed", slog.Int64("customer_id", customerID), slog.Any("error", err))
	}
}

func (l *Ledger) store(ctx context.Context, st Statement) {
	if l.rdb == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, ledgerKey(st.CustomerID), raw, l.ttl).Err(); err != nil && l.logger != nil {
		l.logger.Warn("ledger cache store failed", slog.Any("error", err))
	}
}
