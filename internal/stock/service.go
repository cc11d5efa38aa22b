package stock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetBalance(ctx context.Context, productID, locationID int64) (Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	ListLowStock(ctx context.Context) ([]LowStockItem, error)
}

// AuditPort records audit trail entries, best effort.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service coordinates ledger writes and reads.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
}

// NewService wires the stock service.
func NewService(repo RepositoryPort, audit AuditPort, idempotency *shared.IdempotencyStore, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idempotency, logger: logger}
}

// RecordTransaction posts a single movement in its own transaction. A
// reference number, when present, doubles as an idempotency key so retried
// submissions do not post twice.
func (s *Service) RecordTransaction(ctx context.Context, input RecordInput) (Transaction, error) {
	if err := validateInput(input); err != nil {
		return Transaction{}, err
	}
	if s.idempotency != nil && input.ReferenceNo != "" {
		key := fmt.Sprintf("%s:%s:%d", input.Type, input.ReferenceNo, input.ProductID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Transaction{}, err
		}
	}

	var entry Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = Apply(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	s.recordAudit(ctx, entry, "stock.record")
	return entry, nil
}

// RecordStocktake reconciles a counted quantity against the current balance
// by posting a signed ADJUSTMENT for the difference. A count that matches
// the balance posts nothing.
func (s *Service) RecordStocktake(ctx context.Context, productID, locationID, countedQty, actorID int64) (*Transaction, error) {
	if productID <= 0 || locationID <= 0 {
		return nil, fmt.Errorf("%w: product and location are required", shared.ErrInvalidInput)
	}
	if countedQty < 0 {
		return nil, fmt.Errorf("%w: counted quantity must be >= 0", shared.ErrInvalidInput)
	}

	var posted *Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.GetBalanceForUpdate(ctx, productID, locationID)
		if err != nil {
			return err
		}
		delta := countedQty - balance.Quantity
		if delta == 0 {
			return nil
		}
		loc := locationID
		entry, err := Apply(ctx, tx, RecordInput{
			ProductID:      productID,
			Type:           TypeAdjustment,
			Quantity:       delta,
			FromLocationID: &loc,
			ReferenceNo:    "STOCKTAKE-" + time.Now().UTC().Format("20060102"),
			ActorID:        actorID,
		})
		if err != nil {
			return err
		}
		posted = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if posted != nil {
		s.recordAudit(ctx, *posted, "stock.stocktake")
	}
	return posted, nil
}

// GetBalance returns the balance for one product at one location. Products
// that never moved report zero.
func (s *Service) GetBalance(ctx context.Context, productID, locationID int64) (Balance, error) {
	return s.repo.GetBalance(ctx, productID, locationID)
}

// ListBalances lists balances matching the filter.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return s.repo.ListBalances(ctx, filter)
}

// ListTransactions lists ledger entries matching the filter, newest first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListTransactions(ctx, filter)
}

// ListLowStock lists products whose total on-hand quantity is at or below
// their reorder level.
func (s *Service) ListLowStock(ctx context.Context) ([]LowStockItem, error) {
	return s.repo.ListLowStock(ctx)
}

func (s *Service) recordAudit(ctx context.Context, entry Transaction, action string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  entry.CreatedBy,
		Entity:   "stock_transaction",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Action:   action,
		NewValue: map[string]any{
			"product_id": entry.ProductID,
			"type":       string(entry.Type),
			"quantity":   entry.Quantity,
		},
		At: time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("stock audit record failed", slog.Any("error", err))
	}
}
