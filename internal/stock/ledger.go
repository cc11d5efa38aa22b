package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

// TxRepository exposes the ledger writes that must share a database
// transaction. Other modules embed it so their own commits carry the stock
// movements they cause.
type TxRepository interface {
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	AddToBalance(ctx context.Context, productID, locationID, delta int64) error
	// DecrementBalance subtracts qty from a balance only when enough stock
	// exists, returning ErrInsufficientStock otherwise.
	DecrementBalance(ctx context.Context, productID, locationID, qty int64) error
	GetBalanceForUpdate(ctx context.Context, productID, locationID int64) (Balance, error)
	ListBySale(ctx context.Context, saleID int64) ([]Transaction, error)
}

type balanceEffect struct {
	locationID int64
	delta      int64
}

// Apply validates a movement, inserts the ledger entry and updates the
// affected balances inside the caller's transaction. The entry and its
// balance effects commit or roll back together.
func Apply(ctx context.Context, tx TxRepository, input RecordInput) (Transaction, error) {
	if err := validateInput(input); err != nil {
		return Transaction{}, err
	}

	entry := Transaction{
		ProductID:      input.ProductID,
		Type:           input.Type,
		Quantity:       input.Quantity,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		ReferenceNo:    input.ReferenceNo,
		SaleID:         input.SaleID,
		CreatedBy:      input.ActorID,
		CreatedAt:      time.Now().UTC(),
	}

	// Decrement first so an insufficient source aborts before the ledger
	// entry exists.
	switch entry.Type {
	case TypeIssue:
		if err := tx.DecrementBalance(ctx, entry.ProductID, *entry.FromLocationID, entry.Quantity); err != nil {
			return Transaction{}, err
		}
	case TypeTransfer:
		if err := tx.DecrementBalance(ctx, entry.ProductID, *entry.FromLocationID, entry.Quantity); err != nil {
			return Transaction{}, err
		}
		if err := tx.AddToBalance(ctx, entry.ProductID, *entry.ToLocationID, entry.Quantity); err != nil {
			return Transaction{}, err
		}
	case TypeReceipt:
		if err := tx.AddToBalance(ctx, entry.ProductID, *entry.ToLocationID, entry.Quantity); err != nil {
			return Transaction{}, err
		}
	case TypeAdjustment:
		// Adjustments reconcile the ledger with a physical count, so they
		// apply unconditionally in both directions. A shrinkage write-off
		// larger than the recorded balance drives it negative rather than
		// failing.
		if err := tx.AddToBalance(ctx, entry.ProductID, *entry.FromLocationID, entry.Quantity); err != nil {
			return Transaction{}, err
		}
	}

	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, fmt.Errorf("insert stock transaction: %w", err)
	}
	entry.ID = id
	return entry, nil
}

// ReverseForSale posts compensating ADJUSTMENT entries for every movement
// linked to a sale. Each balance effect of the originals is negated; the
// originals themselves are never touched.
func ReverseForSale(ctx context.Context, tx TxRepository, saleID int64, referenceNo string, actorID int64) ([]Transaction, error) {
	originals, err := tx.ListBySale(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("list stock transactions for sale %d: %w", saleID, err)
	}

	var reversals []Transaction
	sid := saleID
	for _, orig := range originals {
		if orig.Type == TypeAdjustment {
			// Adjustments linked to a sale are prior reversals; re-reversing
			// them would undo the compensation.
			continue
		}
		for _, effect := range orig.effects() {
			loc := effect.locationID
			entry, err := Apply(ctx, tx, RecordInput{
				ProductID:      orig.ProductID,
				Type:           TypeAdjustment,
				Quantity:       -effect.delta,
				FromLocationID: &loc,
				ReferenceNo:    referenceNo,
				SaleID:         &sid,
				ActorID:        actorID,
			})
			if err != nil {
				return nil, err
			}
			reversals = append(reversals, entry)
		}
	}
	return reversals, nil
}

// effects returns the signed balance deltas this entry applied.
func (t Transaction) effects() []balanceEffect {
	switch t.Type {
	case TypeReceipt:
		return []balanceEffect{{locationID: *t.ToLocationID, delta: t.Quantity}}
	case TypeIssue:
		return []balanceEffect{{locationID: *t.FromLocationID, delta: -t.Quantity}}
	case TypeTransfer:
		return []balanceEffect{
			{locationID: *t.FromLocationID, delta: -t.Quantity},
			{locationID: *t.ToLocationID, delta: t.Quantity},
		}
	case TypeAdjustment:
		return []balanceEffect{{locationID: *t.FromLocationID, delta: t.Quantity}}
	}
	return nil
}

func validateInput(input RecordInput) error {
	if input.ProductID <= 0 {
		return fmt.Errorf("%w: product id is required", shared.ErrInvalidInput)
	}
	switch input.Type {
	case TypeReceipt:
		if input.ToLocationID == nil {
			return fmt.Errorf("%w: RECEIPT requires a destination location", shared.ErrInvalidInput)
		}
		if input.FromLocationID != nil {
			return fmt.Errorf("%w: RECEIPT must not have a source location", shared.ErrInvalidInput)
		}
		if input.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", shared.ErrInvalidInput)
		}
	case TypeIssue:
		if input.FromLocationID == nil {
			return fmt.Errorf("%w: ISSUE requires a source location", shared.ErrInvalidInput)
		}
		if input.ToLocationID != nil {
			return fmt.Errorf("%w: ISSUE must not have a destination location", shared.ErrInvalidInput)
		}
		if input.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", shared.ErrInvalidInput)
		}
	case TypeTransfer:
		if input.FromLocationID == nil || input.ToLocationID == nil {
			return fmt.Errorf("%w: TRANSFER requires both source and destination locations", shared.ErrInvalidInput)
		}
		if *input.FromLocationID == *input.ToLocationID {
			return fmt.Errorf("%w: TRANSFER source and destination must differ", shared.ErrInvalidInput)
		}
		if input.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", shared.ErrInvalidInput)
		}
	case TypeAdjustment:
		if input.FromLocationID == nil {
			return fmt.Errorf("%w: ADJUSTMENT requires a location", shared.ErrInvalidInput)
		}
		if input.ToLocationID != nil {
			return fmt.Errorf("%w: ADJUSTMENT must not have a destination location", shared.ErrInvalidInput)
		}
		if input.Quantity == 0 {
			return fmt.Errorf("%w: adjustment quantity must be non-zero", shared.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", shared.ErrInvalidInput, input.Type)
	}
	return nil
}
