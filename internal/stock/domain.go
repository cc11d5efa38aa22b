package stock

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TypeReceipt represents inbound stock at a destination location.
	TypeReceipt TransactionType = "RECEIPT"
	// TypeIssue represents outbound stock from a source location.
	TypeIssue TransactionType = "ISSUE"
	// TypeTransfer moves stock between two locations.
	TypeTransfer TransactionType = "TRANSFER"
	// TypeAdjustment corrects a balance by a signed quantity.
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

// Transaction is an immutable ledger entry. Balances are a projection of
// these entries; a correction is always a new compensating entry, never an
// update or delete.
type Transaction struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	Type           TransactionType `json:"type"`
	Quantity       int64           `json:"quantity"`
	FromLocationID *int64          `json:"from_location_id,omitempty"`
	ToLocationID   *int64          `json:"to_location_id,omitempty"`
	ReferenceNo    string          `json:"reference_no"`
	SaleID         *int64          `json:"sale_id,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Balance is the materialised quantity per (product, location), maintained
// in the same transaction as every ledger insert.
type Balance struct {
	ProductID  int64     `json:"product_id"`
	LocationID int64     `json:"location_id"`
	Quantity   int64     `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LowStockItem reports a product at or below its reorder level.
type LowStockItem struct {
	ProductID    int64  `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	ReorderLevel int64  `json:"reorder_level"`
}

// RecordInput describes a movement to post.
type RecordInput struct {
	ProductID      int64
	Type           TransactionType
	Quantity       int64
	FromLocationID *int64
	ToLocationID   *int64
	ReferenceNo    string
	SaleID         *int64
	ActorID        int64
}

// TransactionFilter filters ledger listings.
type TransactionFilter struct {
	ProductID  int64
	LocationID int64
	SaleID     int64
	From       time.Time
	To         time.Time
	Limit      int
}

// BalanceFilter filters balance listings.
type BalanceFilter struct {
	ProductID  int64
	LocationID int64
}

// ErrInsufficientStock is returned when an ISSUE or TRANSFER would take the
// source location below zero.
var ErrInsufficientStock = fmt.Errorf("insufficient stock at source location: %w", shared.ErrInvalidInput)
