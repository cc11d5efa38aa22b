// Package purchasing implements supplier orders: ordering, goods receipt,
// supplier payments, purchase returns with approval, and the supplier
// ledger.
package purchasing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
)

// OrderStatus enumerates the purchase order lifecycle states.
type OrderStatus string

const (
	// OrderPending is placed but not yet received.
	OrderPending OrderStatus = "PENDING"
	// OrderReceived means the goods arrived and stock was posted.
	OrderReceived OrderStatus = "RECEIVED"
	// OrderCancelled is terminal and only reachable before receipt.
	OrderCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus summarises how much of the order has been settled.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

// ReturnStatus enumerates the purchase return approval flow.
type ReturnStatus string

const (
	ReturnPending   ReturnStatus = "PENDING"
	ReturnApproved  ReturnStatus = "APPROVED"
	ReturnRejected  ReturnStatus = "REJECTED"
	ReturnCompleted ReturnStatus = "COMPLETED"
)

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnPending:   {ReturnApproved, ReturnRejected},
	ReturnApproved:  {ReturnCompleted},
	ReturnRejected:  {},
	ReturnCompleted: {},
}

// ErrInvalidTransition rejects a lifecycle move that is not allowed.
var ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", shared.ErrInvalidInput)

func canReturnTransition(from, to ReturnStatus) bool {
	for _, next := range returnTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a purchase order against a supplier.
type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	SupplierID    int64           `json:"supplier_id"`
	LocationID    int64           `json:"location_id"`
	Status        OrderStatus     `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Notes         string          `json:"notes,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ReceivedAt    *time.Time      `json:"received_at,omitempty"`
	Items         []OrderItem     `json:"items,omitempty"`
	Payments      []Payment       `json:"payments,omitempty"`
}

// OrderItem is one line of a purchase order.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Payment is one settlement made to the supplier against an order.
type Payment struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	PaidBy    int64           `json:"paid_by"`
	PaidAt    time.Time       `json:"paid_at"`
}

// Return is a purchase return flowing through the approval chain. Ref is
// the stable reference the approval history is keyed on.
type Return struct {
	ID          int64           `json:"id"`
	Ref         uuid.UUID       `json:"ref"`
	OrderID     int64           `json:"order_id"`
	SupplierID  int64           `json:"supplier_id"`
	Status      ReturnStatus    `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Reason      string          `json:"reason"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []ReturnItem    `json:"items,omitempty"`
}

// ReturnItem is one returned line.
type ReturnItem struct {
	ID        int64           `json:"id"`
	ReturnID  int64           `json:"return_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// OrderItemInput is one requested order line.
type OrderItemInput struct {
	ProductID int64
	Quantity  int64
	UnitCost  decimal.Decimal
}

// CreateOrderInput describes a new purchase order.
type CreateOrderInput struct {
	SupplierID int64
	LocationID int64
	Items      []OrderItemInput
	Notes      string
}

// ReturnItemInput is one requested return line.
type ReturnItemInput struct {
	ProductID int64
	Quantity  int64
}

// CreateReturnInput describes a new purchase return against a received
// order.
type CreateReturnInput struct {
	OrderID int64
	Items   []ReturnItemInput
	Reason  string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status     OrderStatus
	SupplierID int64
	Page       int
	PerPage    int
}

// reconcilePayments derives the order payment position. Overpayment of a
// supplier is a bookkeeping error, not change, so paid is reported as-is.
func reconcilePayments(total decimal.Decimal, payments []Payment) (decimal.Decimal, PaymentStatus) {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	paid = paid.Round(2)
	switch {
	case total.Sign() <= 0, paid.GreaterThanOrEqual(total):
		return paid, PaymentPaid
	case paid.Sign() > 0:
		return paid, PaymentPartial
	}
	return paid, PaymentPending
}
