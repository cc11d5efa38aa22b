// Package sales implements the point-of-sale flow: draft and completed
// sales, payments, refunds, the status state machine and the customer
// ledger.
package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/money"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Status enumerates the sale lifecycle states.
type Status string

const (
	// StatusDraft is a parked sale: priced and stock already issued, waiting
	// for the rest of the payment. It completes the moment the amount paid
	// reaches the total.
	StatusDraft Status = "DRAFT"
	// StatusCompleted is a fully paid sale.
	StatusCompleted Status = "COMPLETED"
	// StatusCancelled is terminal; a cancelled sale has its stock movements
	// reversed.
	StatusCancelled Status = "CANCELLED"
	// StatusRefunded is terminal and only reachable from COMPLETED.
	StatusRefunded Status = "REFUNDED"
)

// transitions is the full status graph. Anything absent is invalid.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusCancelled, StatusRefunded},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// ErrInvalidTransition rejects a status change the state machine does not
// allow.
var ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", shared.ErrInvalidInput)

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists from s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// PaymentStatus summarises how much of the sale total has been received.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPartial  PaymentStatus = "PARTIAL"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// SaleType distinguishes counter sales from wholesale orders.
type SaleType string

const (
	SaleRetail    SaleType = "RETAIL"
	SaleWholesale SaleType = "WHOLESALE"
)

// ValidSaleType reports whether t is a known sale type.
func ValidSaleType(t SaleType) bool {
	return t == SaleRetail || t == SaleWholesale
}

// PaymentMethod enumerates accepted tender types.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodCard     PaymentMethod = "CARD"
	MethodMobile   PaymentMethod = "MOBILE"
	MethodTransfer PaymentMethod = "BANK_TRANSFER"
)

// ValidMethod reports whether m is a known tender type.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodCard, MethodMobile, MethodTransfer:
		return true
	}
	return false
}

// Sale is the aggregate root of a POS transaction.
type Sale struct {
	ID             int64           `json:"id"`
	SaleNumber     string          `json:"sale_number"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	LocationID     int64           `json:"location_id"`
	SaleType       SaleType        `json:"sale_type"`
	Status         Status          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       *money.Discount `json:"discount,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	ChangeGiven    decimal.Decimal `json:"change_given"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Items          []SaleItem      `json:"items,omitempty"`
	Payments       []Payment       `json:"payments,omitempty"`
}

// SaleItem is one line of a sale. ProductID is nil for ad-hoc service lines,
// which carry a description instead and never touch stock.
type SaleItem struct {
	ID             int64           `json:"id"`
	SaleID         int64           `json:"sale_id"`
	ProductID      *int64          `json:"product_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Discount       *money.Discount `json:"discount,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

// Payment is one tender received against a sale.
type Payment struct {
	ID         int64           `json:"id"`
	SaleID     int64           `json:"sale_id"`
	Method     PaymentMethod   `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	Reference  string          `json:"reference,omitempty"`
	ReceivedBy int64           `json:"received_by"`
	ReceivedAt time.Time       `json:"received_at"`
}

// RefundType distinguishes full from partial refunds.
type RefundType string

const (
	RefundFull    RefundType = "FULL"
	RefundPartial RefundType = "PARTIAL"
)

// Refund records a processed refund against a completed sale.
type Refund struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	Type        RefundType      `json:"refund_type"`
	Method      PaymentMethod   `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	ProcessedBy int64           `json:"processed_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ItemInput is one requested sale line. Leave ProductID nil and set
// Description for an ad-hoc service line.
type ItemInput struct {
	ProductID   *int64
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Discount    *money.Discount
	TaxRate     decimal.Decimal
}

// PaymentInput is one tender to record.
type PaymentInput struct {
	Method    PaymentMethod
	Amount    decimal.Decimal
	Reference string
}

// CreateInput describes a new sale. Every sale starts as a DRAFT with its
// stock issued; the initial payments decide whether it completes right away
// or stays parked for later tenders.
type CreateInput struct {
	CustomerID *int64
	LocationID int64
	SaleType   SaleType
	Items      []ItemInput
	Discount   *money.Discount
	TaxRate    decimal.Decimal
	Payments   []PaymentInput
	Notes      string
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status     Status
	CustomerID int64
	LocationID int64
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}
