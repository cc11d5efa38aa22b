package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/money"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// TxRepository is the transactional surface of a sale mutation. It embeds
// the stock ledger port so stock movements commit with the sale that caused
// them.
type TxRepository interface {
	stock.TxRepository

	InsertSale(ctx context.Context, s Sale) (int64, error)
	InsertItems(ctx context.Context, saleID int64, items []SaleItem) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	InsertRefund(ctx context.Context, r Refund) (int64, error)
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, error)
	ListPayments(ctx context.Context, saleID int64) ([]Payment, error)
	UpdateSaleStatus(ctx context.Context, id int64, status Status, at time.Time) error
	UpdatePaymentPosition(ctx context.Context, id int64, rec Reconciliation, at time.Time) error
	BumpCustomerPurchases(ctx context.Context, customerID int64, amount decimal.Decimal, at time.Time) error
	NextDocNumber(ctx context.Context, prefix string, day time.Time) (string, error)
}

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, error)
	ListSales(ctx context.Context, filter ListFilter) ([]Sale, int64, error)
}

// AuditPort records audit trail entries, best effort.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Service coordinates the sale lifecycle.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	audit  AuditPort
	logger *slog.Logger
}

// NewService wires the sale service. ledger may be nil when no customer
// ledger caching is configured.
func NewService(repo RepositoryPort, ledger *Ledger, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, audit: audit, logger: logger}
}

// Create records a new sale. The sale, its items, the stock issues and any
// initial payments commit in a single transaction, so a failed stock
// decrement aborts the whole sale. The sale starts as a DRAFT and completes
// within the same transaction once the initial payments cover the total;
// otherwise it stays parked for further tenders via AddPayment.
func (s *Service) Create(ctx context.Context, input CreateInput, principal shared.Principal) (Sale, error) {
	if err := validateCreate(input); err != nil {
		return Sale{}, err
	}

	lines := make([]money.LineInput, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, money.LineInput{
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			TaxRate:   item.TaxRate,
		})
	}
	totals := money.CalculateSale(lines, input.Discount, input.TaxRate)

	now := time.Now().UTC()
	saleType := input.SaleType
	if saleType == "" {
		saleType = SaleRetail
	}

	sale := Sale{
		CustomerID:     input.CustomerID,
		LocationID:     input.LocationID,
		SaleType:       saleType,
		Status:         StatusDraft,
		Subtotal:       totals.Subtotal,
		Discount:       input.Discount,
		DiscountAmount: totals.DiscountAmount,
		TaxRate:        input.TaxRate,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		PaymentStatus:  PaymentPending,
		Notes:          input.Notes,
		CreatedBy:      principal.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "SAL", now)
		if err != nil {
			return fmt.Errorf("generate sale number: %w", err)
		}
		sale.SaleNumber = number

		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id

		items := make([]SaleItem, 0, len(input.Items))
		for i, item := range input.Items {
			lt := totals.Lines[i]
			items = append(items, SaleItem{
				SaleID:         id,
				ProductID:      item.ProductID,
				Description:    item.Description,
				Quantity:       item.Quantity,
				UnitPrice:      item.UnitPrice,
				Discount:       item.Discount,
				DiscountAmount: lt.DiscountAmount,
				TaxAmount:      lt.TaxAmount,
				LineTotal:      lt.LineTotal,
			})
		}
		if err := tx.InsertItems(ctx, id, items); err != nil {
			return err
		}
		sale.Items = items

		// Stock leaves the shelf when the sale is rung up, not when the
		// last payment lands.
		if err := issueStock(ctx, tx, sale, principal.UserID); err != nil {
			return err
		}

		for _, pay := range input.Payments {
			payment := Payment{
				SaleID:     id,
				Method:     pay.Method,
				Amount:     pay.Amount,
				Reference:  pay.Reference,
				ReceivedBy: principal.UserID,
				ReceivedAt: now,
			}
			pid, err := tx.InsertPayment(ctx, payment)
			if err != nil {
				return err
			}
			payment.ID = pid
			sale.Payments = append(sale.Payments, payment)
		}

		rec := Reconcile(sale.TotalAmount, sale.Payments)
		if err := tx.UpdatePaymentPosition(ctx, id, rec, now); err != nil {
			return err
		}
		sale.AmountPaid = rec.AmountPaid
		sale.ChangeGiven = rec.ChangeGiven
		sale.PaymentStatus = rec.Status

		if rec.Status == PaymentPaid {
			return completeSale(ctx, tx, &sale, now)
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	s.invalidateLedger(ctx, sale.CustomerID)
	s.recordAudit(ctx, principal.UserID, sale.ID, "sale.create", nil, map[string]any{
		"sale_number": sale.SaleNumber,
		"status":      string(sale.Status),
		"total":       sale.TotalAmount.String(),
	})
	return sale, nil
}

// UpdateStatus moves a sale through the state machine. Cancelling reverses
// the stock issued at creation. Refunds go through ProcessRefund, not here.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status, principal shared.Principal) (Sale, error) {
	if to == StatusRefunded {
		return Sale{}, fmt.Errorf("%w: refunds are processed via the refund operation", shared.ErrInvalidInput)
	}
	if to != StatusCompleted && to != StatusCancelled {
		return Sale{}, fmt.Errorf("%w: unknown target status %q", shared.ErrInvalidInput, to)
	}

	var sale Sale
	var from Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from = sale.Status

		if from == StatusDraft && sale.CreatedBy != principal.UserID && !principal.IsAdmin() {
			return fmt.Errorf("%w: parked sales can only be modified by their creator", shared.ErrForbidden)
		}
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := time.Now().UTC()
		switch to {
		case StatusCompleted:
			payments, err := tx.ListPayments(ctx, id)
			if err != nil {
				return err
			}
			rec := Reconcile(sale.TotalAmount, payments)
			if err := tx.UpdatePaymentPosition(ctx, id, rec, now); err != nil {
				return err
			}
			sale.AmountPaid = rec.AmountPaid
			sale.ChangeGiven = rec.ChangeGiven
			sale.PaymentStatus = rec.Status
			return completeSale(ctx, tx, &sale, now)
		case StatusCancelled:
			if _, err := stock.ReverseForSale(ctx, tx, id, sale.SaleNumber+"-CANCEL", principal.UserID); err != nil {
				return err
			}
			if err := tx.UpdateSaleStatus(ctx, id, StatusCancelled, now); err != nil {
				return err
			}
			sale.Status = StatusCancelled
			sale.CancelledAt = &now
			sale.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	s.invalidateLedger(ctx, sale.CustomerID)
	s.recordAudit(ctx, principal.UserID, id, "sale.status",
		map[string]any{"status": string(from)}, map[string]any{"status": string(sale.Status)})
	return sale, nil
}

// AddPayment records an additional tender against a parked or completed sale
// and recomputes the payment position from the full payment list. A parked
// sale completes automatically when the payments cover its total.
func (s *Service) AddPayment(ctx context.Context, saleID int64, input PaymentInput, principal shared.Principal) (Sale, error) {
	if !ValidMethod(input.Method) {
		return Sale{}, fmt.Errorf("%w: unknown payment method %q", shared.ErrInvalidInput, input.Method)
	}
	if input.Amount.Sign() <= 0 {
		return Sale{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrInvalidInput)
	}

	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusDraft && sale.Status != StatusCompleted {
			return fmt.Errorf("%w: payments can only be recorded on parked or completed sales", shared.ErrInvalidInput)
		}

		now := time.Now().UTC()
		payment := Payment{
			SaleID:     saleID,
			Method:     input.Method,
			Amount:     input.Amount,
			Reference:  input.Reference,
			ReceivedBy: principal.UserID,
			ReceivedAt: now,
		}
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		payments, err := tx.ListPayments(ctx, saleID)
		if err != nil {
			return err
		}
		rec := Reconcile(sale.TotalAmount, payments)
		if err := tx.UpdatePaymentPosition(ctx, saleID, rec, now); err != nil {
			return err
		}
		sale.Payments = payments
		sale.AmountPaid = rec.AmountPaid
		sale.ChangeGiven = rec.ChangeGiven
		sale.PaymentStatus = rec.Status
		sale.UpdatedAt = now

		if sale.Status == StatusDraft && rec.Status == PaymentPaid {
			return completeSale(ctx, tx, &sale, now)
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	s.invalidateLedger(ctx, sale.CustomerID)
	s.recordAudit(ctx, principal.UserID, saleID, "sale.payment", nil, map[string]any{
		"method": string(input.Method),
		"amount": input.Amount.String(),
		"status": string(sale.Status),
	})
	return sale, nil
}

// RefundInput describes a refund request. A zero Amount refunds the full
// sale total.
type RefundInput struct {
	Amount decimal.Decimal
	Method PaymentMethod
	Reason string
}

// ProcessRefund refunds a completed sale: it records the refund, posts a
// negative payment row for the money handed back, reverses the sale's stock
// movements and marks the sale REFUNDED, all in one transaction. Only
// administrators may refund.
func (s *Service) ProcessRefund(ctx context.Context, saleID int64, input RefundInput, principal shared.Principal) (Refund, error) {
	if !principal.IsAdmin() {
		return Refund{}, fmt.Errorf("%w: refunds require the ADMIN role", shared.ErrForbidden)
	}
	if input.Reason == "" {
		return Refund{}, fmt.Errorf("%w: refund reason is required", shared.ErrInvalidInput)
	}
	method := input.Method
	if method == "" {
		method = MethodCash
	}
	if !ValidMethod(method) {
		return Refund{}, fmt.Errorf("%w: unknown payment method %q", shared.ErrInvalidInput, method)
	}

	var refund Refund
	var customerID *int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		customerID = sale.CustomerID
		if !CanTransition(sale.Status, StatusRefunded) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sale.Status, StatusRefunded)
		}

		amount := input.Amount
		if amount.IsZero() {
			amount = sale.TotalAmount
		}
		if amount.Sign() <= 0 || amount.GreaterThan(sale.TotalAmount) {
			return fmt.Errorf("%w: refund amount must be between 0 and the sale total", shared.ErrInvalidInput)
		}
		refundType := RefundPartial
		if amount.Equal(sale.TotalAmount) {
			refundType = RefundFull
		}

		now := time.Now().UTC()
		refund = Refund{
			SaleID:      saleID,
			Type:        refundType,
			Method:      method,
			Amount:      amount,
			Reason:      input.Reason,
			ProcessedBy: principal.UserID,
			CreatedAt:   now,
		}
		id, err := tx.InsertRefund(ctx, refund)
		if err != nil {
			return err
		}
		refund.ID = id

		// The money handed back posts as a negative payment row, keeping the
		// payment history append-only.
		if _, err := tx.InsertPayment(ctx, Payment{
			SaleID:     saleID,
			Method:     method,
			Amount:     amount.Neg(),
			Reference:  sale.SaleNumber + "-REFUND",
			ReceivedBy: principal.UserID,
			ReceivedAt: now,
		}); err != nil {
			return err
		}

		payments, err := tx.ListPayments(ctx, saleID)
		if err != nil {
			return err
		}
		rec := Reconcile(sale.TotalAmount, payments)
		rec.Status = PaymentRefunded
		if err := tx.UpdatePaymentPosition(ctx, saleID, rec, now); err != nil {
			return err
		}

		if _, err := stock.ReverseForSale(ctx, tx, saleID, sale.SaleNumber+"-REFUND", principal.UserID); err != nil {
			return err
		}
		return tx.UpdateSaleStatus(ctx, saleID, StatusRefunded, now)
	})
	if err != nil {
		return Refund{}, err
	}

	s.invalidateLedger(ctx, customerID)
	s.recordAudit(ctx, principal.UserID, saleID, "sale.refund", nil, map[string]any{
		"amount": refund.Amount.String(),
		"type":   string(refund.Type),
		"reason": input.Reason,
	})
	return refund, nil
}

// Get returns one sale with items and payments.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.GetSale(ctx, id)
}

// List returns sales matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, *shared.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 200 {
		filter.PerPage = 50
	}
	items, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, int(total))
	return items, &page, nil
}

// completeSale flips the sale to COMPLETED and rolls its total into the
// customer's lifetime purchase figures.
func completeSale(ctx context.Context, tx TxRepository, sale *Sale, now time.Time) error {
	if err := tx.UpdateSaleStatus(ctx, sale.ID, StatusCompleted, now); err != nil {
		return err
	}
	sale.Status = StatusCompleted
	sale.CompletedAt = &now
	sale.UpdatedAt = now
	if sale.CustomerID != nil {
		return tx.BumpCustomerPurchases(ctx, *sale.CustomerID, sale.TotalAmount, now)
	}
	return nil
}

// issueStock posts one ISSUE per product line from the sale's location.
// Service lines carry no product and move no stock.
func issueStock(ctx context.Context, tx TxRepository, sale Sale, actorID int64) error {
	loc := sale.LocationID
	saleID := sale.ID
	for _, item := range sale.Items {
		if item.ProductID == nil {
			continue
		}
		_, err := stock.Apply(ctx, tx, stock.RecordInput{
			ProductID:      *item.ProductID,
			Type:           stock.TypeIssue,
			Quantity:       item.Quantity,
			FromLocationID: &loc,
			ReferenceNo:    sale.SaleNumber,
			SaleID:         &saleID,
			ActorID:        actorID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func validateCreate(input CreateInput) error {
	if input.LocationID <= 0 {
		return fmt.Errorf("%w: location is required", shared.ErrInvalidInput)
	}
	if input.SaleType != "" && !ValidSaleType(input.SaleType) {
		return fmt.Errorf("%w: unknown sale type %q", shared.ErrInvalidInput, input.SaleType)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: a sale needs at least one item", shared.ErrInvalidInput)
	}
	for _, item := range input.Items {
		if item.ProductID == nil && item.Description == "" {
			return fmt.Errorf("%w: an item needs a product or a description", shared.ErrInvalidInput)
		}
		if item.ProductID != nil && *item.ProductID <= 0 {
			return fmt.Errorf("%w: item product id must be positive", shared.ErrInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", shared.ErrInvalidInput)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item unit price must be >= 0", shared.ErrInvalidInput)
		}
		if item.TaxRate.IsNegative() || item.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: item tax rate must be between 0 and 100", shared.ErrInvalidInput)
		}
		if err := item.Discount.Validate(); err != nil {
			return err
		}
	}
	if err := input.Discount.Validate(); err != nil {
		return err
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: tax rate must be between 0 and 100", shared.ErrInvalidInput)
	}
	for _, pay := range input.Payments {
		if !ValidMethod(pay.Method) {
			return fmt.Errorf("%w: unknown payment method %q", shared.ErrInvalidInput, pay.Method)
		}
		if pay.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: payment amount must be positive", shared.ErrInvalidInput)
		}
	}
	return nil
}

func (s *Service) invalidateLedger(ctx context.Context, customerID *int64) {
	if s.ledger == nil || customerID == nil {
		return
	}
	s.ledger.Invalidate(ctx, *customerID)
}

func (s *Service) recordAudit(ctx context.Context, actorID, saleID int64, action string, oldV, newV map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Entity:   "sale",
		EntityID: strconv.FormatInt(saleID, 10),
		Action:   action,
		OldValue: oldV,
		NewValue: newV,
		At:       time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("sale audit record failed", slog.Any("error", err))
	}
}
