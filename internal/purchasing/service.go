package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

// TxRepository is the transactional surface of a purchasing mutation. It
// embeds the stock ledger port so goods receipts commit with the order that
// caused them.
type TxRepository interface {
	stock.TxRepository

	InsertOrder(ctx context.Context, o Order) (int64, error)
	InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, receivedAt *time.Time, at time.Time) error
	InsertOrderPayment(ctx context.Context, p Payment) (int64, error)
	ListOrderPayments(ctx context.Context, orderID int64) ([]Payment, error)
	UpdateOrderPaymentPosition(ctx context.Context, id int64, paid decimal.Decimal, status PaymentStatus, at time.Time) error
	InsertReturn(ctx context.Context, r Return) (int64, error)
	InsertReturnItems(ctx context.Context, returnID int64, items []ReturnItem) error
	GetReturnForUpdate(ctx context.Context, id int64) (Return, error)
	UpdateReturnStatus(ctx context.Context, id int64, status ReturnStatus, at time.Time) error
	NextDocNumber(ctx context.Context, prefix string, day time.Time) (string, error)
}

// RepositoryPort is the persistence surface the service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, int64, error)
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, orderID int64) ([]Return, error)
}

// ProductCostPort syncs catalogue cost prices after goods receipt.
type ProductCostPort interface {
	SyncCostPrice(ctx context.Context, productID int64, cost decimal.Decimal, actorID int64) error
}

// ApprovalPort records the return approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records audit trail entries, best effort.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// Policy holds the purchasing behaviour switches.
type Policy struct {
	// SyncCostOnReceive updates catalogue cost prices from received order
	// lines.
	SyncCostOnReceive bool
	// ReverseStockOnReturnComplete issues the returned quantities out of
	// stock when a return completes. Off, completion is bookkeeping only.
	ReverseStockOnReturnComplete bool
}

// Service coordinates the purchase order and return lifecycles.
type Service struct {
	repo      RepositoryPort
	costs     ProductCostPort
	approvals ApprovalPort
	audit     AuditPort
	policy    Policy
	logger    *slog.Logger
}

// NewService wires the purchasing service.
func NewService(repo RepositoryPort, costs ProductCostPort, approvals ApprovalPort, audit AuditPort, policy Policy, logger *slog.Logger) *Service {
	return &Service{repo: repo, costs: costs, approvals: approvals, audit: audit, policy: policy, logger: logger}
}

// CreateOrder places a new purchase order in PENDING. No stock moves until
// the goods are received.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput, principal shared.Principal) (Order, error) {
	if input.SupplierID <= 0 || input.LocationID <= 0 {
		return Order{}, fmt.Errorf("%w: supplier and location are required", shared.ErrInvalidInput)
	}
	if len(input.Items) == 0 {
		return Order{}, fmt.Errorf("%w: an order needs at least one item", shared.ErrInvalidInput)
	}

	now := time.Now().UTC()
	total := decimal.Zero
	items := make([]OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item product and quantity are required", shared.ErrInvalidInput)
		}
		if item.UnitCost.IsNegative() {
			return Order{}, fmt.Errorf("%w: unit cost must be >= 0", shared.ErrInvalidInput)
		}
		lineTotal := item.UnitCost.Mul(decimal.NewFromInt(item.Quantity))
		total = total.Add(lineTotal)
		items = append(items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitCost:  item.UnitCost,
			LineTotal: lineTotal,
		})
	}

	order := Order{
		SupplierID:    input.SupplierID,
		LocationID:    input.LocationID,
		Status:        OrderPending,
		TotalAmount:   total.Round(2),
		AmountPaid:    decimal.Zero,
		PaymentStatus: PaymentPending,
		Notes:         input.Notes,
		CreatedBy:     principal.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocNumber(ctx, "PUR", now)
		if err != nil {
			return fmt.Errorf("generate order number: %w", err)
		}
		order.OrderNumber = number

		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		if err := tx.InsertOrderItems(ctx, id, items); err != nil {
			return err
		}
		order.Items = items
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, principal.UserID, "purchase_order", order.ID, "purchase.create", nil, map[string]any{
		"order_number": order.OrderNumber,
		"total":        order.TotalAmount.String(),
	})
	return order, nil
}

// MarkReceived books the goods in: one RECEIPT per line into the order's
// location, and the order moves to RECEIVED. With cost sync enabled the
// catalogue cost prices follow, outside the transaction and best effort.
func (s *Service) MarkReceived(ctx context.Context, orderID int64, principal shared.Principal) (Order, error) {
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != OrderPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, OrderReceived)
		}

		now := time.Now().UTC()
		loc := order.LocationID
		for _, item := range order.Items {
			_, err := stock.Apply(ctx, tx, stock.RecordInput{
				ProductID:    item.ProductID,
				Type:         stock.TypeReceipt,
				Quantity:     item.Quantity,
				ToLocationID: &loc,
				ReferenceNo:  order.OrderNumber,
				ActorID:      principal.UserID,
			})
			if err != nil {
				return err
			}
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, OrderReceived, &now, now); err != nil {
			return err
		}
		order.Status = OrderReceived
		order.ReceivedAt = &now
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if s.policy.SyncCostOnReceive && s.costs != nil {
		for _, item := range order.Items {
			if err := s.costs.SyncCostPrice(ctx, item.ProductID, item.UnitCost, principal.UserID); err != nil && s.logger != nil {
				s.logger.Warn("cost sync failed", slog.Int64("product_id", item.ProductID), slog.Any("error", err))
			}
		}
	}

	s.recordAudit(ctx, principal.UserID, "purchase_order", orderID, "purchase.receive", nil, map[string]any{
		"order_number": order.OrderNumber,
	})
	return order, nil
}

// CancelOrder cancels an order that has not been received.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, principal shared.Principal) (Order, error) {
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != OrderPending {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, OrderCancelled)
		}
		now := time.Now().UTC()
		if err := tx.UpdateOrderStatus(ctx, orderID, OrderCancelled, nil, now); err != nil {
			return err
		}
		order.Status = OrderCancelled
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, principal.UserID, "purchase_order", orderID, "purchase.cancel", nil, nil)
	return order, nil
}

// AddPayment records a settlement to the supplier and recomputes the order's
// payment position from the full payment list.
func (s *Service) AddPayment(ctx context.Context, orderID int64, method string, amount decimal.Decimal, reference string, principal shared.Principal) (Order, error) {
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", shared.ErrInvalidInput)
	}
	if amount.Sign() <= 0 {
		return Order{}, fmt.Errorf("%w: payment amount must be positive", shared.ErrInvalidInput)
	}

	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == OrderCancelled {
			return fmt.Errorf("%w: cancelled orders take no payments", shared.ErrInvalidInput)
		}

		now := time.Now().UTC()
		if _, err := tx.InsertOrderPayment(ctx, Payment{
			OrderID:   orderID,
			Method:    method,
			Amount:    amount,
			Reference: reference,
			PaidBy:    principal.UserID,
			PaidAt:    now,
		}); err != nil {
			return err
		}

		payments, err := tx.ListOrderPayments(ctx, orderID)
		if err != nil {
			return err
		}
		paid, status := reconcilePayments(order.TotalAmount, payments)
		if err := tx.UpdateOrderPaymentPosition(ctx, orderID, paid, status, now); err != nil {
			return err
		}
		order.Payments = payments
		order.AmountPaid = paid
		order.PaymentStatus = status
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, principal.UserID, "purchase_order", orderID, "purchase.payment", nil, map[string]any{
		"method": method,
		"amount": amount.String(),
	})
	return order, nil
}

// CreateReturn opens a purchase return against a received order. The return
// starts PENDING and enters the approval chain.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput, principal shared.Principal) (Return, error) {
	if input.Reason == "" {
		return Return{}, fmt.Errorf("%w: return reason is required", shared.ErrInvalidInput)
	}
	if len(input.Items) == 0 {
		return Return{}, fmt.Errorf("%w: a return needs at least one item", shared.ErrInvalidInput)
	}

	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status != OrderReceived {
			return fmt.Errorf("%w: only received orders can be returned", shared.ErrInvalidInput)
		}

		ordered := make(map[int64]OrderItem, len(order.Items))
		for _, item := range order.Items {
			ordered[item.ProductID] = item
		}

		now := time.Now().UTC()
		total := decimal.Zero
		items := make([]ReturnItem, 0, len(input.Items))
		for _, item := range input.Items {
			line, ok := ordered[item.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d is not on the order", shared.ErrInvalidInput, item.ProductID)
			}
			if item.Quantity <= 0 || item.Quantity > line.Quantity {
				return fmt.Errorf("%w: return quantity for product %d must be between 1 and %d", shared.ErrInvalidInput, item.ProductID, line.Quantity)
			}
			total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(item.Quantity)))
			items = append(items, ReturnItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitCost:  line.UnitCost,
			})
		}

		ret = Return{
			Ref:         uuid.New(),
			OrderID:     order.ID,
			SupplierID:  order.SupplierID,
			Status:      ReturnPending,
			TotalAmount: total.Round(2),
			Reason:      input.Reason,
			CreatedBy:   principal.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		id, err := tx.InsertReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		if err := tx.InsertReturnItems(ctx, id, items); err != nil {
			return err
		}
		ret.Items = items
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	s.recordApproval(ctx, ret.Ref, principal.UserID, shared.ApprovalSubmit, input.Reason)
	s.recordAudit(ctx, principal.UserID, "purchase_return", ret.ID, "return.create", nil, map[string]any{
		"order_id": ret.OrderID,
		"total":    ret.TotalAmount.String(),
	})
	return ret, nil
}

// ReviewReturn approves or rejects a pending return. Reviewing requires the
// MANAGER or ADMIN role, and the reviewer cannot be the submitter.
func (s *Service) ReviewReturn(ctx context.Context, returnID int64, approve bool, note string, principal shared.Principal) (Return, error) {
	if principal.Role != shared.RoleManager && !principal.IsAdmin() {
		return Return{}, fmt.Errorf("%w: reviewing returns requires the MANAGER or ADMIN role", shared.ErrForbidden)
	}

	target := ReturnRejected
	action := shared.ApprovalReject
	if approve {
		target = ReturnApproved
		action = shared.ApprovalApprove
	}

	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if ret.CreatedBy == principal.UserID && !principal.IsAdmin() {
			return fmt.Errorf("%w: a return cannot be reviewed by its submitter", shared.ErrForbidden)
		}
		if !canReturnTransition(ret.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ret.Status, target)
		}
		now := time.Now().UTC()
		if err := tx.UpdateReturnStatus(ctx, returnID, target, now); err != nil {
			return err
		}
		ret.Status = target
		ret.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	s.recordApproval(ctx, ret.Ref, principal.UserID, action, note)
	s.recordAudit(ctx, principal.UserID, "purchase_return", returnID, "return.review", nil, map[string]any{
		"status": string(ret.Status),
	})
	return ret, nil
}

// CompleteReturn finalises an approved return. With the stock reversal
// policy on, the returned quantities are issued out of the order's location
// in the same transaction.
func (s *Service) CompleteReturn(ctx context.Context, returnID int64, principal shared.Principal) (Return, error) {
	var ret Return
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturnForUpdate(ctx, returnID)
		if err != nil {
			return err
		}
		if !canReturnTransition(ret.Status, ReturnCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ret.Status, ReturnCompleted)
		}

		now := time.Now().UTC()
		if s.policy.ReverseStockOnReturnComplete {
			order, err := tx.GetOrderForUpdate(ctx, ret.OrderID)
			if err != nil {
				return err
			}
			loc := order.LocationID
			for _, item := range ret.Items {
				_, err := stock.Apply(ctx, tx, stock.RecordInput{
					ProductID:      item.ProductID,
					Type:           stock.TypeIssue,
					Quantity:       item.Quantity,
					FromLocationID: &loc,
					ReferenceNo:    order.OrderNumber + "-RETURN",
					ActorID:        principal.UserID,
				})
				if err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateReturnStatus(ctx, returnID, ReturnCompleted, now); err != nil {
			return err
		}
		ret.Status = ReturnCompleted
		ret.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	s.recordApproval(ctx, ret.Ref, principal.UserID, shared.ApprovalComplete, "")
	s.recordAudit(ctx, principal.UserID, "purchase_return", returnID, "return.complete", nil, nil)
	return ret, nil
}

// GetOrder returns one order with items and payments.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders returns orders matching the filter.
func (s *Service) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, *shared.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 200 {
		filter.PerPage = 50
	}
	orders, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	page := shared.NewPagination(filter.Page, filter.PerPage, int(total))
	return orders, &page, nil
}

// GetReturn returns one purchase return.
func (s *Service) GetReturn(ctx context.Context, id int64) (Return, error) {
	return s.repo.GetReturn(ctx, id)
}

// ListReturns returns the returns of one order.
func (s *Service) ListReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return s.repo.ListReturns(ctx, orderID)
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "purchasing",
		RefID:   ref,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("approval record failed", slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, entity string, entityID int64, action string, oldV, newV map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Action:   action,
		OldValue: oldV,
		NewValue: newV,
		At:       time.Now().UTC(),
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("purchasing audit record failed", slog.Any("error", err))
	}
}
