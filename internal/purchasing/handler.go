package purchasing

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler exposes purchasing over HTTP.
type Handler struct {
	service  *Service
	ledger   SupplierLedgerPort
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service, ledger SupplierLedgerPort) *Handler {
	return &Handler{service: service, ledger: ledger, validate: validator.New()}
}

// Routes mounts the purchasing endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/receive", h.markReceived)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/payments", h.addPayment)
	r.Post("/returns", h.createReturn)
	r.Get("/returns/{id}", h.getReturn)
	r.Get("/orders/{id}/returns", h.listReturns)
	r.Post("/returns/{id}/review", h.reviewReturn)
	r.Post("/returns/{id}/complete", h.completeReturn)
	r.Get("/ledger/{supplierID}", h.supplierLedger)
	return r
}

type orderItemDTO struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitCost  string `json:"unit_cost" validate:"required"`
}

type createOrderRequest struct {
	SupplierID int64          `json:"supplier_id" validate:"required,gt=0"`
	LocationID int64          `json:"location_id" validate:"required,gt=0"`
	Items      []orderItemDTO `json:"items" validate:"required,min=1,dive"`
	Notes      string         `json:"notes" validate:"max=2000"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	input := CreateOrderInput{SupplierID: req.SupplierID, LocationID: req.LocationID, Notes: req.Notes}
	for _, item := range req.Items {
		cost, err := decimal.NewFromString(item.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "unit_cost must be a decimal string")
			return
		}
		input.Items = append(input.Items, OrderItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitCost: cost})
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	order, err := h.service.CreateOrder(r.Context(), input, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	order, err := h.service.MarkReceived(r.Context(), id, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	order, err := h.service.CancelOrder(r.Context(), id, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type orderPaymentRequest struct {
	Method    string `json:"method" validate:"required,max=32"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"max=128"`
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req orderPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "amount must be a decimal string")
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	order, err := h.service.AddPayment(r.Context(), id, req.Method, amount, req.Reference, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type returnItemDTO struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type createReturnRequest struct {
	OrderID int64           `json:"order_id" validate:"required,gt=0"`
	Items   []returnItemDTO `json:"items" validate:"required,min=1,dive"`
	Reason  string          `json:"reason" validate:"required,max=500"`
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request) {
	var req createReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	input := CreateReturnInput{OrderID: req.OrderID, Reason: req.Reason}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReturnItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	ret, err := h.service.CreateReturn(r.Context(), input, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

type reviewReturnRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note" validate:"max=500"`
}

func (h *Handler) reviewReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviewReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	ret, err := h.service.ReviewReturn(r.Context(), id, req.Approve, req.Note, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) completeReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	ret, err := h.service.CompleteReturn(r.Context(), id, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) getReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ret, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	returns, err := h.service.ListReturns(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, returns)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	supplierID, _ := strconv.ParseInt(q.Get("supplier_id"), 10, 64)

	orders, pagination, err := h.service.ListOrders(r.Context(), OrderListFilter{
		Status:     OrderStatus(q.Get("status")),
		SupplierID: supplierID,
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": orders, "pagination": pagination})
}

func (h *Handler) supplierLedger(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := pathID(w, r, "supplierID")
	if !ok {
		return
	}
	orders, err := h.ledger.ReceivedOrders(r.Context(), supplierID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	returns, err := h.ledger.CompletedReturns(r.Context(), supplierID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, BuildSupplierStatement(supplierID, orders, returns))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
