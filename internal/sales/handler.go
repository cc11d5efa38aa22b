package sales

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/money"
	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler exposes the sales flow over HTTP.
type Handler struct {
	service  *Service
	ledger   *Ledger
	receipt  ReceiptOptions
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service, ledger *Ledger, receipt ReceiptOptions) *Handler {
	return &Handler{service: service, ledger: ledger, receipt: receipt, validate: validator.New()}
}

// Routes mounts the sales endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/receipt", h.getReceipt)
	r.Post("/{id}/status", h.updateStatus)
	r.Post("/{id}/payments", h.addPayment)
	r.Post("/{id}/refund", h.processRefund)
	r.Get("/ledger/{customerID}", h.customerLedger)
	return r
}

type discountDTO struct {
	Type  string `json:"type" validate:"required,oneof=PERCENTAGE FIXED"`
	Value string `json:"value" validate:"required"`
}

type itemDTO struct {
	ProductID   *int64       `json:"product_id" validate:"omitempty,gt=0"`
	Description string       `json:"description" validate:"max=500"`
	Quantity    int64        `json:"quantity" validate:"required,gt=0"`
	UnitPrice   string       `json:"unit_price" validate:"required"`
	Discount    *discountDTO `json:"discount"`
	TaxRate     string       `json:"tax_rate"`
}

type paymentDTO struct {
	Method    string `json:"method" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"max=128"`
}

type createSaleRequest struct {
	CustomerID *int64       `json:"customer_id"`
	LocationID int64        `json:"location_id" validate:"required,gt=0"`
	SaleType   string       `json:"sale_type" validate:"omitempty,oneof=RETAIL WHOLESALE"`
	Items      []itemDTO    `json:"items" validate:"required,min=1,dive"`
	Discount   *discountDTO `json:"discount"`
	TaxRate    string       `json:"tax_rate"`
	Payments   []paymentDTO `json:"payments" validate:"dive"`
	Notes      string       `json:"notes" validate:"max=2000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	sale, err := h.service.Create(r.Context(), input, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED CANCELLED"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	sale, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) addPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req paymentDTO
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

	sale, err := h.service.AddPayment(r.Context(), id, PaymentInput{
		Method:    PaymentMethod(req.Method),
		Amount:    amount,
		Reference: req.Reference,
	}, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method" validate:"omitempty,oneof=CASH CARD MOBILE BANK_TRANSFER"`
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) processRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		if amount, err = decimal.NewFromString(req.Amount); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "amount must be a decimal string")
			return
		}
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	refund, err := h.service.ProcessRefund(r.Context(), id, RefundInput{
		Amount: amount,
		Method: PaymentMethod(req.Method),
		Reason: req.Reason,
	}, principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, refund)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if sale.Status == StatusDraft {
		httpx.Problem(w, http.StatusConflict, "Conflict", "parked sales have no receipt")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(RenderReceipt(sale, h.receipt)))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	customerID, _ := strconv.ParseInt(q.Get("customer_id"), 10, 64)
	locationID, _ := strconv.ParseInt(q.Get("location_id"), 10, 64)

	sales, pagination, err := h.service.List(r.Context(), ListFilter{
		Status:     Status(q.Get("status")),
		CustomerID: customerID,
		LocationID: locationID,
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": sales, "pagination": pagination})
}

func (h *Handler) customerLedger(w http.ResponseWriter, r *http.Request) {
	customerID, ok := pathID(w, r, "customerID")
	if !ok {
		return
	}
	statement, err := h.ledger.Statement(r.Context(), customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statement)
}

func (req createSaleRequest) toInput() (CreateInput, error) {
	input := CreateInput{
		CustomerID: req.CustomerID,
		LocationID: req.LocationID,
		SaleType:   SaleType(req.SaleType),
		Notes:      req.Notes,
	}
	var err error
	if input.Discount, err = req.Discount.toDiscount(); err != nil {
		return CreateInput{}, err
	}
	if req.TaxRate != "" {
		if input.TaxRate, err = decimal.NewFromString(req.TaxRate); err != nil {
			return CreateInput{}, err
		}
	}
	for _, item := range req.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return CreateInput{}, err
		}
		discount, err := item.Discount.toDiscount()
		if err != nil {
			return CreateInput{}, err
		}
		taxRate := decimal.Zero
		if item.TaxRate != "" {
			if taxRate, err = decimal.NewFromString(item.TaxRate); err != nil {
				return CreateInput{}, err
			}
		}
		input.Items = append(input.Items, ItemInput{
			ProductID:   item.ProductID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   price,
			Discount:    discount,
			TaxRate:     taxRate,
		})
	}
	for _, pay := range req.Payments {
		amount, err := decimal.NewFromString(pay.Amount)
		if err != nil {
			return CreateInput{}, err
		}
		input.Payments = append(input.Payments, PaymentInput{
			Method:    PaymentMethod(pay.Method),
			Amount:    amount,
			Reference: pay.Reference,
		})
	}
	return input, nil
}

func (d *discountDTO) toDiscount() (*money.Discount, error) {
	if d == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(d.Value)
	if err != nil {
		return nil, err
	}
	return &money.Discount{Type: money.DiscountType(d.Type), Value: value}, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
