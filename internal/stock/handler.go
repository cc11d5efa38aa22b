package stock

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts the stock endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/transactions", h.recordTransaction)
	r.Get("/transactions", h.listTransactions)
	r.Get("/balances", h.listBalances)
	r.Get("/balances/{productID}/{locationID}", h.getBalance)
	r.Get("/low", h.listLowStock)
	r.Post("/stocktake", h.recordStocktake)
	return r
}

type recordTransactionRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	Type           string `json:"type" validate:"required,oneof=RECEIPT ISSUE TRANSFER ADJUSTMENT"`
	Quantity       int64  `json:"quantity" validate:"required"`
	FromLocationID *int64 `json:"from_location_id"`
	ToLocationID   *int64 `json:"to_location_id"`
	ReferenceNo    string `json:"reference_no" validate:"max=64"`
}

func (h *Handler) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var req recordTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	entry, err := h.service.RecordTransaction(r.Context(), RecordInput{
		ProductID:      req.ProductID,
		Type:           TransactionType(req.Type),
		Quantity:       req.Quantity,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		ReferenceNo:    req.ReferenceNo,
		ActorID:        principal.UserID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type stocktakeRequest struct {
	ProductID  int64 `json:"product_id" validate:"required,gt=0"`
	LocationID int64 `json:"location_id" validate:"required,gt=0"`
	CountedQty int64 `json:"counted_qty" validate:"gte=0"`
}

func (h *Handler) recordStocktake(w http.ResponseWriter, r *http.Request) {
	var req stocktakeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	entry, err := h.service.RecordStocktake(r.Context(), req.ProductID, req.LocationID, req.CountedQty, principal.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if entry == nil {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "no_adjustment_needed"})
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	productID, err1 := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	locationID, err2 := strconv.ParseInt(chi.URLParam(r, "locationID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "product and location ids must be integers")
		return
	}
	balance, err := h.service.GetBalance(r.Context(), productID, locationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	filter := BalanceFilter{
		ProductID:  queryInt64(r, "product_id"),
		LocationID: queryInt64(r, "location_id"),
	}
	balances, err := h.service.ListBalances(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balances)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter := TransactionFilter{
		ProductID:  queryInt64(r, "product_id"),
		LocationID: queryInt64(r, "location_id"),
		SaleID:     queryInt64(r, "sale_id"),
		Limit:      int(queryInt64(r, "limit")),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = ts
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = ts
		}
	}
	entries, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListLowStock(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}
