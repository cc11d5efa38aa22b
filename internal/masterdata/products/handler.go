package products

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian/internal/platform/httpx"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Handler exposes the product catalogue over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts the product endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Delete("/{id}/permanent", h.purge)
	return r
}

type productRequest struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	Barcode      string `json:"barcode" validate:"max=64"`
	Name         string `json:"name" validate:"required,max=255"`
	Description  string `json:"description" validate:"max=2000"`
	CategoryID   *int64 `json:"category_id"`
	UnitID       *int64 `json:"unit_id"`
	CostPrice    string `json:"cost_price" validate:"required"`
	SellingPrice string `json:"selling_price" validate:"required"`
	TaxRate      string `json:"tax_rate"`
	ReorderLevel int64  `json:"reorder_level" validate:"gte=0"`
	MinStock     int64  `json:"min_stock" validate:"gte=0"`
	MaxStock     int64  `json:"max_stock" validate:"gte=0"`
	IsActive     *bool  `json:"is_active"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cost, selling, tax, err := parsePrices(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	p, err := h.service.Create(r.Context(), CreateInput{
		SKU:          req.SKU,
		Barcode:      req.Barcode,
		Name:         req.Name,
		Description:  req.Description,
		CategoryID:   req.CategoryID,
		UnitID:       req.UnitID,
		CostPrice:    cost,
		SellingPrice: selling,
		TaxRate:      tax,
		ReorderLevel: req.ReorderLevel,
		MinStock:     req.MinStock,
		MaxStock:     req.MaxStock,
	}, principal.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cost, selling, tax, err := parsePrices(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Barcode:      req.Barcode,
		Name:         req.Name,
		Description:  req.Description,
		CategoryID:   req.CategoryID,
		UnitID:       req.UnitID,
		CostPrice:    cost,
		SellingPrice: selling,
		TaxRate:      tax,
		ReorderLevel: req.ReorderLevel,
		MinStock:     req.MinStock,
		MaxStock:     req.MaxStock,
		IsActive:     active,
	}, principal.UserID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, principal.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	if err := h.service.Purge(r.Context(), id, principal.UserID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	categoryID, _ := strconv.ParseInt(q.Get("category_id"), 10, 64)

	items, pagination, err := h.service.List(r.Context(), ListFilter{
		Search:     q.Get("search"),
		CategoryID: categoryID,
		ActiveOnly: q.Get("active") == "true",
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": pagination})
}

func parsePrices(req productRequest) (cost, selling, tax decimal.Decimal, err error) {
	cost, err = decimal.NewFromString(req.CostPrice)
	if err != nil {
		return cost, selling, tax, err
	}
	selling, err = decimal.NewFromString(req.SellingPrice)
	if err != nil {
		return cost, selling, tax, err
	}
	if req.TaxRate != "" {
		tax, err = decimal.NewFromString(req.TaxRate)
	}
	return cost, selling, tax, err
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
