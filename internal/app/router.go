package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-pos/meridian/internal/masterdata/categories"
	"github.com/meridian-pos/meridian/internal/masterdata/locations"
	"github.com/meridian-pos/meridian/internal/masterdata/products"
	"github.com/meridian-pos/meridian/internal/masterdata/units"
	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/purchasing"
	"github.com/meridian-pos/meridian/internal/purchasing/suppliers"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/internal/sales/customers"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	ProductsHandler   *products.Handler
	CategoriesHandler *categories.Handler
	UnitsHandler      *units.Handler
	LocationsHandler  *locations.Handler
	CustomersHandler  *customers.Handler
	SuppliersHandler  *suppliers.Handler
	StockHandler      *stock.Handler
	SalesHandler      *sales.Handler
	PurchasingHandler *purchasing.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi router with the full middleware chain and all
// module routes mounted under /api/v1.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/products", params.ProductsHandler.Routes())
		r.Mount("/categories", params.CategoriesHandler.Routes())
		r.Mount("/units", params.UnitsHandler.Routes())
		r.Mount("/locations", params.LocationsHandler.Routes())
		r.Mount("/customers", params.CustomersHandler.Routes())
		r.Mount("/suppliers", params.SuppliersHandler.Routes())
		r.Mount("/stock", params.StockHandler.Routes())
		r.Mount("/sales", params.SalesHandler.Routes())
		r.Mount("/purchasing", params.PurchasingHandler.Routes())
	})

	if params.JobsHandler != nil {
		r.Mount("/jobs", params.JobsHandler.Routes())
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
