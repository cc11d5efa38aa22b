package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/meridian-pos/meridian/internal/app"
	"github.com/meridian-pos/meridian/internal/masterdata/categories"
	"github.com/meridian-pos/meridian/internal/masterdata/locations"
	"github.com/meridian-pos/meridian/internal/masterdata/products"
	"github.com/meridian-pos/meridian/internal/masterdata/units"
	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/platform/cache"
	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/purchasing"
	"github.com/meridian-pos/meridian/internal/purchasing/suppliers"
	"github.com/meridian-pos/meridian/internal/sales"
	"github.com/meridian-pos/meridian/internal/sales/customers"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
	"github.com/meridian-pos/meridian/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, ledger cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	auditDispatcher := shared.NewAuditDispatcher(asynqClient, logger)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	categoriesRepo := categories.NewRepository(pool)
	unitsRepo := units.NewRepository(pool)
	locationsRepo := locations.NewRepository(pool)
	customersRepo := customers.NewRepository(pool)
	suppliersRepo := suppliers.NewRepository(pool)

	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo, auditDispatcher, logger)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditDispatcher, idempotencyStore, logger)

	salesRepo := sales.NewRepository(pool)
	salesLedger := sales.NewLedger(salesRepo, redisClient, cfg.LedgerCacheTTL, logger)
	salesService := sales.NewService(salesRepo, salesLedger, auditDispatcher, logger)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasingRepo, productsService, approvalRecorder, auditDispatcher, purchasing.Policy{
		SyncCostOnReceive:            cfg.SyncCostOnReceive,
		ReverseStockOnReturnComplete: cfg.ReverseStockOnReturnComplete,
	}, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,

		ProductsHandler:   products.NewHandler(productsService),
		CategoriesHandler: categories.NewHandler(categoriesRepo),
		UnitsHandler:      units.NewHandler(unitsRepo),
		LocationsHandler:  locations.NewHandler(locationsRepo),
		CustomersHandler:  customers.NewHandler(customersRepo),
		SuppliersHandler:  suppliers.NewHandler(suppliersRepo),
		StockHandler:      stock.NewHandler(stockService),
		SalesHandler: sales.NewHandler(salesService, salesLedger, sales.ReceiptOptions{
			StoreName: cfg.StoreName,
			Currency:  cfg.Currency(),
			Footer:    cfg.ReceiptFooter,
		}),
		PurchasingHandler: purchasing.NewHandler(purchasingService, purchasingRepo),
		JobsHandler:       jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
