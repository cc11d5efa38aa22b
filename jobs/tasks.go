// Package jobs runs the background side of the system: the audit trail
// consumer, the low-stock scan and idempotency key cleanup.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian/internal/observability"
	"github.com/meridian-pos/meridian/internal/shared"
	"github.com/meridian-pos/meridian/internal/stock"
)

const (
	// QueueDefault is the queue all tasks run on.
	QueueDefault = "default"
	// TaskTypeLowStockScan refreshes the low-stock gauge.
	TaskTypeLowStockScan = "stock:lowstock"
	// TaskTypeIdempotencyCleanup prunes expired idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// NewAuditRecordHandler returns the handler that drains the audit queue into
// audit_logs. A payload that cannot be decoded is dropped rather than
// retried.
func NewAuditRecordHandler(store *shared.AuditStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var entry shared.AuditLog
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			logger.Error("audit payload undecodable", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if err := store.Record(ctx, entry); err != nil {
			logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
			return err
		}
		return nil
	}
}

// NewLowStockScanTask constructs the periodic low-stock scan task.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskTypeLowStockScan, nil)
}

// LowStockLister lists products at or below their reorder level.
type LowStockLister interface {
	ListLowStock(ctx context.Context) ([]stock.LowStockItem, error)
}

// LowStockScanJob publishes the low-stock count as a gauge and logs the
// offending products so alerting has something to hook on.
type LowStockScanJob struct {
	stock   LowStockLister
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewLowStockScanJob constructs the job.
func NewLowStockScanJob(stock LowStockLister, metrics *observability.Metrics, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{stock: stock, metrics: metrics, logger: logger}
}

// Handle processes one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	items, err := j.stock.ListLowStock(ctx)
	if err != nil {
		return err
	}
	j.metrics.SetLowStockCount(len(items))
	for _, item := range items {
		j.logger.Warn("product below reorder level",
			slog.Int64("product_id", item.ProductID),
			slog.String("sku", item.SKU),
			slog.Int64("quantity", item.Quantity),
			slog.Int64("reorder_level", item.ReorderLevel))
	}
	return nil
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data), nil
}

// NewIdempotencyCleanupHandler prunes keys older than the payload retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.RetentionHours <= 0 {
			payload.RetentionHours = 72
		}
		if err := store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour); err != nil {
			logger.Warn("idempotency cleanup failed", slog.Any("error", err))
			return err
		}
		return nil
	}
}
