package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TaskTypeAuditRecord is the asynq task type carrying audit entries.
const TaskTypeAuditRecord = "audit:record"

// AuditLog represents a record destined for audit_logs.
type AuditLog struct {
	ActorID  int64          `json:"actor_id"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Action   string         `json:"action"`
	OldValue map[string]any `json:"old_value,omitempty"`
	NewValue map[string]any `json:"new_value,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditDispatcher enqueues audit entries onto the background queue.
// Dispatch is best effort: a failed enqueue is logged and swallowed so the
// primary operation never waits on, or fails because of, the audit trail.
type AuditDispatcher struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAuditDispatcher constructs the dispatcher.
func NewAuditDispatcher(client *asynq.Client, logger *slog.Logger) *AuditDispatcher {
	return &AuditDispatcher{client: client, logger: logger}
}

// Record enqueues the entry. The returned error is informational; callers
// are expected to ignore it.
func (d *AuditDispatcher) Record(ctx context.Context, log AuditLog) error {
	if d == nil || d.client == nil {
		return errors.New("audit dispatcher not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	payload, err := json.Marshal(log)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeAuditRecord, payload)
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		if d.logger != nil {
			d.logger.Warn("audit enqueue failed", slog.String("entity", log.Entity), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// AuditStore persists entries into audit_logs. The worker consumes the
// queue through it; it can also be used directly where no queue exists.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore returns a new AuditStore.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Record persists the log entry.
func (s *AuditStore) Record(ctx context.Context, log AuditLog) error {
	if s == nil {
		return errors.New("audit store not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(log.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(log.NewValue)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, entity, entity_id, action, old_value, new_value, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.ActorID, log.Entity, log.EntityID, log.Action, oldJSON, newJSON, log.At)
	return err
}
