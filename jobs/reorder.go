package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// TriggerReorder queues a reorder check so ledger writes never wait on
// requisition creation.
func (c *Client) TriggerReorder(ctx context.Context, companyID, stockItemID int64) error {
	task, err := NewReorderCheckTask(ReorderCheckPayload{CompanyID: companyID, StockItemID: stockItemID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// Reorderer raises reorder requisitions.
type Reorderer interface {
	TriggerReorder(ctx context.Context, companyID, stockItemID int64) error
}

// ReorderCheckJob processes reorder tasks.
type ReorderCheckJob struct {
	Reorder Reorderer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskReorderCheck tasks. Requisition creation is idempotent
// per item, so redelivery is harmless.
func (j *ReorderCheckJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reorder == nil {
		return errors.New("reorder check: handler not configured")
	}
	var payload ReorderCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reorder check: %v: %w", err, asynq.SkipRetry)
	}
	if payload.CompanyID <= 0 || payload.StockItemID <= 0 {
		return fmt.Errorf("reorder check: invalid payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskReorderCheck)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := loggerOrDefault(j.Logger).With(slog.Int64("company_id", payload.CompanyID), slog.Int64("stock_item_id", payload.StockItemID))
	if err := j.Reorder.TriggerReorder(ctx, payload.CompanyID, payload.StockItemID); err != nil {
		logger.Error("reorder check", slog.Any("error", err))
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("reorder check: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logger.Info("reorder check completed")
	return nil
}
