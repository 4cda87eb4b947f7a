package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
)

// TaskIdempotencyCleanup prunes expired movement idempotency keys.
const TaskIdempotencyCleanup = "stockcontrol:idempotency-cleanup"

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	RetainHours int `json:"retain_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retain time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetainHours: int(retain.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}

// KeyPruner deletes idempotency keys older than a cutoff.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob processes TaskIdempotencyCleanup tasks.
type IdempotencyCleanupJob struct {
	Store   KeyPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle prunes keys outside the retention window. Windows under a week are
// raised to a week so replays of recent receipts stay guarded.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("idempotency cleanup: %v: %w", err, asynq.SkipRetry)
	}
	retain := time.Duration(payload.RetainHours) * time.Hour
	if retain < 7*24*time.Hour {
		retain = 7 * 24 * time.Hour
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { resultErr = tracker.End(resultErr) }()

	pruned, err := j.Store.Cleanup(ctx, retain)
	if err != nil {
		loggerOrDefault(j.Logger).Error("idempotency cleanup", slog.Any("error", err))
		return err
	}
	loggerOrDefault(j.Logger).Info("idempotency keys pruned", slog.Duration("retain", retain), slog.Int64("pruned", pruned))
	return nil
}
