package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

const deliveryTTL = 72 * time.Hour

// AsyncNotifier turns workflow events into queued notification tasks.
type AsyncNotifier struct {
	client *Client
	newKey func() string
}

// NewAsyncNotifier builds a notifier on top of client.
func NewAsyncNotifier(client *Client) *AsyncNotifier {
	return &AsyncNotifier{client: client, newKey: uuid.NewString}
}

// NotifyApprovalRequired queues an approval-required event.
func (n *AsyncNotifier) NotifyApprovalRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) error {
	return n.send(ctx, NotificationPayload{Kind: KindApprovalRequired, Job: jobRef(job), Step: string(step)})
}

// NotifyApprovalCompleted queues an approval-completed event.
func (n *AsyncNotifier) NotifyApprovalCompleted(ctx context.Context, job jobcard.Job, step jobcard.Step, actor shared.Actor) error {
	return n.send(ctx, NotificationPayload{Kind: KindApprovalCompleted, Job: jobRef(job), Step: string(step), Actor: actorRef(actor)})
}

// NotifyRejected queues a rejection event.
func (n *AsyncNotifier) NotifyRejected(ctx context.Context, job jobcard.Job, actor shared.Actor, reason string) error {
	return n.send(ctx, NotificationPayload{Kind: KindRejected, Job: jobRef(job), Actor: actorRef(actor), Reason: reason})
}

// NotifyDispatchReady queues a dispatch-ready event.
func (n *AsyncNotifier) NotifyDispatchReady(ctx context.Context, job jobcard.Job) error {
	return n.send(ctx, NotificationPayload{Kind: KindDispatchReady, Job: jobRef(job)})
}

func (n *AsyncNotifier) send(ctx context.Context, payload NotificationPayload) error {
	payload.Key = n.newKey()
	task, err := NewNotificationTask(payload)
	if err != nil {
		return err
	}
	return n.client.enqueue(ctx, task)
}

// Sink applies notification events, satisfied by *notify.Service.
type Sink interface {
	NotifyApprovalRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) error
	NotifyApprovalCompleted(ctx context.Context, job jobcard.Job, step jobcard.Step, actor shared.Actor) error
	NotifyRejected(ctx context.Context, job jobcard.Job, actor shared.Actor, reason string) error
	NotifyDispatchReady(ctx context.Context, job jobcard.Job) error
}

// NotificationJob delivers queued workflow events at most once per key.
type NotificationJob struct {
	Sink    Sink
	Redis   redis.Cmdable
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskNotify tasks.
func (j *NotificationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sink == nil || j.Redis == nil {
		return errors.New("notify: handler not configured")
	}
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("notify: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Key == "" {
		return fmt.Errorf("notify: missing key: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskNotify)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := loggerOrDefault(j.Logger).With(
		slog.String("key", payload.Key),
		slog.String("kind", string(payload.Kind)),
		slog.Int64("job_id", payload.Job.ID))

	key := shared.DeliveryKey("notify", payload.Key)
	claimed, err := j.Redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), deliveryTTL).Result()
	if err != nil {
		return fmt.Errorf("notify: claim delivery: %w", err)
	}
	if !claimed {
		j.Metrics.AddDuplicate(TaskNotify)
		logger.Info("notification already delivered")
		return nil
	}

	err = j.deliver(ctx, payload)
	switch {
	case err == nil:
		logger.Info("notification delivered")
		return nil
	case errors.Is(err, notify.ErrPartialDelivery):
		logger.Warn("notification emails not queued", slog.Any("error", err))
		return nil
	default:
		if delErr := j.Redis.Del(ctx, key).Err(); delErr != nil {
			logger.Warn("release delivery claim", slog.Any("error", delErr))
		}
		logger.Error("deliver notification", slog.Any("error", err))
		return err
	}
}

func (j *NotificationJob) deliver(ctx context.Context, p NotificationPayload) error {
	job := p.Job.job()
	switch p.Kind {
	case KindApprovalRequired:
		return j.Sink.NotifyApprovalRequired(ctx, job, jobcard.Step(p.Step))
	case KindApprovalCompleted:
		return j.Sink.NotifyApprovalCompleted(ctx, job, jobcard.Step(p.Step), p.Actor.actor())
	case KindRejected:
		return j.Sink.NotifyRejected(ctx, job, p.Actor.actor(), p.Reason)
	case KindDispatchReady:
		return j.Sink.NotifyDispatchReady(ctx, job)
	default:
		return fmt.Errorf("notify: unknown kind %q: %w", p.Kind, asynq.SkipRetry)
	}
}
