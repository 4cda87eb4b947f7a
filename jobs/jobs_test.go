package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("t-%d", len(f.tasks)), Type: task.Type()}, nil
}

type recordingSink struct {
	calls []string
	err   error
}

func (r *recordingSink) NotifyApprovalRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) error {
	r.calls = append(r.calls, fmt.Sprintf("required:%d:%s", job.ID, step))
	return r.err
}

func (r *recordingSink) NotifyApprovalCompleted(ctx context.Context, job jobcard.Job, step jobcard.Step, actor shared.Actor) error {
	r.calls = append(r.calls, fmt.Sprintf("completed:%d:%s:%s", job.ID, step, actor.Name))
	return r.err
}

func (r *recordingSink) NotifyRejected(ctx context.Context, job jobcard.Job, actor shared.Actor, reason string) error {
	r.calls = append(r.calls, fmt.Sprintf("rejected:%d:%s:%s", job.ID, actor.Role, reason))
	return r.err
}

func (r *recordingSink) NotifyDispatchReady(ctx context.Context, job jobcard.Job) error {
	r.calls = append(r.calls, fmt.Sprintf("ready:%d:%s", job.ID, job.JobNumber))
	return r.err
}

type recordingReorderer struct {
	calls [][2]int64
	err   error
}

func (r *recordingReorderer) TriggerReorder(ctx context.Context, companyID, stockItemID int64) error {
	r.calls = append(r.calls, [2]int64{companyID, stockItemID})
	return r.err
}

type recordingSender struct {
	to  []string
	err error
}

func (r *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	return nil
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func duplicates(t *testing.T, registry *prometheus.Registry, job string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "stockcontrol_jobs_duplicates_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "job" && label.GetValue() == job {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

var sampleJob = jobcard.Job{ID: 5, CompanyID: 1, JobNumber: "JC-5", JobName: "Hull", WorkflowStatus: jobcard.StatusAdminApproved}

func TestAsyncNotifierQueuesEventsAndWorkerDeliversThem(t *testing.T) {
	enq := &fakeEnqueuer{}
	notifier := NewAsyncNotifier(NewClientWith(enq, nil, nil))
	ctx := context.Background()
	manager := shared.Actor{ID: 2, CompanyID: 1, Name: "Mo", Role: shared.RoleManager}

	require.NoError(t, notifier.NotifyApprovalRequired(ctx, sampleJob, jobcard.StepManagerApproval))
	require.NoError(t, notifier.NotifyApprovalCompleted(ctx, sampleJob, jobcard.StepAdminApproval, manager))
	require.NoError(t, notifier.NotifyRejected(ctx, sampleJob, manager, "wrong spec"))
	require.NoError(t, notifier.NotifyDispatchReady(ctx, sampleJob))
	require.Len(t, enq.tasks, 4)

	keys := map[string]bool{}
	for _, task := range enq.tasks {
		assert.Equal(t, TaskNotify, task.Type())
		var payload NotificationPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.NotEmpty(t, payload.Key)
		keys[payload.Key] = true
	}
	assert.Len(t, keys, 4)

	client, _ := newRedis(t)
	sink := &recordingSink{}
	worker := &NotificationJob{Sink: sink, Redis: client}
	for _, task := range enq.tasks {
		require.NoError(t, worker.Handle(ctx, task))
	}
	assert.Equal(t, []string{
		"required:5:manager_approval",
		"completed:5:admin_approval:Mo",
		"rejected:5:manager:wrong spec",
		"ready:5:JC-5",
	}, sink.calls)
}

func TestNotificationJobSkipsRedelivery(t *testing.T) {
	client, _ := newRedis(t)
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	sink := &recordingSink{}
	worker := &NotificationJob{Sink: sink, Redis: client, Metrics: metrics}

	task, err := NewNotificationTask(NotificationPayload{Key: "evt-1", Kind: KindDispatchReady, Job: jobRef(sampleJob)})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(context.Background(), task))
	require.NoError(t, worker.Handle(context.Background(), task))

	assert.Len(t, sink.calls, 1)
	assert.Equal(t, 1.0, duplicates(t, registry, TaskNotify))
}

func TestNotificationJobReleasesClaimOnFailure(t *testing.T) {
	client, mr := newRedis(t)
	sink := &recordingSink{err: errors.New("db down")}
	worker := &NotificationJob{Sink: sink, Redis: client}
	task, err := NewNotificationTask(NotificationPayload{Key: "evt-2", Kind: KindDispatchReady, Job: jobRef(sampleJob)})
	require.NoError(t, err)

	require.Error(t, worker.Handle(context.Background(), task))
	assert.False(t, mr.Exists(shared.DeliveryKey("notify", "evt-2")))

	sink.err = nil
	require.NoError(t, worker.Handle(context.Background(), task))
	assert.Len(t, sink.calls, 2)
	assert.True(t, mr.Exists(shared.DeliveryKey("notify", "evt-2")))
}

func TestNotificationJobKeepsClaimOnPartialDelivery(t *testing.T) {
	client, mr := newRedis(t)
	sink := &recordingSink{err: fmt.Errorf("%w: smtp queue", notify.ErrPartialDelivery)}
	worker := &NotificationJob{Sink: sink, Redis: client}
	task, err := NewNotificationTask(NotificationPayload{Key: "evt-3", Kind: KindDispatchReady, Job: jobRef(sampleJob)})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(context.Background(), task))
	assert.True(t, mr.Exists(shared.DeliveryKey("notify", "evt-3")))
}

func TestNotificationJobRejectsMalformedPayload(t *testing.T) {
	client, _ := newRedis(t)
	worker := &NotificationJob{Sink: &recordingSink{}, Redis: client}

	err := worker.Handle(context.Background(), asynq.NewTask(TaskNotify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, _ := NewNotificationTask(NotificationPayload{Kind: KindDispatchReady})
	require.ErrorIs(t, worker.Handle(context.Background(), task), asynq.SkipRetry)

	task, _ = NewNotificationTask(NotificationPayload{Key: "evt-4", Kind: "bogus"})
	require.ErrorIs(t, worker.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestReorderRoundTrip(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq, nil, nil)
	require.NoError(t, client.TriggerReorder(context.Background(), 3, 42))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskReorderCheck, enq.tasks[0].Type())

	reorderer := &recordingReorderer{}
	job := &ReorderCheckJob{Reorder: reorderer}
	require.NoError(t, job.Handle(context.Background(), enq.tasks[0]))
	assert.Equal(t, [][2]int64{{3, 42}}, reorderer.calls)
}

func TestReorderCheckJobErrors(t *testing.T) {
	task, err := NewReorderCheckTask(ReorderCheckPayload{CompanyID: 1, StockItemID: 9})
	require.NoError(t, err)

	missing := &ReorderCheckJob{Reorder: &recordingReorderer{err: fmt.Errorf("item: %w", shared.ErrNotFound)}}
	require.ErrorIs(t, missing.Handle(context.Background(), task), asynq.SkipRetry)

	transient := &ReorderCheckJob{Reorder: &recordingReorderer{err: errors.New("timeout")}}
	err = transient.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	invalid, _ := NewReorderCheckTask(ReorderCheckPayload{})
	require.ErrorIs(t, transient.Handle(context.Background(), invalid), asynq.SkipRetry)
}

func TestDuplicateEnqueueIsNotAnError(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	client := NewClientWith(&fakeEnqueuer{err: asynq.ErrDuplicateTask}, metrics, nil)

	require.NoError(t, client.TriggerReorder(context.Background(), 1, 1))
	assert.Equal(t, 1.0, duplicates(t, registry, TaskReorderCheck))

	failing := NewClientWith(&fakeEnqueuer{err: errors.New("redis down")}, nil, nil)
	require.Error(t, failing.TriggerReorder(context.Background(), 1, 1))
}

func TestEmailRoundTrip(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq, nil, nil)
	require.NoError(t, client.EnqueueEmail(context.Background(), notify.Email{To: "a@example.com", Subject: "Hi", Body: "<p>x</p>"}))
	require.Len(t, enq.tasks, 1)

	sender := &recordingSender{}
	job := &EmailJob{Sender: sender}
	require.NoError(t, job.Handle(context.Background(), enq.tasks[0]))
	assert.Equal(t, []string{"a@example.com"}, sender.to)

	failing := &EmailJob{Sender: &recordingSender{err: errors.New("relay down")}}
	require.Error(t, failing.Handle(context.Background(), enq.tasks[0]))
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	err := SMTPSender{Addr: "127.0.0.1:1", From: "noreply@example.com"}.Send(context.Background(), "a@example.com\r\nBcc: x@example.com", "Hi", "body")
	require.Error(t, err)
}

type recordingPruner struct {
	olderThan time.Duration
}

func (r *recordingPruner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.olderThan = olderThan
	return 3, nil
}

func TestIdempotencyCleanupEnforcesMinimumRetention(t *testing.T) {
	pruner := &recordingPruner{}
	job := &IdempotencyCleanupJob{Store: pruner}

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 7*24*time.Hour, pruner.olderThan)

	task, err = NewIdempotencyCleanupTask(30 * 24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 30*24*time.Hour, pruner.olderThan)
}
