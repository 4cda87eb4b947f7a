package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskReorderCheck raises a reorder requisition for an item below minimum.
	TaskReorderCheck = "stockcontrol:reorder-check"
	// TaskNotify delivers one workflow notification event.
	TaskNotify = "stockcontrol:notify"
)

const (
	defaultMaxRetry  = 5
	reorderUniqueTTL = 10 * time.Minute
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(defaultMaxRetry)), nil
}

// ReorderCheckPayload identifies the item to check.
type ReorderCheckPayload struct {
	CompanyID   int64 `json:"company_id"`
	StockItemID int64 `json:"stock_item_id"`
}

// NewReorderCheckTask constructs a reorder task. Identical payloads collapse
// while one is still queued.
func NewReorderCheckTask(payload ReorderCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderCheck, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Unique(reorderUniqueTTL)), nil
}

// NotificationKind enumerates workflow events.
type NotificationKind string

const (
	KindApprovalRequired  NotificationKind = "approval_required"
	KindApprovalCompleted NotificationKind = "approval_completed"
	KindRejected          NotificationKind = "rejected"
	KindDispatchReady     NotificationKind = "dispatch_ready"
)

// JobRef is the serialised job snapshot carried by notification tasks.
type JobRef struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	JobNumber string `json:"job_number"`
	JobName   string `json:"job_name"`
	Status    string `json:"status"`
}

// ActorRef is the serialised actor carried by notification tasks.
type ActorRef struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

// NotificationPayload carries one event. Key identifies the event across
// redeliveries.
type NotificationPayload struct {
	Key    string           `json:"key"`
	Kind   NotificationKind `json:"kind"`
	Job    JobRef           `json:"job"`
	Step   string           `json:"step,omitempty"`
	Actor  *ActorRef        `json:"actor,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// NewNotificationTask constructs a notification task.
func NewNotificationTask(payload NotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotify, data, asynq.Queue(QueueDefault), asynq.MaxRetry(defaultMaxRetry)), nil
}

func jobRef(job jobcard.Job) JobRef {
	return JobRef{
		ID:        job.ID,
		CompanyID: job.CompanyID,
		JobNumber: job.JobNumber,
		JobName:   job.JobName,
		Status:    string(job.WorkflowStatus),
	}
}

func (r JobRef) job() jobcard.Job {
	return jobcard.Job{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		JobNumber:      r.JobNumber,
		JobName:        r.JobName,
		WorkflowStatus: jobcard.Status(r.Status),
	}
}

func actorRef(actor shared.Actor) *ActorRef {
	return &ActorRef{ID: actor.ID, CompanyID: actor.CompanyID, Name: actor.Name, Role: string(actor.Role)}
}

func (r *ActorRef) actor() shared.Actor {
	if r == nil {
		return shared.Actor{}
	}
	return shared.Actor{ID: r.ID, CompanyID: r.CompanyID, Name: r.Name, Role: shared.Role(r.Role)}
}
