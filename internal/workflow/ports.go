package workflow

import (
	"context"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// SignatureService stores approver signatures.
type SignatureService interface {
	UploadSignature(ctx context.Context, actor shared.Actor, dataURL string) (string, error)
	CurrentSignatureURL(ctx context.Context, actor shared.Actor) (string, error)
}

// Notifier receives workflow events. Calls happen after commit and errors are
// only logged.
type Notifier interface {
	NotifyApprovalRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) error
	NotifyApprovalCompleted(ctx context.Context, job jobcard.Job, step jobcard.Step, actor shared.Actor) error
	NotifyRejected(ctx context.Context, job jobcard.Job, actor shared.Actor, reason string) error
	NotifyDispatchReady(ctx context.Context, job jobcard.Job) error
}

// RequisitionGenerator creates the job's requisition when it reaches the
// requisition status.
type RequisitionGenerator interface {
	GenerateForJob(ctx context.Context, actor shared.Actor, jobID int64) error
}

// DispatchGate reports whether every allocation of the job has been scanned out.
type DispatchGate interface {
	IsComplete(ctx context.Context, companyID, jobID int64) (bool, error)
}
