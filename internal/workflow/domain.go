package workflow

import (
	"time"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// ApprovalStatus is the decision state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRecord is one (job, step, attempt) decision. Records are immutable
// once decided; a reset opens a new attempt.
type ApprovalRecord struct {
	ID             int64
	CompanyID      int64
	JobID          int64
	Step           jobcard.Step
	Attempt        int
	Status         ApprovalStatus
	ApproverID     int64
	ApproverName   string
	SignatureURL   string
	Comments       string
	RejectedReason string
	DecidedAt      *time.Time
	CreatedAt      time.Time
}

// ApprovalInput carries the optional extras of an approval.
type ApprovalInput struct {
	SignatureDataURL string
	Comments         string
}

// CreateJobInput opens a job in draft.
type CreateJobInput struct {
	JobNumber string
	JobName   string
}

// StatusView projects the workflow position of a job for a caller.
type StatusView struct {
	JobID         int64
	CurrentStatus jobcard.Status
	CurrentStep   jobcard.Step
	StepName      string
	RequiredRole  shared.Role
	CanApprove    bool
	CanReject     bool
}
