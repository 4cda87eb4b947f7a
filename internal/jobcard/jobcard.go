// Package jobcard holds the job model and the fixed approval chain shared by
// the workflow, inventory, dispatch and notification packages.
package jobcard

import "time"

// Status is the workflow status persisted on a job.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusDocumentUploaded Status = "document_uploaded"
	StatusAdminApproved    Status = "admin_approved"
	StatusManagerApproved  Status = "manager_approved"
	StatusRequisitionSent  Status = "requisition_sent"
	StatusStockAllocated   Status = "stock_allocated"
	StatusManagerFinal     Status = "manager_final"
	StatusReadyForDispatch Status = "ready_for_dispatch"
	StatusDispatched       Status = "dispatched"
)

// Step is a gated stage in the approval chain.
type Step string

const (
	StepDocumentUpload   Step = "document_upload"
	StepAdminApproval    Step = "admin_approval"
	StepManagerApproval  Step = "manager_approval"
	StepRequisitionSent  Step = "requisition_sent"
	StepStockAllocation  Step = "stock_allocation"
	StepManagerFinal     Step = "manager_final"
	StepReadyForDispatch Step = "ready_for_dispatch"
	StepDispatched       Step = "dispatched"
)

// Job is a unit of work requiring material issuance.
type Job struct {
	ID             int64
	CompanyID      int64
	JobNumber      string
	JobName        string
	WorkflowStatus Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
