package jobcard

import "github.com/odyssey-erp/stockcontrol/internal/shared"

type link struct {
	status Status
	// step is the step awaiting approval while the job sits in status.
	step Step
}

// chain lists statuses in their fixed order together with the step that is
// current in each. It is the only place the approval order is defined.
var chain = []link{
	{StatusDraft, ""},
	{StatusDocumentUploaded, StepAdminApproval},
	{StatusAdminApproved, StepManagerApproval},
	{StatusManagerApproved, StepRequisitionSent},
	{StatusRequisitionSent, StepStockAllocation},
	{StatusStockAllocated, StepManagerFinal},
	{StatusManagerFinal, StepReadyForDispatch},
	{StatusReadyForDispatch, StepDispatched},
	{StatusDispatched, ""},
}

var stepRoles = map[Step]shared.Role{
	StepDocumentUpload:   shared.RoleAccounts,
	StepAdminApproval:    shared.RoleAdmin,
	StepManagerApproval:  shared.RoleManager,
	StepRequisitionSent:  shared.RoleManager,
	StepStockAllocation:  shared.RoleStoreman,
	StepManagerFinal:     shared.RoleManager,
	StepReadyForDispatch: shared.RoleStoreman,
	StepDispatched:       shared.RoleStoreman,
}

var stepNames = map[Step]string{
	StepDocumentUpload:   "Document Upload",
	StepAdminApproval:    "Admin Approval",
	StepManagerApproval:  "Manager Approval",
	StepRequisitionSent:  "Requisition",
	StepStockAllocation:  "Stock Allocation",
	StepManagerFinal:     "Final Manager Approval",
	StepReadyForDispatch: "Ready for Dispatch",
	StepDispatched:       "Dispatched",
}

func position(status Status) int {
	for i, l := range chain {
		if l.status == status {
			return i
		}
	}
	return -1
}

// Valid reports whether the status belongs to the chain.
func (s Status) Valid() bool {
	return position(s) >= 0
}

// Statuses returns every status in chain order.
func Statuses() []Status {
	out := make([]Status, 0, len(chain))
	for _, l := range chain {
		out = append(out, l.status)
	}
	return out
}

// CurrentStep returns the step awaiting approval in status. The second return
// is false for draft, dispatched and unknown statuses.
func CurrentStep(status Status) (Step, bool) {
	i := position(status)
	if i < 0 || chain[i].step == "" {
		return "", false
	}
	return chain[i].step, true
}

// NextStatus returns the status following current. Terminal and unknown
// statuses map to themselves.
func NextStatus(current Status) Status {
	i := position(current)
	if i < 0 || i == len(chain)-1 {
		return current
	}
	return chain[i+1].status
}

// ResetStatus is where a rejected job returns to: the status immediately
// after document upload, which reopens admin approval.
func ResetStatus() Status {
	return StatusDocumentUploaded
}

// RoleForStep returns the role that owns step.
func RoleForStep(step Step) (shared.Role, bool) {
	role, ok := stepRoles[step]
	return role, ok
}

// DisplayName returns the human readable step name.
func DisplayName(step Step) string {
	if name, ok := stepNames[step]; ok {
		return name
	}
	return string(step)
}

// CanApprove reports whether role may approve step. Administrators may approve any step.
func CanApprove(role shared.Role, step Step) bool {
	if role == shared.RoleAdmin {
		return true
	}
	required, ok := RoleForStep(step)
	return ok && required == role
}

// CanReject reports whether role may reject the current step of a job.
func CanReject(role shared.Role) bool {
	return role == shared.RoleAdmin || role == shared.RoleManager
}

// PendingStatuses returns the statuses whose current step role owns.
// Administrators see the union of every gated status.
func PendingStatuses(role shared.Role) []Status {
	var out []Status
	for _, l := range chain {
		if l.step == "" {
			continue
		}
		if role == shared.RoleAdmin || stepRoles[l.step] == role {
			out = append(out, l.status)
		}
	}
	return out
}
