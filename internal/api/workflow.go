package api

import (
	"net/http"

	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
	"github.com/odyssey-erp/stockcontrol/internal/workflow"
)

type createJobRequest struct {
	JobNumber string `json:"jobNumber" validate:"required,max=64"`
	JobName   string `json:"jobName" validate:"required,max=255"`
}

type approveRequest struct {
	SignatureDataURL string `json:"signatureDataUrl" validate:"omitempty,startswith=data:"`
	Comments         string `json:"comments" validate:"max=2000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type canApproveResponse struct {
	CanApprove bool `json:"canApprove"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Workflow.CreateJob(r.Context(), actorFrom(r), workflow.CreateJobInput{JobNumber: req.JobNumber, JobName: req.JobName})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, job)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Workflow.GetJob(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) recordDocumentUpload(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Workflow.RecordDocumentUpload(r.Context(), actorFrom(r), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) approveStep(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req approveRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Workflow.ApproveStep(r.Context(), actorFrom(r), jobID, workflow.ApprovalInput{
		SignatureDataURL: req.SignatureDataURL,
		Comments:         req.Comments,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) rejectStep(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req rejectRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Workflow.RejectStep(r.Context(), actorFrom(r), jobID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.svc.Workflow.WorkflowStatus(r.Context(), actorFrom(r), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) approvalHistory(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.svc.Workflow.ApprovalHistory(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) canApprove(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.svc.Workflow.CanUserApprove(r.Context(), actorFrom(r), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, canApproveResponse{CanApprove: ok})
}

// pendingApprovals lists jobs awaiting the caller's role. Administrators may
// inspect another role with ?role=.
func (h *Handler) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	role := actor.Role
	if raw := r.URL.Query().Get("role"); raw != "" && actor.IsAdmin() {
		parsed, err := shared.ParseRole(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		role = parsed
	}
	jobs, err := h.svc.Workflow.PendingApprovalsForRole(r.Context(), actor.CompanyID, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, jobs)
}
