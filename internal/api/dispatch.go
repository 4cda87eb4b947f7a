package api

import (
	"net/http"

	"github.com/odyssey-erp/stockcontrol/internal/dispatch"
	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
)

type scanRequest struct {
	StockItemID int64  `json:"stockItemId" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Notes       string `json:"notes" validate:"max=1000"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.svc.Dispatch.StartSession(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) scanItem(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req scanRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	scan, err := h.svc.Dispatch.ScanItem(r.Context(), actorFrom(r), jobID, dispatch.ScanInput{
		StockItemID: req.StockItemID,
		Quantity:    req.Quantity,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, scan)
}

func (h *Handler) dispatchProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	progress, err := h.svc.Dispatch.Progress(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}

func (h *Handler) dispatchHistory(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	scans, err := h.svc.Dispatch.History(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, scans)
}

func (h *Handler) completeDispatch(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := h.svc.Dispatch.Complete(r.Context(), actorFrom(r), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, job)
}
