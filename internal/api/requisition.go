package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type receiptLineRequest struct {
	ItemID   int64 `json:"itemId" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type receiveRequest struct {
	DeliveryKey string               `json:"deliveryKey" validate:"required,max=128"`
	Lines       []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Requisitions.CreateFromJob(r.Context(), actorFrom(r), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) jobRequisition(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Requisitions.ForJob(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := requisition.ListFilter{
		Status: requisition.Status(q.Get("status")),
		Source: requisition.Source(q.Get("source")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, shared.ErrValidation)
			return
		}
		filter.Limit = limit
	}
	items, err := h.svc.Requisitions.List(r.Context(), actorFrom(r).CompanyID, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requisitionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := h.svc.Requisitions.Get(r.Context(), actorFrom(r).CompanyID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) transitionRequisition(w http.ResponseWriter, r *http.Request, fn func(context.Context, shared.Actor, int64) (requisition.Requisition, error)) {
	id, err := pathID(r, "requisitionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := fn(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	h.transitionRequisition(w, r, h.svc.Requisitions.Approve)
}

func (h *Handler) orderRequisition(w http.ResponseWriter, r *http.Request) {
	h.transitionRequisition(w, r, h.svc.Requisitions.MarkOrdered)
}

func (h *Handler) cancelRequisition(w http.ResponseWriter, r *http.Request) {
	h.transitionRequisition(w, r, h.svc.Requisitions.Cancel)
}

func (h *Handler) receiveRequisition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "requisitionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body receiveRequest
	if err := h.decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	input := requisition.ReceiveInput{Key: body.DeliveryKey}
	for _, l := range body.Lines {
		input.Lines = append(input.Lines, requisition.ReceiptLine{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	req, err := h.svc.Requisitions.Receive(r.Context(), actorFrom(r), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}
