package api

import (
	"net/http"
	"strconv"

	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

type countResponse struct {
	Count int `json:"count"`
}

type signatureRequest struct {
	DataURL string `json:"dataUrl" validate:"required,startswith=data:image/"`
}

type signatureResponse struct {
	URL string `json:"url"`
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	q := r.URL.Query()
	if q.Get("unread") == "true" {
		items, err := h.svc.Notifications.Unread(r.Context(), actor.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, items)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(w, r, shared.ErrValidation)
			return
		}
		limit = parsed
	}
	items, err := h.svc.Notifications.All(r.Context(), actor.ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.Notifications.UnreadCount(r.Context(), actorFrom(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, countResponse{Count: count})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "notificationID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Notifications.MarkRead(r.Context(), actorFrom(r).ID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Notifications.MarkAllRead(r.Context(), actorFrom(r).ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) currentSignature(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.Signatures.CurrentSignatureURL(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, signatureResponse{URL: url})
}

func (h *Handler) uploadSignature(w http.ResponseWriter, r *http.Request) {
	var req signatureRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.svc.Signatures.UploadSignature(r.Context(), actorFrom(r), req.DataURL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, signatureResponse{URL: url})
}

func (h *Handler) clearSignature(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Signatures.Clear(r.Context(), actorFrom(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
