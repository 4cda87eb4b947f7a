package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
)

type allocateRequest struct {
	StockItemID int64  `json:"stockItemId" validate:"required,gt=0"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Notes       string `json:"notes" validate:"max=1000"`
}

type movementRequest struct {
	Type          string `json:"type" validate:"required,oneof=in out adjustment"`
	Quantity      int64  `json:"quantity" validate:"required"`
	ReferenceType string `json:"referenceType" validate:"omitempty,oneof=manual import delivery"`
	ReferenceID   string `json:"referenceId" validate:"max=128"`
	Notes         string `json:"notes" validate:"max=1000"`
}

type materialLine struct {
	Product        string          `json:"product" validate:"required,max=255"`
	StockItemID    int64           `json:"stockItemId" validate:"gte=0"`
	LitresRequired decimal.Decimal `json:"litresRequired"`
	PackSizeLitres decimal.Decimal `json:"packSizeLitres"`
}

type materialsRequest struct {
	Lines []materialLine `json:"lines" validate:"dive"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req allocateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	alloc, err := h.svc.Inventory.Allocate(r.Context(), actorFrom(r), inventory.AllocateInput{
		JobID:       jobID,
		StockItemID: req.StockItemID,
		Quantity:    req.Quantity,
		Notes:       req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, alloc)
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	allocs, err := h.svc.Inventory.AllocationsForJob(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, allocs)
}

func (h *Handler) getStockItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	item, err := h.svc.Inventory.StockItem(r.Context(), actorFrom(r).CompanyID, itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.svc.Inventory.MovementsForItem(r.Context(), actorFrom(r).CompanyID, itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req movementRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	refType := inventory.ReferenceType(req.ReferenceType)
	if refType == "" {
		refType = inventory.ReferenceManual
	}
	mv, err := h.svc.Inventory.RecordMovement(r.Context(), actorFrom(r), inventory.MovementInput{
		StockItemID:   itemID,
		Type:          inventory.MovementType(req.Type),
		Quantity:      req.Quantity,
		ReferenceType: refType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathID(r, "itemID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.svc.Inventory.Reconcile(r.Context(), actorFrom(r).CompanyID, itemID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines, err := h.svc.Materials.RequiredMaterials(r.Context(), actorFrom(r).CompanyID, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lines)
}

func (h *Handler) replaceMaterials(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathID(r, "jobID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req materialsRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]requisition.MaterialRequirement, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, requisition.MaterialRequirement{
			Product:        l.Product,
			StockItemID:    l.StockItemID,
			LitresRequired: l.LitresRequired,
			PackSizeLitres: l.PackSizeLitres,
		})
	}
	if err := h.svc.Materials.ReplaceRequirements(r.Context(), actorFrom(r).CompanyID, jobID, lines); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
