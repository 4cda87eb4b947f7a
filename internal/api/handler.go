// Package api exposes the stock control operations as a JSON HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockcontrol/internal/dispatch"
	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/platform/httpx"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
	"github.com/odyssey-erp/stockcontrol/internal/workflow"
)

// WorkflowService is the workflow surface used by the API.
type WorkflowService interface {
	CreateJob(ctx context.Context, actor shared.Actor, input workflow.CreateJobInput) (jobcard.Job, error)
	GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
	RecordDocumentUpload(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error)
	ApproveStep(ctx context.Context, actor shared.Actor, jobID int64, input workflow.ApprovalInput) (jobcard.Job, error)
	RejectStep(ctx context.Context, actor shared.Actor, jobID int64, reason string) (jobcard.Job, error)
	WorkflowStatus(ctx context.Context, actor shared.Actor, jobID int64) (workflow.StatusView, error)
	PendingApprovalsForRole(ctx context.Context, companyID int64, role shared.Role) ([]jobcard.Job, error)
	ApprovalHistory(ctx context.Context, companyID, jobID int64) ([]workflow.ApprovalRecord, error)
	CanUserApprove(ctx context.Context, actor shared.Actor, jobID int64) (bool, error)
}

// InventoryService is the ledger surface used by the API.
type InventoryService interface {
	Allocate(ctx context.Context, actor shared.Actor, input inventory.AllocateInput) (inventory.Allocation, error)
	RecordMovement(ctx context.Context, actor shared.Actor, input inventory.MovementInput) (inventory.Movement, error)
	StockItem(ctx context.Context, companyID, id int64) (inventory.StockItem, error)
	MovementsForItem(ctx context.Context, companyID, id int64) ([]inventory.Movement, error)
	AllocationsForJob(ctx context.Context, companyID, jobID int64) ([]inventory.Allocation, error)
	Reconcile(ctx context.Context, companyID, id int64) (inventory.Reconciliation, error)
}

// RequisitionService is the requisition surface used by the API.
type RequisitionService interface {
	CreateFromJob(ctx context.Context, actor shared.Actor, jobID int64) (*requisition.Requisition, error)
	Get(ctx context.Context, companyID, id int64) (requisition.Requisition, error)
	ForJob(ctx context.Context, companyID, jobID int64) (requisition.Requisition, error)
	List(ctx context.Context, companyID int64, filter requisition.ListFilter) ([]requisition.Requisition, error)
	Approve(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error)
	MarkOrdered(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error)
	Cancel(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error)
	Receive(ctx context.Context, actor shared.Actor, id int64, input requisition.ReceiveInput) (requisition.Requisition, error)
}

// DispatchService is the dispatch surface used by the API.
type DispatchService interface {
	StartSession(ctx context.Context, companyID, jobID int64) (dispatch.Session, error)
	ScanItem(ctx context.Context, actor shared.Actor, jobID int64, input dispatch.ScanInput) (dispatch.Scan, error)
	Progress(ctx context.Context, companyID, jobID int64) (dispatch.Progress, error)
	History(ctx context.Context, companyID, jobID int64) ([]dispatch.Scan, error)
	Complete(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error)
}

// NotificationService is the in-app inbox surface used by the API.
type NotificationService interface {
	Unread(ctx context.Context, userID int64) ([]notify.Notification, error)
	All(ctx context.Context, userID int64, limit int) ([]notify.Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// SignatureStore is the signature surface used by the API.
type SignatureStore interface {
	UploadSignature(ctx context.Context, actor shared.Actor, dataURL string) (string, error)
	CurrentSignatureURL(ctx context.Context, actor shared.Actor) (string, error)
	Clear(ctx context.Context, actor shared.Actor) error
}

// MaterialsStore maintains per-job material breakdowns.
type MaterialsStore interface {
	RequiredMaterials(ctx context.Context, companyID, jobID int64) ([]requisition.MaterialRequirement, error)
	ReplaceRequirements(ctx context.Context, companyID, jobID int64, lines []requisition.MaterialRequirement) error
}

// Services groups the collaborators behind the API.
type Services struct {
	Workflow      WorkflowService
	Inventory     InventoryService
	Requisitions  RequisitionService
	Dispatch      DispatchService
	Notifications NotificationService
	Signatures    SignatureStore
	Materials     MaterialsStore
	// Audit is optional; when set it is mounted under /audit for managers.
	Audit RouteMounter
}

// RouteMounter registers a sub-tree of routes.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// Handler serves the JSON API.
type Handler struct {
	svc       Services
	logger    *slog.Logger
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc Services, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, validator: validator.New()}
}

// MountRoutes registers the API routes. Callers must be identified by
// ActorFromHeaders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(ActorFromHeaders)
	stockRoles := RequireRole(shared.RoleStoreman, shared.RoleManager)
	approvers := RequireRole(shared.RoleManager)

	r.Route("/job-cards", func(r chi.Router) {
		r.With(RequireRole(shared.RoleAccounts, shared.RoleManager)).Post("/", h.createJob)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Post("/documents", h.recordDocumentUpload)
			r.Post("/approve", h.approveStep)
			r.Post("/reject", h.rejectStep)
			r.Get("/workflow", h.workflowStatus)
			r.Get("/approvals", h.approvalHistory)
			r.Get("/can-approve", h.canApprove)

			r.Get("/materials", h.listMaterials)
			r.With(RequireRole(shared.RoleAccounts, shared.RoleManager)).Put("/materials", h.replaceMaterials)

			r.Get("/allocations", h.listAllocations)
			r.With(stockRoles).Post("/allocations", h.allocate)

			r.Get("/requisition", h.jobRequisition)
			r.With(approvers).Post("/requisition", h.createRequisition)

			r.Route("/dispatch", func(r chi.Router) {
				r.Get("/", h.startSession)
				r.Get("/progress", h.dispatchProgress)
				r.Get("/history", h.dispatchHistory)
				r.With(stockRoles).Post("/scan", h.scanItem)
				r.With(stockRoles).Post("/complete", h.completeDispatch)
			})
		})
	})
	r.Get("/workflow/pending", h.pendingApprovals)

	r.Route("/stock-items/{itemID}", func(r chi.Router) {
		r.Get("/", h.getStockItem)
		r.Get("/movements", h.listMovements)
		r.With(stockRoles).Post("/movements", h.recordMovement)
		r.Get("/reconcile", h.reconcile)
	})

	r.Route("/requisitions", func(r chi.Router) {
		r.Get("/", h.listRequisitions)
		r.Route("/{requisitionID}", func(r chi.Router) {
			r.Get("/", h.getRequisition)
			r.With(approvers).Post("/approve", h.approveRequisition)
			r.With(approvers).Post("/order", h.orderRequisition)
			r.With(approvers).Post("/cancel", h.cancelRequisition)
			r.With(stockRoles).Post("/receive", h.receiveRequisition)
		})
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.listNotifications)
		r.Get("/count", h.unreadCount)
		r.Post("/read-all", h.markAllRead)
		r.Post("/{notificationID}/read", h.markRead)
	})

	r.Route("/signature", func(r chi.Router) {
		r.Get("/", h.currentSignature)
		r.Post("/", h.uploadSignature)
		r.Delete("/", h.clearSignature)
	})
	if h.svc.Audit != nil {
		r.With(approvers).Route("/audit", h.svc.Audit.MountRoutes)
	}
}

func actorFrom(r *http.Request) shared.Actor {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, shared.ErrValidation)
	}
	return id, nil
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, shared.ErrValidation)
	}
	return h.validate(target)
}

// decodeOptional accepts an empty body for requests whose fields are all optional.
func (h *Handler) decodeOptional(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		return fmt.Errorf("decode body: %v: %w", err, shared.ErrValidation)
	}
	return h.validate(target)
}

func (h *Handler) validate(target any) error {
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%s: %w", strings.Join(fields, ", "), shared.ErrValidation)
		}
		return fmt.Errorf("%v: %w", err, shared.ErrValidation)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !isClientError(err) {
		h.logger.Error("api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{
		shared.ErrNotFound, shared.ErrForbidden, shared.ErrInvalidState, shared.ErrConflict,
		shared.ErrInsufficientStock, shared.ErrExceedsAllocation, shared.ErrNotAllocated, shared.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
