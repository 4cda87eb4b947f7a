package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockcontrol/internal/dispatch"
	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
	"github.com/odyssey-erp/stockcontrol/internal/workflow"
)

type fakeWorkflow struct {
	err         error
	approved    workflow.ApprovalInput
	rejected    string
	pendingRole shared.Role
}

func (f *fakeWorkflow) CreateJob(ctx context.Context, actor shared.Actor, input workflow.CreateJobInput) (jobcard.Job, error) {
	return jobcard.Job{ID: 1, CompanyID: actor.CompanyID, JobNumber: input.JobNumber, JobName: input.JobName, WorkflowStatus: jobcard.StatusDraft}, f.err
}

func (f *fakeWorkflow) GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return jobcard.Job{ID: jobID, CompanyID: companyID}, f.err
}

func (f *fakeWorkflow) RecordDocumentUpload(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error) {
	return jobcard.Job{ID: jobID, WorkflowStatus: jobcard.StatusDocumentUploaded}, f.err
}

func (f *fakeWorkflow) ApproveStep(ctx context.Context, actor shared.Actor, jobID int64, input workflow.ApprovalInput) (jobcard.Job, error) {
	f.approved = input
	return jobcard.Job{ID: jobID, WorkflowStatus: jobcard.StatusAdminApproved}, f.err
}

func (f *fakeWorkflow) RejectStep(ctx context.Context, actor shared.Actor, jobID int64, reason string) (jobcard.Job, error) {
	f.rejected = reason
	return jobcard.Job{ID: jobID, WorkflowStatus: jobcard.StatusDocumentUploaded}, f.err
}

func (f *fakeWorkflow) WorkflowStatus(ctx context.Context, actor shared.Actor, jobID int64) (workflow.StatusView, error) {
	return workflow.StatusView{JobID: jobID}, f.err
}

func (f *fakeWorkflow) PendingApprovalsForRole(ctx context.Context, companyID int64, role shared.Role) ([]jobcard.Job, error) {
	f.pendingRole = role
	return []jobcard.Job{{ID: 3}}, f.err
}

func (f *fakeWorkflow) ApprovalHistory(ctx context.Context, companyID, jobID int64) ([]workflow.ApprovalRecord, error) {
	return nil, f.err
}

func (f *fakeWorkflow) CanUserApprove(ctx context.Context, actor shared.Actor, jobID int64) (bool, error) {
	return actor.IsAdmin(), f.err
}

type fakeInventory struct {
	err       error
	allocated inventory.AllocateInput
	movement  inventory.MovementInput
}

func (f *fakeInventory) Allocate(ctx context.Context, actor shared.Actor, input inventory.AllocateInput) (inventory.Allocation, error) {
	f.allocated = input
	if f.err != nil {
		return inventory.Allocation{}, f.err
	}
	return inventory.Allocation{ID: 9, JobID: input.JobID, StockItemID: input.StockItemID, QuantityUsed: input.Quantity}, nil
}

func (f *fakeInventory) RecordMovement(ctx context.Context, actor shared.Actor, input inventory.MovementInput) (inventory.Movement, error) {
	f.movement = input
	return inventory.Movement{ID: 1}, f.err
}

func (f *fakeInventory) StockItem(ctx context.Context, companyID, id int64) (inventory.StockItem, error) {
	return inventory.StockItem{ID: id}, f.err
}

func (f *fakeInventory) MovementsForItem(ctx context.Context, companyID, id int64) ([]inventory.Movement, error) {
	return nil, f.err
}

func (f *fakeInventory) AllocationsForJob(ctx context.Context, companyID, jobID int64) ([]inventory.Allocation, error) {
	return nil, f.err
}

func (f *fakeInventory) Reconcile(ctx context.Context, companyID, id int64) (inventory.Reconciliation, error) {
	return inventory.Reconciliation{StockItemID: id}, f.err
}

type fakeRequisitions struct {
	err      error
	received requisition.ReceiveInput
	created  *requisition.Requisition
}

func (f *fakeRequisitions) CreateFromJob(ctx context.Context, actor shared.Actor, jobID int64) (*requisition.Requisition, error) {
	return f.created, f.err
}

func (f *fakeRequisitions) Get(ctx context.Context, companyID, id int64) (requisition.Requisition, error) {
	return requisition.Requisition{ID: id}, f.err
}

func (f *fakeRequisitions) ForJob(ctx context.Context, companyID, jobID int64) (requisition.Requisition, error) {
	return requisition.Requisition{JobID: jobID}, f.err
}

func (f *fakeRequisitions) List(ctx context.Context, companyID int64, filter requisition.ListFilter) ([]requisition.Requisition, error) {
	return nil, f.err
}

func (f *fakeRequisitions) Approve(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error) {
	return requisition.Requisition{ID: id, Status: requisition.StatusApproved}, f.err
}

func (f *fakeRequisitions) MarkOrdered(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error) {
	return requisition.Requisition{ID: id, Status: requisition.StatusOrdered}, f.err
}

func (f *fakeRequisitions) Cancel(ctx context.Context, actor shared.Actor, id int64) (requisition.Requisition, error) {
	return requisition.Requisition{ID: id, Status: requisition.StatusCancelled}, f.err
}

func (f *fakeRequisitions) Receive(ctx context.Context, actor shared.Actor, id int64, input requisition.ReceiveInput) (requisition.Requisition, error) {
	f.received = input
	return requisition.Requisition{ID: id, Status: requisition.StatusReceived}, f.err
}

type fakeDispatch struct {
	err error
}

func (f *fakeDispatch) StartSession(ctx context.Context, companyID, jobID int64) (dispatch.Session, error) {
	return dispatch.Session{}, f.err
}

func (f *fakeDispatch) ScanItem(ctx context.Context, actor shared.Actor, jobID int64, input dispatch.ScanInput) (dispatch.Scan, error) {
	return dispatch.Scan{JobID: jobID, StockItemID: input.StockItemID, QuantityDispatched: input.Quantity}, f.err
}

func (f *fakeDispatch) Progress(ctx context.Context, companyID, jobID int64) (dispatch.Progress, error) {
	return dispatch.Progress{JobID: jobID}, f.err
}

func (f *fakeDispatch) History(ctx context.Context, companyID, jobID int64) ([]dispatch.Scan, error) {
	return nil, f.err
}

func (f *fakeDispatch) Complete(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error) {
	return jobcard.Job{ID: jobID, WorkflowStatus: jobcard.StatusDispatched}, f.err
}

type fakeNotifications struct {
	readAll int64
}

func (f *fakeNotifications) Unread(ctx context.Context, userID int64) ([]notify.Notification, error) {
	return []notify.Notification{{ID: 1, UserID: userID}}, nil
}

func (f *fakeNotifications) All(ctx context.Context, userID int64, limit int) ([]notify.Notification, error) {
	return nil, nil
}

func (f *fakeNotifications) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return 4, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return nil
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, userID int64) error {
	f.readAll = userID
	return nil
}

type fakeSignatures struct{}

func (fakeSignatures) UploadSignature(ctx context.Context, actor shared.Actor, dataURL string) (string, error) {
	return "https://files/sig.png", nil
}

func (fakeSignatures) CurrentSignatureURL(ctx context.Context, actor shared.Actor) (string, error) {
	return "", nil
}

func (fakeSignatures) Clear(ctx context.Context, actor shared.Actor) error { return nil }

type fakeMaterials struct {
	lines []requisition.MaterialRequirement
}

func (f *fakeMaterials) RequiredMaterials(ctx context.Context, companyID, jobID int64) ([]requisition.MaterialRequirement, error) {
	return f.lines, nil
}

func (f *fakeMaterials) ReplaceRequirements(ctx context.Context, companyID, jobID int64, lines []requisition.MaterialRequirement) error {
	f.lines = lines
	return nil
}

type fixture struct {
	router        http.Handler
	workflow      *fakeWorkflow
	inventory     *fakeInventory
	requisitions  *fakeRequisitions
	dispatch      *fakeDispatch
	notifications *fakeNotifications
	materials     *fakeMaterials
}

func newFixture() *fixture {
	f := &fixture{
		workflow:      &fakeWorkflow{},
		inventory:     &fakeInventory{},
		requisitions:  &fakeRequisitions{},
		dispatch:      &fakeDispatch{},
		notifications: &fakeNotifications{},
		materials:     &fakeMaterials{},
	}
	handler := NewHandler(Services{
		Workflow:      f.workflow,
		Inventory:     f.inventory,
		Requisitions:  f.requisitions,
		Dispatch:      f.dispatch,
		Notifications: f.notifications,
		Signatures:    fakeSignatures{},
		Materials:     f.materials,
		Audit:         auditRoutes{},
	}, nil)
	r := chi.NewRouter()
	r.Route("/api", handler.MountRoutes)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorID, "7")
		req.Header.Set(HeaderActorName, "Tester")
		req.Header.Set(HeaderActorRole, role)
		req.Header.Set(HeaderCompanyID, "1")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestMissingActorIsUnauthorized(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/job-cards/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/job-cards/1", "janitor", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAllocateMapsErrors(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/job-cards/5/allocations", "storeman", `{"stockItemId":2,"quantity":60}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, inventory.AllocateInput{JobID: 5, StockItemID: 2, Quantity: 60}, f.inventory.allocated)

	f.inventory.err = shared.ErrInsufficientStock
	rec = f.do(t, http.MethodPost, "/api/job-cards/5/allocations", "storeman", `{"stockItemId":2,"quantity":60}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/allocations", "storeman", `{"stockItemId":2,"quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/allocations", "accounts", `{"stockItemId":2,"quantity":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/job-cards/abc/allocations", "admin", `{"stockItemId":2,"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveAndReject(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/job-cards/5/approve", "admin", `{"signatureDataUrl":"data:image/png;base64,AA==","comments":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", f.workflow.approved.Comments)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/approve", "manager", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, f.workflow.approved.SignatureDataURL)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/approve", "admin", `{"signatureDataUrl":"https://evil"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/reject", "manager", `{"reason":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.workflow.rejected)

	rec = f.do(t, http.MethodPost, "/api/job-cards/5/reject", "manager", `{"reason":"wrong colour"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wrong colour", f.workflow.rejected)

	f.workflow.err = shared.ErrForbidden
	rec = f.do(t, http.MethodPost, "/api/job-cards/5/approve", "storeman", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.workflow.err = shared.ErrInvalidState
	rec = f.do(t, http.MethodPost, "/api/job-cards/5/approve", "admin", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPendingApprovalsRoleOverride(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/workflow/pending?role=manager", "storeman", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shared.RoleStoreman, f.workflow.pendingRole)

	rec = f.do(t, http.MethodGet, "/api/workflow/pending?role=manager", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, shared.RoleManager, f.workflow.pendingRole)
}

func TestScanExceedingAllocation(t *testing.T) {
	f := newFixture()
	f.dispatch.err = shared.ErrExceedsAllocation
	rec := f.do(t, http.MethodPost, "/api/job-cards/5/dispatch/scan", "storeman", `{"stockItemId":2,"quantity":31}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Exceeds Allocation", problem.Title)

	f.dispatch.err = nil
	rec = f.do(t, http.MethodPost, "/api/job-cards/5/dispatch/complete", "storeman", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequisitionEndpoints(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/job-cards/5/requisition", "manager", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.requisitions.created = &requisition.Requisition{ID: 2, JobID: 5}
	rec = f.do(t, http.MethodPost, "/api/job-cards/5/requisition", "manager", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/requisitions/2/receive", "storeman", `{"deliveryKey":"dn-1","lines":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/requisitions/2/receive", "storeman", `{"deliveryKey":"dn-1","lines":[{"itemId":3,"quantity":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, requisition.ReceiveInput{Key: "dn-1", Lines: []requisition.ReceiptLine{{ItemID: 3, Quantity: 2}}}, f.requisitions.received)

	rec = f.do(t, http.MethodPost, "/api/requisitions/2/approve", "storeman", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.requisitions.err = shared.ErrInvalidState
	rec = f.do(t, http.MethodPost, "/api/requisitions/2/order", "manager", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMovementDefaultsToManualReference(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/api/stock-items/4/movements", "storeman", `{"type":"adjustment","quantity":-3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, inventory.ReferenceManual, f.inventory.movement.ReferenceType)
	assert.Equal(t, int64(-3), f.inventory.movement.Quantity)

	rec = f.do(t, http.MethodPost, "/api/stock-items/4/movements", "storeman", `{"type":"teleport","quantity":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaterialsRoundTrip(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPut, "/api/job-cards/5/materials", "accounts", `{"lines":[{"product":"Primer","litresRequired":"45","packSizeLitres":"20"}]}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, f.materials.lines, 1)
	assert.Equal(t, "45", f.materials.lines[0].LitresRequired.String())

	rec = f.do(t, http.MethodPut, "/api/job-cards/5/materials", "accounts", `{"lines":[{"product":""}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsAndSignature(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/notifications/count", "manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":4}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/notifications/read-all", "manager", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), f.notifications.readAll)

	rec = f.do(t, http.MethodPost, "/api/signature", "manager", `{"dataUrl":"data:image/png;base64,AA=="}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"url":"https://files/sig.png"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/signature", "manager", `{"dataUrl":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type auditRoutes struct{}

func (auditRoutes) MountRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		w.Header().Set("X-Company", strconv.FormatInt(actor.CompanyID, 10))
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuditMountIsManagerOnly(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/api/audit/", "manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Company"))

	rec = f.do(t, http.MethodGet, "/api/audit/", "storeman", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
