package requisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	"github.com/odyssey-erp/stockcontrol/internal/observability"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequisition(ctx context.Context, companyID, id int64) (Requisition, error)
	ActiveForJob(ctx context.Context, companyID, jobID int64) (Requisition, error)
	ActiveReorderForItem(ctx context.Context, companyID, stockItemID int64) (Requisition, error)
	ListRequisitions(ctx context.Context, companyID int64, filter ListFilter) ([]Requisition, error)
	ReceiptLines(ctx context.Context, requisitionID int64, key string) ([]ReceiptLine, error)
}

// StockPort exposes the ledger operations requisitions depend on.
type StockPort interface {
	StockItem(ctx context.Context, companyID, id int64) (inventory.StockItem, error)
	RecordMovement(ctx context.Context, actor shared.Actor, input inventory.MovementInput) (inventory.Movement, error)
}

// MaterialsProvider returns a job's required-materials breakdown.
type MaterialsProvider interface {
	RequiredMaterials(ctx context.Context, companyID, jobID int64) ([]MaterialRequirement, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups Service collaborators and defaults.
type Config struct {
	DefaultPackSizeLitres decimal.Decimal
	Materials             MaterialsProvider
	Stock                 StockPort
	Audit                 AuditPort
	Metrics               *observability.StockMetrics
	Logger                *slog.Logger
}

// Service generates requisitions and drives their lifecycle.
type Service struct {
	repo      RepositoryPort
	materials MaterialsProvider
	stock     StockPort
	audit     AuditPort
	packSize  decimal.Decimal
	metrics   *observability.StockMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the requisition service.
func NewService(repo RepositoryPort, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	packSize := cfg.DefaultPackSizeLitres
	if !packSize.IsPositive() {
		packSize = decimal.NewFromInt(20)
	}
	return &Service{
		repo:      repo,
		materials: cfg.Materials,
		stock:     cfg.Stock,
		audit:     cfg.Audit,
		packSize:  packSize,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateFromJob returns the job's active requisition, creating it from the
// required-materials breakdown when none exists. A nil requisition means the
// breakdown was empty.
func (s *Service) CreateFromJob(ctx context.Context, actor shared.Actor, jobID int64) (*Requisition, error) {
	if existing, err := s.repo.ActiveForJob(ctx, actor.CompanyID, jobID); err == nil {
		return &existing, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	var breakdown []MaterialRequirement
	if s.materials != nil {
		var err error
		breakdown, err = s.materials.RequiredMaterials(ctx, actor.CompanyID, jobID)
		if err != nil {
			return nil, fmt.Errorf("requisition: required materials for job %d: %w", jobID, err)
		}
	}
	items := make([]Item, 0, len(breakdown))
	for _, need := range breakdown {
		packSize := need.PackSizeLitres
		if !packSize.IsPositive() {
			packSize = s.packSize
		}
		packs := PacksToOrder(need.LitresRequired, packSize, s.packSize)
		if packs == 0 {
			continue
		}
		items = append(items, Item{
			StockItemID:      need.StockItemID,
			Product:          need.Product,
			LitresRequired:   need.LitresRequired,
			PackSizeLitres:   packSize,
			PacksToOrder:     packs,
			QuantityRequired: packs,
		})
	}
	if len(items) == 0 {
		return nil, nil
	}

	req := Requisition{
		CompanyID: actor.CompanyID,
		Number:    s.generateNumber("REQ"),
		Source:    SourceJob,
		JobID:     jobID,
		Status:    StatusPending,
		CreatedBy: actorName(actor),
		Notes:     fmt.Sprintf("Auto-generated from job %d", jobID),
	}
	created, err := s.insert(ctx, req, items)
	if errors.Is(err, shared.ErrConflict) {
		winner, rerr := s.repo.ActiveForJob(ctx, actor.CompanyID, jobID)
		if rerr != nil {
			return nil, rerr
		}
		return &winner, nil
	}
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor.ID, "requisition:create", created, map[string]any{"job_id": jobID, "lines": len(created.Items)})
	s.logger.Info("requisition created from job",
		slog.Int64("job_id", jobID),
		slog.String("number", created.Number),
		slog.Int("lines", len(created.Items)))
	return &created, nil
}

// GenerateForJob creates the job's requisition and discards the result.
func (s *Service) GenerateForJob(ctx context.Context, actor shared.Actor, jobID int64) error {
	_, err := s.CreateFromJob(ctx, actor, jobID)
	return err
}

// CreateReorderRequisition raises a replenishment request for the item's
// deficit. It returns nil when the item is not below minimum or a reorder
// requisition is already active for it.
func (s *Service) CreateReorderRequisition(ctx context.Context, item inventory.StockItem) (*Requisition, error) {
	if item.Quantity >= item.MinStockLevel {
		return nil, nil
	}
	if _, err := s.repo.ActiveReorderForItem(ctx, item.CompanyID, item.ID); err == nil {
		return nil, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	deficit := item.MinStockLevel - item.Quantity
	req := Requisition{
		CompanyID:   item.CompanyID,
		Number:      s.generateNumber("RO"),
		Source:      SourceReorder,
		StockItemID: item.ID,
		Status:      StatusPending,
		CreatedBy:   "system",
		Notes:       fmt.Sprintf("Reorder %s: on hand %d below minimum %d", item.SKU, item.Quantity, item.MinStockLevel),
	}
	line := Item{
		StockItemID:      item.ID,
		Product:          item.Name,
		PacksToOrder:     deficit,
		QuantityRequired: deficit,
	}
	created, err := s.insert(ctx, req, []Item{line})
	if errors.Is(err, shared.ErrConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("reorder requisition created",
		slog.Int64("stock_item_id", item.ID),
		slog.String("sku", item.SKU),
		slog.Int64("deficit", deficit))
	return &created, nil
}

// TriggerReorder loads the current item state and raises a reorder if needed.
func (s *Service) TriggerReorder(ctx context.Context, companyID, stockItemID int64) error {
	if s.stock == nil {
		return fmt.Errorf("requisition: stock port not configured")
	}
	item, err := s.stock.StockItem(ctx, companyID, stockItemID)
	if err != nil {
		return err
	}
	_, err = s.CreateReorderRequisition(ctx, item)
	return err
}

// Get returns a requisition with its lines.
func (s *Service) Get(ctx context.Context, companyID, id int64) (Requisition, error) {
	return s.repo.GetRequisition(ctx, companyID, id)
}

// ForJob returns the job's active requisition.
func (s *Service) ForJob(ctx context.Context, companyID, jobID int64) (Requisition, error) {
	return s.repo.ActiveForJob(ctx, companyID, jobID)
}

// List returns requisitions newest first.
func (s *Service) List(ctx context.Context, companyID int64, filter ListFilter) ([]Requisition, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListRequisitions(ctx, companyID, filter)
}

// Approve moves a pending requisition to approved.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (Requisition, error) {
	return s.transition(ctx, actor, id, "approve", StatusApproved, StatusPending)
}

// MarkOrdered records that the approved requisition was sent to a supplier.
func (s *Service) MarkOrdered(ctx context.Context, actor shared.Actor, id int64) (Requisition, error) {
	return s.transition(ctx, actor, id, "order", StatusOrdered, StatusApproved)
}

// Cancel releases the requisition; a new one may then be generated.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (Requisition, error) {
	return s.transition(ctx, actor, id, "cancel", StatusCancelled,
		StatusPending, StatusApproved, StatusOrdered, StatusPartiallyReceived)
}

// Receive books delivered quantities against ordered lines and posts inbound
// ledger movements for lines bound to a stock item.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, id int64, input ReceiveInput) (Requisition, error) {
	if len(input.Lines) == 0 {
		return Requisition{}, fmt.Errorf("%w: %w", ErrNoReceiptLines, shared.ErrValidation)
	}
	for _, line := range input.Lines {
		if line.ItemID == 0 || line.Quantity <= 0 {
			return Requisition{}, fmt.Errorf("requisition: invalid receipt line: %w", shared.ErrValidation)
		}
	}
	if input.Key == "" {
		input.Key = uuid.NewString()
	}
	input.Lines = mergeLines(input.Lines)

	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequisition(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if req.Status != StatusOrdered && req.Status != StatusPartiallyReceived {
			return fmt.Errorf("requisition: receive from %s: %w", req.Status, shared.ErrInvalidState)
		}
		if err := tx.InsertReceipt(ctx, id, input.Key, actor.ID, input.Lines); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				return errReceiptApplied
			}
			return err
		}
		byID := make(map[int64]*Item, len(req.Items))
		for i := range req.Items {
			byID[req.Items[i].ID] = &req.Items[i]
		}
		for _, line := range input.Lines {
			item, ok := byID[line.ItemID]
			if !ok {
				return fmt.Errorf("requisition: line %d: %w", line.ItemID, shared.ErrNotFound)
			}
			if line.Quantity > item.Outstanding() {
				return fmt.Errorf("requisition: line %d receives %d of %d outstanding: %w",
					line.ItemID, line.Quantity, item.Outstanding(), shared.ErrValidation)
			}
			if err := tx.AddReceived(ctx, line.ItemID, line.Quantity); err != nil {
				return err
			}
			item.QuantityReceived += line.Quantity
		}
		req.Status = StatusReceived
		for _, item := range req.Items {
			if item.Outstanding() > 0 {
				req.Status = StatusPartiallyReceived
				break
			}
		}
		if err := tx.UpdateStatus(ctx, id, req.Status); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if errors.Is(err, errReceiptApplied) {
		updated, err = s.replayReceipt(ctx, actor.CompanyID, id, &input)
	}
	if err != nil {
		return Requisition{}, err
	}
	if err := s.postDelivery(ctx, actor, updated, input); err != nil {
		return updated, err
	}
	s.recordAudit(ctx, actor.ID, "requisition:receive", updated, map[string]any{"key": input.Key, "status": updated.Status})
	return updated, nil
}

// replayReceipt reloads a requisition whose receipt key was already applied.
// Stock is reposted from the stored lines; a replay carrying other lines is refused.
func (s *Service) replayReceipt(ctx context.Context, companyID, id int64, input *ReceiveInput) (Requisition, error) {
	req, err := s.repo.GetRequisition(ctx, companyID, id)
	if err != nil {
		return Requisition{}, err
	}
	stored, err := s.repo.ReceiptLines(ctx, id, input.Key)
	if err != nil {
		return Requisition{}, err
	}
	if !sameLines(stored, input.Lines) {
		return Requisition{}, fmt.Errorf("requisition: receipt %s replayed with different lines: %w", input.Key, shared.ErrConflict)
	}
	input.Lines = stored
	return req, nil
}

// postDelivery appends one inbound movement per stock-bound line. Each movement
// is keyed by the receipt so retries skip lines already posted.
func (s *Service) postDelivery(ctx context.Context, actor shared.Actor, req Requisition, input ReceiveInput) error {
	if s.stock == nil {
		return nil
	}
	byID := make(map[int64]Item, len(req.Items))
	for _, item := range req.Items {
		byID[item.ID] = item
	}
	for _, line := range input.Lines {
		item := byID[line.ItemID]
		if item.StockItemID == 0 {
			continue
		}
		_, err := s.stock.RecordMovement(ctx, actor, inventory.MovementInput{
			StockItemID:   item.StockItemID,
			Type:          inventory.MovementIn,
			Quantity:      line.Quantity,
			ReferenceType: inventory.ReferenceDelivery,
			ReferenceID:   fmt.Sprintf("%s:%d", input.Key, item.ID),
			Notes:         fmt.Sprintf("Received against %s", req.Number),
		})
		if err != nil && !errors.Is(err, shared.ErrConflict) {
			s.metrics.SideEffectFailed("delivery_post")
			return fmt.Errorf("requisition: post delivery for line %d: %w", item.ID, err)
		}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, action string, to Status, from ...Status) (Requisition, error) {
	var updated Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequisition(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, st := range from {
			if req.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("requisition: cannot %s from %s: %w", action, req.Status, shared.ErrInvalidState)
		}
		if err := tx.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		req.Status = to
		updated = req
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, actor.ID, "requisition:"+action, updated, nil)
	return updated, nil
}

func (s *Service) insert(ctx context.Context, req Requisition, items []Item) (Requisition, error) {
	var created Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.InsertRequisition(ctx, req)
		if err != nil {
			return err
		}
		for _, item := range items {
			item.RequisitionID = header.ID
			stored, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			header.Items = append(header.Items, stored)
		}
		created = header
		return nil
	})
	return created, err
}

func (s *Service) generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, s.now().UTC().Format("20060102"), uuid.NewString()[:8])
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, req Requisition, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = req.Number
	if err := s.audit.Record(ctx, shared.AuditLog{CompanyID: req.CompanyID, ActorID: actorID, Action: action, Entity: "requisition", EntityID: strconv.FormatInt(req.ID, 10), Meta: meta, At: s.now().UTC()}); err != nil {
		s.logger.Warn("requisition audit", slog.String("action", action), slog.Any("error", err))
	}
}

func actorName(actor shared.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return strconv.FormatInt(actor.ID, 10)
}
