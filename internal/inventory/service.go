package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/observability"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockItem(ctx context.Context, companyID, id int64) (StockItem, error)
	ListMovements(ctx context.Context, companyID, stockItemID int64) ([]Movement, error)
	ListAllocationsForJob(ctx context.Context, companyID, jobID int64) ([]Allocation, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the inventory ledger and allocation store.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	reorder     ReorderTrigger
	metrics     *observability.StockMetrics
	logger      *slog.Logger
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Reorder ReorderTrigger
	Metrics *observability.StockMetrics
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, reorder: cfg.Reorder, metrics: cfg.Metrics, logger: logger}
}

// SetReorderTrigger wires the reorder side effect after construction.
func (s *Service) SetReorderTrigger(trigger ReorderTrigger) {
	s.reorder = trigger
}

// Allocate reserves quantity of a stock item for a job. The stock decrement,
// allocation row and outbound movement commit together or not at all.
func (s *Service) Allocate(ctx context.Context, actor shared.Actor, input AllocateInput) (Allocation, error) {
	if input.JobID == 0 || input.StockItemID == 0 {
		return Allocation{}, fmt.Errorf("inventory: job and stock item required: %w", shared.ErrValidation)
	}
	if input.Quantity <= 0 {
		return Allocation{}, fmt.Errorf("%w: %w", ErrInvalidQuantity, shared.ErrValidation)
	}
	var (
		created Allocation
		item    StockItem
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.JobStatusForShare(ctx, actor.CompanyID, input.JobID)
		if err != nil {
			return err
		}
		if status == jobcard.StatusDispatched {
			return fmt.Errorf("inventory: job %d already dispatched: %w", input.JobID, shared.ErrInvalidState)
		}
		item, err = tx.ApplyDelta(ctx, actor.CompanyID, input.StockItemID, -input.Quantity)
		if err != nil {
			return err
		}
		created, err = tx.InsertAllocation(ctx, Allocation{
			CompanyID:       actor.CompanyID,
			JobID:           input.JobID,
			StockItemID:     input.StockItemID,
			QuantityUsed:    input.Quantity,
			AllocatedBy:     actor.ID,
			AllocatedByName: actor.Name,
			Notes:           input.Notes,
		})
		if err != nil {
			return err
		}
		mv, err := tx.InsertMovement(ctx, Movement{
			CompanyID:     actor.CompanyID,
			StockItemID:   input.StockItemID,
			Type:          MovementOut,
			Quantity:      input.Quantity,
			ReferenceType: ReferenceAllocation,
			ReferenceID:   strconv.FormatInt(created.ID, 10),
			Notes:         fmt.Sprintf("Allocated to job %d", input.JobID),
			CreatedBy:     actor.ID,
		})
		if err != nil {
			return err
		}
		created.MovementID = mv.ID
		return tx.LinkAllocationMovement(ctx, created.ID, mv.ID)
	})
	s.metrics.Allocation(observability.Outcome(err))
	if err != nil {
		return Allocation{}, err
	}
	s.metrics.Movement(string(MovementOut))
	s.recordAudit(ctx, actor, "inventory:allocate", strconv.FormatInt(created.ID, 10), map[string]any{
		"job_id":        created.JobID,
		"stock_item_id": created.StockItemID,
		"quantity":      created.QuantityUsed,
	})
	s.afterWrite(ctx, item)
	return created, nil
}

// RecordMovement appends a movement and applies its delta to the item in the
// same transaction. Movements carrying a reference id are applied at most once.
func (s *Service) RecordMovement(ctx context.Context, actor shared.Actor, input MovementInput) (Movement, error) {
	if input.StockItemID == 0 {
		return Movement{}, fmt.Errorf("inventory: stock item required: %w", shared.ErrValidation)
	}
	if !input.Type.Valid() {
		return Movement{}, fmt.Errorf("inventory: unknown movement type %q: %w", input.Type, shared.ErrValidation)
	}
	if input.Type == MovementAdjustment {
		if input.Quantity == 0 {
			return Movement{}, fmt.Errorf("inventory: adjustment must be non zero: %w", shared.ErrValidation)
		}
	} else if input.Quantity <= 0 {
		return Movement{}, fmt.Errorf("%w: %w", ErrInvalidQuantity, shared.ErrValidation)
	}
	if input.ReferenceType == "" {
		input.ReferenceType = ReferenceManual
	}

	key := ""
	if input.ReferenceID != "" {
		key = fmt.Sprintf("%s:%s:%d:%s", input.ReferenceType, input.ReferenceID, input.StockItemID, input.Type)
	}

	mv := Movement{
		CompanyID:     actor.CompanyID,
		StockItemID:   input.StockItemID,
		Type:          input.Type,
		Quantity:      input.Quantity,
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Notes:         input.Notes,
		CreatedBy:     actor.ID,
	}
	var item StockItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			if err := tx.ClaimReference(ctx, key); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					return fmt.Errorf("inventory: movement %s already recorded: %w", key, shared.ErrConflict)
				}
				return err
			}
		}
		var err error
		item, err = tx.ApplyDelta(ctx, actor.CompanyID, input.StockItemID, mv.Delta())
		if err != nil {
			return err
		}
		mv, err = tx.InsertMovement(ctx, mv)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.metrics.Movement(string(mv.Type))
	s.recordAudit(ctx, actor, fmt.Sprintf("inventory:%s", mv.Type), strconv.FormatInt(mv.ID, 10), map[string]any{
		"stock_item_id":  mv.StockItemID,
		"quantity":       mv.Quantity,
		"reference_type": mv.ReferenceType,
		"reference_id":   mv.ReferenceID,
	})
	s.afterWrite(ctx, item)
	return mv, nil
}

// StockItem returns the current committed state of an item.
func (s *Service) StockItem(ctx context.Context, companyID, id int64) (StockItem, error) {
	return s.repo.GetStockItem(ctx, companyID, id)
}

// Quantity returns the on-hand quantity of an item.
func (s *Service) Quantity(ctx context.Context, companyID, id int64) (int64, error) {
	item, err := s.repo.GetStockItem(ctx, companyID, id)
	if err != nil {
		return 0, err
	}
	return item.Quantity, nil
}

// MovementsForItem lists the item's movements oldest first.
func (s *Service) MovementsForItem(ctx context.Context, companyID, id int64) ([]Movement, error) {
	if _, err := s.repo.GetStockItem(ctx, companyID, id); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, companyID, id)
}

// AllocationsForJob lists allocations recorded against a job.
func (s *Service) AllocationsForJob(ctx context.Context, companyID, jobID int64) ([]Allocation, error) {
	return s.repo.ListAllocationsForJob(ctx, companyID, jobID)
}

// Reconcile recomputes an item's quantity from its movement log.
func (s *Service) Reconcile(ctx context.Context, companyID, id int64) (Reconciliation, error) {
	item, err := s.repo.GetStockItem(ctx, companyID, id)
	if err != nil {
		return Reconciliation{}, err
	}
	movements, err := s.repo.ListMovements(ctx, companyID, id)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{StockItemID: id, Recorded: item.Quantity, Movements: len(movements)}
	for _, mv := range movements {
		rec.Derived += mv.Delta()
	}
	if !rec.Consistent() {
		s.logger.Warn("inventory ledger drift",
			slog.Int64("stock_item_id", id),
			slog.Int64("recorded", rec.Recorded),
			slog.Int64("derived", rec.Derived))
	}
	return rec, nil
}

func (s *Service) afterWrite(ctx context.Context, item StockItem) {
	if s.reorder == nil || !item.BelowMinimum() {
		return
	}
	if err := s.reorder.TriggerReorder(ctx, item.CompanyID, item.ID); err != nil {
		s.metrics.SideEffectFailed("reorder")
		s.logger.Warn("reorder trigger failed",
			slog.Int64("stock_item_id", item.ID),
			slog.Int64("quantity", item.Quantity),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{CompanyID: actor.CompanyID, ActorID: actor.ID, Action: action, Entity: "inventory", EntityID: entityID, Meta: meta, At: time.Now().UTC()}); err != nil {
		s.logger.Warn("inventory audit", slog.String("action", action), slog.Any("error", err))
	}
}
