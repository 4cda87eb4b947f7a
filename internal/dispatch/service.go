package dispatch

import (
	"context"
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
	GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
	ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error)
	ListScans(ctx context.Context, companyID, jobID int64) ([]Scan, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reconciles physical hand-outs against allocations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics *observability.StockMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics *observability.StockMetrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// StartSession opens dispatch for a job that is ready for dispatch.
func (s *Service) StartSession(ctx context.Context, companyID, jobID int64) (Session, error) {
	job, err := s.repo.GetJob(ctx, companyID, jobID)
	if err != nil {
		return Session{}, err
	}
	if err := requireReady(job.WorkflowStatus); err != nil {
		return Session{}, err
	}
	progress, err := s.Progress(ctx, companyID, jobID)
	if err != nil {
		return Session{}, err
	}
	return Session{Job: job, Progress: progress}, nil
}

// ScanItem records quantity of an allocated item as handed over. The
// allocation rows are locked before the dispatched sum is read, so concurrent
// scans cannot jointly exceed the allocation.
func (s *Service) ScanItem(ctx context.Context, actor shared.Actor, jobID int64, input ScanInput) (Scan, error) {
	if input.StockItemID == 0 || input.Quantity <= 0 {
		return Scan{}, fmt.Errorf("dispatch: stock item and positive quantity required: %w", shared.ErrValidation)
	}
	var created Scan
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.JobStatusForShare(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		if err := requireReady(status); err != nil {
			return err
		}
		allocations, err := tx.LockAllocations(ctx, actor.CompanyID, jobID, input.StockItemID)
		if err != nil {
			return err
		}
		if len(allocations) == 0 {
			return fmt.Errorf("dispatch: item %d on job %d: %w", input.StockItemID, jobID, shared.ErrNotAllocated)
		}
		var allocated int64
		for _, a := range allocations {
			allocated += a.QuantityUsed
		}
		dispatched, err := tx.DispatchedQuantity(ctx, actor.CompanyID, jobID, input.StockItemID)
		if err != nil {
			return err
		}
		remaining := allocated - dispatched
		if input.Quantity > remaining {
			return fmt.Errorf("dispatch: scan of %d exceeds remaining %d for item %d: %w", input.Quantity, remaining, input.StockItemID, shared.ErrExceedsAllocation)
		}
		created, err = tx.InsertScan(ctx, Scan{
			CompanyID:          actor.CompanyID,
			JobID:              jobID,
			StockItemID:        input.StockItemID,
			AllocationID:       allocations[0].ID,
			QuantityDispatched: input.Quantity,
			ScannedBy:          actor.ID,
			ScannedByName:      actor.Name,
			Notes:              input.Notes,
		})
		return err
	})
	s.metrics.Scan(observability.Outcome(err))
	if err != nil {
		return Scan{}, err
	}
	s.recordAudit(ctx, actor, "dispatch:scan", jobID, map[string]any{
		"stock_item_id": created.StockItemID,
		"quantity":      created.QuantityDispatched,
	})
	return created, nil
}

// Progress reports allocated, dispatched and remaining quantity per item.
func (s *Service) Progress(ctx context.Context, companyID, jobID int64) (Progress, error) {
	items, err := s.repo.ItemProgress(ctx, companyID, jobID)
	if err != nil {
		return Progress{}, err
	}
	return summarise(jobID, items), nil
}

// IsComplete reports whether every allocation of the job has been scanned out.
func (s *Service) IsComplete(ctx context.Context, companyID, jobID int64) (bool, error) {
	progress, err := s.Progress(ctx, companyID, jobID)
	if err != nil {
		return false, err
	}
	return progress.IsComplete, nil
}

// History lists the job's scans oldest first.
func (s *Service) History(ctx context.Context, companyID, jobID int64) ([]Scan, error) {
	if _, err := s.repo.GetJob(ctx, companyID, jobID); err != nil {
		return nil, err
	}
	return s.repo.ListScans(ctx, companyID, jobID)
}

// Complete moves a fully dispatched job to its terminal status.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error) {
	var job jobcard.Job
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockJob(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		if err := requireReady(locked.WorkflowStatus); err != nil {
			return err
		}
		items, err := tx.ItemProgress(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		if progress := summarise(jobID, items); !progress.IsComplete {
			return fmt.Errorf("dispatch: job %d has %d of %d units outstanding: %w",
				jobID, progress.TotalAllocated-progress.TotalDispatched, progress.TotalAllocated, shared.ErrInvalidState)
		}
		if err := tx.CloseDispatchApproval(ctx, actor, jobID, s.now().UTC()); err != nil {
			return err
		}
		job, err = tx.MarkDispatched(ctx, actor.CompanyID, jobID)
		return err
	})
	s.metrics.Transition("dispatch_complete", observability.Outcome(err))
	if err != nil {
		return jobcard.Job{}, err
	}
	s.logger.Info("job dispatched", slog.Int64("job_id", jobID), slog.Int64("actor_id", actor.ID))
	s.recordAudit(ctx, actor, "dispatch:complete", jobID, nil)
	return job, nil
}

func requireReady(status jobcard.Status) error {
	if status != jobcard.StatusReadyForDispatch {
		return fmt.Errorf("dispatch: job is %s, not ready for dispatch: %w", status, shared.ErrInvalidState)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, jobID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{CompanyID: actor.CompanyID, ActorID: actor.ID, Action: action, Entity: "job_card", EntityID: strconv.FormatInt(jobID, 10), Meta: meta, At: s.now().UTC()}); err != nil {
		s.logger.Warn("dispatch audit", slog.String("action", action), slog.Any("error", err))
	}
}
