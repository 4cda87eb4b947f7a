package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/observability"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
	ListJobsByStatus(ctx context.Context, companyID int64, statuses []jobcard.Status) ([]jobcard.Job, error)
	ListApprovals(ctx context.Context, companyID, jobID int64) ([]ApprovalRecord, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups optional collaborators.
type Config struct {
	Signatures   SignatureService
	Notifier     Notifier
	Requisitions RequisitionGenerator
	Dispatch     DispatchGate
	Audit        AuditPort
	Metrics      *observability.StockMetrics
	Logger       *slog.Logger
}

// Service drives jobs through the approval chain.
type Service struct {
	repo         RepositoryPort
	signatures   SignatureService
	notifier     Notifier
	requisitions RequisitionGenerator
	dispatch     DispatchGate
	audit        AuditPort
	metrics      *observability.StockMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		signatures:   cfg.Signatures,
		notifier:     cfg.Notifier,
		requisitions: cfg.Requisitions,
		dispatch:     cfg.Dispatch,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// SetDispatchGate wires the dispatch reconciler after construction.
func (s *Service) SetDispatchGate(gate DispatchGate) {
	s.dispatch = gate
}

// CreateJob opens a job in draft.
func (s *Service) CreateJob(ctx context.Context, actor shared.Actor, input CreateJobInput) (jobcard.Job, error) {
	input.JobNumber = strings.TrimSpace(input.JobNumber)
	if input.JobNumber == "" {
		return jobcard.Job{}, fmt.Errorf("workflow: job number required: %w", shared.ErrValidation)
	}
	var job jobcard.Job
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		job, err = tx.InsertJob(ctx, jobcard.Job{
			CompanyID:      actor.CompanyID,
			JobNumber:      input.JobNumber,
			JobName:        strings.TrimSpace(input.JobName),
			WorkflowStatus: jobcard.StatusDraft,
		})
		return err
	})
	if err != nil {
		return jobcard.Job{}, err
	}
	s.recordAudit(ctx, actor, "workflow:create", job.ID, map[string]any{"job_number": job.JobNumber})
	return job, nil
}

// RecordDocumentUpload registers a document against a job. The first upload
// moves a draft job into the approval chain.
func (s *Service) RecordDocumentUpload(ctx context.Context, actor shared.Actor, jobID int64) (jobcard.Job, error) {
	var (
		job   jobcard.Job
		moved bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		job, err = tx.LockJob(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		switch job.WorkflowStatus {
		case jobcard.StatusDocumentUploaded:
			return nil
		case jobcard.StatusDraft:
		default:
			return fmt.Errorf("workflow: documents only accepted in draft or document_uploaded, job is %s: %w", job.WorkflowStatus, shared.ErrInvalidState)
		}
		if _, err := tx.RecordDecision(ctx, s.decision(job, jobcard.StepDocumentUpload, actor, ApprovalApproved)); err != nil {
			return err
		}
		if job, err = s.moveTo(ctx, tx, job, jobcard.StatusDocumentUploaded); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return jobcard.Job{}, err
	}
	if moved {
		s.metrics.Transition("document_upload", observability.Outcome(nil))
		s.recordAudit(ctx, actor, "workflow:document_upload", job.ID, nil)
		if step, ok := jobcard.CurrentStep(job.WorkflowStatus); ok {
			s.notifyRequired(ctx, job, step)
		}
	}
	return job, nil
}

// ApproveStep approves the job's current step and advances it one position.
func (s *Service) ApproveStep(ctx context.Context, actor shared.Actor, jobID int64, input ApprovalInput) (jobcard.Job, error) {
	current, err := s.repo.GetJob(ctx, actor.CompanyID, jobID)
	if err != nil {
		return jobcard.Job{}, err
	}
	step, err := authorizeApproval(actor, current)
	if err != nil {
		return jobcard.Job{}, err
	}
	signatureURL, err := s.resolveSignature(ctx, actor, input.SignatureDataURL)
	if err != nil {
		return jobcard.Job{}, err
	}

	var job jobcard.Job
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockJob(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		if locked.WorkflowStatus != current.WorkflowStatus {
			return fmt.Errorf("workflow: job %d moved from %s to %s: %w", jobID, current.WorkflowStatus, locked.WorkflowStatus, shared.ErrConflict)
		}
		if step == jobcard.StepDispatched {
			if err := s.requireDispatchComplete(ctx, locked); err != nil {
				return err
			}
		}
		rec := s.decision(locked, step, actor, ApprovalApproved)
		rec.SignatureURL = signatureURL
		rec.Comments = strings.TrimSpace(input.Comments)
		if _, err := tx.RecordDecision(ctx, rec); err != nil {
			return err
		}
		job, err = s.moveTo(ctx, tx, locked, jobcard.NextStatus(locked.WorkflowStatus))
		return err
	})
	s.metrics.Transition("approve", observability.Outcome(err))
	if err != nil {
		return jobcard.Job{}, err
	}
	s.logger.Info("workflow step approved",
		slog.Int64("job_id", job.ID),
		slog.String("step", string(step)),
		slog.String("status", string(job.WorkflowStatus)),
		slog.Int64("actor_id", actor.ID))
	s.recordAudit(ctx, actor, "workflow:approve", job.ID, map[string]any{"step": step, "status": job.WorkflowStatus})
	s.afterApprove(ctx, actor, job, step)
	return job, nil
}

// RejectStep rejects the current step and returns the job to the start of the
// approval chain.
func (s *Service) RejectStep(ctx context.Context, actor shared.Actor, jobID int64, reason string) (jobcard.Job, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return jobcard.Job{}, fmt.Errorf("workflow: rejection reason required: %w", shared.ErrValidation)
	}
	var (
		job  jobcard.Job
		step jobcard.Step
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockJob(ctx, actor.CompanyID, jobID)
		if err != nil {
			return err
		}
		var ok bool
		step, ok = jobcard.CurrentStep(locked.WorkflowStatus)
		if !ok {
			return fmt.Errorf("workflow: job %d in %s has no step to reject: %w", jobID, locked.WorkflowStatus, shared.ErrInvalidState)
		}
		if !jobcard.CanReject(actor.Role) {
			return fmt.Errorf("workflow: role %s cannot reject: %w", actor.Role, shared.ErrForbidden)
		}
		rec := s.decision(locked, step, actor, ApprovalRejected)
		rec.RejectedReason = reason
		if _, err := tx.RecordDecision(ctx, rec); err != nil {
			return err
		}
		job, err = s.moveTo(ctx, tx, locked, jobcard.ResetStatus())
		return err
	})
	s.metrics.Transition("reject", observability.Outcome(err))
	if err != nil {
		return jobcard.Job{}, err
	}
	s.logger.Info("workflow step rejected",
		slog.Int64("job_id", job.ID),
		slog.String("step", string(step)),
		slog.Int64("actor_id", actor.ID))
	s.recordAudit(ctx, actor, "workflow:reject", job.ID, map[string]any{"step": step, "reason": reason})
	if s.notifier != nil {
		if err := s.notifier.NotifyRejected(ctx, job, actor, reason); err != nil {
			s.sideEffectFailed(ctx, "notify_rejected", job, err)
		}
	}
	return job, nil
}

// WorkflowStatus projects the job's position for actor.
func (s *Service) WorkflowStatus(ctx context.Context, actor shared.Actor, jobID int64) (StatusView, error) {
	job, err := s.repo.GetJob(ctx, actor.CompanyID, jobID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{JobID: job.ID, CurrentStatus: job.WorkflowStatus}
	if step, ok := jobcard.CurrentStep(job.WorkflowStatus); ok {
		role, _ := jobcard.RoleForStep(step)
		view.CurrentStep = step
		view.StepName = jobcard.DisplayName(step)
		view.RequiredRole = role
		view.CanApprove = jobcard.CanApprove(actor.Role, step)
		view.CanReject = jobcard.CanReject(actor.Role)
	}
	return view, nil
}

// PendingApprovalsForRole lists the company's jobs waiting on role.
func (s *Service) PendingApprovalsForRole(ctx context.Context, companyID int64, role shared.Role) ([]jobcard.Job, error) {
	statuses := jobcard.PendingStatuses(role)
	if len(statuses) == 0 {
		return []jobcard.Job{}, nil
	}
	return s.repo.ListJobsByStatus(ctx, companyID, statuses)
}

// ApprovalHistory lists every approval record of the job oldest first.
func (s *Service) ApprovalHistory(ctx context.Context, companyID, jobID int64) ([]ApprovalRecord, error) {
	if _, err := s.repo.GetJob(ctx, companyID, jobID); err != nil {
		return nil, err
	}
	return s.repo.ListApprovals(ctx, companyID, jobID)
}

// CanUserApprove reports whether actor may approve the job's current step.
func (s *Service) CanUserApprove(ctx context.Context, actor shared.Actor, jobID int64) (bool, error) {
	job, err := s.repo.GetJob(ctx, actor.CompanyID, jobID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, err = authorizeApproval(actor, job)
	return err == nil, nil
}

// GetJob returns the job.
func (s *Service) GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return s.repo.GetJob(ctx, companyID, jobID)
}

func authorizeApproval(actor shared.Actor, job jobcard.Job) (jobcard.Step, error) {
	step, ok := jobcard.CurrentStep(job.WorkflowStatus)
	if !ok {
		return "", fmt.Errorf("workflow: job %d in %s has no step to approve: %w", job.ID, job.WorkflowStatus, shared.ErrInvalidState)
	}
	if !jobcard.CanApprove(actor.Role, step) {
		required, _ := jobcard.RoleForStep(step)
		return "", fmt.Errorf("workflow: role %s cannot approve %s, requires %s: %w", actor.Role, step, required, shared.ErrForbidden)
	}
	return step, nil
}

func (s *Service) requireDispatchComplete(ctx context.Context, job jobcard.Job) error {
	if s.dispatch == nil {
		return nil
	}
	complete, err := s.dispatch.IsComplete(ctx, job.CompanyID, job.ID)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("workflow: job %d has undispatched allocations: %w", job.ID, shared.ErrInvalidState)
	}
	return nil
}

// moveTo persists status and opens a pending record for the step that becomes current.
func (s *Service) moveTo(ctx context.Context, tx TxRepository, job jobcard.Job, status jobcard.Status) (jobcard.Job, error) {
	updated, err := tx.UpdateJobStatus(ctx, job.CompanyID, job.ID, status)
	if err != nil {
		return jobcard.Job{}, err
	}
	if step, ok := jobcard.CurrentStep(status); ok {
		if _, err := tx.OpenApproval(ctx, updated.CompanyID, updated.ID, step); err != nil {
			return jobcard.Job{}, err
		}
	}
	return updated, nil
}

func (s *Service) decision(job jobcard.Job, step jobcard.Step, actor shared.Actor, status ApprovalStatus) ApprovalRecord {
	decided := s.now().UTC()
	return ApprovalRecord{
		CompanyID:    job.CompanyID,
		JobID:        job.ID,
		Step:         step,
		Status:       status,
		ApproverID:   actor.ID,
		ApproverName: actor.Name,
		DecidedAt:    &decided,
	}
}

func (s *Service) resolveSignature(ctx context.Context, actor shared.Actor, dataURL string) (string, error) {
	if s.signatures == nil {
		return "", nil
	}
	if dataURL != "" {
		url, err := s.signatures.UploadSignature(ctx, actor, dataURL)
		if err != nil {
			return "", fmt.Errorf("workflow: upload signature: %w", err)
		}
		return url, nil
	}
	url, err := s.signatures.CurrentSignatureURL(ctx, actor)
	if err != nil {
		s.logger.Warn("signature lookup failed", slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		return "", nil
	}
	return url, nil
}

// afterApprove runs the post-commit side effects of an approval. None of them
// can fail the approval.
func (s *Service) afterApprove(ctx context.Context, actor shared.Actor, job jobcard.Job, decided jobcard.Step) {
	if s.notifier != nil {
		if err := s.notifier.NotifyApprovalCompleted(ctx, job, decided, actor); err != nil {
			s.sideEffectFailed(ctx, "notify_completed", job, err)
		}
	}
	if job.WorkflowStatus == jobcard.StatusRequisitionSent && s.requisitions != nil {
		if err := s.requisitions.GenerateForJob(ctx, actor, job.ID); err != nil {
			s.sideEffectFailed(ctx, "requisition", job, err)
		}
	}
	if next, ok := jobcard.CurrentStep(job.WorkflowStatus); ok {
		s.notifyRequired(ctx, job, next)
	}
	if job.WorkflowStatus == jobcard.StatusReadyForDispatch && s.notifier != nil {
		if err := s.notifier.NotifyDispatchReady(ctx, job); err != nil {
			s.sideEffectFailed(ctx, "notify_dispatch_ready", job, err)
		}
	}
}

func (s *Service) notifyRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyApprovalRequired(ctx, job, step); err != nil {
		s.sideEffectFailed(ctx, "notify_required", job, err)
	}
}

func (s *Service) sideEffectFailed(ctx context.Context, effect string, job jobcard.Job, err error) {
	s.metrics.SideEffectFailed(effect)
	s.logger.WarnContext(ctx, "workflow side effect failed",
		slog.String("effect", effect),
		slog.Int64("job_id", job.ID),
		slog.String("status", string(job.WorkflowStatus)),
		slog.Any("error", err))
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, jobID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{CompanyID: actor.CompanyID, ActorID: actor.ID, Action: action, Entity: "job_card", EntityID: strconv.FormatInt(jobID, 10), Meta: meta, At: s.now().UTC()}); err != nil {
		s.logger.Warn("workflow audit", slog.String("action", action), slog.Any("error", err))
	}
}
