package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository persists jobs and approval records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of a workflow transition.
type TxRepository interface {
	InsertJob(ctx context.Context, job jobcard.Job) (jobcard.Job, error)
	LockJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
	UpdateJobStatus(ctx context.Context, companyID, jobID int64, status jobcard.Status) (jobcard.Job, error)
	OpenApproval(ctx context.Context, companyID, jobID int64, step jobcard.Step) (ApprovalRecord, error)
	RecordDecision(ctx context.Context, rec ApprovalRecord) (ApprovalRecord, error)
}

type txRepository struct {
	tx pgx.Tx
}

const (
	jobColumns      = `id, company_id, job_number, job_name, workflow_status, created_at, updated_at`
	approvalColumns = `id, company_id, job_id, step, attempt, status, approver_id, approver_name, signature_url, comments, rejected_reason, decided_at, created_at`
)

// WithTx executes the callback inside a read-committed transaction so the
// guarded updates and row locks observe the latest committed state.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("workflow repository not initialised")
	}
	return db.WithReadCommitted(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetJob loads a job scoped to company.
func (r *Repository) GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return getJob(ctx, r.pool, `SELECT `+jobColumns+` FROM job_cards WHERE company_id=$1 AND id=$2`, companyID, jobID)
}

// ListJobsByStatus returns the company's jobs in any of statuses, oldest first.
func (r *Repository) ListJobsByStatus(ctx context.Context, companyID int64, statuses []jobcard.Status) ([]jobcard.Job, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM job_cards
WHERE company_id=$1 AND workflow_status = ANY($2) ORDER BY created_at ASC, id ASC`, companyID, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []jobcard.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListApprovals returns the job's approval records oldest first.
func (r *Repository) ListApprovals(ctx context.Context, companyID, jobID int64) ([]ApprovalRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approval_records
WHERE company_id=$1 AND job_id=$2 ORDER BY created_at ASC, id ASC`, companyID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []ApprovalRecord{}
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txRepository) InsertJob(ctx context.Context, job jobcard.Job) (jobcard.Job, error) {
	created, err := scanJob(t.tx.QueryRow(ctx, `INSERT INTO job_cards (company_id, job_number, job_name, workflow_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING `+jobColumns, job.CompanyID, job.JobNumber, job.JobName, string(job.WorkflowStatus)))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return jobcard.Job{}, fmt.Errorf("job %s: %w", job.JobNumber, shared.ErrConflict)
		}
		return jobcard.Job{}, err
	}
	return created, nil
}

// LockJob loads the job FOR UPDATE, serialising transitions per job.
func (t *txRepository) LockJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return getJob(ctx, t.tx, `SELECT `+jobColumns+` FROM job_cards WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, jobID)
}

func (t *txRepository) UpdateJobStatus(ctx context.Context, companyID, jobID int64, status jobcard.Status) (jobcard.Job, error) {
	return getJob(ctx, t.tx, `UPDATE job_cards SET workflow_status=$3, updated_at=NOW()
WHERE company_id=$1 AND id=$2 RETURNING `+jobColumns, companyID, jobID, string(status))
}

// OpenApproval returns the pending record for step, inserting the next attempt if none is open.
func (t *txRepository) OpenApproval(ctx context.Context, companyID, jobID int64, step jobcard.Step) (ApprovalRecord, error) {
	rec, err := scanApproval(t.tx.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_records
WHERE job_id=$1 AND step=$2 AND status='pending'`, jobID, string(step)))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ApprovalRecord{}, err
	}
	return scanApproval(t.tx.QueryRow(ctx, `INSERT INTO approval_records (company_id, job_id, step, attempt, status, approver_name, signature_url, comments, rejected_reason, created_at)
VALUES ($1, $2, $3, (SELECT COALESCE(MAX(attempt), 0) + 1 FROM approval_records WHERE job_id=$2 AND step=$3), 'pending', '', '', '', '', NOW())
RETURNING `+approvalColumns, companyID, jobID, string(step)))
}

// RecordDecision closes the pending record for the step, or inserts a decided
// attempt when none was open.
func (t *txRepository) RecordDecision(ctx context.Context, rec ApprovalRecord) (ApprovalRecord, error) {
	decided, err := scanApproval(t.tx.QueryRow(ctx, `UPDATE approval_records
SET status=$3, approver_id=$4, approver_name=$5, signature_url=$6, comments=$7, rejected_reason=$8, decided_at=$9
WHERE job_id=$1 AND step=$2 AND status='pending'
RETURNING `+approvalColumns,
		rec.JobID, string(rec.Step), string(rec.Status), rec.ApproverID, rec.ApproverName, rec.SignatureURL, rec.Comments, rec.RejectedReason, rec.DecidedAt))
	if err == nil {
		return decided, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ApprovalRecord{}, err
	}
	return scanApproval(t.tx.QueryRow(ctx, `INSERT INTO approval_records (company_id, job_id, step, attempt, status, approver_id, approver_name, signature_url, comments, rejected_reason, decided_at, created_at)
VALUES ($1, $2, $3, (SELECT COALESCE(MAX(attempt), 0) + 1 FROM approval_records WHERE job_id=$2 AND step=$3), $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING `+approvalColumns,
		rec.CompanyID, rec.JobID, string(rec.Step), string(rec.Status), rec.ApproverID, rec.ApproverName, rec.SignatureURL, rec.Comments, rec.RejectedReason, rec.DecidedAt))
}

func getJob(ctx context.Context, q db.DBTX, query string, args ...any) (jobcard.Job, error) {
	job, err := scanJob(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobcard.Job{}, fmt.Errorf("job: %w", shared.ErrNotFound)
		}
		return jobcard.Job{}, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (jobcard.Job, error) {
	var (
		job    jobcard.Job
		status string
	)
	if err := row.Scan(&job.ID, &job.CompanyID, &job.JobNumber, &job.JobName, &status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return jobcard.Job{}, err
	}
	job.WorkflowStatus = jobcard.Status(status)
	return job, nil
}

func scanApproval(row pgx.Row) (ApprovalRecord, error) {
	var (
		rec          ApprovalRecord
		step, status string
		approverID   pgtype.Int8
		decidedAt    pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.CompanyID, &rec.JobID, &step, &rec.Attempt, &status, &approverID, &rec.ApproverName,
		&rec.SignatureURL, &rec.Comments, &rec.RejectedReason, &decidedAt, &rec.CreatedAt); err != nil {
		return ApprovalRecord{}, err
	}
	rec.Step = jobcard.Step(step)
	rec.Status = ApprovalStatus(status)
	rec.ApproverID = approverID.Int64
	if decidedAt.Valid {
		at := decidedAt.Time
		rec.DecidedAt = &at
	}
	return rec, nil
}
