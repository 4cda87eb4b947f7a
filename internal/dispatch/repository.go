package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository persists dispatch scans in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	JobStatusForShare(ctx context.Context, companyID, jobID int64) (jobcard.Status, error)
	LockJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
	LockAllocations(ctx context.Context, companyID, jobID, stockItemID int64) ([]AllocationRef, error)
	DispatchedQuantity(ctx context.Context, companyID, jobID, stockItemID int64) (int64, error)
	InsertScan(ctx context.Context, scan Scan) (Scan, error)
	ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error)
	CloseDispatchApproval(ctx context.Context, actor shared.Actor, jobID int64, at time.Time) error
	MarkDispatched(ctx context.Context, companyID, jobID int64) (jobcard.Job, error)
}

type txRepository struct {
	tx pgx.Tx
}

const jobColumns = `id, company_id, job_number, job_name, workflow_status, created_at, updated_at`

const progressQuery = `SELECT a.stock_item_id, si.sku, si.name, a.allocated, COALESCE(d.dispatched, 0)::bigint
FROM (SELECT stock_item_id, SUM(quantity_used)::bigint AS allocated
      FROM stock_allocations WHERE company_id=$1 AND job_id=$2 GROUP BY stock_item_id) a
JOIN stock_items si ON si.id = a.stock_item_id
LEFT JOIN (SELECT stock_item_id, SUM(quantity_dispatched)::bigint AS dispatched
      FROM dispatch_scans WHERE company_id=$1 AND job_id=$2 GROUP BY stock_item_id) d ON d.stock_item_id = a.stock_item_id
ORDER BY si.name, a.stock_item_id`

// WithTx runs fn in a read-committed transaction: the dispatched sum read
// after LockAllocations includes every scan committed by earlier lock holders.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("dispatch repository not initialised")
	}
	return db.WithReadCommitted(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetJob loads a job scoped to company.
func (r *Repository) GetJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_cards WHERE company_id=$1 AND id=$2`, companyID, jobID))
}

// ItemProgress aggregates allocations and scans per item.
func (r *Repository) ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error) {
	return itemProgress(ctx, r.pool, companyID, jobID)
}

// ListScans returns the job's scans oldest first.
func (r *Repository) ListScans(ctx context.Context, companyID, jobID int64) ([]Scan, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, job_id, stock_item_id, allocation_id, quantity_dispatched, scanned_by, scanned_by_name, notes, scanned_at
FROM dispatch_scans WHERE company_id=$1 AND job_id=$2 ORDER BY scanned_at ASC, id ASC`, companyID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scans := []Scan{}
	for rows.Next() {
		var sc Scan
		if err := rows.Scan(&sc.ID, &sc.CompanyID, &sc.JobID, &sc.StockItemID, &sc.AllocationID, &sc.QuantityDispatched, &sc.ScannedBy, &sc.ScannedByName, &sc.Notes, &sc.ScannedAt); err != nil {
			return nil, err
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

func (t *txRepository) JobStatusForShare(ctx context.Context, companyID, jobID int64) (jobcard.Status, error) {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT workflow_status FROM job_cards WHERE company_id=$1 AND id=$2 FOR SHARE`, companyID, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("job %d: %w", jobID, shared.ErrNotFound)
		}
		return "", err
	}
	return jobcard.Status(status), nil
}

func (t *txRepository) LockJob(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	return scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM job_cards WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, jobID))
}

// LockAllocations locks every allocation of the item on the job.
func (t *txRepository) LockAllocations(ctx context.Context, companyID, jobID, stockItemID int64) ([]AllocationRef, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, quantity_used FROM stock_allocations
WHERE company_id=$1 AND job_id=$2 AND stock_item_id=$3 ORDER BY id FOR UPDATE`, companyID, jobID, stockItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []AllocationRef
	for rows.Next() {
		var ref AllocationRef
		if err := rows.Scan(&ref.ID, &ref.QuantityUsed); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (t *txRepository) DispatchedQuantity(ctx context.Context, companyID, jobID, stockItemID int64) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_dispatched), 0)::bigint FROM dispatch_scans
WHERE company_id=$1 AND job_id=$2 AND stock_item_id=$3`, companyID, jobID, stockItemID).Scan(&total)
	return total, err
}

func (t *txRepository) InsertScan(ctx context.Context, scan Scan) (Scan, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO dispatch_scans (company_id, job_id, stock_item_id, allocation_id, quantity_dispatched, scanned_by, scanned_by_name, notes, scanned_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, scanned_at`,
		scan.CompanyID, scan.JobID, scan.StockItemID, scan.AllocationID, scan.QuantityDispatched, scan.ScannedBy, scan.ScannedByName, scan.Notes).Scan(&scan.ID, &scan.ScannedAt)
	return scan, err
}

func (t *txRepository) ItemProgress(ctx context.Context, companyID, jobID int64) ([]ItemProgress, error) {
	return itemProgress(ctx, t.tx, companyID, jobID)
}

// CloseDispatchApproval approves the pending dispatched step record, inserting
// one when none is open.
func (t *txRepository) CloseDispatchApproval(ctx context.Context, actor shared.Actor, jobID int64, at time.Time) error {
	step := string(jobcard.StepDispatched)
	tag, err := t.tx.Exec(ctx, `UPDATE approval_records SET status='approved', approver_id=$3, approver_name=$4, decided_at=$5
WHERE job_id=$1 AND step=$2 AND status='pending'`, jobID, step, actor.ID, actor.Name, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO approval_records (company_id, job_id, step, attempt, status, approver_id, approver_name, signature_url, comments, rejected_reason, decided_at, created_at)
VALUES ($1, $2, $3, (SELECT COALESCE(MAX(attempt), 0) + 1 FROM approval_records WHERE job_id=$2 AND step=$3), 'approved', $4, $5, '', '', '', $6, NOW())`,
		actor.CompanyID, jobID, step, actor.ID, actor.Name, at)
	return err
}

// MarkDispatched moves the job from ready_for_dispatch to dispatched.
func (t *txRepository) MarkDispatched(ctx context.Context, companyID, jobID int64) (jobcard.Job, error) {
	job, err := scanJob(t.tx.QueryRow(ctx, `UPDATE job_cards SET workflow_status=$3, updated_at=NOW()
WHERE company_id=$1 AND id=$2 AND workflow_status=$4 RETURNING `+jobColumns,
		companyID, jobID, string(jobcard.StatusDispatched), string(jobcard.StatusReadyForDispatch)))
	if errors.Is(err, shared.ErrNotFound) {
		return jobcard.Job{}, fmt.Errorf("dispatch: job %d left ready_for_dispatch: %w", jobID, shared.ErrInvalidState)
	}
	return job, err
}

func itemProgress(ctx context.Context, q db.DBTX, companyID, jobID int64) ([]ItemProgress, error) {
	rows, err := q.Query(ctx, progressQuery, companyID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ItemProgress{}
	for rows.Next() {
		var item ItemProgress
		if err := rows.Scan(&item.StockItemID, &item.SKU, &item.Name, &item.Allocated, &item.Dispatched); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanJob(row pgx.Row) (jobcard.Job, error) {
	var (
		job    jobcard.Job
		status string
	)
	if err := row.Scan(&job.ID, &job.CompanyID, &job.JobNumber, &job.JobName, &status, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobcard.Job{}, fmt.Errorf("job: %w", shared.ErrNotFound)
		}
		return jobcard.Job{}, err
	}
	job.WorkflowStatus = jobcard.Status(status)
	return job, nil
}
