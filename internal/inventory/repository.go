package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
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
	ApplyDelta(ctx context.Context, companyID, stockItemID, delta int64) (StockItem, error)
	InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error)
	LinkAllocationMovement(ctx context.Context, allocationID, movementID int64) error
	InsertMovement(ctx context.Context, mv Movement) (Movement, error)
	ClaimReference(ctx context.Context, key string) error
}

type txRepository struct {
	tx pgx.Tx
}

const stockItemColumns = `id, company_id, sku, name, quantity, min_stock_level, updated_at`

// WithTx executes the callback inside a read-committed transaction so the
// guarded updates and row locks observe the latest committed state.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithReadCommitted(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetStockItem loads a stock item scoped to company.
func (r *Repository) GetStockItem(ctx context.Context, companyID, id int64) (StockItem, error) {
	item, err := scanStockItem(r.pool.QueryRow(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, fmt.Errorf("stock item %d: %w", id, shared.ErrNotFound)
		}
		return StockItem{}, err
	}
	return item, nil
}

// ListMovements returns the item's movements in insertion order.
func (r *Repository) ListMovements(ctx context.Context, companyID, stockItemID int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, stock_item_id, movement_type, quantity, reference_type, reference_id, notes, created_by, created_at
FROM stock_movements WHERE company_id=$1 AND stock_item_id=$2 ORDER BY id ASC`, companyID, stockItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		if err := rows.Scan(&mv.ID, &mv.CompanyID, &mv.StockItemID, &mv.Type, &mv.Quantity, &mv.ReferenceType, &mv.ReferenceID, &mv.Notes, &mv.CreatedBy, &mv.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// ListAllocationsForJob returns a job's allocations in creation order.
func (r *Repository) ListAllocationsForJob(ctx context.Context, companyID, jobID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, job_id, stock_item_id, quantity_used, allocated_by, allocated_by_name, COALESCE(movement_id, 0), notes, created_at
FROM stock_allocations WHERE company_id=$1 AND job_id=$2 ORDER BY id ASC`, companyID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	allocations := []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.JobID, &a.StockItemID, &a.QuantityUsed, &a.AllocatedBy, &a.AllocatedByName, &a.MovementID, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *txRepository) JobStatusForShare(ctx context.Context, companyID, jobID int64) (jobcard.Status, error) {
	var status jobcard.Status
	err := r.tx.QueryRow(ctx, `SELECT workflow_status FROM job_cards WHERE company_id=$1 AND id=$2 FOR SHARE`, companyID, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("job %d: %w", jobID, shared.ErrNotFound)
		}
		return "", err
	}
	return status, nil
}

// ApplyDelta changes quantity with a guarded update so concurrent writers can
// never drive it below zero.
func (r *txRepository) ApplyDelta(ctx context.Context, companyID, stockItemID, delta int64) (StockItem, error) {
	item, err := scanStockItem(r.tx.QueryRow(ctx, `UPDATE stock_items SET quantity = quantity + $3, updated_at = NOW()
WHERE company_id=$1 AND id=$2 AND quantity + $3 >= 0
RETURNING `+stockItemColumns, companyID, stockItemID, delta))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StockItem{}, err
	}
	var available int64
	err = r.tx.QueryRow(ctx, `SELECT quantity FROM stock_items WHERE company_id=$1 AND id=$2`, companyID, stockItemID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, fmt.Errorf("stock item %d: %w", stockItemID, shared.ErrNotFound)
		}
		return StockItem{}, err
	}
	return StockItem{}, fmt.Errorf("stock item %d has %d, requested %d: %w", stockItemID, available, -delta, shared.ErrInsufficientStock)
}

func (r *txRepository) InsertAllocation(ctx context.Context, alloc Allocation) (Allocation, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_allocations (company_id, job_id, stock_item_id, quantity_used, allocated_by, allocated_by_name, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		alloc.CompanyID, alloc.JobID, alloc.StockItemID, alloc.QuantityUsed, alloc.AllocatedBy, alloc.AllocatedByName, alloc.Notes).Scan(&alloc.ID, &alloc.CreatedAt)
	return alloc, err
}

func (r *txRepository) LinkAllocationMovement(ctx context.Context, allocationID, movementID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_allocations SET movement_id=$2 WHERE id=$1 AND movement_id IS NULL`, allocationID, movementID)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (company_id, stock_item_id, movement_type, quantity, reference_type, reference_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		mv.CompanyID, mv.StockItemID, string(mv.Type), mv.Quantity, string(mv.ReferenceType), mv.ReferenceID, mv.Notes, mv.CreatedBy).Scan(&mv.ID, &mv.CreatedAt)
	return mv, err
}

func (r *txRepository) ClaimReference(ctx context.Context, key string) error {
	return shared.ClaimKey(ctx, r.tx, key, "inventory")
}

func scanStockItem(row pgx.Row) (StockItem, error) {
	var item StockItem
	err := row.Scan(&item.ID, &item.CompanyID, &item.SKU, &item.Name, &item.Quantity, &item.MinStockLevel, &item.UpdatedAt)
	return item, err
}
