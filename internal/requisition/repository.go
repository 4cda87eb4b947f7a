package requisition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertRequisition(ctx context.Context, req Requisition) (Requisition, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	LockRequisition(ctx context.Context, companyID, id int64) (Requisition, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	AddReceived(ctx context.Context, itemID, quantity int64) error
	InsertReceipt(ctx context.Context, requisitionID int64, key string, actorID int64, lines []ReceiptLine) error
}

type txRepo struct {
	tx pgx.Tx
}

const requisitionColumns = `id, company_id, number, source, job_id, stock_item_id, status, created_by, notes, created_at, updated_at`

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetRequisition returns a requisition and its lines.
func (r *Repository) GetRequisition(ctx context.Context, companyID, id int64) (Requisition, error) {
	return loadRequisition(ctx, r.pool, `SELECT `+requisitionColumns+` FROM requisitions WHERE company_id=$1 AND id=$2`, companyID, id)
}

// ReceiptLines returns the lines stored with an applied receipt.
func (r *Repository) ReceiptLines(ctx context.Context, requisitionID int64, key string) ([]ReceiptLine, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `SELECT lines FROM requisition_receipts WHERE requisition_id=$1 AND receipt_key=$2`, requisitionID, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("receipt %s: %w", key, shared.ErrNotFound)
		}
		return nil, err
	}
	var lines []ReceiptLine
	if err := json.Unmarshal(payload, &lines); err != nil {
		return nil, fmt.Errorf("receipt %s: decode lines: %w", key, err)
	}
	return lines, nil
}

// ActiveForJob returns the job's non-cancelled requisition.
func (r *Repository) ActiveForJob(ctx context.Context, companyID, jobID int64) (Requisition, error) {
	return loadRequisition(ctx, r.pool, `SELECT `+requisitionColumns+` FROM requisitions
WHERE company_id=$1 AND job_id=$2 AND source='job' AND status <> 'cancelled'`, companyID, jobID)
}

// ActiveReorderForItem returns the item's non-cancelled reorder requisition.
func (r *Repository) ActiveReorderForItem(ctx context.Context, companyID, stockItemID int64) (Requisition, error) {
	return loadRequisition(ctx, r.pool, `SELECT `+requisitionColumns+` FROM requisitions
WHERE company_id=$1 AND stock_item_id=$2 AND source='reorder' AND status <> 'cancelled'`, companyID, stockItemID)
}

// ListRequisitions lists headers newest first.
func (r *Repository) ListRequisitions(ctx context.Context, companyID int64, filter ListFilter) ([]Requisition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requisitionColumns+` FROM requisitions
WHERE company_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR source=$3)
ORDER BY created_at DESC, id DESC LIMIT $4`, companyID, string(filter.Status), string(filter.Source), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// InsertRequisition inserts a header. The partial unique indexes on active
// requisitions turn a concurrent duplicate into shared.ErrConflict.
func (t *txRepo) InsertRequisition(ctx context.Context, req Requisition) (Requisition, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO requisitions (company_id, number, source, job_id, stock_item_id, status, created_by, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT DO NOTHING
RETURNING `+requisitionColumns,
		req.CompanyID, req.Number, string(req.Source), nullableID(req.JobID), nullableID(req.StockItemID), string(req.Status), req.CreatedBy, req.Notes)
	created, err := scanRequisition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || shared.IsUniqueViolation(err) || shared.IsSerializationFailure(err) {
			return Requisition{}, fmt.Errorf("requisition: active duplicate: %w", shared.ErrConflict)
		}
		return Requisition{}, err
	}
	return created, nil
}

// InsertItem inserts one line.
func (t *txRepo) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO requisition_items (requisition_id, stock_item_id, product, litres_required, pack_size_litres, packs_to_order, quantity_required, quantity_received)
VALUES ($1,$2,$3,$4,$5,$6,$7,0) RETURNING id`,
		item.RequisitionID, nullableID(item.StockItemID), item.Product, item.LitresRequired, item.PackSizeLitres, item.PacksToOrder, item.QuantityRequired).Scan(&item.ID)
	return item, err
}

// LockRequisition loads the header FOR UPDATE together with its lines.
func (t *txRepo) LockRequisition(ctx context.Context, companyID, id int64) (Requisition, error) {
	return loadRequisition(ctx, t.tx, `SELECT `+requisitionColumns+` FROM requisitions WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id)
}

// UpdateStatus sets the header status.
func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE requisitions SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

// AddReceived increments a line's received quantity.
func (t *txRepo) AddReceived(ctx context.Context, itemID, quantity int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE requisition_items SET quantity_received = quantity_received + $2
WHERE id=$1 AND quantity_received + $2 <= quantity_required`, itemID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requisition: line %d over-received: %w", itemID, shared.ErrValidation)
	}
	return nil
}

// InsertReceipt records a receipt key and its lines once per requisition.
func (t *txRepo) InsertReceipt(ctx context.Context, requisitionID int64, key string, actorID int64, lines []ReceiptLine) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `INSERT INTO requisition_receipts (requisition_id, receipt_key, received_by, lines, received_at)
VALUES ($1,$2,$3,$4,NOW()) ON CONFLICT DO NOTHING`, requisitionID, key, actorID, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConflict
	}
	return nil
}

func loadRequisition(ctx context.Context, q db.DBTX, query string, args ...any) (Requisition, error) {
	req, err := scanRequisition(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, fmt.Errorf("requisition: %w", shared.ErrNotFound)
		}
		return Requisition{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, requisition_id, stock_item_id, product, litres_required, pack_size_litres, packs_to_order, quantity_required, quantity_received
FROM requisition_items WHERE requisition_id=$1 ORDER BY id`, req.ID)
	if err != nil {
		return Requisition{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item    Item
			stockID pgtype.Int8
		)
		if err := rows.Scan(&item.ID, &item.RequisitionID, &stockID, &item.Product, &item.LitresRequired, &item.PackSizeLitres, &item.PacksToOrder, &item.QuantityRequired, &item.QuantityReceived); err != nil {
			return Requisition{}, err
		}
		item.StockItemID = stockID.Int64
		req.Items = append(req.Items, item)
	}
	return req, rows.Err()
}

func scanRequisition(row pgx.Row) (Requisition, error) {
	var (
		req            Requisition
		source, status string
		jobID, itemID  pgtype.Int8
	)
	if err := row.Scan(&req.ID, &req.CompanyID, &req.Number, &source, &jobID, &itemID, &status, &req.CreatedBy, &req.Notes, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return Requisition{}, err
	}
	req.Source = Source(source)
	req.Status = Status(status)
	req.JobID = jobID.Int64
	req.StockItemID = itemID.Int64
	return req, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
