// Package materials reads and maintains the per-job required-materials
// breakdown that drives requisition generation.
package materials

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository is the PostgreSQL backed materials provider.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RequiredMaterials returns the job's breakdown in entry order.
func (r *Repository) RequiredMaterials(ctx context.Context, companyID, jobID int64) ([]requisition.MaterialRequirement, error) {
	rows, err := r.pool.Query(ctx, `SELECT product, stock_item_id, litres_required, COALESCE(pack_size_litres, 0)
FROM job_material_requirements WHERE company_id=$1 AND job_id=$2 ORDER BY id`, companyID, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []requisition.MaterialRequirement
	for rows.Next() {
		var (
			req     requisition.MaterialRequirement
			stockID pgtype.Int8
		)
		if err := rows.Scan(&req.Product, &stockID, &req.LitresRequired, &req.PackSizeLitres); err != nil {
			return nil, err
		}
		if stockID.Valid {
			req.StockItemID = stockID.Int64
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ReplaceRequirements swaps the job's breakdown for lines.
func (r *Repository) ReplaceRequirements(ctx context.Context, companyID, jobID int64, lines []requisition.MaterialRequirement) error {
	lines, err := Normalize(lines)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM job_cards WHERE company_id=$1 AND id=$2)`, companyID, jobID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: job %d", shared.ErrNotFound, jobID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM job_material_requirements WHERE company_id=$1 AND job_id=$2`, companyID, jobID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, line := range lines {
			var pack any
			if line.PackSizeLitres.IsPositive() {
				pack = line.PackSizeLitres
			}
			var stockID any
			if line.StockItemID > 0 {
				stockID = line.StockItemID
			}
			batch.Queue(`INSERT INTO job_material_requirements (company_id, job_id, product, stock_item_id, litres_required, pack_size_litres)
VALUES ($1,$2,$3,$4,$5,$6)`, companyID, jobID, line.Product, stockID, line.LitresRequired, pack)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Normalize trims product names and rejects negative quantities.
func Normalize(lines []requisition.MaterialRequirement) ([]requisition.MaterialRequirement, error) {
	out := make([]requisition.MaterialRequirement, 0, len(lines))
	for i, line := range lines {
		line.Product = strings.TrimSpace(line.Product)
		if line.Product == "" {
			return nil, fmt.Errorf("%w: line %d product required", shared.ErrValidation, i+1)
		}
		if line.LitresRequired.IsNegative() || line.PackSizeLitres.IsNegative() {
			return nil, fmt.Errorf("%w: line %d quantities must not be negative", shared.ErrValidation, i+1)
		}
		out = append(out, line)
	}
	return out, nil
}
