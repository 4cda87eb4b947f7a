package audit

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs through pgx.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Timeline implements Repository.
func (r *PgRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE company_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at < $3)
  AND ($4::bigint IS NULL OR actor_id = $4)
  AND ($5::text IS NULL OR entity = $5)
  AND ($6::text IS NULL OR entity_id = $6)
  AND ($7::text IS NULL OR action = $7)
ORDER BY occurred_at DESC, id DESC
OFFSET $8 LIMIT $9`,
		q.CompanyID, toPgTime(q.From), toPgTime(q.Until), optionalID(q.ActorID),
		optionalText(q.Entity), optionalText(q.EntityID), optionalText(q.Action), q.Offset, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalID(id int64) pgtype.Int8 {
	if id <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: id, Valid: true}
}
