package notify

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// Repository persists notifications and resolves recipients in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecipientsByRole lists active users of the company holding any of roles.
func (r *Repository) RecipientsByRole(ctx context.Context, companyID int64, roles []shared.Role) ([]Recipient, error) {
	raw := make([]string, len(roles))
	for i, role := range roles {
		raw[i] = string(role)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, email, role FROM users
WHERE company_id=$1 AND role = ANY($2) AND is_active ORDER BY id`, companyID, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recipient
	for rows.Next() {
		var (
			rec  Recipient
			role string
		)
		if err := rows.Scan(&rec.UserID, &rec.Name, &rec.Email, &role); err != nil {
			return nil, err
		}
		rec.Role = shared.Role(role)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertNotifications stores rows in one batch.
func (r *Repository) InsertNotifications(ctx context.Context, notifications []Notification) error {
	batch := &pgx.Batch{}
	for _, n := range notifications {
		batch.Queue(`INSERT INTO workflow_notifications (company_id, user_id, job_id, title, message, action_type, action_url, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`, n.CompanyID, n.UserID, n.JobID, n.Title, n.Message, string(n.ActionType), n.ActionURL)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListForUser lists notifications newest first. A zero limit returns all.
func (r *Repository) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, user_id, job_id, title, message, action_type, action_url, read_at, created_at
FROM workflow_notifications
WHERE user_id=$1 AND (NOT $2 OR read_at IS NULL)
ORDER BY created_at DESC, id DESC
LIMIT NULLIF($3, 0)`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Notification{}
	for rows.Next() {
		var (
			n      Notification
			action string
			readAt pgtype.Timestamptz
		)
		if err := rows.Scan(&n.ID, &n.CompanyID, &n.UserID, &n.JobID, &n.Title, &n.Message, &action, &n.ActionURL, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ActionType = ActionType(action)
		if readAt.Valid {
			at := readAt.Time
			n.ReadAt = &at
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount counts unread notifications.
func (r *Repository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_notifications WHERE user_id=$1 AND read_at IS NULL`, userID).Scan(&count)
	return count, err
}

// MarkRead marks one of the user's notifications read.
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE workflow_notifications SET read_at=NOW() WHERE id=$1 AND user_id=$2 AND read_at IS NULL`, notificationID, userID)
	return err
}

// MarkAllRead marks all of the user's notifications read.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE workflow_notifications SET read_at=NOW() WHERE user_id=$1 AND read_at IS NULL`, userID)
	return err
}
