package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/club-events/internal/model"
)

// NotificationRepo stores in-app notifications.  Rows are written by the
// notifier consumer and read by their owner.
type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Create inserts n as unread and sets its id.
func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if n.Status == "" {
		n.Status = model.NotificationUnread
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO notifications (user_id, type, title, description, event_id, status) VALUES (?, ?, ?, ?, ?, ?)",
		n.UserID, n.Type, n.Title, n.Description, n.EventID, n.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint64(id)
	return nil
}

// ListByUser returns the user's notifications, newest first.  An empty
// status returns both read and unread ones.
func (r *NotificationRepo) ListByUser(ctx context.Context, userID uint64, status string, limit, offset int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := "SELECT id, user_id, type, title, description, event_id, status, created_at FROM notifications WHERE user_id = ?"
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		var (
			n       model.Notification
			desc    sql.NullString
			eventID sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &desc, &eventID, &n.Status, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Description = desc.String
		if eventID.Valid {
			id := uint64(eventID.Int64)
			n.EventID = &id
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead marks a notification read.  It returns sql.ErrNoRows when the
// notification does not exist and ErrForbidden when it belongs to
// someone else.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID uint64) error {
	var owner uint64
	if err := r.db.QueryRowContext(ctx, "SELECT user_id FROM notifications WHERE id = ?", id).Scan(&owner); err != nil {
		return err
	}
	if owner != userID {
		return ErrForbidden
	}
	_, err := r.db.ExecContext(ctx, "UPDATE notifications SET status = 'read' WHERE id = ?", id)
	return err
}

// UnreadCount returns the number of unread notifications of the user.
func (r *NotificationRepo) UnreadCount(ctx context.Context, userID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND status = 'unread'", userID).Scan(&n)
	return n, err
}
