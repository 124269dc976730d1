package repo

import (
	"context"
	"database/sql"

	"taskboard/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO notifications(id,recipient_id,type,title,message,task_id,project_id,created_by,read,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Message, nullableStringPtr(n.TaskID), nullableStringPtr(n.ProjectID),
		nullable(n.CreatedBy), boolInt(n.Read), n.CreatedAt)
	return err
}

// CreateNotification inserts n outside of any transaction.
func (r Repo) CreateNotification(ctx context.Context, n domain.Notification) error {
	return r.InsertNotification(ctx, nil, n)
}

type NotificationFilters struct {
	RecipientID string
	UnreadOnly  bool
	TaskID      string
	Limit       int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	query := `SELECT id,recipient_id,type,title,message,task_id,project_id,COALESCE(created_by,''),read,created_at FROM notifications WHERE recipient_id=?`
	args := []any{f.RecipientID}
	if f.UnreadOnly {
		query += ` AND read=0`
	}
	if f.TaskID != "" {
		query += ` AND task_id=?`
		args = append(args, f.TaskID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var taskID, projectID sql.NullString
		var read int
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &taskID, &projectID, &n.CreatedBy, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.TaskID = stringPtr(taskID)
		n.ProjectID = stringPtr(projectID)
		n.Read = read == 1
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM notifications WHERE recipient_id=? AND read=0`, recipientID).Scan(&n)
	return n, err
}

// MarkNotificationRead only touches notifications owned by recipientID.
func (r Repo) MarkNotificationRead(ctx context.Context, recipientID, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND recipient_id=?`, id, recipientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE recipient_id=? AND read=0`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) DeleteNotification(ctx context.Context, recipientID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id=? AND recipient_id=?`, id, recipientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
