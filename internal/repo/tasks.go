package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

const taskColumns = `id,project_id,title,description,status,assignee_id,reporter_id,priority,due_date,labels_json,overdue_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, assigneeID, dueDate, overdueAt sql.NullString
	var labels string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &description, &t.Status, &assigneeID, &t.ReporterID, &t.Priority, &dueDate, &labels, &overdueAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	t.Description = description.String
	t.AssigneeID = stringPtr(assigneeID)
	t.DueDate = stringPtr(dueDate)
	t.OverdueAt = stringPtr(overdueAt)
	t.Labels = []string{}
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
			return t, fmt.Errorf("decode labels of task %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeLabels(labels []string) string {
	if len(labels) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(labels)
	return string(data)
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID), t.ReporterID,
		t.Priority, nullableStringPtr(t.DueDate), encodeLabels(t.Labels), nullableStringPtr(t.OverdueAt), t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateTask writes every mutable column of t.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?,description=?,status=?,assignee_id=?,priority=?,due_date=?,labels_json=?,overdue_at=?,updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, nullableStringPtr(t.AssigneeID), t.Priority, nullableStringPtr(t.DueDate),
		encodeLabels(t.Labels), nullableStringPtr(t.OverdueAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskStatus moves a task to status and appends the history entry in one
// transaction.
func (r Repo) SetTaskStatus(ctx context.Context, taskID, status string, h domain.HistoryEntry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, h.ChangedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	h.TaskID = taskID
	if err := r.InsertHistory(ctx, tx, h); err != nil {
		return err
	}
	return tx.Commit()
}

type TaskFilters struct {
	ProjectID       string
	Status          string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// OverdueCandidates lists tasks whose due date is before now and that have
// not been flagged overdue yet.
func (r Repo) OverdueCandidates(ctx context.Context, now string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE overdue_at IS NULL AND due_date IS NOT NULL AND due_date < ? ORDER BY due_date ASC, id ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ClaimOverdue flags a task overdue. Only the first caller for a given due
// date gets true.
func (r Repo) ClaimOverdue(ctx context.Context, taskID, at string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET overdue_at=? WHERE id=? AND overdue_at IS NULL`, at, taskID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) InsertHistory(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_history(task_id,field,old_value,new_value,changed_by,changed_at) VALUES (?,?,?,?,?,?)`,
		h.TaskID, h.Field, h.OldValue, h.NewValue, h.ChangedBy, h.ChangedAt)
	return err
}

func (r Repo) ListHistory(ctx context.Context, taskID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,field,COALESCE(old_value,''),COALESCE(new_value,''),changed_by,changed_at FROM task_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.HistoryEntry{}
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Field, &h.OldValue, &h.NewValue, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO comments(id,task_id,user_id,text,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.UserID, c.Text, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,text,created_at FROM comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Text, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountTasksInStatus counts the project's tasks currently in status.
func (r Repo) CountTasksInStatus(ctx context.Context, tx *sql.Tx, projectID, status string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id=? AND status=?`, projectID, status).Scan(&n)
	return n, err
}
