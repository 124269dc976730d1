package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when set so callers can share one transaction across calls.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.OwnerID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	return r.ReplaceStatuses(ctx, tx, p.ID, p.Statuses)
}

// ReplaceStatuses rewrites the ordered status columns of a project.
func (r Repo) ReplaceStatuses(ctx context.Context, tx *sql.Tx, projectID string, statuses []domain.ProjectStatus) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM project_statuses WHERE project_id=?`, projectID); err != nil {
		return err
	}
	for _, s := range statuses {
		if _, err := q.ExecContext(ctx, `INSERT INTO project_statuses(project_id,name,color,position) VALUES (?,?,?,?)`,
			projectID, s.Name, s.Color, s.Order); err != nil {
			return fmt.Errorf("insert status %s: %w", s.Name, err)
		}
	}
	return nil
}

func (r Repo) TouchProject(ctx context.Context, tx *sql.Tx, projectID, at string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET updated_at=? WHERE id=?`, at, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return r.getProject(ctx, tx, id)
}

func (r Repo) getProject(ctx context.Context, q querier, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,name,description,owner_id,created_at,updated_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &desc, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	p.Statuses, err = r.listStatuses(ctx, q, id)
	return p, err
}

func (r Repo) listStatuses(ctx context.Context, q querier, projectID string) ([]domain.ProjectStatus, error) {
	rows, err := q.QueryContext(ctx, `SELECT name,color,position FROM project_statuses WHERE project_id=? ORDER BY position ASC, name ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProjectStatus{}
	for rows.Next() {
		var s domain.ProjectStatus
		if err := rows.Scan(&s.Name, &s.Color, &s.Order); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ListProjects returns projects, restricted to those userID is a member of when set.
func (r Repo) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	query := `SELECT p.id FROM projects p ORDER BY p.created_at DESC, p.id ASC`
	var args []any
	if userID != "" {
		query = `SELECT p.id FROM projects p JOIN project_members m ON m.project_id=p.id WHERE m.user_id=? ORDER BY p.created_at DESC, p.id ASC`
		args = append(args, userID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// SingleProject returns the only project in the workspace.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, "")
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// UpsertMember adds userID to the project or changes its role.
func (r Repo) UpsertMember(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,added_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`, m.ProjectID, m.UserID, m.Role, m.AddedAt)
	return err
}

func (r Repo) MemberRole(ctx context.Context, tx *sql.Tx, projectID, userID string) (string, error) {
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,user_id,role,added_at FROM project_members WHERE project_id=? ORDER BY added_at ASC, user_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}
