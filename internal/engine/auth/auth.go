package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

const (
	PermManageProject = "project.manage"
	PermManageMembers = "project.members"
	PermManageRules   = "automation.manage"
	PermWriteTasks    = "task.write"
	PermDeleteAnyTask = "task.delete_any"
	PermReadProject   = "project.read"
)

// rolePermissions is the fixed role model of a project board.
var rolePermissions = map[string][]string{
	domain.RoleOwner:  {PermManageProject, PermManageMembers, PermManageRules, PermWriteTasks, PermDeleteAnyTask, PermReadProject},
	domain.RoleAdmin:  {PermManageMembers, PermManageRules, PermWriteTasks, PermDeleteAnyTask, PermReadProject},
	domain.RoleMember: {PermWriteTasks, PermReadProject},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides membership checks backed by SQL.
type Service struct {
	DB *sql.DB
}

// ValidRole reports whether role is one of owner, admin or member.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

func RoleHasPermission(role, perm string) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// MemberRole returns the actor's role in a project, or "" if not a member.
func (s Service) MemberRole(ctx context.Context, tx *sql.Tx, projectID, actorID string) (string, error) {
	if strings.TrimSpace(actorID) == "" {
		return "", errors.New("actor_id required")
	}
	query := `SELECT role FROM project_members WHERE project_id=? AND user_id=?`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, projectID, actorID)
	} else {
		row = s.DB.QueryRowContext(ctx, query, projectID, actorID)
	}
	var role string
	err := row.Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

func (s Service) ActorHasPermission(ctx context.Context, tx *sql.Tx, projectID, actorID, perm string) (bool, error) {
	role, err := s.MemberRole(ctx, tx, projectID, actorID)
	if err != nil {
		return false, err
	}
	return RoleHasPermission(role, perm), nil
}

// Require returns ForbiddenError when the actor lacks perm on the project.
func (s Service) Require(ctx context.Context, tx *sql.Tx, projectID, actorID, perm string) error {
	ok, err := s.ActorHasPermission(ctx, tx, projectID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// ActorPermissions lists what the actor may do on a project.
func (s Service) ActorPermissions(ctx context.Context, tx *sql.Tx, projectID, actorID string) ([]string, error) {
	role, err := s.MemberRole(ctx, tx, projectID, actorID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), rolePermissions[role]...), nil
}
