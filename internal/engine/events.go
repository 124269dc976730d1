package engine

import (
	"context"
	"errors"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
)

// ListEvents reads a project's journal, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters, actorID string) ([]domain.Event, error) {
	if f.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if err := e.Auth.Require(ctx, nil, f.ProjectID, actorID, auth.PermReadProject); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}
