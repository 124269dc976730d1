package engine

import (
	"context"
	"errors"
	"time"

	"taskboard/internal/automation"
	"taskboard/internal/domain"
	"taskboard/internal/events"
)

const sweepBatch = 100

// SweepOverdue flags tasks whose due date has passed and fires DueDatePassed
// rules for each of them. Tasks already in their project's last status are
// flagged without firing. A task fires at most once per due date.
func (e Engine) SweepOverdue(ctx context.Context) ([]automation.Report, error) {
	now := e.now().UTC()
	candidates, err := e.Repo.OverdueCandidates(ctx, now.Format(time.RFC3339), sweepBatch)
	if err != nil {
		return nil, err
	}
	projects := map[string]domain.Project{}
	var reports []automation.Report
	for _, t := range candidates {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		p, ok := projects[t.ProjectID]
		if !ok {
			p, err = e.Repo.GetProject(ctx, t.ProjectID)
			if err != nil {
				return reports, err
			}
			projects[p.ID] = p
		}
		claimed, err := e.Repo.ClaimOverdue(ctx, t.ID, now.Format(time.RFC3339))
		if err != nil {
			return reports, err
		}
		if !claimed || t.Status == p.FinalStatus() {
			continue
		}
		if err := e.Events.Append(ctx, nil, events.TaskOverdue, p.ID, "task", t.ID, SystemActor, events.EventPayload{"due_date": stringValue(t.DueDate)}); err != nil {
			e.Logger.Warn().Err(err).Str("task_id", t.ID).Msg("record overdue event")
		}
		if e.Config.Automation.Disabled {
			continue
		}
		reports = append(reports, e.Automation.OnTaskTransition(ctx, automation.Transition{
			ProjectID:  p.ID,
			TaskID:     t.ID,
			Kind:       domain.TriggerDueDatePassed,
			From:       t.Status,
			To:         t.Status,
			ActorID:    SystemActor,
			OccurredAt: now,
		}))
	}
	return reports, nil
}

// RunOverdueSweeper sweeps every interval until ctx is done.
func (e Engine) RunOverdueSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		reports, err := e.SweepOverdue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.Logger.Error().Err(err).Msg("overdue sweep failed")
		} else if len(reports) > 0 {
			e.Logger.Info().Int("tasks", len(reports)).Msg("overdue tasks processed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
