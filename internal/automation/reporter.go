package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/events"
)

// CounterStore records successful rule executions.
type CounterStore interface {
	IncrementRuleExecution(ctx context.Context, ruleID string, at time.Time) error
}

// Journal appends audit events. events.Writer satisfies it.
type Journal interface {
	Append(ctx context.Context, tx events.Execer, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error
}

type Reporter struct {
	Counters CounterStore
	Journal  Journal
	Logger   zerolog.Logger
}

// Record updates the execution counter of an applied rule and logs the
// outcome. Bookkeeping failures are kept on the outcome and never change
// its status.
func (r Reporter) Record(ctx context.Context, tr Transition, out *Outcome) {
	if out.Status == StatusApplied && r.Counters != nil {
		if err := r.Counters.IncrementRuleExecution(ctx, out.RuleID, out.At); err != nil {
			out.BookkeepingErr = err
			r.Logger.Warn().
				Err(err).
				Str("automation_id", out.RuleID).
				Msg("automation applied but execution count not updated")
		}
	}

	evt := r.Logger.Info()
	evtType := events.AutomationApplied
	switch out.Status {
	case StatusSkipped:
		evt = r.Logger.Debug()
		evtType = events.AutomationSkipped
	case StatusFailed:
		evt = r.Logger.Error().Err(out.Err)
		evtType = events.AutomationFailed
	}
	evt.Str("automation_id", out.RuleID).
		Str("automation_name", out.RuleName).
		Str("task_id", out.TaskID).
		Str("project_id", tr.ProjectID).
		Str("trigger", string(tr.Kind)).
		Str("action", string(out.Action)).
		Str("status", string(out.Status)).
		Str("reason", out.Reason).
		Msg("automation evaluated")

	if r.Journal == nil {
		return
	}
	payload := events.EventPayload{
		"automation_id":   out.RuleID,
		"automation_name": out.RuleName,
		"task_id":         out.TaskID,
		"trigger":         string(tr.Kind),
		"action":          string(out.Action),
	}
	if out.Reason != "" {
		payload["reason"] = out.Reason
	}
	if out.Err != nil {
		payload["error"] = out.Err.Error()
	}
	if err := r.Journal.Append(ctx, nil, evtType, tr.ProjectID, "automation", out.RuleID, tr.ActorID, payload); err != nil {
		r.Logger.Warn().Err(err).Str("automation_id", out.RuleID).Msg("automation event not recorded")
	}
}
