package automation

import (
	"errors"
	"time"

	"taskboard/internal/domain"
)

// Transition is a tracked change on a task that may fire rules.
type Transition struct {
	ProjectID string
	TaskID    string
	Kind      domain.TriggerKind
	// From and To hold the old and new status for status changes. For
	// assignee changes To is the new assignee.
	From       string
	To         string
	ActorID    string
	OccurredAt time.Time
}

type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of running one matched rule.
type Outcome struct {
	RuleID   string
	RuleName string
	TaskID   string
	Action   domain.ActionKind
	Status   Status
	// Reason explains a skip.
	Reason string
	Err    error
	// BookkeepingErr is set when the action applied but the execution
	// counter could not be updated.
	BookkeepingErr error
	At             time.Time
}

// Report collects the outcomes of every rule matched by one transition.
type Report struct {
	Transition Transition
	Outcomes   []Outcome
}

func (r Report) filter(s Status) []Outcome {
	var res []Outcome
	for _, o := range r.Outcomes {
		if o.Status == s {
			res = append(res, o)
		}
	}
	return res
}

func (r Report) Applied() []Outcome { return r.filter(StatusApplied) }
func (r Report) Skipped() []Outcome { return r.filter(StatusSkipped) }
func (r Report) Failed() []Outcome  { return r.filter(StatusFailed) }

// Err joins the errors of failed outcomes. It is meant for logging; callers
// must not fail the triggering mutation on it.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
