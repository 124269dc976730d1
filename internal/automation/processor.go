// Package automation evaluates project rules against task transitions.
//
// A transition (status change, assignee change, due date passed) is matched
// against the project's active rules, each matched rule's action is applied
// once, and every result is collected in a Report. Rule failures are
// isolated: one failing rule never stops the others and never fails the task
// mutation that emitted the transition.
//
// Writes made by actions do not emit transitions of their own, so a
// ChangeStatus action cannot fire further rules.
package automation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"taskboard/internal/broadcast"
	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Store is everything the processor needs from persistence. repo.Repo
// satisfies it.
type Store interface {
	RuleSource
	ActionStore
	CounterStore
	GetTask(ctx context.Context, id string) (domain.Task, error)
}

type Processor struct {
	matcher   Matcher
	executor  Executor
	reporter  Reporter
	tasks     Store
	publisher broadcast.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithPublisher sets where automation-triggered notices are sent.
func WithPublisher(pub broadcast.Publisher) Option {
	return func(p *Processor) {
		p.publisher = pub
	}
}

// WithJournal records every outcome in the event log.
func WithJournal(j Journal) Option {
	return func(p *Processor) {
		p.reporter.Journal = j
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(p *Processor) {
		p.executor.NewID = newID
	}
}

func New(store Store, opts ...Option) *Processor {
	p := &Processor{
		matcher:   Matcher{Rules: store},
		executor:  Executor{Store: store},
		reporter:  Reporter{Counters: store},
		tasks:     store,
		publisher: broadcast.Nop{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.executor.Now = p.now
	p.reporter.Logger = p.logger
	return p
}

// OnTaskTransition runs every rule matching tr in store order and returns
// their outcomes. It never fails; inspect the Report instead.
func (p *Processor) OnTaskTransition(ctx context.Context, tr Transition) Report {
	report := Report{Transition: tr}
	if tr.OccurredAt.IsZero() {
		report.Transition.OccurredAt = p.now().UTC()
	}

	rules, err := p.matcher.Match(ctx, tr)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("project_id", tr.ProjectID).
			Str("task_id", tr.TaskID).
			Str("trigger", string(tr.Kind)).
			Msg("automation rules not loaded")
		return report
	}
	if len(rules) == 0 {
		return report
	}
	p.logger.Debug().
		Str("task_id", tr.TaskID).
		Str("trigger", string(tr.Kind)).
		Int("rules", len(rules)).
		Msg("automation rules matched")

	for _, rule := range rules {
		out := p.run(ctx, rule, tr)
		p.reporter.Record(ctx, tr, &out)
		if out.Status == StatusApplied {
			p.announce(ctx, tr, out)
		}
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (p *Processor) run(ctx context.Context, rule domain.Rule, tr Transition) Outcome {
	if rule.Invalid != nil {
		out := Outcome{RuleID: rule.ID, RuleName: rule.Name, TaskID: tr.TaskID, Status: StatusFailed, At: p.now().UTC()}
		if rule.Action != nil {
			out.Action = rule.Action.Kind()
		}
		out.Err = &Error{Kind: ErrConfiguration, RuleID: rule.ID, Op: "decode rule", Err: rule.Invalid}
		return out
	}
	// Reload per rule so each action sees writes made by earlier rules.
	task, err := p.tasks.GetTask(ctx, tr.TaskID)
	if err != nil {
		out := Outcome{RuleID: rule.ID, RuleName: rule.Name, TaskID: tr.TaskID, Status: StatusFailed, At: p.now().UTC()}
		if rule.Action != nil {
			out.Action = rule.Action.Kind()
		}
		if errors.Is(err, repo.ErrNotFound) {
			out.Err = lookupError(rule.ID, "load task", err)
		} else {
			out.Err = persistenceError(rule.ID, "load task", err)
		}
		return out
	}
	return p.executor.Execute(ctx, rule, task, tr.ActorID)
}

func (p *Processor) announce(ctx context.Context, tr Transition, out Outcome) {
	msg := broadcast.Message{
		Type:           broadcast.AutomationTriggered,
		ProjectID:      tr.ProjectID,
		TaskID:         out.TaskID,
		AutomationID:   out.RuleID,
		AutomationName: out.RuleName,
		TS:             out.At.Format(time.RFC3339),
	}
	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("automation_id", out.RuleID).Msg("automation broadcast failed")
	}
}
