package automation

import (
	"context"

	"taskboard/internal/domain"
)

// RuleSource lists the active rules of a project for one trigger kind, in
// store order.
type RuleSource interface {
	ListActiveRules(ctx context.Context, projectID string, kind domain.TriggerKind) ([]domain.Rule, error)
}

type Matcher struct {
	Rules RuleSource
}

// Match returns every rule that applies to tr, preserving store order. An
// empty result is not an error; a failed store read is an ErrLookup.
func (m Matcher) Match(ctx context.Context, tr Transition) ([]domain.Rule, error) {
	if tr.Kind == domain.TriggerStatusChange && tr.From == tr.To {
		return nil, nil
	}
	rules, err := m.Rules.ListActiveRules(ctx, tr.ProjectID, tr.Kind)
	if err != nil {
		return nil, lookupError("", "list rules", err)
	}
	var matched []domain.Rule
	for _, rule := range rules {
		if rule.ProjectID != tr.ProjectID {
			continue
		}
		// The store already filtered on kind. A rule whose trigger could not be
		// decoded is passed on so the processor reports it as failed.
		if rule.Invalid != nil && rule.Trigger == nil && rule.Active {
			matched = append(matched, rule)
			continue
		}
		if Matches(rule, tr) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// Matches reports whether rule fires for tr. Inactive rules never fire and
// empty condition fields match anything.
func Matches(rule domain.Rule, tr Transition) bool {
	if !rule.Active || rule.Trigger == nil || rule.Trigger.Kind() != tr.Kind {
		return false
	}
	switch t := rule.Trigger.(type) {
	case domain.StatusChangeTrigger:
		if tr.From == tr.To {
			return false
		}
		return (t.FromStatus == "" || t.FromStatus == tr.From) &&
			(t.ToStatus == "" || t.ToStatus == tr.To)
	case domain.AssigneeChangeTrigger:
		return t.AssigneeID == "" || t.AssigneeID == tr.To
	case domain.DueDatePassedTrigger:
		return true
	default:
		return false
	}
}
