package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"taskboard/internal/automation"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
)

type RuleInput struct {
	Name    string
	Active  *bool
	Trigger domain.TriggerSpec
	Action  domain.ActionSpec
}

// RuleUpdate changes the fields that are set.
type RuleUpdate struct {
	Name    *string
	Active  *bool
	Trigger *domain.TriggerSpec
	Action  *domain.ActionSpec
}

// CreateRule validates and stores a new automation rule. Invalid rules fail
// with automation.ErrConfiguration and nothing is written.
func (e Engine) CreateRule(ctx context.Context, projectID string, in RuleInput, actorID string) (domain.Rule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, projectID, actorID, auth.PermManageRules); err != nil {
		return domain.Rule{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Rule{}, err
	}
	trigger, action, err := e.validateRule(p, in.Name, in.Trigger, in.Action)
	if err != nil {
		return domain.Rule{}, err
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	now := e.timestamp()
	rule := domain.Rule{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Name:      strings.TrimSpace(in.Name),
		Active:    active,
		Trigger:   trigger,
		Action:    action,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AutomationCreated, p.ID, "automation", rule.ID, actorID, rulePayload(rule)); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

// UpdateRule changes a rule's definition. Execution statistics are kept.
func (e Engine) UpdateRule(ctx context.Context, ruleID string, upd RuleUpdate, actorID string) (domain.Rule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	rule, p, err := e.ruleForUpdate(ctx, tx, ruleID, actorID)
	if err != nil {
		return domain.Rule{}, err
	}
	name := rule.Name
	if upd.Name != nil {
		name = *upd.Name
	}
	ts := domain.SpecOfTrigger(rule.Trigger)
	if upd.Trigger != nil {
		ts = *upd.Trigger
	}
	as := domain.SpecOfAction(rule.Action)
	if upd.Action != nil {
		as = *upd.Action
	}
	trigger, action, err := e.validateRule(p, name, ts, as)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.Name = strings.TrimSpace(name)
	rule.Trigger = trigger
	rule.Action = action
	if upd.Active != nil {
		rule.Active = *upd.Active
	}
	rule.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateRuleDefinition(ctx, tx, rule); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AutomationUpdated, p.ID, "automation", rule.ID, actorID, rulePayload(rule)); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return e.Repo.GetRule(ctx, rule.ID)
}

// ToggleRule flips the active flag and returns the updated rule.
func (e Engine) ToggleRule(ctx context.Context, ruleID, actorID string) (domain.Rule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	rule, _, err := e.ruleForUpdate(ctx, tx, ruleID, actorID)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.Active = !rule.Active
	rule.UpdatedAt = e.timestamp()
	if err := e.Repo.SetRuleActive(ctx, tx, rule.ID, rule.Active, rule.UpdatedAt); err != nil {
		return domain.Rule{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AutomationToggled, rule.ProjectID, "automation", rule.ID, actorID, events.EventPayload{"active": rule.Active}); err != nil {
		return domain.Rule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

func (e Engine) DeleteRule(ctx context.Context, ruleID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rule, _, err := e.ruleForUpdate(ctx, tx, ruleID, actorID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteRule(ctx, tx, rule.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.AutomationDeleted, rule.ProjectID, "automation", rule.ID, actorID, events.EventPayload{"name": rule.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListRules returns a project's rules in evaluation order.
func (e Engine) ListRules(ctx context.Context, projectID, actorID string) ([]domain.Rule, error) {
	if err := e.Auth.Require(ctx, nil, projectID, actorID, auth.PermReadProject); err != nil {
		return nil, err
	}
	return e.Repo.ListRules(ctx, projectID)
}

func (e Engine) GetRule(ctx context.Context, ruleID, actorID string) (domain.Rule, error) {
	rule, err := e.Repo.GetRule(ctx, ruleID)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := e.Auth.Require(ctx, nil, rule.ProjectID, actorID, auth.PermReadProject); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}

func (e Engine) ruleForUpdate(ctx context.Context, tx *sql.Tx, ruleID, actorID string) (domain.Rule, domain.Project, error) {
	rule, err := e.Repo.GetRuleTx(ctx, tx, ruleID)
	if err != nil {
		return domain.Rule{}, domain.Project{}, err
	}
	if err := e.Auth.Require(ctx, tx, rule.ProjectID, actorID, auth.PermManageRules); err != nil {
		return domain.Rule{}, domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, rule.ProjectID)
	if err != nil {
		return domain.Rule{}, domain.Project{}, err
	}
	return rule, p, nil
}

func (e Engine) validateRule(p domain.Project, name string, ts domain.TriggerSpec, as domain.ActionSpec) (domain.Trigger, domain.Action, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil, automation.ConfigError("automation name is required")
	}
	trigger, err := ts.Trigger()
	if err != nil {
		return nil, nil, automation.ConfigError("%v", err)
	}
	action, err := as.Action()
	if err != nil {
		return nil, nil, automation.ConfigError("%v", err)
	}
	if t, ok := trigger.(domain.StatusChangeTrigger); ok {
		for _, s := range []string{t.FromStatus, t.ToStatus} {
			if s != "" && !p.HasStatus(s) {
				return nil, nil, automation.ConfigError("trigger status %q is not defined for project %s", s, p.ID)
			}
		}
	}
	switch a := action.(type) {
	case domain.ChangeStatusAction:
		if !p.HasStatus(a.Status) {
			return nil, nil, automation.ConfigError("status %q is not defined for project %s", a.Status, p.ID)
		}
	case domain.AwardBadgeAction:
		if strings.TrimSpace(a.BadgeName) == "" {
			return nil, nil, automation.ConfigError("badge name is required")
		}
		if !e.Config.BadgeAllowed(a.BadgeName) {
			return nil, nil, automation.ConfigError("badge %q is not in the catalog", a.BadgeName)
		}
	case domain.SendNotificationAction:
		if strings.TrimSpace(a.Message) == "" {
			return nil, nil, automation.ConfigError("notification message is required")
		}
		switch a.NotificationType {
		case domain.NotificationInfo, domain.NotificationWarning, domain.NotificationSuccess:
		default:
			return nil, nil, automation.ConfigError("invalid notification type %q", a.NotificationType)
		}
	}
	return trigger, action, nil
}

func rulePayload(rule domain.Rule) events.EventPayload {
	return events.EventPayload{
		"name":    rule.Name,
		"active":  rule.Active,
		"trigger": domain.SpecOfTrigger(rule.Trigger),
		"action":  domain.SpecOfAction(rule.Action),
	}
}
