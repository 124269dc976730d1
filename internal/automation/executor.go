package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

const (
	badgeNotificationTitle = "Badge Awarded"
	taskNotificationTitle  = "Task Notification"
)

// ActionStore is the persistence the executor writes through.
type ActionStore interface {
	SetTaskStatus(ctx context.Context, taskID, status string, h domain.HistoryEntry) error
	AddUserBadge(ctx context.Context, userID, badge string, at time.Time) (bool, error)
	CreateNotification(ctx context.Context, n domain.Notification) error
}

type Executor struct {
	Store ActionStore
	Now   func() time.Time
	NewID func() string
}

func (x Executor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x Executor) newID() string {
	if x.NewID != nil {
		return x.NewID()
	}
	return uuid.NewString()
}

// Execute applies rule's action to task on behalf of actorID. It never
// returns an error; failures are classified in the Outcome.
func (x Executor) Execute(ctx context.Context, rule domain.Rule, task domain.Task, actorID string) Outcome {
	out := Outcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		TaskID:   task.ID,
		At:       x.now().UTC(),
	}
	if rule.Action == nil {
		return x.fail(out, &Error{Kind: ErrConfiguration, RuleID: rule.ID, Op: "execute", Err: errors.New("rule has no action")})
	}
	out.Action = rule.Action.Kind()

	switch a := rule.Action.(type) {
	case domain.ChangeStatusAction:
		return x.changeStatus(ctx, out, a, task, actorID)
	case domain.AwardBadgeAction:
		return x.awardBadge(ctx, out, a, task, actorID)
	case domain.SendNotificationAction:
		return x.sendNotification(ctx, out, rule, a, task, actorID)
	default:
		return x.fail(out, &Error{Kind: ErrConfiguration, RuleID: rule.ID, Op: "execute", Err: fmt.Errorf("unsupported action %T", a)})
	}
}

// changeStatus writes the status and a history entry even when the task is
// already in the target status; the rule still counts as executed.
func (x Executor) changeStatus(ctx context.Context, out Outcome, a domain.ChangeStatusAction, task domain.Task, actorID string) Outcome {
	entry := domain.HistoryEntry{
		TaskID:    task.ID,
		Field:     "status",
		OldValue:  task.Status,
		NewValue:  a.Status,
		ChangedBy: actorID,
		ChangedAt: out.At.Format(time.RFC3339),
	}
	if err := x.Store.SetTaskStatus(ctx, task.ID, a.Status, entry); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return x.fail(out, lookupError(out.RuleID, "change status", err))
		}
		return x.fail(out, persistenceError(out.RuleID, "change status", err))
	}
	out.Status = StatusApplied
	return out
}

func (x Executor) awardBadge(ctx context.Context, out Outcome, a domain.AwardBadgeAction, task domain.Task, actorID string) Outcome {
	assignee := task.Assignee()
	if assignee == "" {
		return skip(out, "task has no assignee")
	}
	if _, err := x.Store.AddUserBadge(ctx, assignee, a.BadgeName, out.At); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return x.fail(out, lookupError(out.RuleID, "award badge", fmt.Errorf("user %s: %w", assignee, err)))
		}
		return x.fail(out, persistenceError(out.RuleID, "award badge", err))
	}
	n := x.notification(task, assignee, actorID, domain.NotificationSuccess, badgeNotificationTitle,
		fmt.Sprintf("You earned the %q badge!", a.BadgeName), out.At)
	if err := x.Store.CreateNotification(ctx, n); err != nil {
		return x.fail(out, persistenceError(out.RuleID, "notify badge", err))
	}
	out.Status = StatusApplied
	return out
}

func (x Executor) sendNotification(ctx context.Context, out Outcome, rule domain.Rule, a domain.SendNotificationAction, task domain.Task, actorID string) Outcome {
	assignee := task.Assignee()
	if assignee == "" {
		return skip(out, "task has no assignee")
	}
	typ := a.NotificationType
	if typ == "" {
		typ = domain.NotificationInfo
	}
	n := x.notification(task, assignee, actorID, typ, taskNotificationTitle, RenderMessage(a.Message, rule, task), out.At)
	if err := x.Store.CreateNotification(ctx, n); err != nil {
		return x.fail(out, persistenceError(out.RuleID, "send notification", err))
	}
	out.Status = StatusApplied
	return out
}

func (x Executor) notification(task domain.Task, recipient, actorID, typ, title, message string, at time.Time) domain.Notification {
	taskID, projectID := task.ID, task.ProjectID
	return domain.Notification{
		ID:          x.newID(),
		RecipientID: recipient,
		Type:        typ,
		Title:       title,
		Message:     message,
		TaskID:      &taskID,
		ProjectID:   &projectID,
		CreatedBy:   actorID,
		CreatedAt:   at.Format(time.RFC3339),
	}
}

func (x Executor) fail(out Outcome, err error) Outcome {
	out.Status = StatusFailed
	out.Err = err
	return out
}

func skip(out Outcome, reason string) Outcome {
	out.Status = StatusSkipped
	out.Reason = reason
	return out
}

// RenderMessage substitutes ${taskTitle}, ${taskStatus}, ${taskId} and
// ${ruleName} in msg. Unknown placeholders are left as written.
func RenderMessage(msg string, rule domain.Rule, task domain.Task) string {
	if !strings.Contains(msg, "${") {
		return msg
	}
	return strings.NewReplacer(
		"${taskTitle}", task.Title,
		"${taskStatus}", task.Status,
		"${taskId}", task.ID,
		"${ruleName}", rule.Name,
	).Replace(msg)
}
