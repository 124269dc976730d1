package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/automation"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

var priorities = map[string]bool{"Low": true, "Medium": true, "High": true}

type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	AssigneeID  string
	Priority    string
	DueDate     string
	Labels      []string
	ActorID     string
}

// TaskUpdateOptions holds the fields to change. Nil pointers are left alone;
// an empty Assign unassigns the task.
type TaskUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	DueDate     *string
	Assign      *string
	Labels      *[]string
	ActorID     string
}

// TaskUpdate is the re-read task plus one report per emitted transition.
type TaskUpdate struct {
	Task        domain.Task
	Automations []automation.Report
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	priority := opts.Priority
	if priority == "" {
		priority = "Medium"
	}
	if !priorities[priority] {
		return domain.Task{}, fmt.Errorf("invalid priority %q", priority)
	}
	due, err := normalizeDueDate(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, opts.ProjectID, opts.ActorID, auth.PermWriteTasks); err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	status := opts.Status
	if status == "" {
		status = p.Statuses[0].Name
	}
	if !p.HasStatus(status) {
		return domain.Task{}, fmt.Errorf("status %q is not defined for project %s", status, p.ID)
	}
	if opts.AssigneeID != "" {
		if err := e.requireMember(ctx, tx, p.ID, opts.AssigneeID); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.timestamp()
	t := domain.Task{
		ID:          opts.ID,
		ProjectID:   p.ID,
		Title:       title,
		Description: opts.Description,
		Status:      status,
		AssigneeID:  optionalString(opts.AssigneeID),
		ReporterID:  opts.ActorID,
		Priority:    priority,
		DueDate:     due,
		Labels:      cleanLabels(opts.Labels),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if a := t.Assignee(); a != "" && a != opts.ActorID {
		if err := e.notify(ctx, tx, a, opts.ActorID, domain.NotificationInfo, "New Task Assigned",
			fmt.Sprintf("You have been assigned to %q", t.Title), t.ID, p.ID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, p.ID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask applies the changes in one transaction, then runs automation
// for the status and assignee transitions it produced.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (TaskUpdate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskUpdate{}, err
	}
	defer tx.Rollback()
	before, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return TaskUpdate{}, err
	}
	if err := e.Auth.Require(ctx, tx, before.ProjectID, opts.ActorID, auth.PermWriteTasks); err != nil {
		return TaskUpdate{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, before.ProjectID)
	if err != nil {
		return TaskUpdate{}, err
	}

	after := before
	if opts.Title != nil {
		after.Title = strings.TrimSpace(*opts.Title)
		if after.Title == "" {
			return TaskUpdate{}, errors.New("title cannot be empty")
		}
	}
	if opts.Description != nil {
		after.Description = *opts.Description
	}
	if opts.Status != nil {
		if !p.HasStatus(*opts.Status) {
			return TaskUpdate{}, fmt.Errorf("status %q is not defined for project %s", *opts.Status, p.ID)
		}
		after.Status = *opts.Status
	}
	if opts.Priority != nil {
		if !priorities[*opts.Priority] {
			return TaskUpdate{}, fmt.Errorf("invalid priority %q", *opts.Priority)
		}
		after.Priority = *opts.Priority
	}
	if opts.DueDate != nil {
		due, err := normalizeDueDate(*opts.DueDate)
		if err != nil {
			return TaskUpdate{}, err
		}
		if stringValue(due) != stringValue(before.DueDate) {
			after.OverdueAt = nil
		}
		after.DueDate = due
	}
	if opts.Assign != nil {
		if *opts.Assign != "" {
			if err := e.requireMember(ctx, tx, p.ID, *opts.Assign); err != nil {
				return TaskUpdate{}, err
			}
		}
		after.AssigneeID = optionalString(*opts.Assign)
	}
	if opts.Labels != nil {
		after.Labels = cleanLabels(*opts.Labels)
	}
	final := p.FinalStatus()
	if before.Status == final && after.Status != final {
		after.OverdueAt = nil
	}

	now := e.timestamp()
	after.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, after); err != nil {
		return TaskUpdate{}, fmt.Errorf("update task: %w", err)
	}
	changes := map[string][2]string{}
	if before.Title != after.Title {
		changes["title"] = [2]string{before.Title, after.Title}
	}
	if before.Status != after.Status {
		changes["status"] = [2]string{before.Status, after.Status}
	}
	if before.Assignee() != after.Assignee() {
		changes["assignee"] = [2]string{before.Assignee(), after.Assignee()}
	}
	for _, field := range []string{"title", "status", "assignee"} {
		c, ok := changes[field]
		if !ok {
			continue
		}
		h := domain.HistoryEntry{TaskID: after.ID, Field: field, OldValue: c[0], NewValue: c[1], ChangedBy: opts.ActorID, ChangedAt: now}
		if err := e.Repo.InsertHistory(ctx, tx, h); err != nil {
			return TaskUpdate{}, fmt.Errorf("insert history: %w", err)
		}
	}
	if _, ok := changes["assignee"]; ok && after.Assignee() != "" && after.Assignee() != opts.ActorID {
		if err := e.notify(ctx, tx, after.Assignee(), opts.ActorID, domain.NotificationInfo, "Task Assigned",
			fmt.Sprintf("You have been assigned to %q", after.Title), after.ID, p.ID); err != nil {
			return TaskUpdate{}, err
		}
	}
	payload := events.EventPayload{}
	for field, c := range changes {
		payload[field] = map[string]string{"from": c[0], "to": c[1]}
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, p.ID, "task", after.ID, opts.ActorID, payload); err != nil {
		return TaskUpdate{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskUpdate{}, err
	}

	result := TaskUpdate{Task: after}
	if e.Config.Automation.Disabled {
		return result, nil
	}
	occurred := e.now().UTC()
	var transitions []automation.Transition
	if c, ok := changes["status"]; ok {
		transitions = append(transitions, automation.Transition{
			ProjectID: p.ID, TaskID: after.ID, Kind: domain.TriggerStatusChange,
			From: c[0], To: c[1], ActorID: opts.ActorID, OccurredAt: occurred,
		})
	}
	if c, ok := changes["assignee"]; ok && c[1] != "" {
		transitions = append(transitions, automation.Transition{
			ProjectID: p.ID, TaskID: after.ID, Kind: domain.TriggerAssigneeChange,
			From: c[0], To: c[1], ActorID: opts.ActorID, OccurredAt: occurred,
		})
	}
	if len(transitions) == 0 {
		return result, nil
	}
	for _, tr := range transitions {
		result.Automations = append(result.Automations, e.Automation.OnTaskTransition(ctx, tr))
	}
	reloaded, err := e.Repo.GetTask(ctx, after.ID)
	if err != nil {
		e.Logger.Warn().Err(err).Str("task_id", after.ID).Msg("reload task after automation")
		return result, nil
	}
	result.Task = reloaded
	return result, nil
}

// DeleteTask removes a task. Admins and owners may delete any task, members
// only the ones they reported.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	ok, err := e.Auth.ActorHasPermission(ctx, tx, t.ProjectID, actorID, auth.PermDeleteAnyTask)
	if err != nil {
		return err
	}
	if !ok {
		if t.ReporterID != actorID {
			return auth.ForbiddenError{Permission: auth.PermDeleteAnyTask}
		}
		if err := e.Auth.Require(ctx, tx, t.ProjectID, actorID, auth.PermWriteTasks); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddComment posts a comment and notifies the assignee and the reporter,
// skipping the author.
func (e Engine) AddComment(ctx context.Context, taskID, text, actorID string) (domain.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Comment{}, errors.New("comment text is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := e.Auth.Require(ctx, tx, t.ProjectID, actorID, auth.PermWriteTasks); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{ID: uuid.NewString(), TaskID: t.ID, UserID: actorID, Text: text, CreatedAt: e.timestamp()}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	msg := fmt.Sprintf("New comment on task %q", t.Title)
	recipients := []string{}
	if a := t.Assignee(); a != "" && a != actorID {
		recipients = append(recipients, a)
	}
	if t.ReporterID != actorID && t.ReporterID != t.Assignee() {
		recipients = append(recipients, t.ReporterID)
	}
	for _, r := range recipients {
		if err := e.notify(ctx, tx, r, actorID, domain.NotificationInfo, "New Comment on Task", msg, t.ID, t.ProjectID); err != nil {
			return domain.Comment{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.CommentAdded, t.ProjectID, "task", t.ID, actorID, events.EventPayload{"comment_id": c.ID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (e Engine) GetTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.Auth.Require(ctx, nil, t.ProjectID, actorID, auth.PermReadProject); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasks lists a project's tasks newest first.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters, actorID string) ([]domain.Task, error) {
	if err := e.Auth.Require(ctx, nil, f.ProjectID, actorID, auth.PermReadProject); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) ListHistory(ctx context.Context, taskID, actorID string) ([]domain.HistoryEntry, error) {
	if _, err := e.GetTask(ctx, taskID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListHistory(ctx, taskID)
}

func (e Engine) ListComments(ctx context.Context, taskID, actorID string) ([]domain.Comment, error) {
	if _, err := e.GetTask(ctx, taskID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, taskID)
}

func (e Engine) requireMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	_, err := e.Repo.MemberRole(ctx, tx, projectID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("user %s is not a member of project %s", userID, projectID)
	}
	return err
}

// normalizeDueDate accepts RFC3339 or a bare date and stores UTC RFC3339.
// An empty string clears the due date.
func normalizeDueDate(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		ts, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid due date %q", raw)
		}
	}
	s := ts.UTC().Format(time.RFC3339)
	return &s, nil
}

func cleanLabels(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
