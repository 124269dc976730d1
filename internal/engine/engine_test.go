package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/automation"
	"taskboard/internal/broadcast"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/events"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

const (
	owner = "u-owner"
	dev   = "u-dev"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
	Hub     *broadcast.Hub
	clock   *time.Time
}

func newTestEnv(t *testing.T, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	now := testNow
	hub := broadcast.NewHub()
	t.Cleanup(hub.Close)
	eng := engine.New(conn, cfg,
		engine.WithClock(func() time.Time { return now }),
		engine.WithPublisher(hub),
	)
	ctx := context.Background()
	for _, id := range []string{owner, dev} {
		_, err := eng.CreateUser(ctx, domain.User{ID: id, Name: id})
		require.NoError(t, err)
	}
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "Board", OwnerID: owner})
	require.NoError(t, err)
	_, err = eng.AddMember(ctx, p.ID, dev, domain.RoleMember, owner)
	require.NoError(t, err)
	return testEnv{Engine: eng, Ctx: ctx, Project: p, Hub: hub, clock: &now}
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env testEnv) task(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	if opts.ProjectID == "" {
		opts.ProjectID = env.Project.ID
	}
	if opts.ActorID == "" {
		opts.ActorID = owner
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	require.NoError(t, err)
	return task
}

func (env testEnv) rule(t *testing.T, name string, trigger domain.TriggerSpec, action domain.ActionSpec) domain.Rule {
	t.Helper()
	rule, err := env.Engine.CreateRule(env.Ctx, env.Project.ID, engine.RuleInput{Name: name, Trigger: trigger, Action: action}, owner)
	require.NoError(t, err)
	return rule
}

func (env testEnv) notificationsTitled(t *testing.T, recipient, title string) []domain.Notification {
	t.Helper()
	items, _, err := env.Engine.ListNotifications(env.Ctx, recipient, false, 0)
	require.NoError(t, err)
	var res []domain.Notification
	for _, n := range items {
		if n.Title == title {
			res = append(res, n)
		}
	}
	return res
}

func strPtr(s string) *string { return &s }

func TestProjectStartsWithDefaultStatuses(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Len(t, env.Project.Statuses, 3)
	assert.Equal(t, "Done", env.Project.FinalStatus())

	members, err := env.Engine.Repo.ListMembers(env.Ctx, env.Project.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Len(t, env.notificationsTitled(t, dev, "Added to Project"), 1)

	task := env.task(t, engine.TaskCreateOptions{Title: "Write report"})
	assert.Equal(t, "To Do", task.Status)
	assert.Equal(t, "Medium", task.Priority)
}

func TestMoveToDoneAwardsBadge(t *testing.T) {
	env := newTestEnv(t, nil)
	r1 := env.rule(t, "Finisher",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Write report", AssigneeID: dev, Status: "In Progress"})
	msgs, cancel := env.Hub.Subscribe(env.Project.ID)
	defer cancel()

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: dev})
	require.NoError(t, err)
	require.Len(t, res.Automations, 1)
	applied := res.Automations[0].Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, r1.ID, applied[0].RuleID)

	user, err := env.Engine.Repo.GetUser(env.Ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, []string{"Finisher"}, user.Badges)
	badge := env.notificationsTitled(t, dev, "Badge Awarded")
	require.Len(t, badge, 1)
	assert.Equal(t, domain.NotificationSuccess, badge[0].Type)
	assert.Equal(t, `You earned the "Finisher" badge!`, badge[0].Message)

	stored, err := env.Engine.Repo.GetRule(env.Ctx, r1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.ExecutionCount)
	require.NotNil(t, stored.LastExecutedAt)

	select {
	case msg := <-msgs:
		assert.Equal(t, broadcast.AutomationTriggered, msg.Type)
		assert.Equal(t, r1.ID, msg.AutomationID)
		assert.Equal(t, task.ID, msg.TaskID)
	case <-time.After(time.Second):
		t.Fatal("expected automation-triggered message")
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: env.Project.ID, Type: events.AutomationApplied})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, r1.ID, evts[0].EntityID)
}

func TestStatusChangeFromFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rule(t, "Review done",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, FromStatus: "In Progress", ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "${taskTitle} is ${taskStatus}", NotificationType: "success"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Ship", AssigneeID: dev})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	require.Len(t, res.Automations, 1)
	assert.Empty(t, res.Automations[0].Outcomes)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("In Progress"), ActorID: owner})
	require.NoError(t, err)
	res, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	require.Len(t, res.Automations[0].Applied(), 1)

	got := env.notificationsTitled(t, dev, "Task Notification")
	require.Len(t, got, 1)
	assert.Equal(t, "Ship is Done", got[0].Message)
}

func TestConcurrentUpdatesEachRunAutomation(t *testing.T) {
	env := newTestEnv(t, nil)
	rule := env.rule(t, "Shout",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "${taskTitle} done"})
	const workers = 16
	tasks := make([]domain.Task, workers)
	for i := range tasks {
		tasks[i] = env.task(t, engine.TaskCreateOptions{Title: fmt.Sprintf("Task %d", i), AssigneeID: dev})
	}

	var wg sync.WaitGroup
	results := make([]engine.TaskUpdate, workers)
	errs := make([]error, workers)
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: tasks[i].ID, Status: strPtr("Done"), ActorID: owner})
		}(i)
	}
	wg.Wait()

	for i := range tasks {
		require.NoError(t, errs[i], "update %d", i)
		assert.Equal(t, "Done", results[i].Task.Status)
		require.Len(t, results[i].Automations, 1)
		assert.Len(t, results[i].Automations[0].Applied(), 1, "update %d", i)
	}
	stored, err := env.Engine.Repo.GetRule(env.Ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, workers, stored.ExecutionCount)
	assert.Len(t, env.notificationsTitled(t, dev, "Task Notification"), workers)
}

func TestCorruptRuleDoesNotStopSiblings(t *testing.T) {
	env := newTestEnv(t, nil)
	trigger := domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"}
	first := env.rule(t, "First", trigger, domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "first"})
	broken := env.rule(t, "Broken", trigger, domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "broken"})
	last := env.rule(t, "Last", trigger, domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "last"})
	_, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE automations SET trigger_json='{' WHERE id=?`, broken.ID)
	require.NoError(t, err)
	task := env.task(t, engine.TaskCreateOptions{Title: "Ship", AssigneeID: dev})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	require.Len(t, res.Automations, 1)
	outs := res.Automations[0].Outcomes
	require.Len(t, outs, 3)
	assert.Equal(t, first.ID, outs[0].RuleID)
	assert.Equal(t, automation.StatusApplied, outs[0].Status)
	assert.Equal(t, broken.ID, outs[1].RuleID)
	assert.Equal(t, automation.StatusFailed, outs[1].Status)
	assert.ErrorIs(t, outs[1].Err, automation.ErrConfiguration)
	assert.Equal(t, last.ID, outs[2].RuleID)
	assert.Equal(t, automation.StatusApplied, outs[2].Status)
	assert.Len(t, env.notificationsTitled(t, dev, "Task Notification"), 2)
}

func TestAutomationStatusChangeDoesNotCascade(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rule(t, "Auto close",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "In Progress"},
		domain.ActionSpec{Kind: domain.ActionChangeStatus, Status: "Done"})
	cascade := env.rule(t, "Finisher",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Chain", AssigneeID: dev})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("In Progress"), ActorID: owner})
	require.NoError(t, err)
	assert.Equal(t, "Done", res.Task.Status)
	require.Len(t, res.Automations, 1)
	require.Len(t, res.Automations[0].Outcomes, 1)

	badges, err := env.Engine.Repo.UserBadges(env.Ctx, dev)
	require.NoError(t, err)
	assert.Empty(t, badges)
	stored, err := env.Engine.Repo.GetRule(env.Ctx, cascade.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ExecutionCount)

	history, err := env.Engine.ListHistory(env.Ctx, task.ID, owner)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Done", history[1].NewValue)
	assert.Equal(t, owner, history[1].ChangedBy)
}

func TestChangeStatusToCurrentStatusCounts(t *testing.T) {
	env := newTestEnv(t, nil)
	rule := env.rule(t, "Keep done",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionChangeStatus, Status: "Done"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Idle"})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	require.Len(t, res.Automations[0].Applied(), 1)
	assert.Equal(t, "Done", res.Task.Status)
	stored, err := env.Engine.Repo.GetRule(env.Ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.ExecutionCount)

	history, err := env.Engine.ListHistory(env.Ctx, task.ID, owner)
	require.NoError(t, err)
	var statusRows int
	for _, h := range history {
		if h.Field == "status" {
			statusRows++
		}
	}
	assert.Equal(t, 2, statusRows)
}

func TestInactiveRuleDoesNotFire(t *testing.T) {
	env := newTestEnv(t, nil)
	rule := env.rule(t, "Finisher",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"})
	toggled, err := env.Engine.ToggleRule(env.Ctx, rule.ID, owner)
	require.NoError(t, err)
	assert.False(t, toggled.Active)
	task := env.task(t, engine.TaskCreateOptions{Title: "Quiet", AssigneeID: dev})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	assert.Empty(t, res.Automations[0].Outcomes)
}

func TestAssigneeChangeTrigger(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rule(t, "Welcome",
		domain.TriggerSpec{Kind: domain.TriggerAssigneeChange},
		domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "Now on ${taskTitle}"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Triage"})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Assign: strPtr(dev), ActorID: owner})
	require.NoError(t, err)
	require.Len(t, res.Automations, 1)
	require.Len(t, res.Automations[0].Applied(), 1)
	assert.Len(t, env.notificationsTitled(t, dev, "Task Assigned"), 1)
	got := env.notificationsTitled(t, dev, "Task Notification")
	require.Len(t, got, 1)
	assert.Equal(t, "Now on Triage", got[0].Message)

	res, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Assign: strPtr(""), ActorID: owner})
	require.NoError(t, err)
	assert.Empty(t, res.Automations)
	assert.Nil(t, res.Task.AssigneeID)
}

func TestRuleValidation(t *testing.T) {
	cfg := config.Default()
	cfg.Badges.Catalog = []string{"Finisher"}
	env := newTestEnv(t, cfg)
	cases := map[string]engine.RuleInput{
		"empty name": {Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed}, Action: domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"}},
		"unknown status": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: domain.ActionChangeStatus, Status: "Archived"}},
		"unknown trigger status": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Shipped"},
			Action: domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"}},
		"empty badge": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: domain.ActionAwardBadge}},
		"badge outside catalog": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Hero"}},
		"empty message": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: domain.ActionSendNotification, Message: " "}},
		"bad notification type": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "hi", NotificationType: "urgent"}},
		"unknown action": {Name: "r", Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
			Action: domain.ActionSpec{Kind: "archive"}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.Engine.CreateRule(env.Ctx, env.Project.ID, in, owner)
			require.Error(t, err)
			assert.ErrorIs(t, err, automation.ErrConfiguration)
		})
	}
	rules, err := env.Engine.ListRules(env.Ctx, env.Project.ID, owner)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestUpdateRuleKeepsExecutionCount(t *testing.T) {
	env := newTestEnv(t, nil)
	rule := env.rule(t, "Finisher",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Count me", AssigneeID: dev})
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)

	updated, err := env.Engine.UpdateRule(env.Ctx, rule.ID, engine.RuleUpdate{
		Name:   strPtr("Closer"),
		Action: &domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Closer"},
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, "Closer", updated.Name)
	assert.Equal(t, domain.AwardBadgeAction{BadgeName: "Closer"}, updated.Action)
	assert.EqualValues(t, 1, updated.ExecutionCount)

	_, err = env.Engine.UpdateRule(env.Ctx, rule.ID, engine.RuleUpdate{
		Action: &domain.ActionSpec{Kind: domain.ActionChangeStatus, Status: "Nowhere"},
	}, owner)
	assert.ErrorIs(t, err, automation.ErrConfiguration)

	require.NoError(t, env.Engine.DeleteRule(env.Ctx, rule.ID, owner))
	_, err = env.Engine.GetRule(env.Ctx, rule.ID, owner)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMembersCannotManageRules(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.Engine.CreateRule(env.Ctx, env.Project.ID, engine.RuleInput{
		Name:    "Sneaky",
		Trigger: domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
		Action:  domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Hero"},
	}, dev)
	var forbidden auth.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, auth.PermManageRules, forbidden.Permission)

	rules, err := env.Engine.ListRules(env.Ctx, env.Project.ID, dev)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStatusesTargetedByRulesCannotBeRemoved(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rule(t, "Close",
		domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
		domain.ActionSpec{Kind: domain.ActionChangeStatus, Status: "Done"})

	_, err := env.Engine.SetProjectStatuses(env.Ctx, env.Project.ID, []domain.ProjectStatus{{Name: "To Do"}, {Name: "Doing"}}, owner)
	assert.ErrorIs(t, err, automation.ErrConfiguration)

	p, err := env.Engine.SetProjectStatuses(env.Ctx, env.Project.ID, []domain.ProjectStatus{{Name: "To Do"}, {Name: "Review"}, {Name: "Done"}}, owner)
	require.NoError(t, err)
	assert.True(t, p.HasStatus("Review"))
	assert.False(t, p.HasStatus("In Progress"))
}

func TestOverdueSweepFiresOncePerDueDate(t *testing.T) {
	env := newTestEnv(t, nil)
	rule := env.rule(t, "Overdue",
		domain.TriggerSpec{Kind: domain.TriggerDueDatePassed},
		domain.ActionSpec{Kind: domain.ActionSendNotification, Message: "${taskTitle} is overdue", NotificationType: "warning"})
	late := env.task(t, engine.TaskCreateOptions{Title: "Late", AssigneeID: dev, DueDate: "2025-02-01"})
	env.task(t, engine.TaskCreateOptions{Title: "Finished", AssigneeID: dev, DueDate: "2025-02-01", Status: "Done"})
	env.task(t, engine.TaskCreateOptions{Title: "Soon", AssigneeID: dev, DueDate: "2025-03-06"})

	reports, err := env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, late.ID, reports[0].Transition.TaskID)
	require.Len(t, reports[0].Applied(), 1)

	got := env.notificationsTitled(t, dev, "Task Notification")
	require.Len(t, got, 1)
	assert.Equal(t, "Late is overdue", got[0].Message)
	assert.Equal(t, domain.NotificationWarning, got[0].Type)

	reports, err = env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: late.ID, DueDate: strPtr("2025-03-05"), ActorID: owner})
	require.NoError(t, err)
	reports, err = env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	env.advance(7 * 24 * time.Hour)
	reports, err = env.Engine.SweepOverdue(env.Ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	stored, err := env.Engine.Repo.GetRule(env.Ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.ExecutionCount)
	overdue, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.TaskOverdue})
	require.NoError(t, err)
	assert.Len(t, overdue, 3)
}

func TestDisabledAutomationSkipsRules(t *testing.T) {
	cfg := config.Default()
	cfg.Automation.Disabled = true
	env := newTestEnv(t, cfg)
	env.rule(t, "Finisher",
		domain.TriggerSpec{Kind: domain.TriggerStatusChange, ToStatus: "Done"},
		domain.ActionSpec{Kind: domain.ActionAwardBadge, BadgeName: "Finisher"})
	task := env.task(t, engine.TaskCreateOptions{Title: "Manual", AssigneeID: dev})

	res, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr("Done"), ActorID: owner})
	require.NoError(t, err)
	assert.Equal(t, "Done", res.Task.Status)
	assert.Empty(t, res.Automations)
}

func TestCommentsNotifyAssigneeAndReporter(t *testing.T) {
	env := newTestEnv(t, nil)
	task := env.task(t, engine.TaskCreateOptions{Title: "Discuss", AssigneeID: dev})
	assert.Len(t, env.notificationsTitled(t, dev, "New Task Assigned"), 1)

	_, err := env.Engine.AddComment(env.Ctx, task.ID, "looks good", dev)
	require.NoError(t, err)
	assert.Len(t, env.notificationsTitled(t, owner, "New Comment on Task"), 1)
	assert.Empty(t, env.notificationsTitled(t, dev, "New Comment on Task"))

	_, err = env.Engine.AddComment(env.Ctx, task.ID, "thanks", owner)
	require.NoError(t, err)
	assert.Len(t, env.notificationsTitled(t, dev, "New Comment on Task"), 1)

	comments, err := env.Engine.ListComments(env.Ctx, task.ID, dev)
	require.NoError(t, err)
	assert.Len(t, comments, 2)
}

func TestDeleteTaskPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	byOwner := env.task(t, engine.TaskCreateOptions{Title: "Owner's"})
	byDev := env.task(t, engine.TaskCreateOptions{Title: "Dev's", ActorID: dev})

	var forbidden auth.ForbiddenError
	require.ErrorAs(t, env.Engine.DeleteTask(env.Ctx, byOwner.ID, dev), &forbidden)
	require.NoError(t, env.Engine.DeleteTask(env.Ctx, byDev.ID, dev))
	require.NoError(t, env.Engine.DeleteTask(env.Ctx, byOwner.ID, owner))
	_, err := env.Engine.GetTask(env.Ctx, byOwner.ID, owner)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestNotificationsAreScopedToRecipient(t *testing.T) {
	env := newTestEnv(t, nil)
	items, unread, err := env.Engine.ListNotifications(env.Ctx, dev, true, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, unread)

	assert.ErrorIs(t, env.Engine.MarkNotificationRead(env.Ctx, owner, items[0].ID), repo.ErrNotFound)
	require.NoError(t, env.Engine.MarkNotificationRead(env.Ctx, dev, items[0].ID))
	_, unread, err = env.Engine.ListNotifications(env.Ctx, dev, false, 0)
	require.NoError(t, err)
	assert.Zero(t, unread)

	require.NoError(t, env.Engine.DeleteNotification(env.Ctx, dev, items[0].ID))
	items, _, err = env.Engine.ListNotifications(env.Ctx, dev, false, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRunOverdueSweeperStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(env.Ctx)
	done := make(chan error, 1)
	go func() { done <- env.Engine.RunOverdueSweeper(ctx, time.Hour) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
