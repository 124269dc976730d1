package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/broadcast"
	"taskboard/internal/domain"
	"taskboard/internal/events"
)

func toDone(taskID string) Transition {
	return Transition{ProjectID: "p1", TaskID: taskID, Kind: domain.TriggerStatusChange, From: "To Do", To: "Done", ActorID: "u1", OccurredAt: fixedNow}
}

func TestProcessorIsolatesFailingRule(t *testing.T) {
	store := newFakeStore()
	// alice has no user record, so the badge rule fails its lookup.
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Title: "Fix bug", Status: "Done", AssigneeID: strPtr("alice")}
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.SendNotificationAction{Message: "one", NotificationType: "info"}),
		statusRule("r2", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"}),
		statusRule("r3", "", "Done", domain.SendNotificationAction{Message: "three", NotificationType: "info"}),
	}

	report := New(store, WithClock(clock)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, StatusApplied, report.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, report.Outcomes[1].Status)
	assert.ErrorIs(t, report.Outcomes[1].Err, ErrLookup)
	assert.Equal(t, StatusApplied, report.Outcomes[2].Status)
	assert.Equal(t, int64(1), store.counts["r1"])
	assert.Equal(t, int64(0), store.counts["r2"])
	assert.Equal(t, int64(1), store.counts["r3"])
	assert.Equal(t, fixedNow, store.lastExecuted["r1"])
	assert.Len(t, report.Applied(), 2)
	assert.Len(t, report.Failed(), 1)
	assert.ErrorIs(t, report.Err(), ErrLookup)
}

func TestProcessorSkipsDoNotCount(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done"}
	store.rules = []domain.Rule{statusRule("r1", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"})}

	report := New(store, WithClock(clock)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Skipped(), 1)
	assert.Zero(t, store.counts["r1"])
	assert.NoError(t, report.Err())
}

func TestProcessorBookkeepingFailureKeepsApplied(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice")
	store.incrementErr = errors.New("locked")
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done", AssigneeID: strPtr("alice")}
	store.rules = []domain.Rule{statusRule("r1", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"})}

	report := New(store, WithClock(clock)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, StatusApplied, out.Status)
	assert.NoError(t, out.Err)
	assert.EqualError(t, out.BookkeepingErr, "locked")
	assert.True(t, store.badges["alice"]["Finisher"])
}

func TestProcessorLaterRulesSeeEarlierStatusChange(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done"}
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.ChangeStatusAction{Status: "Archived"}),
		statusRule("r2", "", "Done", domain.ChangeStatusAction{Status: "Review"}),
	}

	report := New(store, WithClock(clock)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Applied(), 2)
	require.Len(t, store.history, 2)
	assert.Equal(t, "Done", store.history[0].OldValue)
	assert.Equal(t, "Archived", store.history[1].OldValue)
	assert.Equal(t, "Review", store.tasks["t1"].Status)
}

func TestProcessorMissingTaskFailsEachRule(t *testing.T) {
	store := newFakeStore()
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.ChangeStatusAction{Status: "Archived"}),
		statusRule("r2", "", "Done", domain.AwardBadgeAction{BadgeName: "x"}),
	}

	report := New(store).OnTaskTransition(context.Background(), toDone("missing"))

	require.Len(t, report.Failed(), 2)
	for _, out := range report.Outcomes {
		assert.ErrorIs(t, out.Err, ErrLookup)
	}
}

func TestProcessorRuleLoadFailureReturnsEmptyReport(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db closed")
	report := New(store).OnTaskTransition(context.Background(), toDone("t1"))
	assert.Empty(t, report.Outcomes)
}

func TestProcessorPublishesAppliedRules(t *testing.T) {
	store := newFakeStore()
	store.addUser("alice")
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done", AssigneeID: strPtr("alice")}
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"}),
		statusRule("r2", "", "Done", domain.ChangeStatusAction{Status: "Done"}),
	}
	store.rules[0].Name = "Finisher award"
	store.setStatusErr = errDiskFull
	hub := broadcast.NewHub()
	ch, cancel := hub.Subscribe("p1")
	defer cancel()

	New(store, WithClock(clock), WithPublisher(hub)).OnTaskTransition(context.Background(), toDone("t1"))

	select {
	case msg := <-ch:
		assert.Equal(t, broadcast.Message{
			Type:           broadcast.AutomationTriggered,
			ProjectID:      "p1",
			TaskID:         "t1",
			AutomationID:   "r1",
			AutomationName: "Finisher award",
			TS:             "2025-03-01T12:00:00Z",
		}, msg)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast")
	}
	assert.Len(t, ch, 0, "failed rules are not broadcast")
}

func TestProcessorJournalsOutcomes(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done"}
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.AwardBadgeAction{BadgeName: "Finisher"}),
		statusRule("r2", "", "Done", domain.ChangeStatusAction{Status: "Archived"}),
	}
	journal := &fakeJournal{}

	New(store, WithClock(clock), WithJournal(journal)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, journal.events, 2)
	assert.Equal(t, events.AutomationSkipped, journal.events[0].Type)
	assert.Equal(t, "task has no assignee", journal.events[0].Payload["reason"])
	assert.Equal(t, events.AutomationApplied, journal.events[1].Type)
	assert.Equal(t, "r2", journal.events[1].EntityID)
}

func TestProcessorIgnoresJournalFailure(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Status: "Done"}
	store.rules = []domain.Rule{statusRule("r1", "", "Done", domain.ChangeStatusAction{Status: "Archived"})}

	report := New(store, WithJournal(&fakeJournal{err: errors.New("closed")})).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Applied(), 1)
	assert.Equal(t, int64(1), store.counts["r1"])
}

func TestProcessorUndecodableRuleFailsAlone(t *testing.T) {
	store := newFakeStore()
	store.tasks["t1"] = domain.Task{ID: "t1", ProjectID: "p1", Title: "Fix bug", Status: "Done", AssigneeID: strPtr("alice")}
	broken := statusRule("r2", "", "Done", nil)
	broken.Invalid = errors.New("decode action: unexpected end of JSON input")
	store.rules = []domain.Rule{
		statusRule("r1", "", "Done", domain.SendNotificationAction{Message: "one", NotificationType: "info"}),
		broken,
		statusRule("r3", "", "Done", domain.SendNotificationAction{Message: "three", NotificationType: "info"}),
	}

	report := New(store, WithClock(clock)).OnTaskTransition(context.Background(), toDone("t1"))

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, StatusApplied, report.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, report.Outcomes[1].Status)
	assert.ErrorIs(t, report.Outcomes[1].Err, ErrConfiguration)
	assert.Equal(t, StatusApplied, report.Outcomes[2].Status)
	assert.Zero(t, store.counts["r2"])
	assert.Len(t, store.notifications, 2)
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")
	err := persistenceError("r1", "award badge", cause)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrLookup)
	assert.Equal(t, "automation write failed: rule r1: award badge: boom", err.Error())

	cfg := ConfigError("status %q is not a column of project %s", "Blocked", "p1")
	assert.ErrorIs(t, cfg, ErrConfiguration)
	var aerr *Error
	require.ErrorAs(t, cfg, &aerr)
	assert.Empty(t, aerr.RuleID)
}
