package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

type fakeStore struct {
	mu            sync.Mutex
	rules         []domain.Rule
	tasks         map[string]domain.Task
	badges        map[string]map[string]bool
	notifications []domain.Notification
	history       []domain.HistoryEntry
	counts        map[string]int64
	lastExecuted  map[string]time.Time

	listErr      error
	setStatusErr error
	notifyErr    error
	incrementErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:        map[string]domain.Task{},
		badges:       map[string]map[string]bool{},
		counts:       map[string]int64{},
		lastExecuted: map[string]time.Time{},
	}
}

func (f *fakeStore) addUser(id string) {
	f.badges[id] = map[string]bool{}
}

func (f *fakeStore) ListActiveRules(_ context.Context, projectID string, kind domain.TriggerKind) ([]domain.Rule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []domain.Rule
	for _, r := range f.rules {
		if r.ProjectID == projectID && r.Active && r.Trigger.Kind() == kind {
			res = append(res, r)
		}
	}
	return res, nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) SetTaskStatus(_ context.Context, taskID, status string, h domain.HistoryEntry) error {
	if f.setStatusErr != nil {
		return f.setStatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return repo.ErrNotFound
	}
	t.Status = status
	f.tasks[taskID] = t
	f.history = append(f.history, h)
	return nil
}

func (f *fakeStore) AddUserBadge(_ context.Context, userID, badge string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.badges[userID]
	if !ok {
		return false, repo.ErrNotFound
	}
	if set[badge] {
		return false, nil
	}
	set[badge] = true
	return true, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n domain.Notification) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeStore) IncrementRuleExecution(_ context.Context, ruleID string, at time.Time) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[ruleID]++
	f.lastExecuted[ruleID] = at
	return nil
}

type recordedEvent struct {
	Type     string
	EntityID string
	Payload  events.EventPayload
}

type fakeJournal struct {
	events []recordedEvent
	err    error
}

func (j *fakeJournal) Append(_ context.Context, _ events.Execer, evtType, _, _, entityID, _ string, payload events.EventPayload) error {
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, recordedEvent{Type: evtType, EntityID: entityID, Payload: payload})
	return nil
}

var errDiskFull = errors.New("disk full")

func strPtr(s string) *string { return &s }

func statusRule(id, from, to string, action domain.Action) domain.Rule {
	return domain.Rule{
		ID:        id,
		ProjectID: "p1",
		Name:      "rule " + id,
		Active:    true,
		Trigger:   domain.StatusChangeTrigger{FromStatus: from, ToStatus: to},
		Action:    action,
	}
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }
