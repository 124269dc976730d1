package repo_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	require.NoError(t, r.InsertUser(ctx, nil, domain.User{ID: "u1", Name: "Ada", CreatedAt: "2025-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertProject(ctx, nil, domain.Project{
		ID: "p1", Name: "Board", OwnerID: "u1",
		Statuses:  []domain.ProjectStatus{{Name: "To Do", Color: "#FF5630"}, {Name: "Done", Color: "#36B37E", Order: 1}},
		CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}))
	return r
}

func insertRule(t *testing.T, r repo.Repo, id, createdAt string, active bool, trigger domain.Trigger) {
	t.Helper()
	require.NoError(t, r.InsertRule(context.Background(), nil, domain.Rule{
		ID: id, ProjectID: "p1", Name: id, Active: active,
		Trigger:   trigger,
		Action:    domain.AwardBadgeAction{BadgeName: "Finisher"},
		CreatedBy: "u1", CreatedAt: createdAt, UpdatedAt: createdAt,
	}))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	r := newRepo(t)
	insertRule(t, r, "r1", "2025-01-01T00:00:00Z", true, domain.DueDatePassedTrigger{})

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.IncrementRuleExecution(context.Background(), "r1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rule, err := r.GetRule(context.Background(), "r1")
	require.NoError(t, err)
	assert.EqualValues(t, workers, rule.ExecutionCount)
	require.NotNil(t, rule.LastExecutedAt)
	assert.Equal(t, "2025-03-01T00:00:00Z", *rule.LastExecutedAt)

	assert.ErrorIs(t, r.IncrementRuleExecution(context.Background(), "missing", time.Now()), repo.ErrNotFound)
}

func TestListActiveRulesKeepsCreationOrder(t *testing.T) {
	r := newRepo(t)
	for i, created := range []string{"2025-01-03T00:00:00Z", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"} {
		insertRule(t, r, fmt.Sprintf("r%d", i), created, true, domain.StatusChangeTrigger{ToStatus: "Done"})
	}
	insertRule(t, r, "off", "2025-01-01T00:00:00Z", false, domain.StatusChangeTrigger{ToStatus: "Done"})
	insertRule(t, r, "due", "2025-01-01T00:00:00Z", true, domain.DueDatePassedTrigger{})

	rules, err := r.ListActiveRules(context.Background(), "p1", domain.TriggerStatusChange)
	require.NoError(t, err)
	var ids []string
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r0"}, ids)
	assert.Equal(t, domain.StatusChangeTrigger{ToStatus: "Done"}, rules[0].Trigger)
}

func TestListActiveRulesKeepsUndecodableRule(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		insertRule(t, r, id, fmt.Sprintf("2025-01-0%dT00:00:00Z", i+1), true, domain.StatusChangeTrigger{ToStatus: "Done"})
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE automations SET action_json='{' WHERE id='r2'`)
	require.NoError(t, err)

	rules, err := r.ListActiveRules(ctx, "p1", domain.TriggerStatusChange)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.NoError(t, rules[0].Invalid)
	assert.Error(t, rules[1].Invalid)
	assert.Equal(t, domain.StatusChangeTrigger{ToStatus: "Done"}, rules[1].Trigger)
	assert.NoError(t, rules[2].Invalid)
}

func TestRuleAndStatusReadsJoinTransaction(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, r.InsertRule(ctx, tx, domain.Rule{
		ID: "r1", ProjectID: "p1", Name: "r1", Active: true,
		Trigger:   domain.StatusChangeTrigger{ToStatus: "Done"},
		Action:    domain.ChangeStatusAction{Status: "To Do"},
		CreatedBy: "u1", CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}))
	require.NoError(t, r.InsertTask(ctx, tx, domain.Task{
		ID: "t1", ProjectID: "p1", Title: "Open", Status: "To Do", ReporterID: "u1",
		Priority: "Medium", CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}))

	rules, err := r.ListRulesTx(ctx, tx, "p1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	n, err := r.CountTasksInStatus(ctx, tx, "p1", "To Do")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.CountTasksInStatus(ctx, tx, "p1", "Done")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddUserBadgeIsIdempotent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	added, err := r.AddUserBadge(ctx, "u1", "Finisher", at)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = r.AddUserBadge(ctx, "u1", "Finisher", at)
	require.NoError(t, err)
	assert.False(t, added)

	badges, err := r.UserBadges(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Finisher"}, badges)

	_, err = r.AddUserBadge(ctx, "ghost", "Finisher", at)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestClaimOverdueOnlyOnce(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	due := "2025-02-01T00:00:00Z"
	require.NoError(t, r.InsertTask(ctx, nil, domain.Task{
		ID: "t1", ProjectID: "p1", Title: "Late", Status: "To Do", ReporterID: "u1",
		Priority: "Medium", DueDate: &due, CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-01T00:00:00Z",
	}))

	candidates, err := r.OverdueCandidates(ctx, "2025-03-01T00:00:00Z", 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	ok, err := r.ClaimOverdue(ctx, "t1", "2025-03-01T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ClaimOverdue(ctx, "t1", "2025-03-01T00:01:00Z")
	require.NoError(t, err)
	assert.False(t, ok)

	candidates, err = r.OverdueCandidates(ctx, "2025-03-01T00:00:00Z", 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
