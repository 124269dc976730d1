package taskboardsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/broadcast"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
	"taskboard/internal/server"
	taskboardsdk "taskboard/sdk/go"
)

func newBoard(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	hub := broadcast.NewHub()
	e := engine.New(conn, config.Default(), engine.WithPublisher(hub))

	for _, id := range []string{"owner", "dev", "stranger"} {
		_, err := e.CreateUser(ctx, domain.User{ID: id, Name: id})
		require.NoError(t, err)
	}
	_, err = e.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "Board", OwnerID: "owner"})
	require.NoError(t, err)
	_, err = e.AddMember(ctx, "p1", "dev", "", "owner")
	require.NoError(t, err)

	handler, err := server.New(server.Config{
		Engine: e,
		Hub:    hub,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", AllowUserHeader: true},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		conn.Close()
	})
	return srv
}

func clientFor(srv *httptest.Server, user string) *taskboardsdk.Client {
	c := taskboardsdk.New(srv.URL, "p1")
	c.UserID = user
	return c
}

func TestMoveTaskReportsAutomations(t *testing.T) {
	srv := newBoard(t)
	ctx := context.Background()
	owner := clientFor(srv, "owner")
	dev := clientFor(srv, "dev")

	rule, err := owner.CreateAutomation(ctx, "Shout on done",
		taskboardsdk.Trigger{Kind: "status_change", ToStatus: "Done"},
		taskboardsdk.Action{Kind: "send_notification", Message: "finished"})
	require.NoError(t, err)
	assert.True(t, rule.Active)

	task, err := owner.CreateTask(ctx, taskboardsdk.NewTask{Title: "Ship it", AssigneeID: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "To Do", task.Status)

	res, err := dev.MoveTask(ctx, task.ID, "Done")
	require.NoError(t, err)
	assert.Equal(t, "Done", res.Task.Status)
	require.Len(t, res.Automations, 1)
	assert.Equal(t, rule.ID, res.Automations[0].AutomationID)
	assert.Equal(t, "applied", res.Automations[0].Status)

	notes, err := dev.Notifications(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, notes.Items)
	var messages []string
	for _, n := range notes.Items {
		messages = append(messages, n.Message)
	}
	assert.Contains(t, messages, "finished")

	events, err := owner.Events(ctx, 50)
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, "automation.applied")
	assert.Contains(t, types, "task.updated")
}

func TestToggleAutomation(t *testing.T) {
	srv := newBoard(t)
	ctx := context.Background()
	owner := clientFor(srv, "owner")

	rule, err := owner.CreateAutomation(ctx, "Award",
		taskboardsdk.Trigger{Kind: "status_change", ToStatus: "Done"},
		taskboardsdk.Action{Kind: "award_badge", BadgeName: "Closer"})
	require.NoError(t, err)

	toggled, err := owner.ToggleAutomation(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	task, err := owner.CreateTask(ctx, taskboardsdk.NewTask{Title: "Quiet"})
	require.NoError(t, err)
	res, err := owner.MoveTask(ctx, task.ID, "Done")
	require.NoError(t, err)
	assert.Empty(t, res.Automations)

	require.NoError(t, owner.DeleteAutomation(ctx, rule.ID))
	rules, err := owner.Automations(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestErrorsCarryEnvelope(t *testing.T) {
	srv := newBoard(t)
	ctx := context.Background()

	_, err := clientFor(srv, "owner").CreateAutomation(ctx, "Bad",
		taskboardsdk.Trigger{Kind: "status_change", ToStatus: "Archived"},
		taskboardsdk.Action{Kind: "award_badge", BadgeName: "x"})
	var apiErr *taskboardsdk.APIError
	require.True(t, errors.As(err, &apiErr), "%v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid_automation", apiErr.Code)
	assert.Contains(t, apiErr.Message, "Archived")

	_, err = clientFor(srv, "stranger").CreateTask(ctx, taskboardsdk.NewTask{Title: "nope"})
	require.True(t, errors.As(err, &apiErr), "%v", err)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Code)
}
