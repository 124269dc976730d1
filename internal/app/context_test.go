package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: ws, LogOutput: io.Discard})
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Redis)
	assert.Len(t, rt.Config.Project.Statuses, 3)
	_, err = os.Stat(filepath.Join(ws, ".taskboard", "taskboard.db"))
	assert.NoError(t, err)

	_, err = Open(context.Background(), Options{Workspace: t.TempDir(), RequireConfig: true, LogOutput: io.Discard})
	assert.ErrorContains(t, err, "not found")
}

func TestOpenWithRedisBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	ws := t.TempDir()
	tmpl := config.GenerateDefault()
	require.Contains(t, tmpl, `redis_url: ""`)
	cfg := strings.Replace(tmpl, `redis_url: ""`, `redis_url: "redis://`+mr.Addr()+`"`, 1)
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(cfg), 0o644))

	rt, err := Open(context.Background(), Options{Workspace: ws, RequireConfig: true, LogOutput: io.Discard})
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Redis)
	assert.Equal(t, "taskboard:project:p1", rt.Redis.Channel("p1"))
}

func TestSetEnvValueKeepsOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), EnvFile)
	require.NoError(t, os.WriteFile(path, []byte("OTHER=1\n"), 0o644))

	require.NoError(t, SetEnvValue(path, DefaultProjectKey, "p1"))
	require.NoError(t, SetEnvValue(path, DefaultProjectKey, "p2"))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"OTHER": "1", DefaultProjectKey: "p2"}, values)

	fresh := filepath.Join(t.TempDir(), EnvFile)
	require.NoError(t, SetEnvValue(fresh, DefaultProjectKey, "p3"))
	values, err = godotenv.Read(fresh)
	require.NoError(t, err)
	assert.Equal(t, "p3", values[DefaultProjectKey])
}

func TestResolveProject(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, Options{Workspace: t.TempDir(), LogOutput: io.Discard})
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Engine.CreateUser(ctx, domain.User{ID: "ada", Name: "Ada"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, rt.Engine.Repo, "", "ada")
	assert.ErrorContains(t, err, "no project")

	_, err = rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p1", Name: "One", OwnerID: "ada"})
	require.NoError(t, err)
	id, err := ResolveProject(ctx, rt.Engine.Repo, "", "ada")
	require.NoError(t, err)
	assert.Equal(t, "p1", id)

	_, err = rt.Engine.CreateProject(ctx, engine.ProjectCreateOptions{ID: "p2", Name: "Two", OwnerID: "ada"})
	require.NoError(t, err)
	_, err = ResolveProject(ctx, rt.Engine.Repo, "", "ada")
	assert.ErrorContains(t, err, "2 projects")

	id, err = ResolveProject(ctx, rt.Engine.Repo, " p2 ", "ada")
	require.NoError(t, err)
	assert.Equal(t, "p2", id)
}
