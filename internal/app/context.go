// Package app wires a workspace into a ready engine for the CLI commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"taskboard/internal/broadcast"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/logging"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

// EnvFile is the per-workspace dotenv file holding CLI defaults.
const EnvFile = ".env"

// DefaultProjectKey names the dotenv entry written by `tb project use`.
const DefaultProjectKey = "TASKBOARD_DEFAULT_PROJECT"

type Options struct {
	Workspace string
	// RequireConfig fails when taskboard.yml is missing instead of using defaults.
	RequireConfig bool
	// LogLevel overrides log.level from the config when set.
	LogLevel string
	// LogOutput replaces stderr for console logs.
	LogOutput io.Writer
}

// Runtime is an opened workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    zerolog.Logger
	Hub       *broadcast.Hub
	// Redis is set when broadcast.redis_url is configured.
	Redis *broadcast.RedisPublisher

	closers []io.Closer
}

// Open loads config, opens and migrates the database and builds the engine.
// Automation notices go to an in-process hub and, when configured, Redis.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	var cfg *config.Config
	var err error
	if opts.RequireConfig {
		cfg, err = config.Load(workspace)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}

	logOpts := logging.FromConfig(cfg.Log, workspace)
	if opts.LogLevel != "" {
		logOpts.Level = opts.LogLevel
	}
	logOpts.Output = opts.LogOutput
	logger, logCloser := logging.New(logOpts)

	rt := &Runtime{Workspace: workspace, Config: cfg, Logger: logger, Hub: broadcast.NewHub()}
	rt.closers = append(rt.closers, logCloser)

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.DB = conn
	if err := migrate.Migrate(conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	publishers := broadcast.Multi{rt.Hub}
	if url := strings.TrimSpace(cfg.Broadcast.RedisURL); url != "" {
		rp, err := broadcast.Dial(url, cfg.Broadcast.ChannelPrefix, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = rp
		publishers = append(publishers, rp)
		logger.Debug().Str("channel_prefix", cfg.Broadcast.ChannelPrefix).Msg("redis broadcast enabled")
	}

	rt.Engine = engine.New(conn, cfg,
		engine.WithLogger(logger),
		engine.WithPublisher(publishers),
	)
	return rt, nil
}

// Close releases everything Open acquired, newest first.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.Hub != nil {
		rt.Hub.Close()
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	return errors.Join(errs...)
}

// LoadEnv reads the workspace .env into the process environment without
// overriding variables that are already set.
func LoadEnv(workspace string) error {
	path := filepath.Join(workspace, EnvFile)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// SetEnvValue writes key=value into a dotenv file, keeping the other entries.
func SetEnvValue(path, key, value string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	return godotenv.Write(values, path)
}

// ResolveProject picks the project a command works on: the explicit id when
// given, otherwise the single project the actor belongs to.
func ResolveProject(ctx context.Context, r repo.Repo, override, actorID string) (string, error) {
	if id := strings.TrimSpace(override); id != "" {
		return id, nil
	}
	projects, err := r.ListProjects(ctx, actorID)
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", fmt.Errorf("no project found for %s; create one with tb project create", actorID)
	case 1:
		return projects[0].ID, nil
	default:
		return "", fmt.Errorf("%s belongs to %d projects; pass --project or run tb project use", actorID, len(projects))
	}
}
