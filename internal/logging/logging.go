// Package logging builds the zerolog loggers used by the CLI and server.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"taskboard/internal/config"
)

const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 3
	defaultMaxAgeDays = 14
)

var globalMu sync.Mutex

// Options controls logger construction. Zero values fall back to info level
// console output on stderr.
type Options struct {
	Level  string
	Format string
	// File, when set, also writes JSON logs to a rotated file. Relative paths
	// are resolved against Workspace.
	File       string
	Workspace  string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Output     io.Writer
}

// FromConfig turns the log section of taskboard.yml into Options.
func FromConfig(cfg config.LogConfig, workspace string) Options {
	return Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		Workspace:  workspace,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}
}

// New builds a logger and installs it as the zerolog global. The returned
// closer releases the log file, if any.
func New(opts Options) (zerolog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = out
	if !strings.EqualFold(opts.Format, "json") {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if opts.File != "" {
		path := opts.File
		if !filepath.IsAbs(path) && opts.Workspace != "" {
			path = filepath.Join(opts.Workspace, path)
		}
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(opts.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, defaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, defaultMaxAgeDays),
			Compress:   true,
		}
		closer = lj
		writer = zerolog.MultiLevelWriter(console, lj)
	}

	logger := zerolog.New(writer).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	globalMu.Lock()
	log.Logger = logger
	globalMu.Unlock()
	return logger, closer
}

// ParseLevel maps a level name to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
