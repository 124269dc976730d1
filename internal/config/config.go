package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

const FileName = "taskboard.yml"

// Config models taskboard.yml.
type Config struct {
	Project struct {
		Statuses []StatusConfig `yaml:"statuses"`
	} `yaml:"project"`
	Badges struct {
		// Catalog restricts the badges rules may award. Empty allows any name.
		Catalog []string `yaml:"catalog"`
	} `yaml:"badges"`
	Automation struct {
		Disabled     bool   `yaml:"disabled"`
		OverdueSweep string `yaml:"overdue_sweep"`
	} `yaml:"automation"`
	Broadcast struct {
		RedisURL      string `yaml:"redis_url"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"broadcast"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      LogConfig       `yaml:"log"`
}

type StatusConfig struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Project        string   `yaml:"project"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tb init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Project.Statuses) == 0 {
		return fmt.Errorf("config.project.statuses must not be empty")
	}
	seen := map[string]bool{}
	for i, s := range c.Project.Statuses {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("config.project.statuses[%d] has empty name", i)
		}
		if seen[name] {
			return fmt.Errorf("config.project.statuses has duplicate status %s", name)
		}
		seen[name] = true
	}
	for i, b := range c.Badges.Catalog {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("config.badges.catalog[%d] is empty", i)
		}
	}
	if c.Automation.OverdueSweep != "" {
		d, err := time.ParseDuration(c.Automation.OverdueSweep)
		if err != nil {
			return fmt.Errorf("config.automation.overdue_sweep: %w", err)
		}
		if d < time.Second {
			return fmt.Errorf("config.automation.overdue_sweep must be at least 1s")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// DefaultStatuses returns the board columns new projects start with.
func (c *Config) DefaultStatuses() []domain.ProjectStatus {
	res := make([]domain.ProjectStatus, 0, len(c.Project.Statuses))
	for i, s := range c.Project.Statuses {
		color := s.Color
		if color == "" {
			color = "#6B778C"
		}
		res = append(res, domain.ProjectStatus{Name: strings.TrimSpace(s.Name), Color: color, Order: i})
	}
	return res
}

// BadgeAllowed reports whether name may be awarded by a rule.
func (c *Config) BadgeAllowed(name string) bool {
	if len(c.Badges.Catalog) == 0 {
		return true
	}
	for _, b := range c.Badges.Catalog {
		if b == name {
			return true
		}
	}
	return false
}

// SweepInterval is how often overdue tasks are scanned; zero disables it.
func (c *Config) SweepInterval() time.Duration {
	if c.Automation.Disabled || c.Automation.OverdueSweep == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Automation.OverdueSweep)
	if err != nil {
		return 0
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  statuses:
    - name: To Do
      color: "#FF5630"
    - name: In Progress
      color: "#FFAB00"
    - name: Done
      color: "#36B37E"

badges:
  catalog: []

automation:
  disabled: false
  overdue_sweep: 1m

broadcast:
  redis_url: ""
  channel_prefix: "taskboard:project:"

webhooks: []

log:
  level: info
  format: console
`
