// Package config loads the service configuration from a YAML file with
// environment-variable overrides, and validates it eagerly so that
// misconfigured jobs are rejected before anything is scheduled.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"github.com/yourusername/grafana-reporter/pkg/notify"
	"github.com/yourusername/grafana-reporter/pkg/render"
	"github.com/yourusername/grafana-reporter/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Grafana   GrafanaConfig   `yaml:"grafana"`
	S3        *storage.Config `yaml:"s3"` // nil disables archival
	Renderer  RendererConfig  `yaml:"renderer"`
	Notifiers notify.Config   `yaml:"notifiers"`
	Jobs      []JobConfig     `yaml:"jobs"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
}

// GrafanaConfig holds dashboard-server connection settings.
type GrafanaConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// RendererConfig holds render backend and output settings.
type RendererConfig struct {
	render.Options `yaml:",inline"`

	OutputDir     string `yaml:"output_dir"`
	Width         int    `yaml:"width"`
	FileBaseURL   string `yaml:"file_base_url"`
	RetentionDays int    `yaml:"retention_days"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig holds run-history database settings.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables run history
}

// JobConfig describes one scheduled render job.
type JobConfig struct {
	Name      string   `yaml:"name"`
	Dashboard string   `yaml:"dashboard"`
	Panel     string   `yaml:"panel"`
	Query     string   `yaml:"query"`
	Format    string   `yaml:"format"`
	Width     int      `yaml:"width"`
	Cron      string   `yaml:"cron"`
	Notifier  string   `yaml:"notifier"`
	Receivers []string `yaml:"receivers"`
}

// Load reads and validates the configuration file. A .env file next to
// the working directory is honored for the environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // unknown keys (e.g. a mistyped notifier kind) fail fast
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets environment variables override file values, mirroring
// container deployments where secrets are injected rather than written
// into the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("GRAFANA_URL"); v != "" {
		c.Grafana.URL = v
	}
	if v := os.Getenv("GRAFANA_TOKEN"); v != "" {
		c.Grafana.Token = v
	}

	if os.Getenv("S3_ENDPOINT") != "" && c.S3 == nil {
		c.S3 = &storage.Config{}
	}
	if c.S3 != nil {
		setFromEnv := func(dst *string, key string) {
			if v := os.Getenv(key); v != "" {
				*dst = v
			}
		}
		setFromEnv(&c.S3.Region, "S3_REGION")
		setFromEnv(&c.S3.Bucket, "S3_BUCKET")
		setFromEnv(&c.S3.Endpoint, "S3_ENDPOINT")
		setFromEnv(&c.S3.PublicURL, "S3_PUBLIC_URL")
		setFromEnv(&c.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
		setFromEnv(&c.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	}
}

func (c *Config) applyDefaults() {
	if c.Renderer.OutputDir == "" {
		c.Renderer.OutputDir = "files"
	}
	if c.Renderer.Width == 0 {
		c.Renderer.Width = 792
	}
	if c.Renderer.RetentionDays == 0 {
		c.Renderer.RetentionDays = 7
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// validate rejects configuration errors at load time so a broken job is
// never scheduled.
func (c *Config) validate() error {
	if c.Grafana.URL == "" {
		return fmt.Errorf("grafana.url is required")
	}
	if c.Grafana.Token == "" {
		return fmt.Errorf("grafana.token is required")
	}

	enabledNotifiers := c.notifierKinds()

	for i, j := range c.Jobs {
		name := j.Name
		if name == "" {
			name = fmt.Sprintf("jobs[%d]", i)
		}

		if j.Dashboard == "" {
			return fmt.Errorf("job %s: dashboard is required", name)
		}
		format, err := model.ParseFormat(j.Format)
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		if format.PanelOnly() && j.Panel == "" {
			return fmt.Errorf("job %s: format %s requires a panel", name, format)
		}
		if err := model.ValidateCronExpression(j.Cron); err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		if j.Notifier != "" {
			if !enabledNotifiers[j.Notifier] {
				return fmt.Errorf("job %s: notifier %q is not enabled (enabled: %v)", name, j.Notifier, keys(enabledNotifiers))
			}
			if len(j.Receivers) == 0 {
				return fmt.Errorf("job %s: receivers are required when a notifier is set", name)
			}
		}
	}

	return nil
}

// notifierKinds returns the closed set of notifier kinds enabled by the
// configuration.
func (c *Config) notifierKinds() map[string]bool {
	kinds := make(map[string]bool)
	if c.Notifiers.Gotify != nil {
		kinds["gotify"] = true
	}
	if c.Notifiers.DingTalk != nil {
		kinds["dingtalk"] = true
	}
	if c.Notifiers.DingTalkApp != nil {
		kinds["dingtalk_app"] = true
	}
	if c.Notifiers.Worktool != nil {
		kinds["worktool"] = true
	}
	if c.Notifiers.Email != nil {
		kinds["email"] = true
	}
	return kinds
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
