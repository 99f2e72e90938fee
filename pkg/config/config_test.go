package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

const minimalConfig = `
grafana:
  url: http://grafana:3000
  token: secret
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Renderer.OutputDir != "files" {
		t.Errorf("OutputDir = %q", cfg.Renderer.OutputDir)
	}
	if cfg.Renderer.Width != 792 {
		t.Errorf("Width = %d", cfg.Renderer.Width)
	}
	if cfg.Renderer.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d", cfg.Renderer.RetentionDays)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.S3 != nil {
		t.Error("S3 enabled without configuration")
	}
}

func TestLoadFullDocument(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
grafana:
  url: http://grafana:3000
  token: secret
renderer:
  backend: playwright
  timeout_ms: 90000
  pixels_per_mm: 3.5
  output_dir: /var/reports
notifiers:
  gotify:
    url: http://gotify/message
jobs:
  - name: hourly-cpu
    dashboard: abc123
    panel: "4"
    format: xlsx
    cron: "0 * * * *"
    notifier: gotify
    receivers: [apptoken]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Renderer.Backend != "playwright" {
		t.Errorf("Backend = %q", cfg.Renderer.Backend)
	}
	if cfg.Renderer.PixelsPerMM != 3.5 {
		t.Errorf("PixelsPerMM = %v", cfg.Renderer.PixelsPerMM)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "hourly-cpu" {
		t.Fatalf("Jobs = %+v", cfg.Jobs)
	}
	if cfg.Notifiers.Gotify == nil {
		t.Error("gotify notifier not parsed")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notifiers:
  slack:
    url: http://slack
`))
	if err == nil {
		t.Fatal("Load accepted an unknown notifier kind")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"missing grafana url",
			"grafana:\n  token: secret\n",
			"grafana.url",
		},
		{
			"missing token",
			"grafana:\n  url: http://grafana:3000\n",
			"grafana.token",
		},
		{
			"job without dashboard",
			minimalConfig + "jobs:\n  - name: broken\n    cron: \"0 * * * *\"\n",
			"dashboard",
		},
		{
			"bad format",
			minimalConfig + "jobs:\n  - dashboard: abc\n    format: gif\n    cron: \"0 * * * *\"\n",
			"format",
		},
		{
			"csv without panel",
			minimalConfig + "jobs:\n  - dashboard: abc\n    format: csv\n    cron: \"0 * * * *\"\n",
			"panel",
		},
		{
			"bad cron",
			minimalConfig + "jobs:\n  - dashboard: abc\n    cron: \"not a cron\"\n",
			"cron",
		},
		{
			"notifier not enabled",
			minimalConfig + "jobs:\n  - dashboard: abc\n    cron: \"0 * * * *\"\n    notifier: gotify\n    receivers: [x]\n",
			"not enabled",
		},
		{
			"notifier without receivers",
			minimalConfig + "notifiers:\n  gotify:\n    url: http://gotify\njobs:\n  - dashboard: abc\n    cron: \"0 * * * *\"\n    notifier: gotify\n",
			"receivers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("Load accepted an invalid document")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRAFANA_TOKEN", "from-env")
	t.Setenv("S3_ENDPOINT", "https://s3.example.com")
	t.Setenv("S3_BUCKET", "reports")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Grafana.Token != "from-env" {
		t.Errorf("Token = %q, want env override", cfg.Grafana.Token)
	}
	if cfg.S3 == nil {
		t.Fatal("S3 section not created from environment")
	}
	if cfg.S3.Endpoint != "https://s3.example.com" || cfg.S3.Bucket != "reports" {
		t.Errorf("S3 = %+v", cfg.S3)
	}
}
