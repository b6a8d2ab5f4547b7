package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleetpulse/internal/domain"
)

func TestLoadSnapshotFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, joinSections(
		`[service]
name = "fleetpulse-test"`,
		`[api]
listen = "127.0.0.1:18080"`,
	))

	if cfg.Service.Name != "fleetpulse-test" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.API.HealthPath != "/healthz" || cfg.API.ReadyPath != "/readyz" {
		t.Fatalf("unexpected probe paths %q %q", cfg.API.HealthPath, cfg.API.ReadyPath)
	}
	if cfg.Store.Driver != StoreDriverMemory || cfg.Cache.Driver != CacheDriverMemory || cfg.Realtime.Driver != RealtimeDriverMemory {
		t.Fatalf("unexpected drivers %q/%q/%q", cfg.Store.Driver, cfg.Cache.Driver, cfg.Realtime.Driver)
	}
	if cfg.RefreshInterval() != 30*time.Second {
		t.Fatalf("unexpected refresh interval %s", cfg.RefreshInterval())
	}
	if cfg.SLA.CriticalSec != 3600 || cfg.SLA.DefaultSec != 14400 || cfg.SLA.WarningSec != 1800 {
		t.Fatalf("unexpected sla defaults %+v", cfg.SLA)
	}
	if cfg.Telemetry.CriticalRatio != 0.85 {
		t.Fatalf("unexpected critical ratio %v", cfg.Telemetry.CriticalRatio)
	}
	tables := cfg.WatchedTables()
	if len(tables) != len(domain.WatchedTables) {
		t.Fatalf("expected all tables watched by default, got %v", tables)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console log enabled when no sink configured")
	}
	if cfg.Notify.QueueSize != 256 {
		t.Fatalf("unexpected notify queue size %d", cfg.Notify.QueueSize)
	}
	if cfg.Notify.Webhook.Retry.MaxAttempts != 5 {
		t.Fatalf("retry attempts must be capped by default, got %d", cfg.Notify.Webhook.Retry.MaxAttempts)
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := validateConfig(Default()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error with both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v err=%v", src, err)
	}
}

func TestLoadSnapshotValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "postgres store requires dsn",
			content: `[store]
driver = "postgres"`,
			wantErr: "store.dsn",
		},
		{
			name: "unknown store driver",
			content: `[store]
driver = "mysql"`,
			wantErr: "store.driver",
		},
		{
			name: "postgres feed requires postgres store",
			content: `[realtime]
driver = "postgres"`,
			wantErr: "requires store.driver=postgres",
		},
		{
			name: "memory feed cannot observe postgres",
			content: joinSections(`[store]
driver = "postgres"
dsn = "postgres://localhost/fleet"`, `[realtime]
driver = "memory"`),
			wantErr: "requires store.driver=memory",
		},
		{
			name: "unknown table",
			content: `[realtime]
tables = ["alerts", "drivers"]`,
			wantErr: "realtime.tables[1]",
		},
		{
			name: "duplicate table",
			content: `[realtime]
tables = ["alerts", "ALERTS"]`,
			wantErr: "duplicates",
		},
		{
			name: "unknown default period",
			content: `[refresh]
default_period = "2h"`,
			wantErr: "refresh.default_period",
		},
		{
			name: "warning margin above deadline",
			content: `[sla]
critical_sec = 600
warning_sec = 900`,
			wantErr: "sla.warning_sec",
		},
		{
			name: "ratio out of range",
			content: `[telemetry]
critical_ratio = 1.2`,
			wantErr: "telemetry.critical_ratio",
		},
		{
			name: "webhook without url",
			content: `[notify.webhook]
enabled = true`,
			wantErr: "notify.webhook.url",
		},
		{
			name: "webhook invalid template",
			content: `[notify.webhook]
enabled = true
url = "http://127.0.0.1:9/hook"
template = "{{ .Title "`,
			wantErr: "notify.webhook.template",
		},
		{
			name: "webhook truncate template func",
			content: `[notify.webhook]
enabled = true
url = "http://127.0.0.1:9/hook"
template = "{{ .Title }}: {{ truncate 50 .Message }}"`,
		},
		{
			name: "file log requires path",
			content: `[log.file]
enabled = true`,
			wantErr: "log.file.path",
		},
		{
			name: "nats feed defaults url",
			content: `[realtime]
driver = "nats"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := loadSnapshotFromContent(t, tt.content)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("load snapshot: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSnapshotRejectsUnsupportedSyntax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "rule table", content: "[rule.ct]\nalert_type = \"count_total\"", wantErr: "rule sections"},
		{name: "rule array", content: "[[rule]]\nname = \"x\"", wantErr: "rule sections"},
		{name: "state section", content: "[state]\nbucket = \"x\"", wantErr: "use [store]"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := loadSnapshotErr(t, tt.content)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMergeNotifyConfigAppliesExplicitFalse(t *testing.T) {
	t.Parallel()

	dst := NotifyConfig{
		Log:     LogNotifier{Enabled: true},
		Webhook: WebhookConfig{Enabled: true, URL: "http://hook"},
	}
	src := NotifyConfig{}
	hints := notifyMergeHints{
		Log:     channelMergeHints{Enabled: boolPtr(false)},
		Webhook: channelMergeHints{Enabled: boolPtr(false)},
	}

	mergeNotifyConfig(&dst, src, hints)

	if dst.Log.Enabled {
		t.Fatalf("expected log.enabled=false after explicit false merge")
	}
	if dst.Webhook.Enabled {
		t.Fatalf("expected webhook.enabled=false after explicit false merge")
	}
}

func TestLoadDirMergesFragmentsInOrder(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeConfigFile(t, filepath.Join(tmpDir, "10-base.toml"), joinSections(
		`[store]
driver = "postgres"
dsn = "postgres://a/fleet"
migrate = true`,
		`[realtime]
driver = "postgres"`,
		`[notify.log]
enabled = true`,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "20-override.toml"), joinSections(
		`[store]
driver = "postgres"
dsn = "postgres://b/fleet"
migrate = false`,
		`[notify.log]
enabled = false`,
		`[sla]
critical_sec = 1800
default_sec = 7200
warning_sec = 600`,
	))
	writeConfigFile(t, filepath.Join(tmpDir, "ignored.yaml"), "store: {}\n")

	cfg, err := LoadSnapshot(ConfigSource{Dir: tmpDir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Store.DSN != "postgres://b/fleet" || cfg.Store.Migrate {
		t.Fatalf("expected later fragment to win, got %+v", cfg.Store)
	}
	if cfg.Realtime.Driver != RealtimeDriverPostgres {
		t.Fatalf("expected realtime section preserved, got %q", cfg.Realtime.Driver)
	}
	if cfg.Notify.Log.Enabled {
		t.Fatalf("expected notify.log.enabled=false from explicit override")
	}
	if cfg.SLA.CriticalSec != 1800 || cfg.SLATick() != 15*time.Second {
		t.Fatalf("unexpected sla %+v", cfg.SLA)
	}
}

func TestLoadDirWithoutTOML(t *testing.T) {
	t.Parallel()

	if _, err := loadDir(t.TempDir()); err == nil || !strings.Contains(err.Error(), "no .toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()
	cfg, err := loadSnapshotFromContent(t, content)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func loadSnapshotErr(t *testing.T, content string) error {
	t.Helper()
	_, err := loadSnapshotFromContent(t, content)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	return err
}

func loadSnapshotFromContent(t *testing.T, content string) (Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	return LoadSnapshot(ConfigSource{File: path})
}

func joinSections(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		nonEmpty = append(nonEmpty, trimmed)
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}

func boolPtr(value bool) *bool {
	return &value
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}
