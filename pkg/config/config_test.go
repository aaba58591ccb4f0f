package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", cfg.Database.Driver)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Orchestrator.StateRule != "DELETE_ON_FAILURE" {
		t.Fatalf("unexpected state rule %q", cfg.Orchestrator.StateRule)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen_address: "0.0.0.0:9000"
database:
  driver: pgx
  dsn: "postgres://wsm@localhost/wsm"
scheduler:
  workers: 8
orchestrator:
  state_rule: BROKEN_ON_FAILURE
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Fatalf("listen address not applied: %q", cfg.Server.ListenAddress)
	}
	if cfg.Database.Driver != "pgx" || cfg.Database.DSN != "postgres://wsm@localhost/wsm" {
		t.Fatalf("database section not applied: %+v", cfg.Database)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Fatalf("workers not applied: %d", cfg.Scheduler.Workers)
	}
	if cfg.Orchestrator.StateRule != "BROKEN_ON_FAILURE" {
		t.Fatalf("state rule not applied: %q", cfg.Orchestrator.StateRule)
	}
	// Sections the file omits keep their defaults.
	if cfg.Telemetry.Logging.Level == "" {
		t.Fatal("telemetry defaults should survive a partial file")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: sqlite
  dsn: "file:from-file.db"
`)
	t.Setenv("WSM_DATABASE_DSN", "file:from-env.db")
	t.Setenv("WSM_SCHEDULER_WORKERS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Database.DSN != "file:from-env.db" {
		t.Fatalf("env override not applied: %q", cfg.Database.DSN)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Fatalf("env workers not applied: %d", cfg.Scheduler.Workers)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: mysql
  dsn: "whatever"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("an unsupported driver must fail validation")
	}
}

func TestLoadRejectsBadStateRule(t *testing.T) {
	path := writeConfigFile(t, `
orchestrator:
  state_rule: KEEP_EVERYTHING
`)
	if _, err := Load(path); err == nil {
		t.Fatal("an unknown state rule must fail validation")
	}
}

func TestLoadRejectsWorkerCountOutOfRange(t *testing.T) {
	path := writeConfigFile(t, `
scheduler:
  workers: 0
`)
	if _, err := Load(path); err == nil {
		t.Fatal("zero workers must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("a named but missing config file is an error")
	}
}
