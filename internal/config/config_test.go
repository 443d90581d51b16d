package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() without env differs from Default() (-want +got):\n%s", diff)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoiceflow.yaml")
	content := `
server:
  port: "9000"
database:
  driver: sqlite
  path: data.db
app:
  dev: false
  secret_key: "0123456789abcdef0123456789abcdef"
  allowed_hosts: [invoices.example.com]
queue:
  workers: 2
  backoff_base: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "3")
	t.Setenv("QUEUE_POLL_INTERVAL", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("env should override file port, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN() != "data.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Queue.Workers != 2 || cfg.Queue.MaxAttempts != 3 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Queue.BackoffBase != 10*time.Second || cfg.Queue.PollInterval != 5*time.Second {
		t.Errorf("durations = %v %v", cfg.Queue.BackoffBase, cfg.Queue.PollInterval)
	}
	if diff := cmp.Diff([]string{"invoices.example.com"}, cfg.App.AllowedHosts); diff != "" {
		t.Errorf("allowed hosts (-want +got):\n%s", diff)
	}
}

func TestSQLiteDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://tmp/app.db")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN() != "tmp/app.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
}

func TestMigrateURL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss", DBName: "inv", SSLMode: "disable"}
	if got, want := d.MigrateURL(), "postgres://app:p%40ss@db:5432/inv?sslmode=disable"; got != want {
		t.Errorf("MigrateURL() = %q, want %q", got, want)
	}
	d.URL = "postgres://x"
	if d.MigrateURL() != "postgres://x" || d.DSN() != "postgres://x" {
		t.Errorf("URL should take precedence")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.App.Dev = false
	cfg.Storage.Driver = "s3"
	cfg.Database.Driver = "mysql"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"SECRET_KEY", "S3_BUCKET", "mysql"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
