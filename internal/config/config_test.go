package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/crypto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queryportal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
metadata_dsn: postgres://localhost/portal
limits:
  statement_timeout: 5s
  max_result_rows: 50
instances:
  pg-main:
    backend: postgres
    host: db.internal
    port: 5432
    user: app
    password: plain
    schema: reporting
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MetadataDSN != "postgres://localhost/portal" {
		t.Fatalf("dsn = %q", cfg.MetadataDSN)
	}
	if cfg.Limits.StatementTimeout != 5*time.Second {
		t.Fatalf("statement timeout = %v", cfg.Limits.StatementTimeout)
	}
	if cfg.Limits.MaxResultRows != 50 {
		t.Fatalf("max rows = %d", cfg.Limits.MaxResultRows)
	}

	inst, ok := cfg.Instances["pg-main"]
	if !ok {
		t.Fatal("instance pg-main missing")
	}
	if inst.Backend != queryportal.BackendPostgres || inst.Schema != "reporting" {
		t.Fatalf("instance = %+v", inst)
	}
}

func TestLoadConfigJSONFallback(t *testing.T) {
	path := writeConfig(t, `{"metadata_dsn": "postgres://localhost/portal"}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MetadataDSN != "postgres://localhost/portal" {
		t.Fatalf("dsn = %q", cfg.MetadataDSN)
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `metadata_dsn: postgres://localhost/portal`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Limits.StatementTimeout != 30*time.Second {
		t.Fatalf("statement timeout = %v", cfg.Limits.StatementTimeout)
	}
	if cfg.Queue.BatchSize != 5 {
		t.Fatalf("batch size = %d", cfg.Queue.BatchSize)
	}
	if cfg.Sandbox.MemoryLimitMB != 128 {
		t.Fatalf("memory limit = %d", cfg.Sandbox.MemoryLimitMB)
	}
}

func TestLoadConfigDecryptsPasswords(t *testing.T) {
	enc, err := crypto.Encrypt("topsecret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	path := writeConfig(t, `
metadata_dsn: postgres://localhost/portal
instances:
  pg-main:
    backend: postgres
    password: `+enc+`
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Instances["pg-main"].Password != "topsecret" {
		t.Fatalf("password = %q", cfg.Instances["pg-main"].Password)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
