package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("AUTOLOG_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/autolog")
	t.Setenv("AUTOLOG_ADDR", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("AUTOLOG_SCHEMA", "")
	t.Setenv("AUTOLOG_TABLE", "")
	t.Setenv("AUTOLOG_AUTO_MIGRATE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.SchemaName != "automations" || cfg.TableName != "run_log" {
		t.Errorf("destination = %s.%s, want automations.run_log", cfg.SchemaName, cfg.TableName)
	}
	if !cfg.AutoMigrate {
		t.Error("AutoMigrate = false, want true by default")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("AUTOLOG_CONFIG_FILE", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autolog.yaml")
	contents := `
addr: ":9090"
database_url: postgres://file/db
schema_name: etl
auto_migrate: false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AUTOLOG_CONFIG_FILE", path)
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("AUTOLOG_ADDR", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("AUTOLOG_SCHEMA", "")
	t.Setenv("AUTOLOG_TABLE", "")
	t.Setenv("AUTOLOG_AUTO_MIGRATE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090 from file", cfg.Addr)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("DatabaseURL = %q, env should override file", cfg.DatabaseURL)
	}
	if cfg.SchemaName != "etl" {
		t.Errorf("SchemaName = %q, want etl from file", cfg.SchemaName)
	}
	if cfg.AutoMigrate {
		t.Error("AutoMigrate = true, want false from file")
	}
}
