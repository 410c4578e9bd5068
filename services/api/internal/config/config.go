package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds collector service settings. Values come from an optional YAML
// file, with environment variables taking precedence.
type Config struct {
	Addr        string `yaml:"addr"`
	DatabaseURL string `yaml:"database_url"`
	NATSURL     string `yaml:"nats_url"`
	SchemaName  string `yaml:"schema_name"`
	TableName   string `yaml:"table_name"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// Load reads the optional YAML file named by AUTOLOG_CONFIG_FILE, then
// applies environment overrides.
func Load() (Config, error) {
	cfg := Config{
		Addr:        ":8080",
		SchemaName:  "automations",
		TableName:   "run_log",
		AutoMigrate: true,
	}

	if path := strings.TrimSpace(os.Getenv("AUTOLOG_CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Addr = getEnv("AUTOLOG_ADDR", cfg.Addr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.SchemaName = getEnv("AUTOLOG_SCHEMA", cfg.SchemaName)
	cfg.TableName = getEnv("AUTOLOG_TABLE", cfg.TableName)
	cfg.AutoMigrate = getEnvBool("AUTOLOG_AUTO_MIGRATE", cfg.AutoMigrate)

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
