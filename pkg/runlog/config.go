package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultConfigPath is the config artifact co-located with an
	// automation's entry point.
	DefaultConfigPath = "automation.config"

	// EnvAutomationID overrides or supplies the automation identifier when
	// the artifact does not carry one.
	EnvAutomationID = "AUTOMATION_ID"

	defaultSchema = "automations"
	defaultTable  = "run_log"
)

// Config is the resolved identity and warehouse destination for one
// automation, read from its config artifact.
type Config struct {
	AutomationID int64  `json:"automation_id"`
	Schema       string `json:"schema_name"`
	Table        string `json:"table_name"`
}

// ResolveConfig reads the JSON config artifact at path and extracts the
// automation identifier. The AUTOMATION_ID environment variable stands in
// when the artifact exists but lacks the field, or when the artifact itself
// is absent. Any other problem is a *ConfigError.
func ResolveConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Config{Schema: defaultSchema, Table: defaultTable}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		id, ok := envAutomationID()
		if !ok {
			return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("artifact not found and %s not set", EnvAutomationID)}
		}
		cfg.AutomationID = id
		return cfg, nil
	case err != nil:
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	var raw struct {
		AutomationID *int64 `json:"automation_id"`
		SchemaName   string `json:"schema_name"`
		TableName    string `json:"table_name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, &ConfigError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}

	if raw.AutomationID != nil {
		cfg.AutomationID = *raw.AutomationID
	} else if id, ok := envAutomationID(); ok {
		cfg.AutomationID = id
	} else {
		return Config{}, &ConfigError{Path: path, Err: errors.New("automation_id field is required")}
	}

	if s := strings.TrimSpace(raw.SchemaName); s != "" {
		cfg.Schema = s
	}
	if t := strings.TrimSpace(raw.TableName); t != "" {
		cfg.Table = t
	}

	return cfg, nil
}

func envAutomationID() (int64, bool) {
	v := strings.TrimSpace(os.Getenv(EnvAutomationID))
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
