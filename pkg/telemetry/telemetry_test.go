package telemetry

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		level   string
		message string
	}{
		{name: "bare message", input: "collector started", level: "INFO", message: "collector started"},
		{name: "bracket prefix", input: "[ERROR] append failed", level: "ERROR", message: "append failed"},
		{name: "colon prefix", input: "warn: slow append", level: "WARN", message: "slow append"},
		{name: "unknown prefix kept", input: "db: connected", level: "INFO", message: "db: connected"},
		{name: "empty", input: "", level: "INFO", message: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, message := parseLevel(tt.input)
			if level != tt.level || message != tt.message {
				t.Fatalf("parseLevel(%q) = %q, %q; want %q, %q", tt.input, level, message, tt.level, tt.message)
			}
		})
	}
}
