package runlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Record is the summary of one automation run, persisted exactly once when
// the owning Logger releases. After release it is inert.
type Record struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	AutomationID int64          `json:"automation_id" db:"automation_id"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	EndedAt      time.Time      `json:"ended_at" db:"ended_at"`
	DurationMS   int64          `json:"duration_ms" db:"duration_ms"`
	Origin       string         `json:"origin" db:"origin"`
	Context      map[string]any `json:"context" db:"context"`
	Status       Status         `json:"status" db:"status"`
	Outputs      []any          `json:"outputs" db:"outputs"`
	Flags        []any          `json:"flags" db:"flags"`
}

// Duration is EndedAt - StartedAt.
func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// jsonable coerces a value so the record survives JSON marshalling, with
// forgiving fallbacks for values callers attach without thinking about the
// wire format.
func jsonable(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		json.RawMessage:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return val.String()
	case error:
		return val.Error()
	}
	if _, err := json.Marshal(v); err == nil {
		return v
	}
	return fmt.Sprint(v)
}
