package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// runRow mirrors one run_log row; jsonb columns stay raw until conversion.
type runRow struct {
	ID           uuid.UUID `db:"id" gorm:"column:id"`
	AutomationID int64     `db:"automation_id" gorm:"column:automation_id"`
	StartedAt    time.Time `db:"started_at" gorm:"column:started_at"`
	EndedAt      time.Time `db:"ended_at" gorm:"column:ended_at"`
	DurationMS   int64     `db:"duration_ms" gorm:"column:duration_ms"`
	Origin       string    `db:"origin" gorm:"column:origin"`
	Context      []byte    `db:"context" gorm:"column:context"`
	Status       string    `db:"status" gorm:"column:status"`
	Outputs      []byte    `db:"outputs" gorm:"column:outputs"`
	Flags        []byte    `db:"flags" gorm:"column:flags"`
}

func (r runRow) toAPI() (Run, error) {
	run := Run{
		ID:           r.ID.String(),
		AutomationID: r.AutomationID,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
		DurationMS:   r.DurationMS,
		Origin:       r.Origin,
		Status:       r.Status,
		Context:      map[string]any{},
		Outputs:      []any{},
		Flags:        []any{},
	}

	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &run.Context); err != nil {
			return Run{}, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(r.Outputs) > 0 {
		if err := json.Unmarshal(r.Outputs, &run.Outputs); err != nil {
			return Run{}, fmt.Errorf("decode outputs: %w", err)
		}
	}
	if len(r.Flags) > 0 {
		if err := json.Unmarshal(r.Flags, &run.Flags); err != nil {
			return Run{}, fmt.Errorf("decode flags: %w", err)
		}
	}

	return run, nil
}
