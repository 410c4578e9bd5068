// Package sink provides persistence adapters that append finalized run
// records to a central log store.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"autolog/pkg/db"
	"autolog/pkg/runlog"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres appends one row per run to a warehouse table. The destination
// defaults to automations.run_log and can be redirected per automation via
// its config artifact.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// PostgresOption adjusts Postgres sink construction.
type PostgresOption func(*Postgres)

// WithDestination redirects appends to the given schema and table.
func WithDestination(schema, table string) PostgresOption {
	return func(p *Postgres) {
		if schema != "" {
			p.schema = schema
		}
		if table != "" {
			p.table = table
		}
	}
}

// NewPostgres creates a Postgres sink on the provided pool.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{pool: pool, schema: "automations", table: "run_log"}
	for _, opt := range opts {
		opt(p)
	}

	if !identPattern.MatchString(p.schema) || !identPattern.MatchString(p.table) {
		return nil, fmt.Errorf("invalid destination %q.%q", p.schema, p.table)
	}
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	return p, nil
}

// Append inserts the finalized record. The write is all-or-nothing; failures
// are reported as *runlog.PersistenceError and never alter the record.
func (p *Postgres) Append(ctx context.Context, rec *runlog.Record) error {
	if rec == nil {
		return &runlog.PersistenceError{Err: errors.New("nil record")}
	}

	outputs, err := marshalEntries(rec.Outputs)
	if err != nil {
		return &runlog.PersistenceError{Err: fmt.Errorf("marshal outputs: %w", err)}
	}
	flags, err := marshalEntries(rec.Flags)
	if err != nil {
		return &runlog.PersistenceError{Err: fmt.Errorf("marshal flags: %w", err)}
	}

	hostCtx := rec.Context
	if hostCtx == nil {
		hostCtx = map[string]any{}
	}
	ctxJSON, err := json.Marshal(hostCtx)
	if err != nil {
		return &runlog.PersistenceError{Err: fmt.Errorf("marshal context: %w", err)}
	}

	if _, err := db.Exec(ctx, p.pool, p.insertQuery(),
		rec.ID,
		rec.AutomationID,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationMS,
		rec.Origin,
		string(ctxJSON),
		string(rec.Status),
		string(outputs),
		string(flags),
	); err != nil {
		return &runlog.PersistenceError{Err: fmt.Errorf("insert into %s.%s: %w", p.schema, p.table, err)}
	}

	return nil
}

func (p *Postgres) insertQuery() string {
	return fmt.Sprintf(`
        INSERT INTO %s.%s
            (id, automation_id, started_at, ended_at, duration_ms, origin, context, status, outputs, flags)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9::jsonb, $10::jsonb);
    `, p.schema, p.table)
}

func marshalEntries(entries []any) ([]byte, error) {
	if entries == nil {
		entries = []any{}
	}
	return json.Marshal(entries)
}
