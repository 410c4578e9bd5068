package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"autolog/pkg/db"
)

// ListConfig configures a run-history listing.
type ListConfig struct {
	DSN          string
	Schema       string
	Table        string
	AutomationID int64
	Status       string
	Limit        int
	Stdout       io.Writer
}

// ListRuns prints recent run records, newest first.
func ListRuns(ctx context.Context, cfg ListConfig) error {
	if cfg.DSN == "" {
		return errors.New("database DSN is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	pool, err := db.Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	conditions := []string{}
	args := []any{}
	if cfg.AutomationID != 0 {
		args = append(args, cfg.AutomationID)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}
	if cfg.Status != "" {
		args = append(args, cfg.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, cfg.Limit)
	query := fmt.Sprintf(`
        SELECT id, automation_id, started_at, ended_at, duration_ms, origin, context, status, outputs, flags
        FROM %s %s
        ORDER BY started_at DESC
        LIMIT $%d
    `, destinationIdent(cfg.Schema, cfg.Table), where, len(args))

	var rows []exportRecord
	if err := db.Select(ctx, pool, &rows, query, args...); err != nil {
		return fmt.Errorf("query runs: %w", err)
	}

	tw := tabwriter.NewWriter(cfg.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAUTOMATION\tSTATUS\tSTARTED\tDURATION\tORIGIN")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			row.ID,
			row.AutomationID,
			row.Status,
			row.StartedAt.UTC().Format(time.RFC3339),
			time.Duration(row.DurationMS)*time.Millisecond,
			row.Origin,
		)
	}
	return tw.Flush()
}

// ShowConfig configures a single-run lookup.
type ShowConfig struct {
	DSN    string
	Schema string
	Table  string
	ID     string
	Stdout io.Writer
}

// ShowRun prints one run record as indented JSON.
func ShowRun(ctx context.Context, cfg ShowConfig) error {
	if cfg.DSN == "" {
		return errors.New("database DSN is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	id, err := uuid.Parse(cfg.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", cfg.ID, err)
	}

	pool, err := db.Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	query := fmt.Sprintf(`
        SELECT id, automation_id, started_at, ended_at, duration_ms, origin, context, status, outputs, flags
        FROM %s
        WHERE id = $1
    `, destinationIdent(cfg.Schema, cfg.Table))

	var row exportRecord
	if err := db.Get(ctx, pool, &row, query, id); err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}

	enc := json.NewEncoder(cfg.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(&row)
}
