package ctl

import (
	"context"
	"errors"
	"fmt"

	"autolog/pkg/db"
)

// MigrateDatabase brings the run-log warehouse schema up to date.
func MigrateDatabase(ctx context.Context, dsn string) error {
	if dsn == "" {
		return errors.New("database DSN is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	return db.Migrate(ctx, pool)
}
