package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"autolog/pkg/db"
	"autolog/pkg/runlog"
	"autolog/pkg/sink"
)

// WrapConfig configures instrumented execution of an external command.
type WrapConfig struct {
	// ConfigPath points at the automation config artifact. Empty means the
	// resolver's default path.
	ConfigPath string
	// DSN selects direct warehouse persistence. Mutually exclusive with
	// Endpoint.
	DSN string
	// Endpoint selects persistence through a collector service.
	Endpoint string
	Argv     []string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Wrap runs a command under run logging: the run record is persisted whether
// the command succeeds, fails, or the wrapper itself panics, and the
// command's exit status is carried in the record outputs.
func Wrap(ctx context.Context, cfg WrapConfig) (err error) {
	if len(cfg.Argv) == 0 {
		return errors.New("no command given")
	}
	if cfg.DSN == "" && cfg.Endpoint == "" {
		return errors.New("either a database DSN or a collector endpoint is required")
	}
	if cfg.DSN != "" && cfg.Endpoint != "" {
		return errors.New("database DSN and collector endpoint are mutually exclusive")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	path := cfg.ConfigPath
	if path == "" {
		path = runlog.DefaultConfigPath
	}
	resolved, err := runlog.ResolveConfig(path)
	if err != nil {
		return err
	}

	var snk runlog.Sink
	if cfg.Endpoint != "" {
		snk, err = sink.NewHTTP(cfg.Endpoint)
		if err != nil {
			return err
		}
	} else {
		pool, err := db.Open(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()

		snk, err = sink.NewPostgres(pool, sink.WithDestination(resolved.Schema, resolved.Table))
		if err != nil {
			return err
		}
	}

	lg, err := runlog.FromConfig(path, snk)
	if err != nil {
		return err
	}
	defer lg.Done(ctx, &err)

	command := exec.CommandContext(ctx, cfg.Argv[0], cfg.Argv[1:]...)
	command.Stdin = os.Stdin
	command.Stdout = cfg.Stdout
	command.Stderr = cfg.Stderr

	err = command.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	lg.AddOutput(map[string]any{
		"command":   strings.Join(cfg.Argv, " "),
		"exit_code": exitCode,
	})

	return err
}
