package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	gos3 "autolog/pkg/s3"
	"autolog/services/ctl"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "autologctl",
		Short:         "Utility for managing automation run logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newRunsCommand())
	cmd.AddCommand(newWrapCommand())
	return cmd
}

// commandContext falls back to Background when cobra has no context set.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func addDSNFlag(cmd *cobra.Command, dsn *string) {
	cmd.Flags().StringVar(dsn, "dsn", os.Getenv("DATABASE_URL"), "Postgres connection string (defaults to DATABASE_URL)")
}

func newMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply run-log warehouse migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctl.MigrateDatabase(commandContext(cmd), dsn)
		},
	}

	addDSNFlag(cmd, &dsn)
	return cmd
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Run-history query and archive operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsExportCommand())
	cmd.AddCommand(newRunsVerifyCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		dsn          string
		schema       string
		table        string
		automationID int64
		status       string
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctl.ListRuns(commandContext(cmd), ctl.ListConfig{
				DSN:          dsn,
				Schema:       schema,
				Table:        table,
				AutomationID: automationID,
				Status:       status,
				Limit:        limit,
				Stdout:       os.Stdout,
			})
		},
	}

	addDSNFlag(cmd, &dsn)
	cmd.Flags().StringVar(&schema, "schema", "", "Warehouse schema (default automations)")
	cmd.Flags().StringVar(&table, "table", "", "Warehouse table (default run_log)")
	cmd.Flags().Int64Var(&automationID, "automation", 0, "Filter by automation identifier")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (success or failure)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to return")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var (
		dsn    string
		schema string
		table  string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctl.ShowRun(commandContext(cmd), ctl.ShowConfig{
				DSN:    dsn,
				Schema: schema,
				Table:  table,
				ID:     args[0],
				Stdout: os.Stdout,
			})
		},
	}

	addDSNFlag(cmd, &dsn)
	cmd.Flags().StringVar(&schema, "schema", "", "Warehouse schema (default automations)")
	cmd.Flags().StringVar(&table, "table", "", "Warehouse table (default run_log)")
	return cmd
}

func newRunsExportCommand() *cobra.Command {
	var (
		dsn          string
		schema       string
		table        string
		automationID int64
		since        string
		output       string
		s3Bucket     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a signed tar.zst archive of run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			signer, err := ctl.NewSignerFromEnv()
			if err != nil {
				return err
			}

			var sinceTime time.Time
			if since != "" {
				sinceTime, err = time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since %q: %w", since, err)
				}
			}

			var s3Client *gos3.Client
			if s3Bucket != "" {
				s3Client, err = gos3.NewClientFromEnv()
				if err != nil {
					return fmt.Errorf("s3 client: %w", err)
				}
			}

			_, err = ctl.Export(ctx, ctl.ExportConfig{
				DSN:          dsn,
				Schema:       schema,
				Table:        table,
				AutomationID: automationID,
				Since:        sinceTime,
				Output:       output,
				Signer:       signer,
				S3:           s3Client,
				S3Bucket:     s3Bucket,
				Stdout:       os.Stdout,
			})
			return err
		},
	}

	addDSNFlag(cmd, &dsn)
	cmd.Flags().StringVar(&schema, "schema", "", "Warehouse schema (default automations)")
	cmd.Flags().StringVar(&table, "table", "", "Warehouse table (default run_log)")
	cmd.Flags().Int64Var(&automationID, "automation", 0, "Export only this automation's runs")
	cmd.Flags().StringVar(&since, "since", "", "Export runs started at or after this RFC3339 time")
	cmd.Flags().StringVar(&output, "output", "", "Destination archive file (tar.zst)")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "Optional S3 bucket to upload the archive to")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newRunsVerifyCommand() *cobra.Command {
	var archive string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an exported archive's digest and signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := ctl.NewSignerFromEnv()
			if err != nil {
				return err
			}
			return ctl.Verify(ctl.VerifyConfig{
				ArchivePath: archive,
				Signer:      signer,
				Stdout:      os.Stdout,
			})
		},
	}

	cmd.Flags().StringVar(&archive, "file", "", "Path to the archive tar.zst")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newWrapCommand() *cobra.Command {
	var (
		configPath string
		dsn        string
		endpoint   string
	)

	cmd := &cobra.Command{
		Use:   "wrap [flags] -- <command> [args...]",
		Short: "Run a command with its execution recorded as a run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctl.Wrap(commandContext(cmd), ctl.WrapConfig{
				ConfigPath: configPath,
				DSN:        dsn,
				Endpoint:   endpoint,
				Argv:       args,
				Stdout:     os.Stdout,
				Stderr:     os.Stderr,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to the automation config artifact")
	addDSNFlag(cmd, &dsn)
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Collector base URL for remote persistence")
	return cmd
}
