package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/db"
)

// Migrate command flags.
var (
	migrateDryRun bool
	migrateTarget string
	migrateStatus bool
	migrateDir    string
	migrateOutput string
)

// MigrateCommandDeps holds the dependencies for the migrate command.
type MigrateCommandDeps struct {
	LoadConfig  func() (*config.ServiceConfig, error)
	ConnectToDB func(context.Context, *db.Config) (*pgxpool.Pool, error)
}

// DefaultMigrateDeps returns the default dependencies for production use.
func DefaultMigrateDeps() *MigrateCommandDeps {
	return &MigrateCommandDeps{
		LoadConfig:  config.Load,
		ConnectToDB: db.Connect,
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(deps *MigrateCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultMigrateDeps()
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending job store migrations to PostgreSQL.

Migrations are the SQL files built into the binary, applied in version order
and tracked in the schema_migrations table. Each migration runs in its own
transaction under an advisory lock, so concurrent servers starting at once
apply each file exactly once. 'minutes serve' runs the same step on start.

Use --status to list applied, pending and drifted migrations instead.

Examples:
  # Apply all pending migrations
  minutes migrate

  # Show what would run
  minutes migrate --dry-run

  # Apply up to and including 002
  minutes migrate --target 002

  # Show migration status as JSON
  minutes migrate --status -o json

  # Use migrations from a directory instead of the built-in set
  minutes migrate --dir ./migrations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if migrateStatus {
				return runMigrateStatus(cmd.Context(), cmd.OutOrStdout(), deps)
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), deps)
		},
	}

	cmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&migrateTarget, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVar(&migrateStatus, "status", false, "Show migration status instead of applying")
	cmd.Flags().StringVar(&migrateDir, "dir", "", "Read migrations from this directory")
	cmd.Flags().StringVarP(&migrateOutput, "output", "o", "", "Output format for --status: text, json, yaml")

	return cmd
}

func connectForMigrations(ctx context.Context, deps *MigrateCommandDeps) (*config.ServiceConfig, *pgxpool.Pool, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if migrateDir != "" {
		cfg.Database.MigrationsDir = migrateDir
	}
	pool, err := deps.ConnectToDB(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return cfg, pool, nil
}

func runMigrate(ctx context.Context, out io.Writer, deps *MigrateCommandDeps) error {
	cfg, pool, err := connectForMigrations(ctx, deps)
	if err != nil {
		return err
	}
	defer pool.Close()
	fsys := migrationFS(&cfg.Database)

	pending, err := db.GetPendingMigrations(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if migrateDryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	var result *db.MigrationResult
	if migrateTarget != "" {
		fmt.Fprintf(out, "Applying migrations up to version %s...\n", migrateTarget)
		result, err = db.RunMigrationsToTarget(ctx, pool, fsys, migrateTarget)
	} else {
		fmt.Fprintln(out, "Applying all pending migrations...")
		result, err = db.RunMigrations(ctx, pool, fsys)
	}

	if err != nil {
		fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintln(out)
	if len(result.Applied) > 0 {
		fmt.Fprintf(out, "\033[32mSuccessfully applied %d migration(s):\033[0m\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}
	return nil
}

func runMigrateStatus(ctx context.Context, out io.Writer, deps *MigrateCommandDeps) error {
	cfg, pool, err := connectForMigrations(ctx, deps)
	if err != nil {
		return err
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, migrationFS(&cfg.Database))
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	format, err := resolveFormat(cfg, migrateOutput)
	if err != nil {
		return err
	}
	if ok, err := writeStructured(out, format, status); ok {
		return err
	}
	outputMigrationStatusText(out, status)
	return nil
}

func outputMigrationStatusText(out io.Writer, status *db.MigrationStatus) {
	if len(status.Applied) > 0 {
		fmt.Fprintf(out, "\033[32mApplied Migrations (%d):\033[0m\n", len(status.Applied))
		fmt.Fprintln(out, "  VERSION    NAME                              APPLIED")
		fmt.Fprintln(out, "  -------    ----                              -------")
		for _, m := range status.Applied {
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "  %-10s %-33s %s\n", truncate(m.Version, 10), truncate(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(out)
	}

	if len(status.Pending) > 0 {
		fmt.Fprintf(out, "\033[33mPending Migrations (%d):\033[0m\n", len(status.Pending))
		for _, m := range status.Pending {
			fmt.Fprintf(out, "  %-10s %s\n", truncate(m.Version, 10), m.Name)
		}
		fmt.Fprintln(out)
	}

	if len(status.Drift) > 0 {
		fmt.Fprintf(out, "\033[31mDrift (%d applied without a file):\033[0m\n", len(status.Drift))
		for _, m := range status.Drift {
			fmt.Fprintf(out, "  %-10s %s\n", truncate(m.Version, 10), m.Name)
		}
		fmt.Fprintln(out)
	}

	if len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(out, "Database is up to date.")
	}
}
