package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// migrationLockID serialises concurrent migrators across processes.
const migrationLockID = 0x6d696e75746573

// Migration is one .sql file.
type Migration struct {
	Version string
	Name    string
	Path    string
}

// MigrationResult lists what a run applied and skipped.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// MigrationStatusEntry is one migration in a status report. AppliedAt is nil
// for pending migrations.
type MigrationStatusEntry struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// MigrationStatus groups migrations by state. Drift lists versions recorded
// in the database with no file.
type MigrationStatus struct {
	Applied []MigrationStatusEntry
	Pending []MigrationStatusEntry
	Drift   []MigrationStatusEntry
}

// RunMigrations applies every pending migration in fsys in version order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*MigrationResult, error) {
	return RunMigrationsToTarget(ctx, pool, fsys, "")
}

// RunMigrationsToTarget applies pending migrations up to and including
// target. An empty target applies all of them. Each migration runs in its
// own transaction; the run stops at the first failure.
func RunMigrationsToTarget(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, target string) (*MigrationResult, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	migrations, err := findMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}
	if target != "" {
		target = normalizeVersion(target)
		idx := -1
		for i, m := range migrations {
			if m.Version == target {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("target version %s not found", target)
		}
		migrations = migrations[:idx+1]
	}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	result := &MigrationResult{}
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		ran, err := applyMigration(ctx, pool, fsys, m)
		if err != nil {
			return result, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		if ran {
			result.Applied = append(result.Applied, m.Version)
		} else {
			result.Skipped = append(result.Skipped, m.Version)
		}
	}
	return result, nil
}

// GetPendingMigrations returns migrations in fsys not yet applied.
func GetPendingMigrations(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) ([]Migration, error) {
	status, err := GetMigrationStatus(ctx, pool, fsys)
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(status.Pending))
	for _, e := range status.Pending {
		out = append(out, Migration{Version: e.Version, Name: e.Name, Path: e.Name})
	}
	return out, nil
}

// GetMigrationStatus compares fsys against the applied versions.
func GetMigrationStatus(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS) (*MigrationStatus, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	migrations, err := findMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to find migrations: %w", err)
	}
	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	return buildStatus(migrations, applied), nil
}

func buildStatus(migrations []Migration, applied map[string]time.Time) *MigrationStatus {
	status := &MigrationStatus{
		Applied: []MigrationStatusEntry{},
		Pending: []MigrationStatusEntry{},
		Drift:   []MigrationStatusEntry{},
	}
	files := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		files[m.Version] = true
		if at, ok := applied[m.Version]; ok {
			at := at
			status.Applied = append(status.Applied, MigrationStatusEntry{Version: m.Version, Name: m.Name, AppliedAt: &at})
		} else {
			status.Pending = append(status.Pending, MigrationStatusEntry{Version: m.Version, Name: m.Name})
		}
	}
	for version, at := range applied {
		if files[version] {
			continue
		}
		at := at
		status.Drift = append(status.Drift, MigrationStatusEntry{Version: version, Name: version + ".sql", AppliedAt: &at})
	}
	sort.Slice(status.Drift, func(i, j int) bool { return status.Drift[i].Version < status.Drift[j].Version })
	return status
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// findMigrations lists the .sql files at the root of fsys sorted by version.
func findMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".sql") {
			continue
		}
		out = append(out, Migration{
			Version: normalizeVersion(e.Name()),
			Name:    e.Name(),
			Path:    e.Name(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// normalizeVersion strips a .sql suffix, in any case.
func normalizeVersion(v string) string {
	if len(v) > 4 && strings.EqualFold(v[len(v)-4:], ".sql") {
		return v[:len(v)-4]
	}
	return v
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	rows, err := pool.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[normalizeVersion(version)] = at
	}
	return applied, rows.Err()
}

// applyMigration runs m under a transaction-scoped advisory lock. It reports
// false when another migrator applied m first.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, m Migration) (bool, error) {
	content, err := fs.ReadFile(fsys, m.Path)
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}
	sql := string(content)
	if strings.TrimSpace(sql) == "" {
		return false, fmt.Errorf("migration file is empty")
	}

	ran := false
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLockID)); err != nil {
			return fmt.Errorf("failed to take migration lock: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}
