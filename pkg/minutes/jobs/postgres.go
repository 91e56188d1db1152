package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// PostgresStore is the durable Store. Schema lives in migrations/001_jobs.sql.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(logging.F("component", "job_store")),
	}
}

const jobColumns = `
	id, user_id, files, status, progress, current_step,
	review, error_message, error_code, error_count, retry_count,
	last_error_at, failed_status, config, created_at, updated_at, version`

func (s *PostgresStore) Create(ctx context.Context, job *minutes.Job) error {
	files, review, cfg, err := marshalJSONColumns(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1)`

	_, err = s.pool.Exec(ctx, query,
		job.ID, job.UserID, files, string(job.Status), job.Progress, job.CurrentStep,
		review, nullIfEmpty(job.ErrorMessage), nullIfEmpty(job.ErrorCode), job.ErrorCount, job.RetryCount,
		job.LastErrorAt, nullIfEmpty(string(job.FailedStatus)), cfg, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to create job", logging.Err(err), logging.F("job_id", job.ID))
		return fmt.Errorf("failed to create job: %w", err)
	}
	job.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (kind) kind, payload
		FROM job_snapshots
		WHERE job_id = $1
		ORDER BY kind, attempt DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind    string
			payload []byte
		)
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var snap minutes.StageSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode %s snapshot: %w", kind, err)
		}
		job.Attach(&snap)
	}
	return job, rows.Err()
}

func (s *PostgresStore) Commit(ctx context.Context, job *minutes.Job, snap *minutes.StageSnapshot) error {
	var payload []byte
	if snap != nil {
		if err := snap.Validate(); err != nil {
			return err
		}
		var err error
		if payload, err = json.Marshal(snap); err != nil {
			return fmt.Errorf("failed to marshal %s snapshot: %w", snap.Kind, err)
		}
	}
	_, review, _, err := marshalJSONColumns(job)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	var progress int
	err = tx.QueryRow(ctx, `
		UPDATE jobs SET
			status = $3,
			progress = GREATEST(progress, $4),
			current_step = $5,
			review = $6,
			error_message = $7,
			error_code = $8,
			error_count = $9,
			retry_count = $10,
			last_error_at = $11,
			failed_status = $12,
			updated_at = NOW(),
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING progress, updated_at`,
		job.ID, job.Version, string(job.Status), job.Progress, job.CurrentStep,
		review, nullIfEmpty(job.ErrorMessage), nullIfEmpty(job.ErrorCode), job.ErrorCount, job.RetryCount,
		job.LastErrorAt, nullIfEmpty(string(job.FailedStatus)),
	).Scan(&progress, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); qerr == nil && !exists {
			return fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, job.ID)
		}
		return fmt.Errorf("%w: job %s changed since version %d", mnerrors.ErrConflict, job.ID, job.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	if snap != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO job_snapshots (job_id, kind, attempt, payload)
			SELECT $1, $2, COALESCE(MAX(attempt), 0) + 1, $3
			FROM job_snapshots WHERE job_id = $1 AND kind = $2`,
			job.ID, string(snap.Kind), payload)
		if err != nil {
			return fmt.Errorf("failed to insert %s snapshot: %w", snap.Kind, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	job.Version++
	job.Progress = progress
	return nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, status minutes.Status, progress int, step string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			progress = GREATEST(progress, $2),
			current_step = COALESCE(NULLIF($3, ''), current_step),
			updated_at = NOW()
		WHERE id = $1 AND status = $4`, id, progress, step, string(status))
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	return fmt.Errorf("%w: job %s is %s, not %s", mnerrors.ErrConflict, id, current, status)
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry *minutes.JobLog) error {
	prepareLog(entry)
	contextJSON, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal log context: %w", err)
	}
	metricsJSON, err := json.Marshal(entry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal log metrics: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_logs (id, job_id, level, stage, message, context, duration_ms, metrics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.JobID, entry.Level, nullIfEmpty(entry.Stage), entry.Message,
		contextJSON, entry.DurationMs, metricsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]minutes.JobLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, level, COALESCE(stage, ''), message, context, duration_ms, metrics, created_at
		FROM job_logs
		WHERE job_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, jobID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	defer rows.Close()

	var logs []minutes.JobLog
	for rows.Next() {
		var (
			l                        minutes.JobLog
			contextJSON, metricsJSON []byte
		)
		if err := rows.Scan(&l.ID, &l.JobID, &l.Level, &l.Stage, &l.Message, &contextJSON, &l.DurationMs, &metricsJSON, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		if len(contextJSON) > 0 {
			_ = json.Unmarshal(contextJSON, &l.Context)
		}
		if len(metricsJSON) > 0 {
			_ = json.Unmarshal(metricsJSON, &l.Metrics)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...minutes.Status) ([]uuid.UUID, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM jobs WHERE status = ANY($1) ORDER BY created_at ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Snapshots(ctx context.Context, jobID uuid.UUID) ([]SnapshotRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, attempt, payload, created_at
		FROM job_snapshots
		WHERE job_id = $1
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRecord
	for rows.Next() {
		var (
			rec     SnapshotRecord
			kind    string
			payload []byte
		)
		if err := rows.Scan(&kind, &rec.Attempt, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode %s snapshot: %w", kind, err)
		}
		rec.JobID = jobID
		rec.Kind = minutes.SnapshotKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*minutes.Job, error) {
	var (
		job                     minutes.Job
		files, review, cfg      []byte
		status                  string
		errMsg, errCode, failed *string
	)
	err := row.Scan(
		&job.ID, &job.UserID, &files, &status, &job.Progress, &job.CurrentStep,
		&review, &errMsg, &errCode, &job.ErrorCount, &job.RetryCount,
		&job.LastErrorAt, &failed, &cfg, &job.CreatedAt, &job.UpdatedAt, &job.Version,
	)
	if err != nil {
		return nil, err
	}
	job.Status = minutes.Status(status)
	job.ErrorMessage = deref(errMsg)
	job.ErrorCode = deref(errCode)
	job.FailedStatus = minutes.Status(deref(failed))

	if err := json.Unmarshal(files, &job.Files); err != nil {
		return nil, fmt.Errorf("failed to decode files: %w", err)
	}
	if len(review) > 0 {
		if err := json.Unmarshal(review, &job.Review); err != nil {
			return nil, fmt.Errorf("failed to decode review: %w", err)
		}
	}
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &job, nil
}

func marshalJSONColumns(job *minutes.Job) (files, review, cfg []byte, err error) {
	if files, err = json.Marshal(job.Files); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal files: %w", err)
	}
	if review, err = json.Marshal(job.Review); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal review: %w", err)
	}
	if cfg, err = json.Marshal(job.Config); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return files, review, cfg, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
