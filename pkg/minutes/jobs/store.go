// Package jobs persists jobs, their stage snapshots and their audit logs.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// SnapshotRecord is one stored stage snapshot row.
type SnapshotRecord struct {
	JobID     uuid.UUID
	Kind      minutes.SnapshotKind
	Attempt   int
	Snapshot  minutes.StageSnapshot
	CreatedAt time.Time
}

// Store is the job persistence port. The orchestrator is its only writer.
type Store interface {
	// Create inserts a new job. The job's Version is set to 1.
	Create(ctx context.Context, job *minutes.Job) error

	// Get loads a job with the latest snapshot of each kind attached.
	// Returns errors.ErrNotFound when the job does not exist.
	Get(ctx context.Context, id uuid.UUID) (*minutes.Job, error)

	// Commit writes the job's lifecycle fields and, when snap is non-nil,
	// a new snapshot row, in one transaction. It fails with errors.ErrConflict
	// unless the stored version equals job.Version. On success job.Version is
	// incremented.
	Commit(ctx context.Context, job *minutes.Job, snap *minutes.StageSnapshot) error

	// UpdateProgress raises progress without touching status or version. It
	// applies only while the job is still in status, returning ErrConflict
	// once the job has moved on.
	UpdateProgress(ctx context.Context, id uuid.UUID, status minutes.Status, progress int, step string) error

	AppendLog(ctx context.Context, entry *minutes.JobLog) error
	ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]minutes.JobLog, error)

	// ListByStatus returns job ids in any of the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...minutes.Status) ([]uuid.UUID, error)

	// Snapshots lists every snapshot row of a job in write order.
	Snapshots(ctx context.Context, jobID uuid.UUID) ([]SnapshotRecord, error)
}

const defaultLogLimit = 500

func clampLimit(limit int) int {
	if limit <= 0 || limit > 5000 {
		return defaultLogLimit
	}
	return limit
}

func prepareLog(entry *minutes.JobLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = minutes.LogInfo
	}
}
