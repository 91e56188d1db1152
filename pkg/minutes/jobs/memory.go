package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// MemoryStore is an in-process Store used by tests and the single-binary dev mode.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID][]byte
	snapshots map[uuid.UUID][]SnapshotRecord
	logs      map[uuid.UUID][]minutes.JobLog
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[uuid.UUID][]byte),
		snapshots: make(map[uuid.UUID][]SnapshotRecord),
		logs:      make(map[uuid.UUID][]minutes.JobLog),
	}
}

// encodeRow drops snapshot payloads; they are stored as separate rows.
func encodeRow(job *minutes.Job) ([]byte, error) {
	row := *job
	row.Extraction, row.Draft, row.Validation, row.Final = nil, nil, nil, nil
	return json.Marshal(&row)
}

func (s *MemoryStore) Create(ctx context.Context, job *minutes.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s already exists", mnerrors.ErrConflict, job.ID)
	}
	job.Version = 1
	data, err := encodeRow(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	s.jobs[job.ID] = data
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *MemoryStore) load(id uuid.UUID) (*minutes.Job, error) {
	data, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, id)
	}
	var job minutes.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	for _, rec := range s.snapshots[id] {
		snap, err := copySnapshot(rec.Snapshot)
		if err != nil {
			return nil, err
		}
		job.Attach(snap)
	}
	return &job, nil
}

func (s *MemoryStore) Commit(ctx context.Context, job *minutes.Job, snap *minutes.StageSnapshot) error {
	if snap != nil {
		if err := snap.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(job.ID)
	if err != nil {
		return err
	}
	if current.Version != job.Version {
		return fmt.Errorf("%w: job %s at version %d, commit read %d", mnerrors.ErrConflict, job.ID, current.Version, job.Version)
	}

	next := *job
	next.Version++
	if current.Progress > next.Progress {
		next.Progress = current.Progress
	}
	next.UpdatedAt = time.Now().UTC()
	data, err := encodeRow(&next)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if snap != nil {
		stored, err := copySnapshot(*snap)
		if err != nil {
			return err
		}
		attempt := 1
		for _, rec := range s.snapshots[job.ID] {
			if rec.Kind == snap.Kind && rec.Attempt >= attempt {
				attempt = rec.Attempt + 1
			}
		}
		s.snapshots[job.ID] = append(s.snapshots[job.ID], SnapshotRecord{
			JobID:     job.ID,
			Kind:      snap.Kind,
			Attempt:   attempt,
			Snapshot:  *stored,
			CreatedAt: next.UpdatedAt,
		})
	}

	s.jobs[job.ID] = data
	job.Version = next.Version
	job.Progress = next.Progress
	job.UpdatedAt = next.UpdatedAt
	return nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id uuid.UUID, status minutes.Status, progress int, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, id)
	}
	var job minutes.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Status != status {
		return fmt.Errorf("%w: job %s is %s, not %s", mnerrors.ErrConflict, id, job.Status, status)
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if step != "" {
		job.CurrentStep = step
	}
	job.UpdatedAt = time.Now().UTC()
	data, err := encodeRow(&job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	s.jobs[id] = data
	return nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry *minutes.JobLog) error {
	prepareLog(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[entry.JobID]; !ok {
		return fmt.Errorf("%w: job %s", mnerrors.ErrNotFound, entry.JobID)
	}
	s.logs[entry.JobID] = append(s.logs[entry.JobID], *entry)
	return nil
}

func (s *MemoryStore) ListLogs(ctx context.Context, jobID uuid.UUID, limit int) ([]minutes.JobLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs[jobID]
	if n := clampLimit(limit); len(logs) > n {
		logs = logs[:n]
	}
	return append([]minutes.JobLog(nil), logs...), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...minutes.Status) ([]uuid.UUID, error) {
	want := make(map[minutes.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		id      uuid.UUID
		created time.Time
	}
	var rows []row
	for id, data := range s.jobs {
		var job minutes.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		if want[job.Status] {
			rows = append(rows, row{id: id, created: job.CreatedAt})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].created.Before(rows[j].created) })

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.id
	}
	return ids, nil
}

func (s *MemoryStore) Snapshots(ctx context.Context, jobID uuid.UUID) ([]SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SnapshotRecord(nil), s.snapshots[jobID]...), nil
}

func copySnapshot(s minutes.StageSnapshot) (*minutes.StageSnapshot, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s snapshot: %w", s.Kind, err)
	}
	var out minutes.StageSnapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", s.Kind, err)
	}
	return &out, nil
}
