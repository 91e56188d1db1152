// Package pipeline drives jobs through the stage state machine. The
// Orchestrator is the only writer of job state: it runs one stage at a time,
// commits the stage snapshot together with the transition, records the job
// log and publishes a notification.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/jobs"
	"github.com/otherjamesbrown/minutes/pkg/minutes/observability"
	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
	"github.com/otherjamesbrown/minutes/pkg/minutes/refinement"
	"github.com/otherjamesbrown/minutes/pkg/minutes/state"
)

// Extractor is the extraction stage.
type Extractor interface {
	Extract(ctx context.Context, files []minutes.FileInfo) (*minutes.ExtractionResult, error)
}

// Drafter is the draft stage.
type Drafter interface {
	Draft(ctx context.Context, files []minutes.FileInfo, ext *minutes.ExtractionResult) (*minutes.DraftTranscript, error)
}

// Validator is the validation stage. It does not fail.
type Validator interface {
	Validate(ctx context.Context, draft *minutes.DraftTranscript, opts minutes.ProcessingConfig) *minutes.ValidationReport
}

// Refiner is the refinement stage.
type Refiner interface {
	Refine(ctx context.Context, in refinement.Input) (*minutes.FinalMinutes, error)
}

// Narrator is the narration stage. Only context cancellation is an error.
type Narrator interface {
	Narrate(ctx context.Context, jobID string, m *minutes.FinalMinutes, voice string) (minutes.NarrationURLs, error)
}

// Stages bundles the stage implementations.
type Stages struct {
	Extractor Extractor
	Drafter   Drafter
	Validator Validator
	Refiner   Refiner
	Narrator  Narrator
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPublisher sets the notification channel.
func WithPublisher(p observability.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDefaultVoice sets the narration voice used when a job does not pick one.
func WithDefaultVoice(voice string) Option {
	return func(o *Orchestrator) { o.defaultVoice = voice }
}

// Orchestrator owns job state transitions.
type Orchestrator struct {
	stages       Stages
	store        jobs.Store
	queue        queues.Queue
	publisher    observability.Publisher
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	logger       logging.Logger
	defaultVoice string
	now          func() time.Time
}

// New builds an Orchestrator.
func New(stages Stages, store jobs.Store, queue queues.Queue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stages:    stages,
		store:     store,
		queue:     queue,
		publisher: observability.NoOpPublisher{},
		tracer:    observability.NewTracer(),
		logger:    logging.NewNopLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(logging.F("component", "orchestrator"))
	return o
}

// Create validates the request, persists a queued job and enqueues it.
func (o *Orchestrator) Create(ctx context.Context, userID string, files []minutes.FileInfo, cfg minutes.ProcessingConfig) (*minutes.Job, error) {
	job, err := minutes.NewJob(userID, files, cfg)
	if err != nil {
		return nil, err
	}
	if err := o.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	if o.metrics != nil {
		o.metrics.JobsCreatedTotal.Inc()
	}

	o.appendLog(ctx, job, minutes.LogInfo, "", "Job created", map[string]any{
		"files":    len(files),
		"narrate":  job.Config.Narrate,
		"reviewer": job.Config.RequireHumanReview,
	}, nil)
	o.notify(ctx, job, observability.EventJobCreated, "", 0, nil)

	// A job that fails to enqueue stays queued and is picked up by Recover.
	if err := o.queue.Enqueue(ctx, queues.Message{JobID: job.ID, Reason: queues.ReasonCreated}); err != nil {
		return job, fmt.Errorf("job %s stored but not enqueued: %w", job.ID, err)
	}
	o.logger.Info("Job created", logging.F("job_id", job.ID), logging.F("files", len(files)))
	return job, nil
}

// Get loads a job.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	return o.store.Get(ctx, id)
}

// Logs lists a job's audit log.
func (o *Orchestrator) Logs(ctx context.Context, id uuid.UUID, limit int) ([]minutes.JobLog, error) {
	if _, err := o.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.store.ListLogs(ctx, id, limit)
}

// Cancel moves a non-terminal job to cancelled. A worker running a stage for
// the job finds its commit rejected and abandons the result.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	const attempts = 3
	for i := 0; ; i++ {
		job, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		tr, err := state.Next(job.Status, state.Event{Type: state.EventCancel})
		if err != nil {
			return job, err
		}
		state.Apply(job, tr, o.now())
		err = o.store.Commit(ctx, job, nil)
		if mnerrors.IsConflict(err) && i < attempts-1 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel job: %w", err)
		}
		o.afterTransition(ctx, job, tr, "Job cancelled", nil, nil)
		return job, nil
	}
}

// Retry re-enters the status a failed job failed in and enqueues it.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID) (*minutes.Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	reenter := job.FailedStatus
	if reenter == "" {
		reenter = minutes.StatusQueued
	}
	tr, err := state.Next(job.Status, state.Event{Type: state.EventRetry, Reenter: reenter})
	if err != nil {
		return job, err
	}
	state.Apply(job, tr, o.now())
	if err := o.store.Commit(ctx, job, nil); err != nil {
		return nil, fmt.Errorf("failed to retry job: %w", err)
	}
	o.afterTransition(ctx, job, tr, "Job retried", map[string]any{"retry_count": job.RetryCount}, nil)

	if err := o.queue.Enqueue(ctx, queues.Message{JobID: job.ID, Reason: queues.ReasonRetry}); err != nil {
		return job, fmt.Errorf("job %s retried but not enqueued: %w", job.ID, err)
	}
	return job, nil
}

// Recover re-enqueues jobs left queued or mid-stage by a previous process.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	statuses := []minutes.Status{minutes.StatusQueued}
	for _, s := range minutes.AllStatuses {
		if s.IsProcessing() {
			statuses = append(statuses, s)
		}
	}
	ids, err := o.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return 0, fmt.Errorf("failed to list resumable jobs: %w", err)
	}
	for i, id := range ids {
		if err := o.queue.Enqueue(ctx, queues.Message{JobID: id, Reason: queues.ReasonRecover}); err != nil {
			return i, fmt.Errorf("failed to enqueue job %s: %w", id, err)
		}
	}
	if len(ids) > 0 {
		o.logger.Info("Recovered jobs", logging.F("count", len(ids)))
	}
	return len(ids), nil
}

// Handle is the worker pool message handler.
func (o *Orchestrator) Handle(ctx context.Context, msg queues.Message) error {
	err := o.Advance(ctx, msg.JobID)
	switch {
	case err == nil:
		return nil
	case mnerrors.IsNotFound(err):
		return queues.NewPermanentError(queues.ErrorCodeJobNotFound, "job not found", err)
	case mnerrors.IsConflict(err):
		return queues.NewTransientError(queues.ErrorCodeConflict, "concurrent update", err)
	case isInterrupted(err):
		return queues.NewTransientError(queues.ErrorCodeStoreError, "interrupted", err)
	default:
		return queues.NewDependencyError(queues.ErrorCodeStoreError, "advance failed", err)
	}
}
