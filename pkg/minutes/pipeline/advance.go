package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/observability"
	"github.com/otherjamesbrown/minutes/pkg/minutes/refinement"
	"github.com/otherjamesbrown/minutes/pkg/minutes/state"
)

// stageResult is the output of one stage run.
type stageResult struct {
	event state.Event
	snap  *minutes.StageSnapshot
}

// Advance runs stages for the job until it reaches a terminal status or
// hitl_pending. A stage failure moves the job to failed and is not returned;
// the returned error means the pass was interrupted and the message should be
// redelivered.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) (err error) {
	ctx = logging.ContextWithJob(ctx, jobID.String())
	ctx, span := o.tracer.StartAdvanceSpan(ctx, jobID, "")
	defer func() {
		observability.EndSpan(span, err, string(mnerrors.CodeOf(err)), err != nil)
	}()
	for {
		job, err := o.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() || job.Status == minutes.StatusHITLPending {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if job.Status == minutes.StatusQueued {
			tr, err := state.Next(job.Status, state.Event{Type: state.EventStart})
			if err != nil {
				return err
			}
			state.Apply(job, tr, o.now())
			if err := o.store.Commit(ctx, job, nil); err != nil {
				if mnerrors.IsConflict(err) {
					continue
				}
				return err
			}
			o.afterTransition(ctx, job, tr, "Processing started", nil, nil)
			continue
		}

		if err := o.step(ctx, job); err != nil {
			return err
		}
	}
}

// step runs the stage for job.Status and commits its outcome.
func (o *Orchestrator) step(ctx context.Context, job *minutes.Job) error {
	stage := job.Status.Stage()
	ctx = logging.ContextWithStage(ctx, stage)
	ctx, span := o.tracer.StartStageSpan(ctx, job.ID, stage)
	log := o.logger.WithContext(ctx)

	started := time.Now()
	res, err := o.run(ctx, job)
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			observability.EndSpan(span, err, string(mnerrors.CodeContextCancelled), true)
			log.Warn("Stage interrupted", logging.F("stage", stage), logging.Err(err))
			return ctx.Err()
		}
		perr := mnerrors.ClassifyError(err, stage)
		observability.EndSpan(span, err, string(perr.Code), mnerrors.IsRetryable(perr.Code))
		if o.metrics != nil {
			o.metrics.RecordStage(stage, elapsed, string(perr.Code))
		}
		return o.fail(ctx, job, perr, elapsed)
	}
	observability.EndSpan(span, nil, "", false)
	if o.metrics != nil {
		o.metrics.RecordStage(stage, elapsed, "")
	}

	tr, err := state.Next(job.Status, res.event)
	if err != nil {
		return err
	}
	state.Apply(job, tr, o.now())
	if err := o.store.Commit(ctx, job, res.snap); err != nil {
		if mnerrors.IsConflict(err) {
			log.Info("Job changed while stage ran, abandoning stale result", logging.F("stage", stage))
			return nil
		}
		return fmt.Errorf("failed to commit %s result: %w", stage, err)
	}
	job.Attach(res.snap)

	fields := map[string]any{"stage": stage}
	o.afterTransition(ctx, job, tr, stageMessage(stage), fields, &elapsed)
	o.logWarnings(ctx, job, stage, res.snap)
	if stage == minutes.StageValidation && o.metrics != nil && job.Validation != nil {
		s := job.Validation.Scores
		o.metrics.RecordValidation(s.Grammar, s.Locale, s.Coherence, s.Overall, tr.To == minutes.StatusHITLPending)
	}
	return nil
}

// run dispatches to the stage implementation for the job's status.
func (o *Orchestrator) run(ctx context.Context, job *minutes.Job) (*stageResult, error) {
	switch job.Status {
	case minutes.StatusProcessingExtraction:
		ext, err := o.stages.Extractor.Extract(ctx, job.Files)
		if err != nil {
			return nil, err
		}
		return &stageResult{
			event: state.Event{Type: state.EventExtracted},
			snap:  &minutes.StageSnapshot{Kind: minutes.SnapshotExtraction, Extraction: ext},
		}, nil

	case minutes.StatusProcessingDraft:
		if job.Extraction == nil {
			return nil, mnerrors.New(mnerrors.CodeProcessingError, minutes.StageDraft, "extraction snapshot missing", nil)
		}
		draft, err := o.stages.Drafter.Draft(ctx, job.Files, job.Extraction)
		if err != nil {
			return nil, err
		}
		return &stageResult{
			event: state.Event{Type: state.EventDrafted},
			snap:  &minutes.StageSnapshot{Kind: minutes.SnapshotDraft, Draft: draft},
		}, nil

	case minutes.StatusProcessingValidation:
		if job.Draft == nil {
			return nil, mnerrors.New(mnerrors.CodeProcessingError, minutes.StageValidation, "draft snapshot missing", nil)
		}
		report := o.stages.Validator.Validate(ctx, job.Draft, job.Config)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		review := report.RequiresHumanReview || job.Config.RequireHumanReview
		return &stageResult{
			event: state.Event{Type: state.EventValidated, RequiresReview: review},
			snap:  &minutes.StageSnapshot{Kind: minutes.SnapshotValidation, Validation: report},
		}, nil

	case minutes.StatusProcessingRefinement:
		if job.Draft == nil || job.Validation == nil {
			return nil, mnerrors.New(mnerrors.CodeProcessingError, minutes.StageRefinement, "draft or validation snapshot missing", nil)
		}
		final, err := o.stages.Refiner.Refine(ctx, refinement.Input{
			Draft:      job.Draft,
			Validation: job.Validation,
			HumanEdits: job.Review.EditedSegments,
			Review:     job.Review,
			Config:     job.Config,
		})
		if err != nil {
			return nil, err
		}
		return &stageResult{
			event: state.Event{Type: state.EventRefined, Narrate: job.Config.Narrate},
			snap:  &minutes.StageSnapshot{Kind: minutes.SnapshotFinal, Final: final},
		}, nil

	case minutes.StatusProcessingNarration:
		if job.Final == nil {
			return nil, mnerrors.New(mnerrors.CodeProcessingError, minutes.StageNarration, "final minutes missing", nil)
		}
		voice := job.Config.NarrationVoice
		if voice == "" {
			voice = o.defaultVoice
		}
		urls, err := o.stages.Narrator.Narrate(ctx, job.ID.String(), job.Final, voice)
		if err != nil {
			return nil, err
		}
		err = o.store.UpdateProgress(ctx, job.ID, job.Status, state.ProgressNarrated, state.StepLabel(job.Status))
		switch {
		case errors.Is(err, mnerrors.ErrConflict):
			o.logger.WithContext(ctx).Debug("Job left narration before checkpoint", logging.Err(err))
		case err != nil:
			o.logger.WithContext(ctx).Warn("Failed to record narration progress", logging.Err(err))
		}
		final := *job.Final
		final.Narration = urls
		return &stageResult{
			event: state.Event{Type: state.EventNarrated},
			snap:  &minutes.StageSnapshot{Kind: minutes.SnapshotFinal, Final: &final},
		}, nil
	}
	return nil, fmt.Errorf("%w: no stage for status %s", mnerrors.ErrInvalidState, job.Status)
}

// fail commits the failure transition for a stage error.
func (o *Orchestrator) fail(ctx context.Context, job *minutes.Job, perr *mnerrors.PipelineError, elapsed time.Duration) error {
	log := o.logger.WithContext(ctx)
	for attempt := 0; ; attempt++ {
		tr, err := state.Next(job.Status, state.Event{Type: state.EventFail})
		if err != nil {
			return nil
		}
		state.ApplyFailure(job, tr, string(perr.Code), perr.Error(), o.now())
		err = o.store.Commit(ctx, job, nil)
		if err == nil {
			log.Error("Stage failed", logging.F("stage", perr.Stage), logging.F("error_code", perr.Code), logging.Err(perr))
			fields := map[string]any{
				"stage":      perr.Stage,
				"error_code": string(perr.Code),
				"retryable":  mnerrors.IsRetryable(perr.Code),
				"suggestion": mnerrors.GetSuggestedAction(perr.Code),
			}
			o.afterTransition(ctx, job, tr, perr.Error(), fields, &elapsed)
			return nil
		}
		if !mnerrors.IsConflict(err) || attempt > 0 {
			return fmt.Errorf("failed to record stage failure: %w", err)
		}
		fresh, gerr := o.store.Get(ctx, job.ID)
		if gerr != nil {
			return gerr
		}
		if fresh.Status.IsTerminal() || fresh.Status != tr.From {
			return nil
		}
		job = fresh
	}
}

func stageMessage(stage string) string {
	switch stage {
	case minutes.StageExtraction:
		return "Extraction completed"
	case minutes.StageDraft:
		return "Draft transcript generated"
	case minutes.StageValidation:
		return "Validation completed"
	case minutes.StageRefinement:
		return "Minutes refined"
	case minutes.StageNarration:
		return "Narration completed"
	}
	return "Stage completed"
}

// isInterrupted reports whether err came from context cancellation.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
