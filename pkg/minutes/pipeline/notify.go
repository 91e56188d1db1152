package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/observability"
	"github.com/otherjamesbrown/minutes/pkg/minutes/state"
)

// afterTransition performs the log and notify effects of a committed transition.
func (o *Orchestrator) afterTransition(ctx context.Context, job *minutes.Job, tr state.Transition, msg string, fields map[string]any, elapsed *time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordTransition(string(tr.From), string(tr.To))
	}

	level := minutes.LogInfo
	if tr.Has(state.EffectRecordError) {
		level = minutes.LogError
	}
	if tr.Has(state.EffectAppendLog) {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["from"] = string(tr.From)
		fields["to"] = string(tr.To)
		var metrics map[string]float64
		if tr.From == minutes.StatusProcessingValidation && job.Validation != nil {
			s := job.Validation.Scores
			metrics = map[string]float64{
				"grammar":   s.Grammar,
				"locale":    s.Locale,
				"coherence": s.Coherence,
				"overall":   s.Overall,
			}
		}
		o.appendLog(ctx, job, level, tr.From.Stage(), msg, fields, elapsed, withMetrics(metrics))
	}

	if tr.Has(state.EffectNotify) {
		o.notify(ctx, job, eventType(tr), tr.From.Stage(), durationMs(elapsed), nil)
	}
}

type logOption func(*minutes.JobLog)

func withMetrics(m map[string]float64) logOption {
	return func(l *minutes.JobLog) { l.Metrics = m }
}

// appendLog writes a JobLog entry. Failures are logged, never returned.
func (o *Orchestrator) appendLog(ctx context.Context, job *minutes.Job, level, stage, msg string, fields map[string]any, elapsed *time.Duration, opts ...logOption) {
	entry := &minutes.JobLog{
		ID:        uuid.New(),
		JobID:     job.ID,
		Level:     level,
		Stage:     stage,
		Message:   msg,
		Context:   fields,
		CreatedAt: o.now(),
	}
	if elapsed != nil {
		ms := elapsed.Milliseconds()
		entry.DurationMs = &ms
	}
	for _, opt := range opts {
		opt(entry)
	}
	if err := o.store.AppendLog(ctx, entry); err != nil {
		o.logger.WithContext(ctx).Warn("Failed to append job log", logging.F("job_id", job.ID), logging.Err(err))
	}
}

// notify publishes a job event. Failures are logged, never returned.
func (o *Orchestrator) notify(ctx context.Context, job *minutes.Job, eventType, stage string, ms int64, mutate func(*observability.JobEvent)) {
	ev := observability.NewJobEvent(eventType, job.ID, string(job.Status), job.Progress)
	ev.UserID = job.UserID
	ev.Step = job.CurrentStep
	ev.Stage = stage
	ev.DurationMs = ms
	ev.ErrorCode = job.ErrorCode
	ev.ErrorMessage = job.ErrorMessage
	ev.TraceID = observability.TraceID(ctx)
	if mutate != nil {
		mutate(ev)
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.logger.WithContext(ctx).Warn("Failed to publish job event",
			logging.F("job_id", job.ID), logging.F("event", eventType), logging.Err(err))
	}
}

// logWarnings derives warning entries from a committed snapshot.
func (o *Orchestrator) logWarnings(ctx context.Context, job *minutes.Job, stage string, snap *minutes.StageSnapshot) {
	if snap == nil {
		return
	}
	var warnings []string
	switch {
	case snap.Extraction != nil:
		for _, s := range snap.Extraction.Skipped {
			warnings = append(warnings, fmt.Sprintf("Skipped %s: %s", s.Name, s.Reason))
		}
		for _, s := range snap.Extraction.Failed {
			warnings = append(warnings, fmt.Sprintf("Could not extract %s: %s", s.Name, s.Reason))
		}
	case snap.Draft != nil:
		if snap.Draft.Source == minutes.SourceAudio && !snap.Draft.Enhanced {
			warnings = append(warnings, "Transcript enhancement unavailable, using raw speech-to-text output")
		}
	case snap.Final != nil && stage == minutes.StageNarration:
		if snap.Final.Narration.Empty() {
			warnings = append(warnings, "No narration artifacts were produced")
		}
	}
	for _, w := range warnings {
		o.appendLog(ctx, job, minutes.LogWarn, stage, w, nil, nil)
	}
}

func eventType(tr state.Transition) string {
	switch tr.To {
	case minutes.StatusHITLPending:
		return observability.EventHITLPending
	case minutes.StatusComplete:
		return observability.EventJobCompleted
	case minutes.StatusFailed:
		return observability.EventJobFailed
	case minutes.StatusCancelled:
		return observability.EventJobCancelled
	}
	if tr.Event == state.EventRetry {
		return observability.EventJobRetried
	}
	if tr.Event == state.EventStart {
		return observability.EventProgress
	}
	return observability.EventStageCompleted
}

func durationMs(d *time.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.Milliseconds()
}
