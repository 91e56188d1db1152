// Package state is the job state machine. Next is a pure function from a
// status and an event to a Transition; the orchestrator applies transitions
// and carries out their side effects against the job store.
package state

import (
	"fmt"
	"time"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// EventType names a pipeline event.
type EventType string

const (
	EventStart           EventType = "start"
	EventExtracted       EventType = "extracted"
	EventDrafted         EventType = "drafted"
	EventValidated       EventType = "validated"
	EventReviewSubmitted EventType = "review_submitted"
	EventRefined         EventType = "refined"
	EventNarrated        EventType = "narrated"
	EventFail            EventType = "fail"
	EventCancel          EventType = "cancel"
	EventRetry           EventType = "retry"
)

// Event is an input to Next.
type Event struct {
	Type EventType

	// RequiresReview is read for EventValidated.
	RequiresReview bool

	// Narrate is read for EventRefined.
	Narrate bool

	// Reenter is the status to resume for EventRetry.
	Reenter minutes.Status
}

// Effect is a side effect the orchestrator performs after committing a transition.
type Effect string

const (
	EffectPersistSnapshot Effect = "persist_snapshot"
	EffectAppendLog       Effect = "append_log"
	EffectNotify          Effect = "notify"
	EffectEnqueue         Effect = "enqueue"
	EffectSuspend         Effect = "suspend"
	EffectRecordError     Effect = "record_error"
)

// Transition is the outcome of Next.
type Transition struct {
	From     minutes.Status
	To       minutes.Status
	Event    EventType
	Progress int
	Step     string

	// Snapshot is the stage output committed together with the status change.
	Snapshot minutes.SnapshotKind
	Effects  []Effect
}

// Has reports whether the transition carries effect e.
func (t Transition) Has(e Effect) bool {
	for _, x := range t.Effects {
		if x == e {
			return true
		}
	}
	return false
}

// Progress checkpoints.
const (
	ProgressStarted   = 5
	ProgressExtracted = 25
	ProgressDrafted   = 50
	ProgressValidated = 60
	ProgressRefined   = 75
	ProgressNarrated  = 90
	ProgressComplete  = 100
)

var stepLabels = map[minutes.Status]string{
	minutes.StatusQueued:               "queued",
	minutes.StatusProcessingExtraction: "extracting content",
	minutes.StatusProcessingDraft:      "drafting transcript",
	minutes.StatusProcessingValidation: "validating transcript",
	minutes.StatusHITLPending:          "awaiting human review",
	minutes.StatusProcessingRefinement: "refining minutes",
	minutes.StatusProcessingNarration:  "narrating minutes",
	minutes.StatusComplete:             "complete",
	minutes.StatusFailed:               "failed",
	minutes.StatusCancelled:            "cancelled",
}

// StepLabel returns the current-step text shown for a status.
func StepLabel(s minutes.Status) string {
	return stepLabels[s]
}

// Next computes the transition for ev from status from. It returns
// ErrInvalidTransition when no edge exists.
func Next(from minutes.Status, ev Event) (Transition, error) {
	tr := Transition{From: from, Event: ev.Type}
	base := []Effect{EffectAppendLog, EffectNotify}

	switch ev.Type {
	case EventCancel:
		if from.IsTerminal() {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusCancelled
		tr.Effects = base

	case EventFail:
		if from.IsTerminal() {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusFailed
		tr.Effects = append([]Effect{EffectRecordError}, base...)

	case EventRetry:
		if from != minutes.StatusFailed {
			return invalid(from, ev)
		}
		if ev.Reenter != minutes.StatusQueued && !ev.Reenter.IsProcessing() {
			return Transition{}, fmt.Errorf("%w: cannot re-enter %q", mnerrors.ErrInvalidTransition, ev.Reenter)
		}
		tr.To = ev.Reenter
		tr.Effects = append(base, EffectEnqueue)

	case EventStart:
		if from != minutes.StatusQueued {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusProcessingExtraction
		tr.Progress = ProgressStarted
		tr.Effects = base

	case EventExtracted:
		if from != minutes.StatusProcessingExtraction {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusProcessingDraft
		tr.Progress = ProgressExtracted
		tr.Snapshot = minutes.SnapshotExtraction
		tr.Effects = withSnapshot(base)

	case EventDrafted:
		if from != minutes.StatusProcessingDraft {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusProcessingValidation
		tr.Progress = ProgressDrafted
		tr.Snapshot = minutes.SnapshotDraft
		tr.Effects = withSnapshot(base)

	case EventValidated:
		if from != minutes.StatusProcessingValidation {
			return invalid(from, ev)
		}
		tr.Progress = ProgressValidated
		tr.Snapshot = minutes.SnapshotValidation
		tr.Effects = withSnapshot(base)
		if ev.RequiresReview {
			tr.To = minutes.StatusHITLPending
			tr.Effects = append(tr.Effects, EffectSuspend)
		} else {
			tr.To = minutes.StatusProcessingRefinement
		}

	case EventReviewSubmitted:
		if from != minutes.StatusHITLPending {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusProcessingRefinement
		tr.Progress = ProgressValidated
		tr.Effects = append(base, EffectEnqueue)

	case EventRefined:
		if from != minutes.StatusProcessingRefinement {
			return invalid(from, ev)
		}
		tr.Snapshot = minutes.SnapshotFinal
		tr.Effects = withSnapshot(base)
		if ev.Narrate {
			tr.To = minutes.StatusProcessingNarration
			tr.Progress = ProgressRefined
		} else {
			tr.To = minutes.StatusComplete
			tr.Progress = ProgressComplete
		}

	case EventNarrated:
		if from != minutes.StatusProcessingNarration {
			return invalid(from, ev)
		}
		tr.To = minutes.StatusComplete
		tr.Progress = ProgressComplete
		tr.Snapshot = minutes.SnapshotFinal
		tr.Effects = withSnapshot(base)

	default:
		return invalid(from, ev)
	}

	tr.Step = StepLabel(tr.To)
	return tr, nil
}

func withSnapshot(base []Effect) []Effect {
	return append([]Effect{EffectPersistSnapshot}, base...)
}

func invalid(from minutes.Status, ev Event) (Transition, error) {
	return Transition{}, fmt.Errorf("%w: %s from %s", mnerrors.ErrInvalidTransition, ev.Type, from)
}

// Apply updates the lifecycle fields of job for tr. Progress never decreases.
func Apply(job *minutes.Job, tr Transition, now time.Time) {
	job.Status = tr.To
	if tr.Progress > job.Progress {
		job.Progress = tr.Progress
	}
	if tr.Step != "" {
		job.CurrentStep = tr.Step
	}
	job.UpdatedAt = now

	switch tr.To {
	case minutes.StatusHITLPending:
		job.Review.Pending = true
		if job.Review.AssignedAt == nil {
			t := now
			job.Review.AssignedAt = &t
		}
	case minutes.StatusProcessingRefinement:
		job.Review.Pending = false
	}

	if tr.Event == EventRetry {
		job.RetryCount++
		job.ErrorMessage = ""
		job.ErrorCode = ""
		job.FailedStatus = ""
	}
}

// ApplyFailure records err on job and applies the failure transition.
func ApplyFailure(job *minutes.Job, tr Transition, code, message string, now time.Time) {
	job.FailedStatus = tr.From
	job.ErrorMessage = message
	job.ErrorCode = code
	job.ErrorCount++
	t := now
	job.LastErrorAt = &t
	Apply(job, tr, now)
}

// CanCancel reports whether a job in s may be cancelled.
func CanCancel(s minutes.Status) bool {
	return !s.IsTerminal()
}
