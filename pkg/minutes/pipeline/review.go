package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/observability"
	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
	"github.com/otherjamesbrown/minutes/pkg/minutes/refinement"
	"github.com/otherjamesbrown/minutes/pkg/minutes/state"
)

// Submission is a reviewer's response to a job in hitl_pending.
type Submission struct {
	JobID            uuid.UUID                   `json:"-"`
	ReviewerID       string                      `json:"reviewer_id"`
	EditedSegments   []minutes.TranscriptSegment `json:"edited_segments,omitempty"`
	ResolvedIssueIDs []string                    `json:"resolved_issue_ids,omitempty"`
	IgnoredIssueIDs  []string                    `json:"ignored_issue_ids,omitempty"`
	Approved         bool                        `json:"approved"`
	Notes            string                      `json:"notes,omitempty"`
}

// SubmitReview records a review. Edits become a new human draft snapshot.
// An approved review resumes the job at refinement; otherwise the job stays
// in hitl_pending with the review saved.
func (o *Orchestrator) SubmitReview(ctx context.Context, sub Submission) (*minutes.Job, error) {
	job, err := o.store.Get(ctx, sub.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != minutes.StatusHITLPending {
		return job, fmt.Errorf("%w: job %s is %s, not awaiting review", mnerrors.ErrInvalidTransition, job.ID, job.Status)
	}
	if strings.TrimSpace(sub.ReviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer_id is required", mnerrors.ErrValidation)
	}
	if job.Draft == nil {
		return nil, fmt.Errorf("%w: job %s has no draft", mnerrors.ErrInvalidState, job.ID)
	}
	if err := checkIssueIDs(job.Validation, sub.ResolvedIssueIDs, sub.IgnoredIssueIDs); err != nil {
		return nil, err
	}
	edits, err := normalizeEdits(job.Draft.Segments, sub.EditedSegments)
	if err != nil {
		return nil, err
	}

	now := o.now()
	job.Review.ReviewerID = sub.ReviewerID
	job.Review.Notes = sub.Notes
	job.Review.Approved = sub.Approved
	job.Review.ResolvedIssueIDs = appendUnique(job.Review.ResolvedIssueIDs, sub.ResolvedIssueIDs...)
	job.Review.IgnoredIssueIDs = appendUnique(job.Review.IgnoredIssueIDs, sub.IgnoredIssueIDs...)
	job.Review.EditedSegments = refinement.MergeEdits(job.Review.EditedSegments, edits)
	job.UpdatedAt = now

	var snap *minutes.StageSnapshot
	if len(edits) > 0 {
		draft := *job.Draft
		draft.Segments = refinement.MergeEdits(job.Draft.Segments, edits)
		draft.Source = minutes.SourceHuman
		draft.GeneratedAt = now
		snap = &minutes.StageSnapshot{Kind: minutes.SnapshotDraft, Draft: &draft}
	}

	var tr state.Transition
	if sub.Approved {
		tr, err = state.Next(job.Status, state.Event{Type: state.EventReviewSubmitted})
		if err != nil {
			return job, err
		}
		t := now
		job.Review.CompletedAt = &t
		state.Apply(job, tr, now)
	}

	if err := o.store.Commit(ctx, job, snap); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}
	job.Attach(snap)

	fields := map[string]any{
		"reviewer_id": sub.ReviewerID,
		"approved":    sub.Approved,
		"edits":       len(edits),
		"resolved":    len(sub.ResolvedIssueIDs),
		"ignored":     len(sub.IgnoredIssueIDs),
	}
	if !sub.Approved {
		o.appendLog(ctx, job, minutes.LogInfo, minutes.StageValidation, "Review saved", fields, nil)
		o.notify(ctx, job, observability.EventReviewSaved, minutes.StageValidation, 0, nil)
		return job, nil
	}

	o.afterTransition(ctx, job, tr, "Review approved", fields, nil)
	if err := o.queue.Enqueue(ctx, queues.Message{JobID: job.ID, Reason: queues.ReasonReviewed}); err != nil {
		o.logger.WithContext(ctx).Error("Failed to enqueue reviewed job", logging.F("job_id", job.ID), logging.Err(err))
		return job, fmt.Errorf("review saved but job not enqueued: %w", err)
	}
	return job, nil
}

func checkIssueIDs(report *minutes.ValidationReport, lists ...[]string) error {
	known := make(map[string]bool)
	if report != nil {
		for _, i := range report.Issues {
			known[i.ID] = true
		}
	}
	for _, ids := range lists {
		for _, id := range ids {
			if !known[id] {
				return fmt.Errorf("%w: unknown issue id %q", mnerrors.ErrValidation, id)
			}
		}
	}
	return nil
}

// normalizeEdits checks edits against the draft. Edits to existing segments
// with no usable timing keep the original timing; new segments get the next
// free id and must carry their own timing.
func normalizeEdits(draft, edits []minutes.TranscriptSegment) ([]minutes.TranscriptSegment, error) {
	index := make(map[string]minutes.TranscriptSegment, len(draft))
	for _, s := range draft {
		index[s.ID] = s
	}
	next := len(draft)
	out := make([]minutes.TranscriptSegment, 0, len(edits))
	for _, e := range edits {
		e.Text = strings.TrimSpace(e.Text)
		if e.Confidence == 0 {
			e.Confidence = 1
		}
		if e.ID == "" {
			if e.End <= e.Start {
				return nil, fmt.Errorf("%w: new segment needs end after start", mnerrors.ErrValidation)
			}
			e.ID = minutes.SegmentID(next)
			next++
			out = append(out, e)
			continue
		}
		orig, ok := index[e.ID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown segment id %q", mnerrors.ErrValidation, e.ID)
		}
		if e.End <= e.Start {
			e.Start, e.End = orig.Start, orig.End
		}
		if e.Speaker == "" {
			e.Speaker = orig.Speaker
		}
		out = append(out, e)
	}
	return out, nil
}

func appendUnique(dst []string, ids ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, id := range dst {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			dst = append(dst, id)
		}
	}
	return dst
}
