package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/api"
)

// Review command flags.
var (
	reviewReviewer string
	reviewApprove  bool
	reviewResolve  []string
	reviewIgnore   []string
	reviewNotes    string
	reviewEdits    string
	reviewAll      bool
)

// NewReviewCommand creates the review command with all subcommands.
func NewReviewCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review jobs waiting for a human",
		Long: `Inspect and answer jobs in hitl_pending.

A job stops for review when its validation score is below the auto-approval
threshold, when a critical issue was found, or when the submitter asked for
review. 'review show' lists the open issues; 'review submit' records the
reviewer's decision. An approved review resumes refinement. Without
--approve the edits and notes are saved and the job keeps waiting.

Examples:
  # List open issues
  minutes review show 7b0c3f5e-8a2d-4a9e-9f59-5d1b2b4f0e21

  # Accept two suggestions, dismiss one and approve
  minutes review submit 7b0c3f5e-... --reviewer bob \
      --resolve 01J9Z...,01J9Y... --ignore 01J9X... --approve

  # Apply segment edits from a file
  minutes review submit 7b0c3f5e-... --reviewer bob --edits edits.json --approve`,
	}

	cmd.AddCommand(newReviewShowCommand(deps))
	cmd.AddCommand(newReviewSubmitCommand(deps))

	return cmd
}

func newReviewShowCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "List the validation issues of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviewShow(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}
	cmd.Flags().BoolVarP(&reviewAll, "all", "a", false, "Include issues already resolved or ignored")
	cmd.Flags().StringVarP(&jobOutput, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newReviewSubmitCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit a review decision",
		Long: `Submit a review for a job in hitl_pending.

--edits reads a JSON array of transcript segments. A segment with a known id
replaces that segment's text, keeping its timing unless new timing is given.
A segment without an id is added. Use - to read from stdin.

Issue ids are the ids shown by 'minutes review show'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReviewSubmit(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), deps, args[0])
		},
	}

	cmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer id (required)")
	cmd.Flags().BoolVar(&reviewApprove, "approve", false, "Approve the transcript and resume processing")
	cmd.Flags().StringSliceVar(&reviewResolve, "resolve", nil, "Issue ids whose suggestion is accepted")
	cmd.Flags().StringSliceVar(&reviewIgnore, "ignore", nil, "Issue ids to dismiss")
	cmd.Flags().StringVar(&reviewNotes, "notes", "", "Reviewer notes")
	cmd.Flags().StringVar(&reviewEdits, "edits", "", "JSON file of edited segments, or - for stdin")
	cmd.Flags().StringVarP(&jobOutput, "output", "o", "", "Output format: text, json, yaml")
	_ = cmd.MarkFlagRequired("reviewer")

	return cmd
}

func runReviewShow(ctx context.Context, out io.Writer, deps *CommandDeps, rawID string) error {
	id, err := parseJobID(rawID)
	if err != nil {
		return err
	}
	cfg, c, err := deps.connect()
	if err != nil {
		return err
	}
	format, err := resolveFormat(cfg, jobOutput)
	if err != nil {
		return err
	}

	job, err := c.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Validation == nil {
		return fmt.Errorf("job %s has no validation report yet (status %s)", id, job.Status)
	}

	issues := openIssues(job, reviewAll)
	if ok, err := writeStructured(out, format, issues); ok {
		return err
	}

	v := job.Validation
	fmt.Fprintf(out, "Job %s: %s%s%s, overall score %.2f\n", job.ID, statusColor(job.Status), job.Status, colorReset, v.Scores.Overall)
	for _, r := range v.ReviewReasons {
		fmt.Fprintf(out, "  - %s\n", r)
	}
	fmt.Fprintln(out)
	if len(issues) == 0 {
		fmt.Fprintln(out, "No open issues.")
		return nil
	}

	fmt.Fprintln(out, "  ID                          SEVERITY  CATEGORY     SEGMENT       ORIGINAL -> SUGGESTED")
	fmt.Fprintln(out, "  --                          --------  --------     -------       ---------------------")
	for _, is := range issues {
		change := truncate(is.Original, 30)
		if is.Suggested != "" {
			change += " -> " + truncate(is.Suggested, 30)
		}
		fmt.Fprintf(out, "  %-27s %-9s %-12s %-13s %s\n",
			is.ID, is.Severity, is.Category, truncate(is.SegmentID, 13), change)
	}
	return nil
}

// openIssues returns the issues the reviewer has not handled, or all of them.
func openIssues(job *minutes.Job, all bool) []minutes.ValidationIssue {
	out := make([]minutes.ValidationIssue, 0, len(job.Validation.Issues))
	for _, is := range job.Validation.Issues {
		if all || !job.Review.Handled(is.ID) {
			out = append(out, is)
		}
	}
	return out
}

func readEdits(in io.Reader, path string) ([]minutes.TranscriptSegment, error) {
	if path == "" {
		return nil, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading edits: %w", err)
	}
	var segs []minutes.TranscriptSegment
	if err := json.Unmarshal(data, &segs); err != nil {
		return nil, fmt.Errorf("parsing edits %s: %w", path, err)
	}
	return segs, nil
}

func trimIDs(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func runReviewSubmit(ctx context.Context, in io.Reader, out io.Writer, deps *CommandDeps, rawID string) error {
	id, err := parseJobID(rawID)
	if err != nil {
		return err
	}
	edits, err := readEdits(in, reviewEdits)
	if err != nil {
		return err
	}
	cfg, c, err := deps.connect()
	if err != nil {
		return err
	}
	format, err := resolveFormat(cfg, jobOutput)
	if err != nil {
		return err
	}

	job, err := c.SubmitReview(ctx, id, api.ReviewRequest{
		ReviewerID:       reviewReviewer,
		EditedSegments:   edits,
		ResolvedIssueIDs: trimIDs(reviewResolve),
		IgnoredIssueIDs:  trimIDs(reviewIgnore),
		Approved:         reviewApprove,
		Notes:            reviewNotes,
	})
	if err != nil {
		return err
	}
	if ok, err := writeStructured(out, format, job); ok {
		return err
	}
	if reviewApprove {
		fmt.Fprintf(out, "Review approved; job %s is %s\n", job.ID, job.Status)
	} else {
		fmt.Fprintf(out, "Review saved; job %s is still %s\n", job.ID, job.Status)
	}
	return nil
}
