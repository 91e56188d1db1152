package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/minutes/client"
	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// Job command flags.
var (
	jobUser         string
	jobNarrate      bool
	jobVoice        string
	jobTone         string
	jobLanguage     string
	jobReview       bool
	jobThreshold    float64
	jobNoLocale     bool
	jobWait         bool
	jobWaitInterval time.Duration
	jobWaitTimeout  time.Duration
	jobLogsLimit    int
	jobOutput       string
)

// NewJobCommand creates the job command with all subcommands.
func NewJobCommand(deps *CommandDeps) *cobra.Command {
	deps = deps.orDefault()

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and track meeting processing jobs",
		Long: `Submit meeting materials and track the job that turns them into minutes.

A job moves through extraction, draft, validation, optional human review,
refinement and optional narration. Each command here talks to the minutes
API at the configured server URL (--server or client.server_url).

Examples:
  # Upload a recording and slides and wait for the result
  minutes job submit standup.mp3 slides.pdf --user alice --wait

  # Check progress
  minutes job status 7b0c3f5e-8a2d-4a9e-9f59-5d1b2b4f0e21

  # Show the stage log
  minutes job logs 7b0c3f5e-8a2d-4a9e-9f59-5d1b2b4f0e21`,
		Aliases: []string{"jobs"},
	}

	cmd.PersistentFlags().StringVarP(&jobOutput, "output", "o", "", "Output format: text, json, yaml")

	cmd.AddCommand(newJobSubmitCommand(deps))
	cmd.AddCommand(newJobStatusCommand(deps))
	cmd.AddCommand(newJobLogsCommand(deps))
	cmd.AddCommand(newJobCancelCommand(deps))
	cmd.AddCommand(newJobRetryCommand(deps))

	return cmd
}

func newJobSubmitCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Upload files and create a job",
		Long: `Upload one or more meeting files and create a processing job.

Accepted inputs are audio (mp3, wav, m4a, ogg, webm, flac), video (mp4, mov,
mkv, webm), documents (pdf, docx, txt, md), images (png, jpg) and WebVTT
captions. Files are uploaded first, then the job is created from their
descriptors.

With --wait the command polls until the job completes, fails, is cancelled
or stops for human review.`,
		Example: `  minutes job submit meeting.mp3 --user alice
  minutes job submit call.mp4 agenda.docx --narrate --voice nova --wait
  minutes job submit notes.vtt --review --tone formal`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobSubmit(cmd.Context(), cmd.OutOrStdout(), deps, args)
		},
	}

	def := minutes.DefaultProcessingConfig()
	cmd.Flags().StringVar(&jobUser, "user", "", "Submitting user id (required)")
	cmd.Flags().BoolVar(&jobNarrate, "narrate", def.Narrate, "Produce narration audio for the final minutes")
	cmd.Flags().StringVar(&jobVoice, "voice", "", "Narration voice (default from server config)")
	cmd.Flags().StringVar(&jobTone, "tone", "", "Refinement tone, e.g. formal or concise")
	cmd.Flags().StringVar(&jobLanguage, "language", "", "Spoken language hint, e.g. en")
	cmd.Flags().BoolVar(&jobReview, "review", def.RequireHumanReview, "Always stop for human review")
	cmd.Flags().Float64Var(&jobThreshold, "threshold", def.AutoApprovalThreshold, "Auto-approval score threshold in [0,1]")
	cmd.Flags().BoolVar(&jobNoLocale, "no-locale", !def.LocaleContext, "Skip the locale dictionary checks")
	cmd.Flags().BoolVar(&jobWait, "wait", false, "Wait until the job settles")
	cmd.Flags().DurationVar(&jobWaitInterval, "interval", 3*time.Second, "Polling interval for --wait")
	cmd.Flags().DurationVar(&jobWaitTimeout, "wait-timeout", 30*time.Minute, "Give up waiting after this long")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newJobStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "status <job-id>",
		Short:   "Show a job",
		Aliases: []string{"get", "show"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd.Context(), cmd.OutOrStdout(), deps, args[0], (*client.Client).GetJob)
		},
	}
}

func newJobLogsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show the stage log of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobLogs(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}
	cmd.Flags().IntVarP(&jobLogsLimit, "limit", "n", 0, "Show at most this many entries (0 for all)")
	return cmd
}

func newJobCancelCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Long: `Cancel a job that has not finished.

A stage that is already running completes; its result is discarded and the
job stops before the next stage.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd.Context(), cmd.OutOrStdout(), deps, args[0], (*client.Client).Cancel)
		},
	}
}

func newJobRetryCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job from the stage that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAction(cmd.Context(), cmd.OutOrStdout(), deps, args[0], (*client.Client).Retry)
		},
	}
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", s, err)
	}
	return id, nil
}

func runJobSubmit(ctx context.Context, out io.Writer, deps *CommandDeps, paths []string) error {
	cfg, c, err := deps.connect()
	if err != nil {
		return err
	}
	format, err := resolveFormat(cfg, jobOutput)
	if err != nil {
		return err
	}

	pc := minutes.ProcessingConfig{
		LocaleContext:         !jobNoLocale,
		AutoApprovalThreshold: jobThreshold,
		RequireHumanReview:    jobReview,
		Narrate:               jobNarrate,
		NarrationVoice:        jobVoice,
		Tone:                  jobTone,
		Language:              jobLanguage,
	}
	if err := pc.Validate(); err != nil {
		return err
	}

	files := make([]minutes.FileInfo, 0, len(paths))
	for _, p := range paths {
		fi, err := c.UploadFile(ctx, p)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", p, err)
		}
		if format == config.OutputFormatText {
			fmt.Fprintf(out, "Uploaded %s (%s, %d bytes)\n", fi.OriginalName, fi.MIMEType, fi.Size)
		}
		files = append(files, *fi)
	}

	resp, err := c.CreateJob(ctx, jobUser, files, pc)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	if !jobWait {
		if ok, err := writeStructured(out, format, resp); ok {
			return err
		}
		fmt.Fprintf(out, "Job %s %s\n", resp.JobID, resp.Status)
		return nil
	}

	if format == config.OutputFormatText {
		fmt.Fprintf(out, "Job %s created, waiting...\n", resp.JobID)
	}
	waitCtx, cancel := context.WithTimeout(ctx, jobWaitTimeout)
	defer cancel()
	var last minutes.Status
	job, err := c.Wait(waitCtx, resp.JobID, jobWaitInterval, client.Settled, func(j *minutes.Job) {
		if format == config.OutputFormatText && j.Status != last {
			fmt.Fprintf(out, "  %s%-22s%s %3d%%  %s\n", statusColor(j.Status), j.Status, colorReset, j.Progress, j.CurrentStep)
			last = j.Status
		}
	})
	if err != nil && !errors.Is(err, client.ErrWaitTimeout) {
		return err
	}
	if job != nil {
		if ok, werr := writeStructured(out, format, job); ok {
			if werr != nil {
				return werr
			}
		} else {
			fmt.Fprintln(out)
			outputJobText(out, job)
		}
	}
	return err
}

func runJobAction(ctx context.Context, out io.Writer, deps *CommandDeps, rawID string, action func(*client.Client, context.Context, uuid.UUID) (*minutes.Job, error)) error {
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

	job, err := action(c, ctx, id)
	if err != nil {
		return err
	}
	if ok, err := writeStructured(out, format, job); ok {
		return err
	}
	outputJobText(out, job)
	return nil
}

func runJobLogs(ctx context.Context, out io.Writer, deps *CommandDeps, rawID string) error {
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

	logs, err := c.Logs(ctx, id, jobLogsLimit)
	if err != nil {
		return err
	}
	if ok, err := writeStructured(out, format, logs); ok {
		return err
	}
	if len(logs) == 0 {
		fmt.Fprintln(out, "No log entries.")
		return nil
	}
	for _, l := range logs {
		stage := l.Stage
		if stage == "" {
			stage = "-"
		}
		line := fmt.Sprintf("%s  %-5s  %-11s  %s", l.CreatedAt.Local().Format("2006-01-02 15:04:05"), strings.ToUpper(l.Level), stage, l.Message)
		if l.DurationMs != nil {
			line += fmt.Sprintf(" (%s)", (time.Duration(*l.DurationMs) * time.Millisecond).Round(time.Millisecond))
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func outputJobText(out io.Writer, job *minutes.Job) {
	fmt.Fprintf(out, "Job:       %s\n", job.ID)
	fmt.Fprintf(out, "User:      %s\n", job.UserID)
	fmt.Fprintf(out, "Status:    %s%s%s\n", statusColor(job.Status), job.Status, colorReset)
	fmt.Fprintf(out, "Progress:  %d%%\n", job.Progress)
	if job.CurrentStep != "" {
		fmt.Fprintf(out, "Step:      %s\n", job.CurrentStep)
	}
	fmt.Fprintf(out, "Files:     %d\n", len(job.Files))
	fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:   %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s (%s, failed in %s)\n", job.ErrorMessage, job.ErrorCode, job.FailedStatus)
	}

	if v := job.Validation; v != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Validation: overall %.2f (grammar %.2f, locale %.2f, coherence %.2f)\n",
			v.Scores.Overall, v.Scores.Grammar, v.Scores.Locale, v.Scores.Coherence)
		fmt.Fprintf(out, "Issues:     %d", len(v.Issues))
		if n := v.CountSeverity(minutes.SeverityCritical); n > 0 {
			fmt.Fprintf(out, " (%d critical)", n)
		}
		fmt.Fprintln(out)
		if len(v.ReviewReasons) > 0 {
			fmt.Fprintf(out, "Review:     %s\n", strings.Join(v.ReviewReasons, "; "))
		}
	}

	if job.Status == minutes.StatusHITLPending {
		fmt.Fprintf(out, "\nWaiting for review: minutes review show %s\n", job.ID)
	}

	if f := job.Final; f != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Title:      %s\n", f.Title)
		fmt.Fprintf(out, "Quality:    %.2f\n", f.QualityScore)
		fmt.Fprintf(out, "Decisions:  %d\n", len(f.Decisions))
		fmt.Fprintf(out, "Actions:    %d\n", len(f.ActionItems))
		if !f.Narration.Empty() {
			fmt.Fprintln(out, "Narration:")
			for _, u := range []struct{ name, url string }{
				{"summary", f.Narration.Summary},
				{"key points", f.Narration.KeyPoints},
				{"transcript", f.Narration.Transcript},
			} {
				if u.url != "" {
					fmt.Fprintf(out, "  %-11s %s\n", u.name, u.url)
				}
			}
		}
	}
}
