// Package minutes holds the data contracts shared by the minutes engine: the
// Job record, its audit log, input descriptors and the typed snapshot each
// stage produces.
package minutes

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued               Status = "queued"
	StatusProcessingExtraction Status = "processing_extraction"
	StatusProcessingDraft      Status = "processing_draft"
	StatusProcessingValidation Status = "processing_validation"
	StatusHITLPending          Status = "hitl_pending"
	StatusProcessingRefinement Status = "processing_refinement"
	StatusProcessingNarration  Status = "processing_narration"
	StatusComplete             Status = "complete"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusQueued,
	StatusProcessingExtraction,
	StatusProcessingDraft,
	StatusProcessingValidation,
	StatusHITLPending,
	StatusProcessingRefinement,
	StatusProcessingNarration,
	StatusComplete,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no further transitions leave s (other than retry from failed).
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// IsProcessing reports whether a worker is expected to be running a stage for s.
func (s Status) IsProcessing() bool {
	return strings.HasPrefix(string(s), "processing_")
}

// Stage returns the stage name run in status s, or "" if s runs none.
func (s Status) Stage() string {
	if !s.IsProcessing() {
		return ""
	}
	return strings.TrimPrefix(string(s), "processing_")
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Stage names used in logs, metrics and snapshots.
const (
	StageExtraction = "extraction"
	StageDraft      = "draft"
	StageValidation = "validation"
	StageRefinement = "refinement"
	StageNarration  = "narration"
)

// ProcessingConfig are the per-job options accepted at creation.
type ProcessingConfig struct {
	LocaleContext         bool    `json:"locale_context"`
	AutoApprovalThreshold float64 `json:"auto_approval_threshold"`
	RequireHumanReview    bool    `json:"require_human_review"`
	Narrate               bool    `json:"narrate"`
	NarrationVoice        string  `json:"narration_voice,omitempty"`
	Tone                  string  `json:"tone,omitempty"`
	Language              string  `json:"language,omitempty"`
}

// DefaultAutoApprovalThreshold applies when a job does not set one.
const DefaultAutoApprovalThreshold = 0.90

// DefaultProcessingConfig returns the options used when a request omits them.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		LocaleContext:         true,
		AutoApprovalThreshold: DefaultAutoApprovalThreshold,
	}
}

// Validate checks option ranges.
func (c ProcessingConfig) Validate() error {
	if c.AutoApprovalThreshold < 0 || c.AutoApprovalThreshold > 1 {
		return fmt.Errorf("%w: auto_approval_threshold must be within [0,1], got %v", mnerrors.ErrValidation, c.AutoApprovalThreshold)
	}
	return nil
}

// ReviewState is the human-in-the-loop bookkeeping of a job.
type ReviewState struct {
	Pending          bool                `json:"pending"`
	ReviewerID       string              `json:"reviewer_id,omitempty"`
	AssignedAt       *time.Time          `json:"assigned_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Notes            string              `json:"notes,omitempty"`
	Approved         bool                `json:"approved"`
	ResolvedIssueIDs []string            `json:"resolved_issue_ids,omitempty"`
	IgnoredIssueIDs  []string            `json:"ignored_issue_ids,omitempty"`
	EditedSegments   []TranscriptSegment `json:"edited_segments,omitempty"`
}

// Handled reports whether the reviewer resolved or ignored the issue.
func (r ReviewState) Handled(issueID string) bool {
	for _, id := range r.ResolvedIssueIDs {
		if id == issueID {
			return true
		}
	}
	for _, id := range r.IgnoredIssueIDs {
		if id == issueID {
			return true
		}
	}
	return false
}

// Job is the unit of work.
type Job struct {
	ID     uuid.UUID  `json:"id"`
	UserID string     `json:"user_id"`
	Files  []FileInfo `json:"files"`

	Status      Status `json:"status"`
	Progress    int    `json:"progress_percentage"`
	CurrentStep string `json:"current_step"`

	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Draft      *DraftTranscript  `json:"draft,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Final      *FinalMinutes     `json:"final_minutes,omitempty"`

	Review ReviewState `json:"review"`

	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorCount   int        `json:"error_count"`
	RetryCount   int        `json:"retry_count"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
	FailedStatus Status     `json:"failed_status,omitempty"`

	Config ProcessingConfig `json:"config"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// NewJob builds a queued job after validating its input.
func NewJob(userID string, files []FileInfo, cfg ProcessingConfig) (*Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", mnerrors.ErrValidation)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", mnerrors.ErrValidation)
	}
	for i, f := range files {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
	}
	if cfg.AutoApprovalThreshold == 0 {
		cfg.AutoApprovalThreshold = DefaultAutoApprovalThreshold
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		UserID:      userID,
		Files:       files,
		Status:      StatusQueued,
		CurrentStep: "queued",
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SnapshotFor returns the job's snapshot of the given kind, or nil when absent.
func (j *Job) SnapshotFor(kind SnapshotKind) *StageSnapshot {
	switch kind {
	case SnapshotExtraction:
		if j.Extraction != nil {
			return &StageSnapshot{Kind: kind, Extraction: j.Extraction}
		}
	case SnapshotDraft:
		if j.Draft != nil {
			return &StageSnapshot{Kind: kind, Draft: j.Draft}
		}
	case SnapshotValidation:
		if j.Validation != nil {
			return &StageSnapshot{Kind: kind, Validation: j.Validation}
		}
	case SnapshotFinal:
		if j.Final != nil {
			return &StageSnapshot{Kind: kind, Final: j.Final}
		}
	}
	return nil
}

// Attach stores a snapshot on the job in the slot for its kind.
func (j *Job) Attach(s *StageSnapshot) {
	if s == nil {
		return
	}
	switch s.Kind {
	case SnapshotExtraction:
		j.Extraction = s.Extraction
	case SnapshotDraft:
		j.Draft = s.Draft
	case SnapshotValidation:
		j.Validation = s.Validation
	case SnapshotFinal:
		j.Final = s.Final
	}
}

// FileInfo describes one uploaded input.
type FileInfo struct {
	ID           string    `json:"id"`
	BlobURI      string    `json:"blob_uri"`
	MIMEType     string    `json:"mime_type"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Validate checks the descriptor is usable.
func (f FileInfo) Validate() error {
	if strings.TrimSpace(f.BlobURI) == "" {
		return fmt.Errorf("%w: blob_uri is required", mnerrors.ErrValidation)
	}
	if strings.TrimSpace(f.MIMEType) == "" {
		return fmt.Errorf("%w: mime_type is required for %s", mnerrors.ErrValidation, f.BlobURI)
	}
	if f.Size < 0 {
		return fmt.Errorf("%w: negative size for %s", mnerrors.ErrValidation, f.BlobURI)
	}
	return nil
}

// Name returns the original filename, or the blob URI when none was given.
func (f FileInfo) Name() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return f.BlobURI
}

// Log levels for JobLog entries.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// JobLog is an append-only audit entry.
type JobLog struct {
	ID         uuid.UUID          `json:"id"`
	JobID      uuid.UUID          `json:"job_id"`
	Level      string             `json:"level"`
	Stage      string             `json:"stage,omitempty"`
	Message    string             `json:"message"`
	Context    map[string]any     `json:"context,omitempty"`
	DurationMs *int64             `json:"duration_ms,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
