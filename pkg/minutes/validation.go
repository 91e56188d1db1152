package minutes

import "time"

// IssueCategory classifies a validation issue.
type IssueCategory string

const (
	CategoryGrammar        IssueCategory = "grammar"
	CategoryNameCorrection IssueCategory = "name-correction"
	CategoryCoherence      IssueCategory = "coherence"
	CategoryTermSuggestion IssueCategory = "term-suggestion"
	CategoryTiming         IssueCategory = "timing"
)

// IsLocale reports whether c comes from the locale dictionary check.
func (c IssueCategory) IsLocale() bool {
	return c == CategoryNameCorrection || c == CategoryTermSuggestion
}

// Severity ranks a validation issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationIssue is one finding against a draft segment.
type ValidationIssue struct {
	ID            string        `json:"id"`
	Category      IssueCategory `json:"category"`
	Severity      Severity      `json:"severity"`
	SegmentID     string        `json:"segment_id"`
	Original      string        `json:"original"`
	Suggested     string        `json:"suggested,omitempty"`
	Confidence    float64       `json:"confidence"`
	LocaleApplied bool          `json:"locale_applied"`
	Rule          string        `json:"rule"`
	Message       string        `json:"message"`
}

// Scores are the per-category and overall validation scores, each in [0,1].
type Scores struct {
	Grammar   float64 `json:"grammar"`
	Locale    float64 `json:"locale"`
	Coherence float64 `json:"coherence"`
	Overall   float64 `json:"overall"`
}

// ValidationReport is the output of the validation stage.
type ValidationReport struct {
	Issues               []ValidationIssue `json:"issues"`
	Scores               Scores            `json:"scores"`
	RequiresHumanReview  bool              `json:"requires_human_review"`
	AutoApprovalEligible bool              `json:"auto_approval_eligible"`
	ReviewReasons        []string          `json:"review_reasons,omitempty"`
	SegmentCount         int               `json:"segment_count"`
	ValidatedAt          time.Time         `json:"validated_at"`
}

// HasCritical reports whether any issue is critical.
func (r *ValidationReport) HasCritical() bool {
	return r.CountSeverity(SeverityCritical) > 0
}

// CountSeverity counts issues of one severity.
func (r *ValidationReport) CountSeverity(s Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}

// IssuesFor returns the issues referencing a segment.
func (r *ValidationReport) IssuesFor(segmentID string) []ValidationIssue {
	var out []ValidationIssue
	for _, i := range r.Issues {
		if i.SegmentID == segmentID {
			out = append(out, i)
		}
	}
	return out
}
