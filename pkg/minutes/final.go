package minutes

import "time"

// Decision is a structured decision recorded in the minutes.
type Decision struct {
	Statement          string   `json:"statement"`
	Rationale          string   `json:"rationale,omitempty"`
	Stakeholders       []string `json:"stakeholders,omitempty"`
	ImplementationDate string   `json:"implementation_date,omitempty"`
}

// Action item defaults.
const (
	DefaultOwner    = "TBD"
	DefaultPriority = "medium"
	DefaultStatus   = "open"
)

// ActionItem is a structured follow-up.
type ActionItem struct {
	Item     string `json:"item"`
	Owner    string `json:"owner"`
	DueDate  string `json:"due_date,omitempty"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Category string `json:"category,omitempty"`
}

// NarrationURLs are the uploaded narration artifacts. Empty means not produced.
type NarrationURLs struct {
	Summary    string `json:"summary_audio_url,omitempty"`
	KeyPoints  string `json:"key_points_audio_url,omitempty"`
	Transcript string `json:"transcript_audio_url,omitempty"`
}

// Empty reports whether no artifact was produced.
func (n NarrationURLs) Empty() bool {
	return n.Summary == "" && n.KeyPoints == "" && n.Transcript == ""
}

// Provenance records what produced the minutes.
type Provenance struct {
	EngineVersion string     `json:"engine_version"`
	Commit        string     `json:"commit,omitempty"`
	Models        []ModelRef `json:"models"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

// FinalMinutes is the output of the refinement stage, plus narration URLs.
type FinalMinutes struct {
	Title            string              `json:"title"`
	Date             time.Time           `json:"date"`
	Participants     []string            `json:"participants"`
	MeetingType      string              `json:"meeting_type,omitempty"`
	Location         string              `json:"location,omitempty"`
	ExecutiveSummary string              `json:"executive_summary"`
	KeyTopics        []string            `json:"key_topics"`
	Decisions        []Decision          `json:"decisions"`
	ActionItems      []ActionItem        `json:"action_items"`
	Transcript       []TranscriptSegment `json:"transcript"`
	Narration        NarrationURLs       `json:"narration"`
	QualityScore     float64             `json:"quality_score"`
	Provenance       Provenance          `json:"provenance"`
}
