package minutes

import (
	"fmt"
	"strings"
	"time"
)

// TranscriptSegment is the unit threaded through draft, validation and refinement.
type TranscriptSegment struct {
	ID         string  `json:"id"`
	Speaker    string  `json:"speaker"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Duration returns End-Start in seconds.
func (s TranscriptSegment) Duration() float64 {
	return s.End - s.Start
}

// SegmentID formats the stable id of the n-th segment (zero based).
func SegmentID(n int) string {
	return fmt.Sprintf("seg-%04d", n+1)
}

// Transcript sources.
const (
	SourceAudio     = "audio"
	SourceDocuments = "documents"
	SourceHuman     = "human"
)

// ModelRef records which provider and model produced part of an artifact.
type ModelRef struct {
	Purpose  string `json:"purpose"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// DraftTranscript is the output of the draft stage.
type DraftTranscript struct {
	Language       string              `json:"language"`
	Segments       []TranscriptSegment `json:"segments"`
	Summary        string              `json:"summary"`
	ActionItems    []string            `json:"action_items"`
	Topics         []string            `json:"topics"`
	Models         []ModelRef          `json:"models"`
	Confidence     float64             `json:"confidence"`
	Source         string              `json:"source"`
	Enhanced       bool                `json:"enhanced"`
	GeneratedAt    time.Time           `json:"generated_at"`
	ProcessingTime time.Duration       `json:"processing_time"`
}

// Speakers returns the distinct speaker labels in order of first appearance.
func (d *DraftTranscript) Speakers() []string {
	return Speakers(d.Segments)
}

// Speakers returns the distinct speaker labels of segs in order of first appearance.
func Speakers(segs []TranscriptSegment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range segs {
		if s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		out = append(out, s.Speaker)
	}
	return out
}

// FullText renders segments as "Speaker: text" lines.
func FullText(segs []TranscriptSegment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Speaker != "" {
			b.WriteString(s.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// MeanConfidence averages segment confidences, 0 for none.
func MeanConfidence(segs []TranscriptSegment) float64 {
	if len(segs) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segs {
		sum += s.Confidence
	}
	return sum / float64(len(segs))
}

// CloneSegments returns a copy of segs.
func CloneSegments(segs []TranscriptSegment) []TranscriptSegment {
	if segs == nil {
		return nil
	}
	out := make([]TranscriptSegment, len(segs))
	copy(out, segs)
	return out
}
